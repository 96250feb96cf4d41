// Package errreport forwards background failures to Sentry when a DSN is
// configured. Without one every call is a no-op.
package errreport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var enabled atomic.Bool

// Init configures the Sentry client. An empty dsn leaves reporting disabled.
func Init(dsn, environment, release string) error {
	enabled.Store(false)
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("sentry init failed: %w", err)
	}
	enabled.Store(true)
	return nil
}

// Enabled reports whether errors are being forwarded.
func Enabled() bool {
	return enabled.Load()
}

// Capture reports err tagged with the component that hit it.
func Capture(err error, component string, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for queued events, up to timeout.
func Flush(timeout time.Duration) {
	if enabled.Load() {
		sentry.Flush(timeout)
	}
}
