// Package capture records observed HTTP requests as request events and hands
// them to a dispatcher that persists them, inline or through a queue.
package capture

import (
	"context"
	"errors"
	"log/slog"

	"requestanalytics/internal/metrics"
	"requestanalytics/internal/requests"
)

var (
	// ErrQueueFull is returned when the in-process queue has no room left.
	ErrQueueFull = errors.New("capture queue is full")
	// ErrDispatcherClosed is returned after Stop.
	ErrDispatcherClosed = errors.New("capture dispatcher is closed")
)

// Dispatcher hands a captured event to storage. Dispatch may return before
// the event is written; the returned outcome says which happened.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *requests.RequestEvent) (outcome string, err error)
	Name() string
}

// SyncDispatcher writes each event inline. Used when the queue is disabled.
type SyncDispatcher struct {
	store   *requests.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewSyncDispatcher(store *requests.Store, logger *slog.Logger, m *metrics.Metrics) *SyncDispatcher {
	return &SyncDispatcher{store: store, logger: logger, metrics: m}
}

func (d *SyncDispatcher) Name() string {
	return "sync"
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, event *requests.RequestEvent) (string, error) {
	if err := d.store.Insert(ctx, event); err != nil {
		d.metrics.Written(d.Name(), "error", 1)
		return metrics.OutcomeFailed, err
	}
	d.metrics.Written(d.Name(), "ok", 1)
	return metrics.OutcomeStored, nil
}
