package errreport_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"requestanalytics/internal/pkg/errreport"
)

func TestDisabledWithoutDSN(t *testing.T) {
	require.NoError(t, errreport.Init("", "test", "dev"))
	assert.False(t, errreport.Enabled())

	assert.NotPanics(t, func() {
		errreport.Capture(errors.New("boom"), "capture", map[string]string{"path": "/"})
		errreport.Capture(nil, "capture", nil)
		errreport.Flush(10 * time.Millisecond)
	})
}

func TestInitRejectsMalformedDSN(t *testing.T) {
	err := errreport.Init("not a dsn", "test", "dev")
	assert.Error(t, err)
	assert.False(t, errreport.Enabled())
}
