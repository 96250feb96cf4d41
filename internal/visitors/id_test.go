package visitors_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"requestanalytics/internal/visitors"
)

func TestBuildVisitorID(t *testing.T) {
	key := "test-key"
	ip := "192.168.1.1"
	ua := "Mozilla/5.0"
	morning := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)

	id := func(t *testing.T, key, ip, ua string, at time.Time) string {
		t.Helper()
		out, err := visitors.BuildVisitorID(key, ip, ua, at)
		require.NoError(t, err)
		return out
	}

	t.Run("stable within a UTC day", func(t *testing.T) {
		first := id(t, key, ip, ua, morning)
		assert.Len(t, first, visitors.IDLength)
		assert.Equal(t, first, id(t, key, ip, ua, morning.Add(15*time.Hour)))
	})

	t.Run("rotates across days", func(t *testing.T) {
		assert.NotEqual(t, id(t, key, ip, ua, morning), id(t, key, ip, ua, morning.AddDate(0, 0, 1)))
	})

	t.Run("differs per input", func(t *testing.T) {
		base := id(t, key, ip, ua, morning)
		assert.NotEqual(t, base, id(t, key, "192.168.1.2", ua, morning))
		assert.NotEqual(t, base, id(t, key, ip, "curl/8.0", morning))
		assert.NotEqual(t, base, id(t, "other-key", ip, ua, morning))
	})

	t.Run("field boundary is unambiguous", func(t *testing.T) {
		assert.NotEqual(t, id(t, key, "1.1.1.1", "2", morning), id(t, key, "1.1.1.12", "", morning))
	})

	t.Run("does not contain the ip", func(t *testing.T) {
		assert.NotContains(t, id(t, key, ip, ua, morning), ip)
	})
}
