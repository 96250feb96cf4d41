package analytics

import "testing"

// SetReferrerScanLimit lowers the referrer fold bound for one test.
func SetReferrerScanLimit(t testing.TB, n int) {
	old := referrerScanLimit
	referrerScanLimit = n
	t.Cleanup(func() { referrerScanLimit = old })
}
