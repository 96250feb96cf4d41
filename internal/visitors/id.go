// Package visitors derives privacy-preserving visitor identifiers.
package visitors

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// IDLength is the hex length of identifiers returned by BuildVisitorID.
const IDLength = 2 * blake2b.Size256

// BuildVisitorID hashes the client IP and User-Agent with a key that rotates
// every UTC day, so the same client maps to the same id only within one day.
// The IP itself is never persisted.
func BuildVisitorID(key, ipAddress, userAgent string, at time.Time) (string, error) {
	h, err := blake2b.New256(dailyKey(key, at))
	if err != nil {
		return "", fmt.Errorf("error creating visitor hash: %w", err)
	}
	h.Write([]byte(ipAddress))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// dailyKey folds the UTC day into the secret and fits it to blake2b's
// 64-byte key limit.
func dailyKey(key string, at time.Time) []byte {
	sum := blake2b.Sum256([]byte(at.UTC().Format("2006-01-02") + "." + key))
	return sum[:]
}
