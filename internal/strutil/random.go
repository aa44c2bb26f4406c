// Package strutil generates the random strings used across the
// authentication flow.
package strutil

import (
	"crypto/rand"
	"encoding/hex"
)

// Random returns the hex encoding of length cryptographically random bytes,
// so the resulting string is twice as long as the requested byte count.
func Random(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(b)
}
