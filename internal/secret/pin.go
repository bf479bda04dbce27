// Package secret generates and verifies the short numeric redemption secrets.
// PINs are compared only through their salted HMAC-SHA256 digests; the
// plaintext exists in memory for the duration of a single call.
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// PinDigits is the secret length. The space is small, which is why
	// generation uses crypto/rand and verification is rate-limited by the
	// registry's attempt counter.
	PinDigits = 4
	saltBytes = 16
)

var pinSpace = big.NewInt(1e4)

// GeneratePIN returns a uniformly random 4-digit string, leading zeros kept.
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, pinSpace)
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%0*d", PinDigits, n), nil
}

// NewSalt returns a fresh per-claim salt, hex encoded.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashPIN computes the salted digest stored in the registry.
func HashPIN(pin, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(pin))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches recomputes the digest and compares in constant time.
func Matches(pinHash, salt, supplied string) bool {
	return hmac.Equal([]byte(pinHash), []byte(HashPIN(supplied, salt)))
}
