// Package signature computes and verifies the request/response signatures
// used by the supported payment providers. Every function is pure: secrets
// are explicit arguments and nothing is read from the environment.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidKey     = errors.New("signature: invalid key length")
	ErrMalformedInput = errors.New("signature: malformed input")
)

// FormatAmount renders an amount with exactly two decimals and no grouping
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func hmacSHA256Hex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// equal compares in constant time with respect to content
func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
