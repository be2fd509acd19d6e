// Package subjects normalizes the keys that scope conversations and jobs.
package subjects

import (
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLength bounds a subject key. Long enough for exchange-suffixed
// tickers like "BRK.B" or "SHOP.TO".
const MaxKeyLength = 10

// ErrInvalidKey is returned for input that cannot be a subject key.
var ErrInvalidKey = errors.New("invalid subject key")

// Key is a case-normalized subject identifier such as a market ticker.
type Key string

// String returns the key text.
func (k Key) String() string { return string(k) }

// Normalize trims and upper-cases raw and validates the result.
func Normalize(raw string) (Key, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(s) > MaxKeyLength {
		return "", fmt.Errorf("%w: %q longer than %d", ErrInvalidKey, s, MaxKeyLength)
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
		default:
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidKey, s, r)
		}
	}
	return Key(s), nil
}

// MustNormalize is Normalize for literals known to be valid.
func MustNormalize(raw string) Key {
	k, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return k
}
