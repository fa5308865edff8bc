// Package address parses and normalizes Sui account addresses.
//
// A Sui address is 32 bytes rendered as "0x" followed by 64 hex characters.
// Everything in this package is pure: no I/O, no shared state.
package address

import (
	"errors"
	"strings"
)

const (
	// Prefix precedes the hex payload of every address.
	Prefix = "0x"

	// HexLen is the number of hex characters in a canonical address payload (32 bytes).
	HexLen = 64
)

// Zero is the all-zero sentinel address. It is syntactically valid but never a recipient.
var Zero = Prefix + strings.Repeat("0", HexLen)

// ErrMalformed is returned when an input is not "0x" followed by exactly 64 hex characters.
var ErrMalformed = errors.New("invalid sui address format")

// Valid reports whether raw (after trimming whitespace) has the shape of a Sui address.
func Valid(raw string) bool {
	s := strings.TrimSpace(raw)
	if len(s) != len(Prefix)+HexLen || !strings.HasPrefix(s, Prefix) {
		return false
	}
	for i := len(Prefix); i < len(s); i++ {
		if !isHex(s[i]) {
			return false
		}
	}
	return true
}

// Normalize returns the canonical form of raw: lower-case hex, left-padded with
// zeros to 64 characters, with the 0x prefix. Normalize is idempotent.
func Normalize(raw string) (string, error) {
	if !Valid(raw) {
		return "", ErrMalformed
	}
	payload := strings.ToLower(strings.TrimSpace(raw)[len(Prefix):])
	if n := HexLen - len(payload); n > 0 {
		payload = strings.Repeat("0", n) + payload
	}
	return Prefix + payload, nil
}

// IsAcceptableRecipient reports whether addr may receive funds. It must already be
// syntactically valid; the zero address is rejected.
func IsAcceptableRecipient(addr string) bool {
	n, err := Normalize(addr)
	if err != nil {
		return false
	}
	return n != Zero
}

// Display shortens an address for logs and UI, e.g. "0x1234...abcd".
// Invalid input is rendered as "invalid".
func Display(addr string) string {
	n, err := Normalize(addr)
	if err != nil {
		return "invalid"
	}
	return n[:6] + "..." + n[len(n)-4:]
}

// Redact is the longer form used in operator status output: first 8 and last 6 characters.
func Redact(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-6:]
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
