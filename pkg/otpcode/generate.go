package otpcode

import (
	"crypto/rand"
	"fmt"
)

// DefaultAlphabet is the character set codes are drawn from
const DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength is the number of characters in a generated code
const DefaultLength = 6

// Generate creates a random code of the given length from the given
// alphabet. Each position is drawn uniformly using rejection sampling so
// no character is favored. The alphabet must be ASCII and at most 256
// characters, since positions are drawn one byte at a time.
func Generate(length int, alphabet string) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if len(alphabet) > 256 {
		return "", fmt.Errorf("alphabet too large: %d characters, max 256", len(alphabet))
	}
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] > 0x7f {
			return "", fmt.Errorf("alphabet must be ASCII")
		}
	}

	n := len(alphabet)
	// Largest multiple of n that fits in a byte, rejection threshold
	limit := 256 - (256 % n)

	code := make([]byte, length)
	buf := make([]byte, 1)
	for i := 0; i < length; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		if int(buf[0]) >= limit {
			continue
		}
		code[i] = alphabet[int(buf[0])%n]
		i++
	}

	return string(code), nil
}
