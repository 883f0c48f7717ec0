/*
Package randx provides cryptographically secure random numbers and identifiers.

It backs the uniform placement of the correct option in a round, PKCE code
verifiers for magic-link sign-in and device identifiers.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// CodeVerifierLength is the PKCE verifier length, inside the 43..128 range RFC 7636 allows.
	CodeVerifierLength = 56
)

// Intn returns a uniform random integer in [0, n) from crypto/rand.
// It panics if n <= 0, like math/rand.Intn.
func Intn(n int) (int, error) {
	if n <= 0 {
		panic("randx: Intn called with n <= 0")
	}

	num, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random index: %w", err)
	}
	return int(num.Int64()), nil
}

// CodeVerifier generates a Base62 PKCE code verifier of CodeVerifierLength characters.
func CodeVerifier() (string, error) {
	result := make([]byte, CodeVerifierLength)

	for i := range CodeVerifierLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for code verifier: %v", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// DeviceID generates a new UUID v4 identifying one browser.
func DeviceID() string {
	return uuid.New().String()
}

// IsValidUUID reports whether s parses as a UUID. Device ids and invite
// session ids are both UUIDs.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
