package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// NewCode generates a uniformly random decimal passcode of the given
// length. Leading zeros are legal: every one of the 10^digits strings is
// equally likely.
func NewCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid passcode digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid passcode generation length")
	}
	return code, nil
}

// HashCode returns the SHA-256 digest of a passcode. Only digests are
// persisted; comparison happens digest-to-digest in constant time.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
