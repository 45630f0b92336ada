package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash returns the hex SHA-256 of domain, a 0x00 separator and the
// canonical encoding of v. The separator keeps domain and payload from
// running into each other.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashBytes(domain, data), nil
}

// HashBytes hashes already-canonical bytes under domain.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MustHash is like Hash but panics on error.
func MustHash(domain string, v any) string {
	s, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return s
}
