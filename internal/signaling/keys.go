package signaling

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	keyCharset       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	generatedKeySize = 10
	maxKeyLength     = 64
)

// NewKey returns a random alphanumeric peer or group key.
func NewKey() (string, error) {
	var sb strings.Builder
	sb.Grow(generatedKeySize)
	max := big.NewInt(int64(len(keyCharset)))
	for i := 0; i < generatedKeySize; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}
		sb.WriteByte(keyCharset[n.Int64()])
	}
	return sb.String(), nil
}

// ValidKey reports whether key can be used as a peer or group key. Keys are
// joined with commas in client lists, so commas and whitespace are rejected.
func ValidKey(key string) bool {
	if key == "" || len(key) > maxKeyLength || key == ServerSender {
		return false
	}
	for _, r := range key {
		if r == ',' || r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
