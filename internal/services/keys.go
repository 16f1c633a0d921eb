package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	apiKeyPrefix  = "sk_"
	displayPrefix = 12
)

// KeyHasher derives the stored form of an API key, keyed with a server-side
// pepper.
type KeyHasher struct {
	pepper []byte
}

func NewKeyHasher(pepper string) *KeyHasher {
	return &KeyHasher{pepper: []byte(pepper)}
}

// Hash returns hex(HMAC-SHA256(pepper, plaintext)).
func (h *KeyHasher) Hash(plaintext string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// GeneratedKey is a freshly minted key. Plaintext is returned to the owner
// once and never stored.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

func (h *KeyHasher) Generate() (*GeneratedKey, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("couldn't generate API key: %w", err)
	}

	plaintext := apiKeyPrefix + base64.RawURLEncoding.EncodeToString(b)
	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      h.Hash(plaintext),
		Prefix:    plaintext[:displayPrefix],
	}, nil
}
