package accounts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hasher stores passwords as bcrypt over HMAC-SHA-256(pepper, password).
// The hex HMAC is 64 bytes, under bcrypt's 72-byte input limit.
type Hasher struct {
	pepper []byte
	cost   int
}

// NewHasher returns a hasher. A cost of 0 selects bcrypt.DefaultCost.
func NewHasher(pepper string, cost int) Hasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return Hasher{pepper: []byte(pepper), cost: cost}
}

func (h Hasher) peppered(password string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	return []byte(hex.EncodeToString(mac.Sum(nil)))
}

// Hash returns the encoded hash to store.
func (h Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(h.peppered(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches the stored hash.
func (h Hasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), h.peppered(password)) == nil
}
