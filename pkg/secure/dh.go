// Package secure implements the cryptographic primitives behind the game
// transport: Diffie-Hellman key agreement over the RFC 3526 2048-bit MODP
// group, PBKDF2 session key derivation and AES-256-CBC message sealing.
package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length in bytes of a derived session key (AES-256).
	KeySize = 32

	// DefaultKDFIterations is the PBKDF2 work factor both peers must agree on.
	DefaultKDFIterations = 100000
)

// KDFSalt is the fixed salt mixed into every session key derivation.
var KDFSalt = []byte("chess_salt")

// RFC 3526 group 14.
const group14Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

var (
	ErrInvalidPublicValue = errors.New("peer public value out of range")
	ErrGroupMismatch      = errors.New("peer group parameters do not match")
)

// Group is a fixed (prime, generator) pair.
type Group struct {
	P *big.Int
	G *big.Int
}

var group14 = func() Group {
	p, ok := new(big.Int).SetString(group14Hex, 16)
	if !ok {
		panic("secure: bad group 14 prime")
	}
	return Group{P: p, G: big.NewInt(2)}
}()

// Group14 returns a copy of the RFC 3526 2048-bit MODP group.
func Group14() Group {
	return Group{P: new(big.Int).Set(group14.P), G: new(big.Int).Set(group14.G)}
}

// Equal reports whether both groups use the same prime and generator.
func (g Group) Equal(other Group) bool {
	if g.P == nil || g.G == nil || other.P == nil || other.G == nil {
		return false
	}
	return g.P.Cmp(other.P) == 0 && g.G.Cmp(other.G) == 0
}

// PrivateKey is an ephemeral DH key pair. A new one is generated for every
// connection and never reused.
type PrivateKey struct {
	group  Group
	x      *big.Int
	Public *big.Int
}

// GenerateKey draws a private exponent in [2, p-2] from random and computes
// the matching public value g^x mod p.
func GenerateKey(random io.Reader, group Group) (*PrivateKey, error) {
	if random == nil {
		random = rand.Reader
	}

	// p-3 keeps x+2 inside [2, p-2]
	limit := new(big.Int).Sub(group.P, big.NewInt(3))
	x, err := rand.Int(random, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private exponent: %w", err)
	}
	x.Add(x, big.NewInt(2))

	return &PrivateKey{
		group:  group,
		x:      x,
		Public: new(big.Int).Exp(group.G, x, group.P),
	}, nil
}

// Group returns the parameters this key was generated over.
func (k *PrivateKey) Group() Group {
	return k.group
}

// ValidatePublic checks that y lies in (1, p-1), rejecting the degenerate
// values that would force a predictable shared secret.
func ValidatePublic(group Group, y *big.Int) error {
	if y == nil {
		return ErrInvalidPublicValue
	}
	pMinusOne := new(big.Int).Sub(group.P, big.NewInt(1))
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(pMinusOne) >= 0 {
		return ErrInvalidPublicValue
	}
	return nil
}

// SharedSecret computes peer^x mod p, left-padded to the byte length of p.
func (k *PrivateKey) SharedSecret(peer *big.Int) ([]byte, error) {
	if err := ValidatePublic(k.group, peer); err != nil {
		return nil, err
	}

	z := new(big.Int).Exp(peer, k.x, k.group.P)
	out := make([]byte, (k.group.P.BitLen()+7)/8)
	return z.FillBytes(out), nil
}

// DeriveKey stretches a DH shared secret into a KeySize session key with
// PBKDF2-HMAC-SHA-256 over the fixed salt.
func DeriveKey(secret []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	return pbkdf2.Key(secret, KDFSalt, iterations, KeySize, sha256.New)
}
