package secure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// IVSize is the length of the random IV prepended to every sealed message.
const IVSize = aes.BlockSize

var (
	ErrInvalidKeySize   = errors.New("session key must be 32 bytes")
	ErrCiphertextLength = errors.New("ciphertext is not a positive multiple of the block size")
	ErrInvalidPadding   = errors.New("invalid PKCS7 padding")
)

// Cipher seals and opens messages with AES-256-CBC under one session key.
// It is safe for concurrent use.
type Cipher struct {
	block  cipher.Block
	random io.Reader
}

// NewCipher returns a Cipher for a KeySize key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &Cipher{block: block, random: rand.Reader}, nil
}

// Seal pads plaintext to the block size and returns IV || ciphertext with a
// fresh random IV.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, aes.BlockSize)

	out := make([]byte, IVSize+len(padded))
	iv := out[:IVSize]
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[IVSize:], padded)
	return out, nil
}

// Open splits the leading IV, decrypts and strips the padding.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < IVSize+aes.BlockSize || (len(data)-IVSize)%aes.BlockSize != 0 {
		return nil, ErrCiphertextLength
	}

	iv := data[:IVSize]
	plain := make([]byte, len(data)-IVSize)
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, data[IVSize:])

	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
