package secure

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(t))
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		// 0 bytes up to several blocks
		plain := rapid.SliceOfN(rapid.Byte(), 0, 100).Draw(t, "plaintext")

		sealed, err := c.Seal(plain)
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		if (len(sealed)-IVSize)%16 != 0 || len(sealed) < IVSize+16 {
			t.Fatalf("unexpected sealed length %d", len(sealed))
		}

		opened, err := c.Open(sealed)
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if !bytes.Equal(opened, plain) {
			t.Fatalf("round trip mismatch: got %x want %x", opened, plain)
		}
	})
}

func TestSealUsesFreshIV(t *testing.T) {
	c, err := NewCipher(testKey(t))
	require.NoError(t, err)

	a, err := c.Seal([]byte(`{"type":"resign"}`))
	require.NoError(t, err)
	b, err := c.Seal([]byte(`{"type":"resign"}`))
	require.NoError(t, err)

	assert.NotEqual(t, a[:IVSize], b[:IVSize])
	assert.NotEqual(t, a, b)
}

func TestSealPadsExactBlock(t *testing.T) {
	c, err := NewCipher(testKey(t))
	require.NoError(t, err)

	sealed, err := c.Seal(make([]byte, 16))
	require.NoError(t, err)

	// a full block of input gets a full block of padding
	assert.Len(t, sealed, IVSize+32)
}

func TestOpenRejectsBadInput(t *testing.T) {
	key := testKey(t)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("hello"))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{name: "empty", data: nil, err: ErrCiphertextLength},
		{name: "iv only", data: sealed[:IVSize], err: ErrCiphertextLength},
		{name: "truncated block", data: sealed[:len(sealed)-1], err: ErrCiphertextLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Open(tt.data)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewCipher(testKey(t))
		require.NoError(t, err)

		// A wrong key yields garbage; nearly always the padding check catches it.
		failures := 0
		for i := 0; i < 20; i++ {
			sealed, err := c.Seal([]byte("move e2e4"))
			require.NoError(t, err)
			if opened, err := other.Open(sealed); err != nil || !bytes.Equal(opened, []byte("move e2e4")) {
				failures++
			}
		}
		assert.Equal(t, 20, failures)
	})
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher(make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestPKCS7Unpad(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{name: "one byte pad", data: append(bytes.Repeat([]byte{'a'}, 15), 1), want: bytes.Repeat([]byte{'a'}, 15)},
		{name: "full block pad", data: bytes.Repeat([]byte{16}, 16), want: []byte{}},
		{name: "zero pad byte", data: append(bytes.Repeat([]byte{'a'}, 15), 0), wantErr: true},
		{name: "pad larger than block", data: append(bytes.Repeat([]byte{'a'}, 15), 17), wantErr: true},
		{name: "inconsistent pad", data: append(bytes.Repeat([]byte{'a'}, 14), 1, 2), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pkcs7Unpad(tt.data, 16)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPadding)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
