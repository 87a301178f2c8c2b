package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{name: "one byte", body: []byte{0x01}},
		{name: "json body", body: []byte(`{"y":5,"p":23,"g":2}`)},
		{name: "max size", body: make([]byte, MaxFrameSize)},
		{name: "oversized", body: make([]byte, MaxFrameSize+1), wantErr: ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			err := WriteFrame(buf, tt.body)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, buf.Len(), "nothing may be written for a rejected frame")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint32(len(tt.body)), binary.BigEndian.Uint32(buf.Bytes()[:4]))

			got, err := ReadFrame(buf, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.body, got)
		})
	}
}

func TestReadFrameAccumulatesPartialReads(t *testing.T) {
	body := bytes.Repeat([]byte("abcdefgh"), 100)
	buf := new(bytes.Buffer)
	require.NoError(t, WriteFrame(buf, body))
	require.NoError(t, WriteFrame(buf, []byte("second")))

	// OneByteReader returns a single byte per Read call
	r := iotest.OneByteReader(buf)

	got, err := ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	got, err = ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestReadFrameErrors(t *testing.T) {
	t.Run("empty stream", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(nil), 0)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("zero length is shutdown", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteShutdown(buf))

		_, err := ReadFrame(buf, 0)
		assert.ErrorIs(t, err, ErrShutdown)
	})

	t.Run("over limit", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteFrame(buf, make([]byte, 64)))

		_, err := ReadFrame(buf, 32)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x00}), 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated body", func(t *testing.T) {
		buf := new(bytes.Buffer)
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 10)
		buf.Write(header[:])
		buf.Write([]byte{0x01, 0x02})

		_, err := ReadFrame(buf, 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

// FuzzReadFrame checks the decoder never panics or over-allocates on junk.
func FuzzReadFrame(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0x00, 0x01, 0x7b})
	f.Add([]byte{0x00, 0x00, 0x00, 0x00})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		body, err := ReadFrame(bytes.NewReader(data), 4096)
		if err == nil && len(body) > 4096 {
			t.Fatalf("body of %d bytes exceeds limit", len(body))
		}
	})
}
