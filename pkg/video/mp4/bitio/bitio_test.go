package bitio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)

	w.TryWriteByte(0x01)
	w.TryWriteUint16(0x0203)
	w.TryWriteUint24(0x040506)
	w.TryWriteUint32(0x0708090a)
	w.TryWriteUint64(0x0b0c0d0e0f101112)
	w.TryWriteString("ab")
	require.NoError(t, w.TryError)

	expected := []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06,
		0x07, 0x08, 0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12,
		'a', 'b', 0,
	}
	require.Equal(t, expected, buf.Bytes())
	require.Equal(t, len(expected), w.Written())
}

func TestWriterUint24Overflow(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	w.TryWriteUint24(0x1000000)
	require.ErrorIs(t, w.TryError, ErrOutOfRange)

	// Sticky error.
	w.TryWriteByte(1)
	require.ErrorIs(t, w.TryError, ErrOutOfRange)
	require.Equal(t, 0, w.Written())
}

type failingWriter struct{}

var errWrite = errors.New("mock")

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestByteWriter(t *testing.T) {
	w := NewWriter(NewByteWriter(failingWriter{}))
	w.TryWriteUint32(1)
	w.TryWriteUint32(2)
	require.ErrorIs(t, w.TryError, errWrite)
}

func TestRead(t *testing.T) {
	buf := []byte{
		0x12, 0x34, 0x56, 0x78,
		0x9a, 0xbc, 0xde, 0xf0,
		'm', 'p', '4', 0,
	}

	v8, err := ReadUint8(buf, 1)
	require.NoError(t, err)
	require.Equal(t, uint8(0x34), v8)

	v16, err := ReadUint16(buf, 1)
	require.NoError(t, err)
	require.Equal(t, uint16(0x3456), v16)

	v24, err := ReadUint24(buf, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0x345678), v24)

	v32, err := ReadUint32(buf, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(0x9abcdef0), v32)

	v64, err := ReadUint64(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x123456789abcdef0), v64)

	str, n, err := ReadString(buf, 8)
	require.NoError(t, err)
	require.Equal(t, "mp4", str)
	require.Equal(t, 4, n)
}

func TestReadOutOfRange(t *testing.T) {
	buf := []byte{1, 2, 3, 4}

	testCases := map[string]func() error{
		"uint8 end":       func() error { _, err := ReadUint8(buf, 4); return err },
		"uint8 negative":  func() error { _, err := ReadUint8(buf, -1); return err },
		"uint16":          func() error { _, err := ReadUint16(buf, 3); return err },
		"uint24":          func() error { _, err := ReadUint24(buf, 2); return err },
		"uint32":          func() error { _, err := ReadUint32(buf, 1); return err },
		"uint64":          func() error { _, err := ReadUint64(buf, 0); return err },
		"unterminated":    func() error { _, _, err := ReadString(buf, 0); return err },
		"string past end": func() error { _, _, err := ReadString(buf, 5); return err },
	}
	for name, fn := range testCases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, fn(), ErrOutOfRange)
		})
	}
}

func TestPut(t *testing.T) {
	buf := make([]byte, 10)
	require.NoError(t, PutUint8(buf, 0, 0x01))
	require.NoError(t, PutUint16(buf, 1, 0x0203))
	require.NoError(t, PutUint24(buf, 3, 0x040506))
	require.NoError(t, PutUint32(buf, 6, 0x0708090a))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0xa}, buf)

	require.ErrorIs(t, PutUint32(buf, 7, 0), ErrOutOfRange)
	require.ErrorIs(t, PutUint16(buf, -2, 0), ErrOutOfRange)
	require.ErrorIs(t, PutUint24(buf, 0, 0x1000000), ErrOutOfRange)
	require.ErrorIs(t, PutUint8(nil, 0, 0), ErrOutOfRange)

	// Buffer is untouched after a failed put.
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0xa}, buf)
}
