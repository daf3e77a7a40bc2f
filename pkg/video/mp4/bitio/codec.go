package bitio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when an access falls outside the buffer
// or a value does not fit the requested width.
var ErrOutOfRange = errors.New("out of range")

const maxUint24 = 1<<24 - 1

func checkRange(buf []byte, off int, n int) error {
	if off < 0 || n > len(buf) || off > len(buf)-n {
		return fmt.Errorf("%w: %d bytes at offset %d, buffer size %d",
			ErrOutOfRange, n, off, len(buf))
	}
	return nil
}

// ReadUint8 reads 8 bits at off.
func ReadUint8(buf []byte, off int) (uint8, error) {
	if err := checkRange(buf, off, 1); err != nil {
		return 0, err
	}
	return buf[off], nil
}

// ReadUint16 reads 16 bits at off.
func ReadUint16(buf []byte, off int) (uint16, error) {
	if err := checkRange(buf, off, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[off:]), nil
}

// ReadUint24 reads 24 bits at off.
func ReadUint24(buf []byte, off int) (uint32, error) {
	if err := checkRange(buf, off, 3); err != nil {
		return 0, err
	}
	return uint32(buf[off])<<16 | uint32(buf[off+1])<<8 | uint32(buf[off+2]), nil
}

// ReadUint32 reads 32 bits at off.
func ReadUint32(buf []byte, off int) (uint32, error) {
	if err := checkRange(buf, off, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[off:]), nil
}

// ReadUint64 reads two 32 bit halves at off, upper half first.
func ReadUint64(buf []byte, off int) (uint64, error) {
	upper, err := ReadUint32(buf, off)
	if err != nil {
		return 0, err
	}
	lower, err := ReadUint32(buf, off+4)
	if err != nil {
		return 0, err
	}
	return uint64(upper)<<32 | uint64(lower), nil
}

// ReadString reads a null terminated string at off. The returned
// length includes the terminator.
func ReadString(buf []byte, off int) (string, int, error) {
	if err := checkRange(buf, off, 0); err != nil {
		return "", 0, err
	}
	for i := off; i < len(buf); i++ {
		if buf[i] == 0 {
			return string(buf[off:i]), i - off + 1, nil
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string at offset %d", ErrOutOfRange, off)
}

// PutUint8 writes 8 bits at off.
func PutUint8(buf []byte, off int, v uint8) error {
	if err := checkRange(buf, off, 1); err != nil {
		return err
	}
	buf[off] = v
	return nil
}

// PutUint16 writes 16 bits at off.
func PutUint16(buf []byte, off int, v uint16) error {
	if err := checkRange(buf, off, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(buf[off:], v)
	return nil
}

// PutUint24 writes 24 bits at off.
func PutUint24(buf []byte, off int, v uint32) error {
	if v > maxUint24 {
		return fmt.Errorf("%w: %#x does not fit 24 bits", ErrOutOfRange, v)
	}
	if err := checkRange(buf, off, 3); err != nil {
		return err
	}
	buf[off] = byte(v >> 16)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v)
	return nil
}

// PutUint32 writes 32 bits at off.
func PutUint32(buf []byte, off int, v uint32) error {
	if err := checkRange(buf, off, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[off:], v)
	return nil
}
