// Package jpeg reads the dimensions of a JPEG image without decoding it.
package jpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// Errors.
var (
	ErrNotJPEG       = errors.New("not a jpeg image")
	ErrNoFrameHeader = errors.New("missing frame header")
)

// Markers.
const (
	markerPrefix = 0xff
	markerSOI    = 0xd8
	markerEOI    = 0xd9
	markerSOS    = 0xda
	markerTEM    = 0x01

	markerSOF0  = 0xc0
	markerSOF15 = 0xcf
	markerDHT   = 0xc4
	markerJPG   = 0xc8
	markerDAC   = 0xcc

	markerRST0 = 0xd0
	markerRST7 = 0xd7
)

// Dimensions of an image.
type Dimensions struct {
	Width  int
	Height int
}

// Probe returns the dimensions in the first frame header of buf.
func Probe(buf []byte) (Dimensions, error) {
	br := bitio.NewReader(bytes.NewReader(buf))

	soi, err := br.ReadBits(16)
	if err != nil || soi != markerPrefix<<8|markerSOI {
		return Dimensions{}, ErrNotJPEG
	}

	for {
		marker, err := readMarker(br)
		if err != nil {
			return Dimensions{}, err
		}

		switch {
		case marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7):
			// No payload.
			continue
		case marker == markerSOS || marker == markerEOI:
			return Dimensions{}, ErrNoFrameHeader
		}

		length, err := br.ReadBits(16)
		if err != nil {
			return Dimensions{}, noFrameHeader(err)
		}
		if length < 2 {
			return Dimensions{}, fmt.Errorf("%w: segment %#x length %d", ErrNotJPEG, marker, length)
		}

		if isSOF(marker) {
			return readFrameHeader(br)
		}

		if _, err := io.CopyN(io.Discard, br, int64(length-2)); err != nil {
			return Dimensions{}, noFrameHeader(err)
		}
	}
}

// readMarker skips fill bytes and returns the marker code.
func readMarker(br *bitio.Reader) (byte, error) {
	prefix, err := br.ReadByte()
	if err != nil {
		return 0, noFrameHeader(err)
	}
	if prefix != markerPrefix {
		return 0, fmt.Errorf("%w: expected marker, got %#x", ErrNotJPEG, prefix)
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, noFrameHeader(err)
		}
		if b != markerPrefix {
			return b, nil
		}
	}
}

// SOF0 to SOF15, except the codes that share the range.
func isSOF(marker byte) bool {
	if marker < markerSOF0 || marker > markerSOF15 {
		return false
	}
	return marker != markerDHT && marker != markerJPG && marker != markerDAC
}

func readFrameHeader(br *bitio.Reader) (Dimensions, error) {
	// Sample precision.
	if _, err := br.ReadBits(8); err != nil {
		return Dimensions{}, noFrameHeader(err)
	}
	height, err := br.ReadBits(16)
	if err != nil {
		return Dimensions{}, noFrameHeader(err)
	}
	width, err := br.ReadBits(16)
	if err != nil {
		return Dimensions{}, noFrameHeader(err)
	}
	return Dimensions{Width: int(width), Height: int(height)}, nil
}

func noFrameHeader(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrNoFrameHeader)
	}
	return err
}
