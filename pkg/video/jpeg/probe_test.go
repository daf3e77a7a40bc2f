package jpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewGray(image.Rect(0, 0, width, height))
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestProbe(t *testing.T) {
	t.Run("encoded", func(t *testing.T) {
		dim, err := Probe(encode(t, 33, 17))
		require.NoError(t, err)
		require.Equal(t, Dimensions{Width: 33, Height: 17}, dim)
	})

	sof := []byte{
		0xff, 0xc2, 0, 0x0b, // Progressive frame header.
		8,         // Precision.
		0x01, 0xe0, // Height.
		0x02, 0x80, // Width.
		1, 1, 0x11, 0,
	}
	testCases := map[string]struct {
		input    []byte
		expected Dimensions
		err      error
	}{
		"skipSegments": {
			append([]byte{
				0xff, 0xd8,
				0xff, 0xe0, 0, 4, 'J', 'F', // App0.
				0xff, 0xff, 0xc4, 0, 2, // Fill byte and empty table.
				0xff, 0xd0, // Restart marker.
			}, sof...),
			Dimensions{Width: 640, Height: 480},
			nil,
		},
		"notJPEG": {
			[]byte{0x89, 'P', 'N', 'G'},
			Dimensions{},
			ErrNotJPEG,
		},
		"empty": {
			nil,
			Dimensions{},
			ErrNotJPEG,
		},
		"missingMarker": {
			[]byte{0xff, 0xd8, 0x00},
			Dimensions{},
			ErrNotJPEG,
		},
		"scanBeforeFrame": {
			[]byte{0xff, 0xd8, 0xff, 0xda, 0, 2},
			Dimensions{},
			ErrNoFrameHeader,
		},
		"eoi": {
			[]byte{0xff, 0xd8, 0xff, 0xd9},
			Dimensions{},
			ErrNoFrameHeader,
		},
		"truncatedSegment": {
			[]byte{0xff, 0xd8, 0xff, 0xe1, 0, 10, 1, 2},
			Dimensions{},
			ErrNoFrameHeader,
		},
		"truncatedFrameHeader": {
			[]byte{0xff, 0xd8, 0xff, 0xc0, 0, 0x11, 8, 1},
			Dimensions{},
			ErrNoFrameHeader,
		},
		"invalidLength": {
			[]byte{0xff, 0xd8, 0xff, 0xe0, 0, 1},
			Dimensions{},
			ErrNotJPEG,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			dim, err := Probe(tc.input)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.expected, dim)
		})
	}
}

func TestIsSOF(t *testing.T) {
	for marker := 0xc0; marker <= 0xcf; marker++ {
		expected := marker != 0xc4 && marker != 0xc8 && marker != 0xcc
		require.Equal(t, expected, isSOF(byte(marker)), "%#x", marker)
	}
	require.False(t, isSOF(0xdb))
}
