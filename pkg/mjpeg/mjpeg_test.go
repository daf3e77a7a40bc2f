package mjpeg

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"mp4mjpeg/pkg/video/mp4muxer"
	"mp4mjpeg/pkg/video/writerseeker"

	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewGray(image.Rect(0, 0, width, height))
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestWriter(t *testing.T) {
	t.Run("probe", func(t *testing.T) {
		buf := &writerseeker.WriterSeeker{}
		w, err := NewWriter(buf, mp4muxer.DefaultOptions("a.mp4"))
		require.NoError(t, err)

		require.NoError(t, w.AppendImage(encode(t, 64, 48)))
		require.NoError(t, w.AppendImage(encode(t, 8, 8)))

		width, height := w.muxer.Dimensions()
		require.Equal(t, 64, width)
		require.Equal(t, 48, height)
		require.Equal(t, 2, w.Stats().Streams[0].Samples)

		require.NoError(t, w.Finalize())
		require.True(t, buf.Closed())
	})
	t.Run("configured", func(t *testing.T) {
		opts := mp4muxer.DefaultOptions("a.mp4")
		opts.Width = 320
		opts.Height = 240
		w, err := NewWriter(&writerseeker.WriterSeeker{}, opts)
		require.NoError(t, err)

		// Not probed.
		require.NoError(t, w.AppendImage([]byte{1, 2, 3}))
		width, height := w.muxer.Dimensions()
		require.Equal(t, 320, width)
		require.Equal(t, 240, height)
	})
	t.Run("probeErr", func(t *testing.T) {
		w, err := NewWriter(&writerseeker.WriterSeeker{}, mp4muxer.DefaultOptions("a.mp4"))
		require.NoError(t, err)
		require.Error(t, w.AppendImage([]byte{1, 2, 3}))
		require.Empty(t, w.Stats().Streams)
	})
	t.Run("dataURL", func(t *testing.T) {
		w, err := NewWriter(&writerseeker.WriterSeeker{}, mp4muxer.DefaultOptions("a.mp4"))
		require.NoError(t, err)

		img := encode(t, 16, 16)
		dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
		require.NoError(t, w.AppendDataURL(dataURL))
		require.NoError(t, w.AppendDataURL(dataURL))

		stats := w.Stats()
		require.Equal(t, 2, stats.Streams[0].Samples)
		require.Equal(t, uint32(8+len(img)), stats.MdatSize)

		require.Error(t, w.AppendDataURL("data:image/jpeg;base64,!!"))
	})
	t.Run("close", func(t *testing.T) {
		buf := &writerseeker.WriterSeeker{}
		w, err := NewWriter(buf, mp4muxer.DefaultOptions("a.mp4"))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.True(t, buf.Closed())
		require.ErrorIs(t, w.Finalize(), mp4muxer.ErrFinalized)
	})
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	w, err := New(mp4muxer.DefaultOptions(path))
	require.NoError(t, err)

	img := encode(t, 32, 16)
	require.NoError(t, w.AppendImage(img))
	require.NoError(t, w.Finalize())

	file, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("ftyp"), file[4:8])
	require.Equal(t, img, file[44:44+len(img)])
	require.Equal(t, []byte("moov"), file[44+len(img)+4:44+len(img)+8])

	_, err = New(mp4muxer.Options{})
	require.ErrorIs(t, err, mp4muxer.ErrNoFileName)
}

func TestDecodeDataURL(t *testing.T) {
	testCases := map[string]struct {
		input    string
		expected []byte
		err      bool
	}{
		"dataURL":      {"data:image/jpeg;base64,AQID", []byte{1, 2, 3}, false},
		"lastSeparator": {"a;base64,b;base64,AQID", []byte{1, 2, 3}, false},
		"raw":          {"AQID", []byte{1, 2, 3}, false},
		"empty":        {"data:image/jpeg;base64,", []byte{}, false},
		"invalid":      {"data:image/jpeg;base64,A", nil, true},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			buf, err := DecodeDataURL(tc.input)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, buf)
		})
	}
}
