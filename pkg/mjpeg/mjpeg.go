// Package mjpeg writes JPEG images to a mp4 file.
package mjpeg

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"mp4mjpeg/pkg/log"
	"mp4mjpeg/pkg/video/jpeg"
	"mp4mjpeg/pkg/video/mp4muxer"
)

const dataURLSeparator = ";base64,"

// Writer appends JPEG images to a single video track.
type Writer struct {
	muxer  *mp4muxer.Muxer
	name   string
	logger *log.Logger
}

// New creates opts.FileName and writes the file header.
func New(opts mp4muxer.Options) (*Writer, error) {
	muxer, err := mp4muxer.Create(opts)
	if err != nil {
		return nil, err
	}
	return newWriter(muxer, opts), nil
}

// NewWriter writes the file header to file.
func NewWriter(file mp4muxer.File, opts mp4muxer.Options) (*Writer, error) {
	muxer, err := mp4muxer.New(file, opts)
	if err != nil {
		return nil, err
	}
	return newWriter(muxer, opts), nil
}

func newWriter(muxer *mp4muxer.Muxer, opts mp4muxer.Options) *Writer {
	return &Writer{
		muxer:  muxer,
		name:   filepath.Base(opts.FileName),
		logger: opts.Logger,
	}
}

// AppendImage appends a JPEG image. The video dimensions
// are read from the first image if they are not set.
func (w *Writer) AppendImage(buf []byte) error {
	width, height := w.muxer.Dimensions()
	if width == 0 || height == 0 {
		dim, err := jpeg.Probe(buf)
		if err != nil {
			return fmt.Errorf("probe dimensions: %w", err)
		}
		if err := w.muxer.SetDimensions(dim.Width, dim.Height); err != nil {
			return err
		}
		w.logger.Debug().Src("mjpeg").File(w.name).
			Msgf("dimensions %dx%d", dim.Width, dim.Height)
	}
	return w.muxer.AppendFrame(buf)
}

// AppendDataURL decodes and appends a base64 data URL.
func (w *Writer) AppendDataURL(dataURL string) error {
	buf, err := DecodeDataURL(dataURL)
	if err != nil {
		return err
	}
	return w.AppendImage(buf)
}

// DecodeDataURL decodes the base64 data after the last ";base64,".
// The whole string is decoded if there is no separator.
func DecodeDataURL(dataURL string) ([]byte, error) {
	data := dataURL
	if i := strings.LastIndex(dataURL, dataURLSeparator); i != -1 {
		data = dataURL[i+len(dataURLSeparator):]
	}
	buf, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return buf, nil
}

// Finalize writes the movie box and closes the file.
func (w *Writer) Finalize() error {
	return w.muxer.Finalize()
}

// Close closes the file without finalizing it.
func (w *Writer) Close() error {
	return w.muxer.Close()
}

// Stats returns the muxer statistics.
func (w *Writer) Stats() mp4muxer.Stats {
	return w.muxer.Stats()
}
