package mp4muxer

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"mp4mjpeg/pkg/log"
	"mp4mjpeg/pkg/video/mp4"
	"mp4mjpeg/pkg/video/mp4/bitio"
)

// Errors.
var (
	ErrFinalized         = errors.New("muxer is finalized")
	ErrEmptyFrame        = errors.New("empty frame")
	ErrInvalidStreamID   = errors.New("invalid stream id")
	ErrFileTooLarge      = errors.New("file exceeds 32 bit offsets")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrInvalidThreshold  = errors.New("invalid identical frames threshold")
	ErrStreamStarted     = errors.New("stream already has samples")
	ErrNoFileName        = errors.New("missing file name")
)

const (
	ftypSize       = 28
	freeSize       = 8
	mdatHeaderSize = 8

	// Offset of the mdat size field.
	mdatSizeOffset = ftypSize + freeSize
)

// File is the destination of the container.
type File interface {
	io.WriterAt
	io.Closer
}

// Options muxer options.
type Options struct {
	FileName string

	// Reuse the data of a frame identical to the previous one.
	ReuseLastFrame bool

	// Drop identical frames once this many repeats
	// have been recorded in a row, 0 disables.
	IgnoreIdenticalFrames int

	// Optional, must fit 16 bits.
	Width  int
	Height int

	Logger *log.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions(fileName string) Options {
	return Options{
		FileName:              fileName,
		ReuseLastFrame:        true,
		IgnoreIdenticalFrames: 30,
	}
}

// Muxer incrementally writes a mp4 file. The media data is written as frames
// are appended, the movie box is written by Finalize. Safe for concurrent use.
type Muxer struct {
	mu sync.Mutex

	file   File
	name   string
	policy dedupPolicy
	logger *log.Logger

	width   uint16
	height  uint16
	streams map[uint32]*Stream

	pos      uint64 // Write cursor.
	mdatSize uint64

	finalized bool
}

// Create creates or truncates opts.FileName and writes the file header.
func Create(opts Options) (*Muxer, error) {
	if opts.FileName == "" {
		return nil, ErrNoFileName
	}
	file, err := os.OpenFile(opts.FileName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	m, err := New(file, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	return m, nil
}

// New writes the file header to file and returns a muxer.
func New(file File, opts Options) (*Muxer, error) {
	if opts.IgnoreIdenticalFrames < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, opts.IgnoreIdenticalFrames)
	}
	width, height, err := checkDimensions(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	m := &Muxer{
		file: file,
		name: filepath.Base(opts.FileName),
		policy: dedupPolicy{
			reuse:     opts.ReuseLastFrame,
			threshold: opts.IgnoreIdenticalFrames,
		},
		logger: opts.Logger,

		width:   width,
		height:  height,
		streams: make(map[uint32]*Stream),
	}

	header, err := mp4.Flatten(generateHeader())
	if err != nil {
		return nil, fmt.Errorf("generate header: %w", err)
	}
	if err := m.writeAt(header, 0); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	m.pos = uint64(len(header))
	m.mdatSize = mdatHeaderSize

	m.logger.Debug().Src("mp4muxer").File(m.name).Msg("created")
	return m, nil
}

func generateHeader() mp4.Sequence {
	/*
	   ftyp
	   free
	   mdat (size is written by Finalize)
	*/

	ftyp := mp4.Boxes{Box: &mp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 0x200,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}}
	return mp4.Sequence{
		ftyp,
		mp4.Boxes{Box: &mp4.Free{}},
		mp4.Box("mdat"),
	}
}

func checkDimensions(width, height int) (uint16, uint16, error) {
	if width < 0 || width > math.MaxUint16 || height < 0 || height > math.MaxUint16 {
		return 0, 0, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return uint16(width), uint16(height), nil
}

func (m *Muxer) writeAt(p []byte, off uint64) error {
	n, err := m.file.WriteAt(p, int64(off))
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// stream returns the stream with id, creating it if needed.
func (m *Muxer) stream(id uint32) *Stream {
	s, exists := m.streams[id]
	if !exists {
		s = newStream(id)
		m.streams[id] = s
	}
	return s
}

// AppendFrame appends a frame to stream 1.
func (m *Muxer) AppendFrame(frame []byte) error {
	return m.AppendStreamFrame(DefaultStreamID, frame)
}

// AppendStreamFrame appends a frame to the stream with id.
// Nothing is recorded if the write fails.
func (m *Muxer) AppendStreamFrame(id uint32, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return ErrFinalized
	}
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if id == 0 {
		return ErrInvalidStreamID
	}

	s, exists := m.streams[id]
	if !exists {
		s = newStream(id)
	}

	var hash fingerprint
	if m.policy.enabled() {
		hash = hashFrame(frame)
	}

	switch d := s.decide(m.policy, hash, len(frame)); d {
	case decisionDrop:
		s.repeat(m.policy, d)
		m.logger.Debug().Src("mp4muxer").File(m.name).
			Msgf("stream %d: dropped identical frame, %d in a row", id, s.run.repeats)
		return nil
	case decisionReuse:
		s.repeat(m.policy, d)
		return nil
	}

	end := m.pos + uint64(len(frame))
	if end > math.MaxUint32 || m.mdatSize+uint64(len(frame)) > math.MaxUint32 {
		return fmt.Errorf("%w: frame of %d bytes at %d", ErrFileTooLarge, len(frame), m.pos)
	}

	offset := uint32(m.pos)
	if err := m.writeAt(frame, m.pos); err != nil {
		m.logger.Error().Src("mp4muxer").File(m.name).
			Msgf("stream %d: write frame: %v", id, err)
		return fmt.Errorf("write frame: %w", err)
	}
	m.pos = end
	m.mdatSize += uint64(len(frame))

	s.written(hash, offset, len(frame))
	m.streams[id] = s
	return nil
}

// ConfigureStream declares the type and codec of a stream before its first frame.
func (m *Muxer) ConfigureStream(id uint32, typ StreamType, codec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return ErrFinalized
	}
	if id == 0 {
		return ErrInvalidStreamID
	}
	if err := checkSampleDescription(typ, codec); err != nil {
		return err
	}

	s := m.stream(id)
	if s.sampleCount() != 0 || s.dropped != 0 {
		return fmt.Errorf("%w: %d", ErrStreamStarted, id)
	}
	s.Type = typ
	s.Codec = codec
	return nil
}

// SetDimensions sets the video dimensions written by Finalize.
func (m *Muxer) SetDimensions(width, height int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return ErrFinalized
	}
	w, h, err := checkDimensions(width, height)
	if err != nil {
		return err
	}
	m.width, m.height = w, h
	return nil
}

// Dimensions returns the video dimensions, zero if unset.
func (m *Muxer) Dimensions() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.width), int(m.height)
}

// Finalize writes the movie box and the media data size, then closes the file.
// The file is closed even if Finalize fails.
func (m *Muxer) Finalize() (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return ErrFinalized
	}
	m.finalized = true

	defer func() {
		closeErr := m.file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("close: %w", closeErr)
		}
		if err != nil {
			m.logger.Error().Src("mp4muxer").File(m.name).Msgf("finalize: %v", err)
		}
	}()

	moov, err := generateMoov(m.streams, m.width, m.height)
	if err != nil {
		return fmt.Errorf("generate moov: %w", err)
	}
	buf, err := mp4.Flatten(moov)
	if err != nil {
		return fmt.Errorf("marshal moov: %w", err)
	}
	if m.pos+uint64(len(buf)) > math.MaxUint32 {
		return fmt.Errorf("%w: moov of %d bytes at %d", ErrFileTooLarge, len(buf), m.pos)
	}

	size := make([]byte, 4)
	if err := bitio.PutUint32(size, 0, uint32(m.mdatSize)); err != nil {
		return err
	}
	if err := m.writeAt(size, mdatSizeOffset); err != nil {
		return fmt.Errorf("write mdat size: %w", err)
	}

	if err := m.writeAt(buf, m.pos); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}
	m.pos += uint64(len(buf))

	for _, s := range sortStreams(m.streams) {
		m.logger.Info().Src("mp4muxer").File(m.name).Msgf(
			"stream %d: %d samples, %d dropped", s.ID, s.sampleCount(), s.dropped)
	}
	return nil
}

// Close closes the file without finalizing it, the file is left with
// a valid header and the media data but no movie box.
// Close after Finalize is a no-op.
func (m *Muxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return nil
	}
	m.finalized = true
	return m.file.Close()
}

// Stats muxer statistics.
type Stats struct {
	Streams   []StreamStats // Ascending id order.
	MdatSize  uint32
	FileSize  uint32
	Finalized bool
}

// Stats returns a snapshot of the muxer state.
func (m *Muxer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		MdatSize:  uint32(m.mdatSize),
		FileSize:  uint32(m.pos),
		Finalized: m.finalized,
	}
	for _, s := range sortStreams(m.streams) {
		stats.Streams = append(stats.Streams, s.stats())
	}
	return stats
}
