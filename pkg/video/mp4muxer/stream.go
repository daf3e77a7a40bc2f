package mp4muxer

import (
	"golang.org/x/crypto/md4" //nolint:staticcheck
)

// StreamType track media type.
type StreamType string

// Stream types.
const (
	StreamVideo StreamType = "video"
	StreamAudio StreamType = "audio"
)

// CodecMJPEG is the sample entry used for JPEG frames,
// an empty codec string defaults to it.
const CodecMJPEG = "mp4v"

// DefaultStreamID stream used by AppendFrame.
const DefaultStreamID = 1

// Fingerprint of frame content, only used to detect repeated frames.
type fingerprint [md4.Size]byte

func hashFrame(frame []byte) fingerprint {
	var f fingerprint
	h := md4.New()
	h.Write(frame) //nolint:errcheck
	copy(f[:], h.Sum(nil))
	return f
}

// The last frame that was written to the media data.
type reference struct {
	hash   fingerprint
	offset uint32
	length int
}

// runState is either fresh, ref is nil, or a run of
// identical frames that started at ref.
type runState struct {
	ref     *reference
	repeats int
}

// Stream is a single track.
type Stream struct {
	ID    uint32
	Type  StreamType
	Codec string

	// Always the same length.
	SampleSizes []uint32
	DataOffsets []uint32

	run     runState
	dropped int
}

func newStream(id uint32) *Stream {
	return &Stream{
		ID:   id,
		Type: StreamVideo,
	}
}

func (s *Stream) addSample(size uint32, offset uint32) {
	s.SampleSizes = append(s.SampleSizes, size)
	s.DataOffsets = append(s.DataOffsets, offset)
}

func (s *Stream) sampleCount() int {
	return len(s.SampleSizes)
}

type decision int

const (
	decisionWrite decision = iota
	decisionReuse
	decisionDrop
)

// dedupPolicy of the muxer options.
type dedupPolicy struct {
	reuse     bool
	threshold int
}

func (p dedupPolicy) enabled() bool {
	return p.reuse || p.threshold > 0
}

// decide what to do with a frame, does not modify the stream.
func (s *Stream) decide(p dedupPolicy, hash fingerprint, length int) decision {
	if !p.enabled() {
		return decisionWrite
	}
	ref := s.run.ref
	if ref == nil || ref.hash != hash || ref.length != length {
		return decisionWrite
	}
	if p.threshold > 0 && s.run.repeats+1 >= p.threshold {
		return decisionDrop
	}
	return decisionReuse
}

// repeat records a frame identical to the reference.
func (s *Stream) repeat(p dedupPolicy, d decision) {
	if p.threshold > 0 {
		s.run.repeats++
	}
	if d == decisionDrop {
		s.dropped++
		return
	}
	s.addSample(uint32(s.run.ref.length), s.run.ref.offset)
}

// written records a frame that was written at offset.
func (s *Stream) written(hash fingerprint, offset uint32, length int) {
	s.run = runState{
		ref: &reference{
			hash:   hash,
			offset: offset,
			length: length,
		},
	}
	s.addSample(uint32(length), offset)
}

// StreamStats .
type StreamStats struct {
	ID      uint32
	Type    StreamType
	Samples int
	Dropped int
}

func (s *Stream) stats() StreamStats {
	return StreamStats{
		ID:      s.ID,
		Type:    s.Type,
		Samples: s.sampleCount(),
		Dropped: s.dropped,
	}
}
