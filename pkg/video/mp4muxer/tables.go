package mp4muxer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"mp4mjpeg/pkg/video/mp4"
)

const (
	movieTimescale = 1000
	videoTimescale = 1200000

	// Frame rate is fixed.
	framesPerSecond = 30
	sampleDelta     = videoTimescale / framesPerSecond

	audioTimescale       = 44000
	audioSamplesPerFrame = 1024
)

// Errors.
var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrDurationTooLong  = errors.New("duration does not fit 32 bits")
)

// trackDuration in movie timescale, rounded up.
func trackDuration(sampleCount int) uint64 {
	n := uint64(sampleCount) * movieTimescale
	return (n + framesPerSecond - 1) / framesPerSecond
}

func duration32(d uint64) (uint32, error) {
	if d > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrDurationTooLong, d)
	}
	return uint32(d), nil
}

// sortStreams returns the streams in ascending id order.
func sortStreams(streams map[uint32]*Stream) []*Stream {
	sorted := make([]*Stream, 0, len(streams))
	for _, s := range streams {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// movieStream returns the stream that the movie and edit durations
// are taken from, stream 1 or the lowest id. Nil if there are no streams.
func movieStream(sorted []*Stream) *Stream {
	for _, s := range sorted {
		if s.ID == DefaultStreamID {
			return s
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	return sorted[0]
}

func generateMoov(streams map[uint32]*Stream, width, height uint16) (mp4.Boxes, error) {
	/*
	   moov
	   - mvhd
	   - trak
	   - trak
	   ...
	*/

	sorted := sortStreams(streams)

	var movieDuration uint32
	if s := movieStream(sorted); s != nil {
		d, err := duration32(trackDuration(s.sampleCount()))
		if err != nil {
			return mp4.Boxes{}, fmt.Errorf("movie: %w", err)
		}
		movieDuration = d
	}

	nextTrackID := uint32(1)
	if len(sorted) != 0 {
		// All ones if the id space is exhausted.
		nextTrackID = math.MaxUint32
		if last := sorted[len(sorted)-1].ID; last != math.MaxUint32 {
			nextTrackID = last + 1
		}
	}

	moov := mp4.Boxes{
		Box: &mp4.Moov{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				Timescale:   movieTimescale,
				DurationV0:  movieDuration,
				Rate:        0x00010000,
				Volume:      0x0100,
				Matrix:      mp4.Matrix,
				NextTrackID: nextTrackID,
			}},
		},
	}

	for _, s := range sorted {
		trak, err := generateTrak(s, width, height, movieDuration)
		if err != nil {
			return mp4.Boxes{}, fmt.Errorf("stream %d: %w", s.ID, err)
		}
		moov.Children = append(moov.Children, trak)
	}
	return moov, nil
}

func generateTrak(s *Stream, width, height uint16, movieDuration uint32) (mp4.Boxes, error) {
	/*
	   trak
	   - tkhd
	   - edts
	     - elst
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	*/

	tkhd, err := generateTkhd(s, width, height)
	if err != nil {
		return mp4.Boxes{}, err
	}
	minf, err := generateMinf(s, width, height)
	if err != nil {
		return mp4.Boxes{}, err
	}

	trak := mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{Box: tkhd},
			{
				Box: &mp4.Edts{},
				Children: []mp4.Boxes{
					{Box: &mp4.Elst{
						Entries: []mp4.ElstEntry{{
							SegmentDurationV0: movieDuration,
							MediaTimeV0:       0,
							MediaRateInteger:  1,
						}},
					}},
				},
			},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: generateMdhd(s)},
					{Box: generateHdlr(s)},
					minf,
				},
			},
		},
	}
	return trak, nil
}

func generateTkhd(s *Stream, width, height uint16) (*mp4.Tkhd, error) {
	duration, err := duration32(trackDuration(s.sampleCount()))
	if err != nil {
		return nil, err
	}

	tkhd := &mp4.Tkhd{
		FullBox: mp4.FullBox{
			Flags: [3]byte{0, 0, mp4.TkhdTrackEnabled | mp4.TkhdTrackInMovie},
		},
		TrackID:    s.ID,
		DurationV0: duration,
		Matrix:     mp4.Matrix,
	}
	if s.Type == StreamAudio {
		tkhd.Volume = 0x0100
	} else {
		tkhd.Width = uint32(width) << 16
		tkhd.Height = uint32(height) << 16
	}
	return tkhd, nil
}

// generateMdhd switches to the 64 bit layout for long durations.
func generateMdhd(s *Stream) *mp4.Mdhd {
	mdhd := &mp4.Mdhd{
		Language: [3]byte{'u', 'n', 'd'},
	}

	n := uint64(s.sampleCount())
	var duration uint64
	if s.Type == StreamAudio {
		mdhd.Timescale = audioTimescale
		duration = n * audioSamplesPerFrame
	} else {
		mdhd.Timescale = videoTimescale
		duration = trackDuration(s.sampleCount()) * (videoTimescale / movieTimescale)
	}

	if duration > math.MaxUint32 {
		mdhd.FullBox.Version = 1
		mdhd.DurationV1 = duration
	} else {
		mdhd.DurationV0 = uint32(duration)
	}
	return mdhd
}

func generateHdlr(s *Stream) *mp4.Hdlr {
	if s.Type == StreamAudio {
		return &mp4.Hdlr{
			HandlerType: [4]byte{'s', 'o', 'u', 'n'},
			Name:        "SoundHandler",
		}
	}
	return &mp4.Hdlr{
		HandlerType: [4]byte{'v', 'i', 'd', 'e'},
		Name:        "VideoHandler",
	}
}

func generateMinf(s *Stream, width, height uint16) (mp4.Boxes, error) {
	/*
	   minf
	   - vmhd / smhd
	   - dinf
	     - dref
	       - url
	   - stbl
	     - stsd
	     - stts
	     - stsc
	     - stsz
	     - stco
	*/

	var mediaHeader mp4.ImmutableBox = &mp4.Vmhd{
		FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}},
	}
	if s.Type == StreamAudio {
		mediaHeader = &mp4.Smhd{}
	}

	stsd, err := generateStsd(s, width, height)
	if err != nil {
		return mp4.Boxes{}, err
	}

	minf := mp4.Boxes{
		Box: &mp4.Minf{},
		Children: []mp4.Boxes{
			{Box: mediaHeader},
			{
				Box: &mp4.Dinf{},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Dref{EntryCount: 1},
						Children: []mp4.Boxes{
							{Box: &mp4.URL{
								FullBox: mp4.FullBox{Flags: [3]byte{0, 0, mp4.URLSelfContained}},
							}},
						},
					},
				},
			},
			{
				Box: &mp4.Stbl{},
				Children: []mp4.Boxes{
					stsd,
					{Box: generateStts(s)},
					{Box: &mp4.Stsc{
						Entries: []mp4.StscEntry{{
							FirstChunk:             1,
							SamplesPerChunk:        1,
							SampleDescriptionIndex: 1,
						}},
					}},
					{Box: generateStsz(s)},
					{Box: &mp4.Stco{
						ChunkOffsets: s.DataOffsets,
					}},
				},
			},
		},
	}
	return minf, nil
}

func checkSampleDescription(typ StreamType, codec string) error {
	switch {
	case typ == StreamAudio:
		return fmt.Errorf("%w: audio sample entry", ErrUnsupportedCodec)
	case typ != StreamVideo:
		return fmt.Errorf("%w: stream type %q", ErrUnsupportedCodec, typ)
	case codec != "" && codec != CodecMJPEG:
		return fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}
	return nil
}

func generateStsd(s *Stream, width, height uint16) (mp4.Boxes, error) {
	/*
	   stsd
	   - mp4v
	     - esds
	*/

	if err := checkSampleDescription(s.Type, s.Codec); err != nil {
		return mp4.Boxes{}, err
	}

	stsd := mp4.Boxes{
		Box: &mp4.Stsd{EntryCount: 1},
		Children: []mp4.Boxes{
			{
				Box: &mp4.VisualSampleEntry{
					SampleEntry: mp4.SampleEntry{
						DataReferenceIndex: 1,
					},
					CodingName:      mp4.NewBoxType(CodecMJPEG),
					Width:           width,
					Height:          height,
					Horizresolution: 0x480000, // 72 dpi.
					Vertresolution:  0x480000,
					FrameCount:      1,
					Depth:           0x18,
					PreDefined3:     -1,
				},
				Children: []mp4.Boxes{
					{Box: &mp4.Esds{
						ESID:                 1,
						ObjectTypeIndication: mp4.ObjectTypeJPEG,
						StreamType:           mp4.StreamTypeVisual,
						MaxBitrate:           0x404d62,
						AvgBitrate:           0x404d62,
						SLConfigPredefined:   2,
					}},
				},
			},
		},
	}
	return stsd, nil
}

func generateStts(s *Stream) *mp4.Stts {
	return &mp4.Stts{
		Entries: []mp4.SttsEntry{{
			SampleCount: uint32(s.sampleCount()),
			SampleDelta: sampleDelta,
		}},
	}
}

// generateStsz uses the compact form when every sample has the same size.
func generateStsz(s *Stream) *mp4.Stsz {
	sizes := s.SampleSizes
	if len(sizes) == 0 {
		return &mp4.Stsz{}
	}
	for _, size := range sizes[1:] {
		if size != sizes[0] {
			return &mp4.Stsz{
				SampleCount: uint32(len(sizes)),
				EntrySizes:  sizes,
			}
		}
	}
	return &mp4.Stsz{
		SampleSize:  sizes[0],
		SampleCount: uint32(len(sizes)),
	}
}
