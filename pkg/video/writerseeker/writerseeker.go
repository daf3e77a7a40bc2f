package writerseeker

import (
	"bytes"
	"errors"
	"io"
)

// WriterSeeker is an in-memory io.WriteSeeker and io.WriterAt implementation.
type WriterSeeker struct {
	buf    bytes.Buffer
	pos    int
	closed bool
}

// ErrClosed write after close.
var ErrClosed = errors.New("writer seeker closed")

// Write writes to the buffer at the current position.
func (ws *WriterSeeker) Write(p []byte) (int, error) {
	n, err := ws.WriteAt(p, int64(ws.pos))
	ws.pos += n
	return n, err
}

// ErrNegativeResultPos negative result pos.
var ErrNegativeResultPos = errors.New("negative result pos")

// WriteAt writes p at offset off without moving the position.
func (ws *WriterSeeker) WriteAt(p []byte, off int64) (n int, err error) {
	if ws.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeResultPos
	}
	pos := int(off)

	// If the offset is past the end of the buffer, grow the buffer with null bytes.
	if extra := pos - ws.buf.Len(); extra > 0 {
		if _, err := ws.buf.Write(make([]byte, extra)); err != nil {
			return 0, err
		}
	}

	// If the offset isn't at the end of the buffer, write as much as we can.
	if pos < ws.buf.Len() {
		n = copy(ws.buf.Bytes()[pos:], p)
		p = p[n:]
	}

	// If there are remaining bytes, append them to the buffer.
	if len(p) > 0 {
		var bn int
		bn, err = ws.buf.Write(p)
		n += bn
	}
	return n, err
}

// Seek seeks in the buffer of this WriterSeeker instance.
func (ws *WriterSeeker) Seek(offset int64, whence int) (int64, error) {
	newPos, offs := 0, int(offset)
	switch whence {
	case io.SeekStart:
		newPos = offs
	case io.SeekCurrent:
		newPos = ws.pos + offs
	case io.SeekEnd:
		newPos = ws.buf.Len() + offs
	}
	if newPos < 0 {
		return 0, ErrNegativeResultPos
	}
	ws.pos = newPos
	return int64(newPos), nil
}

// Close marks the buffer as closed, later writes fail.
func (ws *WriterSeeker) Close() error {
	ws.closed = true
	return nil
}

// Closed reports if Close has been called.
func (ws *WriterSeeker) Closed() bool {
	return ws.closed
}

// Bytes returns the underlying byte slice.
func (ws *WriterSeeker) Bytes() []byte {
	return ws.buf.Bytes()
}
