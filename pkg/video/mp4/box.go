package mp4

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"mp4mjpeg/pkg/video/mp4/bitio"
)

// BoxType is mpeg box type.
type BoxType [4]byte

// NewBoxType returns the box type for tag, padded
// with spaces or truncated to exactly 4 bytes.
func NewBoxType(tag string) BoxType {
	typ := BoxType{' ', ' ', ' ', ' '}
	copy(typ[:], tag)
	return typ
}

func (t BoxType) String() string {
	return string(t[:])
}

// Errors.
var (
	ErrSizeMismatch = errors.New("marshaled size does not match declared size")
	ErrOutOfRange   = bitio.ErrOutOfRange
)

const boxHeaderSize = 8

// Node is a part of a box tree that is marshaled depth first.
type Node interface {
	// Len returns the marshaled size in bytes.
	Len() int

	// MarshalTo writes the node to w.
	MarshalTo(w *bitio.Writer) error
}

// Leaf is raw bytes.
type Leaf []byte

// Len returns the marshaled size in bytes.
func (l Leaf) Len() int {
	return len(l)
}

// MarshalTo writes the bytes to w.
func (l Leaf) MarshalTo(w *bitio.Writer) error {
	_, err := w.Write(l)
	return err
}

// Sequence is an ordered list of nodes.
type Sequence []Node

// Len returns the combined size of all nodes.
func (s Sequence) Len() int {
	var n int
	for _, node := range s {
		n += node.Len()
	}
	return n
}

// MarshalTo writes all nodes in order.
func (s Sequence) MarshalTo(w *bitio.Writer) error {
	for _, node := range s {
		if err := node.MarshalTo(w); err != nil {
			return err
		}
	}
	return nil
}

// Box returns the header for tag followed by the payload.
func Box(tag string, payload ...Node) Sequence {
	body := Sequence(payload)
	header := make(Leaf, boxHeaderSize)
	size := boxHeaderSize + body.Len()
	if uint64(size) > math.MaxUint32 {
		return Sequence{errNode{fmt.Errorf("%w: box %q size %d", ErrOutOfRange, tag, size)}}
	}
	typ := NewBoxType(tag)
	bitio.PutUint32(header, 0, uint32(size)) //nolint:errcheck
	copy(header[4:], typ[:])

	return append(Sequence{header}, body...)
}

// errNode defers a construction error to marshal time.
type errNode struct{ err error }

func (errNode) Len() int                        { return 0 }
func (n errNode) MarshalTo(*bitio.Writer) error { return n.err }

// Length returns the marshaled size of n without copying.
func Length(n Node) int {
	return n.Len()
}

// Flatten marshals n into a single buffer.
func Flatten(n Node) ([]byte, error) {
	size := n.Len()
	buf := bytes.NewBuffer(make([]byte, 0, size))
	w := bitio.NewWriter(buf)
	if err := n.MarshalTo(w); err != nil {
		return nil, err
	}
	if buf.Len() != size {
		return nil, fmt.Errorf("%w: declared %d, marshaled %d", ErrSizeMismatch, size, buf.Len())
	}
	return buf.Bytes(), nil
}

// ImmutableBox is common interface of box.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled size in bytes.
	// The size must be known before marshaling
	// since the box header contains the size.
	Size() int

	// Marshal box to writer.
	Marshal(w *bitio.Writer) error
}

// Boxes is a structure of boxes that can be marshaled together.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

// Size returns the total size of the box including children.
func (b Boxes) Size() int {
	total := b.Box.Size() + boxHeaderSize
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Len implements Node.
func (b Boxes) Len() int {
	return b.Size()
}

// MarshalTo implements Node.
func (b Boxes) MarshalTo(w *bitio.Writer) error {
	return b.Marshal(w)
}

// Marshal box including children.
func (b Boxes) Marshal(w *bitio.Writer) error {
	size := b.Size()
	if uint64(size) > math.MaxUint32 {
		return fmt.Errorf("%w: box %v size %d", ErrOutOfRange, b.Box.Type(), size)
	}

	err := writeBoxInfo(w, uint32(size), b.Box.Type())
	if err != nil {
		return err
	}

	// The size of a empty box is 8 bytes.
	if b.Box.Size() != 0 {
		start := w.Written()
		if err := b.Box.Marshal(w); err != nil {
			return fmt.Errorf("marshal %v: %w", b.Box.Type(), err)
		}
		if n := w.Written() - start; n != b.Box.Size() {
			return fmt.Errorf("%w: %v declared %d, marshaled %d",
				ErrSizeMismatch, b.Box.Type(), b.Box.Size(), n)
		}
	}

	for _, child := range b.Children {
		if err := child.Marshal(w); err != nil {
			return err
		}
	}
	return nil
}

func writeBoxInfo(w *bitio.Writer, size uint32, typ BoxType) error {
	w.TryWriteUint32(size)
	w.TryWrite(typ[:])
	return w.TryError
}

// WriteSingleBox write a single box.
func WriteSingleBox(w *bitio.Writer, b ImmutableBox) (int, error) {
	box := Boxes{Box: b}
	if err := box.Marshal(w); err != nil {
		return 0, err
	}
	return box.Size(), nil
}
