// Package convert encodes boards as the flat float32 tensors consumed by the
// oracle and stored in the training corpus.
//
// Layout is [Planes, Size, Size] (C, H, W), plane-major and row-major within a
// plane, so index = c*Size*Size + row*Size + col. Byte encodings are float32
// little endian.
package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/brensch/gomokuzero/game"
)

const BytesPerFloat = 4

// Codec encodes boards of one shape. Buffers are pooled; callers return them
// with PutFloatBuffer / PutBuffer once done.
type Codec struct {
	Planes int
	Size   int

	floatPool sync.Pool
	bytePool  sync.Pool
}

func NewCodec(planes, size int) *Codec {
	c := &Codec{Planes: planes, Size: size}
	c.floatPool.New = func() interface{} {
		b := make([]float32, c.FloatSize())
		return &b
	}
	c.bytePool.New = func() interface{} {
		b := make([]byte, c.BufferSize())
		return &b
	}
	return c
}

// FloatSize is the number of float32 values in one encoded board.
func (c *Codec) FloatSize() int { return c.Planes * c.Size * c.Size }

// BufferSize is the number of bytes in one encoded board.
func (c *Codec) BufferSize() int { return c.FloatSize() * BytesPerFloat }

func (c *Codec) GetFloatBuffer() *[]float32 { return c.floatPool.Get().(*[]float32) }

func (c *Codec) PutFloatBuffer(b *[]float32) { c.floatPool.Put(b) }

func (c *Codec) GetBuffer() *[]byte { return c.bytePool.Get().(*[]byte) }

func (c *Codec) PutBuffer(b *[]byte) { c.bytePool.Put(b) }

// BoardToFloat32 encodes the feature planes of b from the perspective of the
// player to move into a pooled slice.
func (c *Codec) BoardToFloat32(b *game.Board) (*[]float32, error) {
	if b.Size() != c.Size {
		return nil, fmt.Errorf("convert: board size %d, codec size %d", b.Size(), c.Size)
	}
	dataPtr := c.GetFloatBuffer()
	FlattenPlanes(b.FeaturePlanes(c.Planes), *dataPtr)
	return dataPtr, nil
}

// BoardToBytes is BoardToFloat32 encoded as little-endian bytes.
func (c *Codec) BoardToBytes(b *game.Board) (*[]byte, error) {
	floats, err := c.BoardToFloat32(b)
	if err != nil {
		return nil, err
	}
	defer c.PutFloatBuffer(floats)

	dataPtr := c.GetBuffer()
	Float32sToBytes(*floats, *dataPtr)
	return dataPtr, nil
}

// FlattenPlanes copies planes into dst plane after plane. dst is allocated
// when nil and must otherwise hold every value.
func FlattenPlanes(planes [][]float32, dst []float32) []float32 {
	n := 0
	for _, p := range planes {
		n += len(p)
	}
	if dst == nil {
		dst = make([]float32, n)
	}
	off := 0
	for _, p := range planes {
		off += copy(dst[off:], p)
	}
	return dst
}

// SplitPlanes is the inverse of FlattenPlanes for planes of equal length.
func SplitPlanes(x []float32, planes int) ([][]float32, error) {
	if planes <= 0 || len(x)%planes != 0 {
		return nil, fmt.Errorf("convert: %d values do not split into %d planes", len(x), planes)
	}
	cells := len(x) / planes
	out := make([][]float32, planes)
	for i := range out {
		out[i] = make([]float32, cells)
		copy(out[i], x[i*cells:(i+1)*cells])
	}
	return out, nil
}

// Float32sToBytes encodes x into dst, allocating when dst is nil.
func Float32sToBytes(x []float32, dst []byte) []byte {
	if dst == nil {
		dst = make([]byte, len(x)*BytesPerFloat)
	}
	for i, v := range x {
		binary.LittleEndian.PutUint32(dst[i*BytesPerFloat:], math.Float32bits(v))
	}
	return dst
}

func BytesToFloat32s(b []byte) ([]float32, error) {
	if len(b)%BytesPerFloat != 0 {
		return nil, fmt.Errorf("convert: %d bytes is not a whole number of float32s", len(b))
	}
	out := make([]float32, len(b)/BytesPerFloat)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerFloat:]))
	}
	return out, nil
}
