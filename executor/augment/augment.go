// Package augment expands training samples into the eight symmetries of the
// square board.
package augment

import "fmt"

// Transform is a rotation by Rotations quarter turns counter-clockwise,
// followed by a left-right mirror when Mirror is set.
type Transform struct {
	Rotations int
	Mirror    bool
}

// Identity leaves every cell in place.
var Identity = Transform{}

// All8 returns the symmetry group in symmetry-index order; Identity is first.
func All8() [8]Transform {
	var out [8]Transform
	for i := range out {
		out[i] = FromIndex(i)
	}
	return out
}

// FromIndex is the inverse of Transform.Index.
func FromIndex(i int) Transform {
	return Transform{Rotations: i % 4, Mirror: i >= 4}
}

// Index numbers the transform 0..7: rotations first, mirrored ones from 4.
func (t Transform) Index() int {
	i := t.rotations()
	if t.Mirror {
		i += 4
	}
	return i
}

func (t Transform) String() string {
	if t.Mirror {
		return fmt.Sprintf("rot%d+mirror", t.rotations()*90)
	}
	return fmt.Sprintf("rot%d", t.rotations()*90)
}

func (t Transform) rotations() int {
	return ((t.Rotations % 4) + 4) % 4
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	// A mirror after a rotation equals the opposite rotation after a mirror,
	// so mirrored transforms are their own inverse.
	if t.Mirror {
		return Transform{Rotations: t.rotations(), Mirror: true}
	}
	return Transform{Rotations: (4 - t.rotations()) % 4}
}

// MapCoords returns where (row, col) of a size x size grid ends up.
func (t Transform) MapCoords(size, row, col int) (int, int) {
	for i := 0; i < t.rotations(); i++ {
		row, col = size-1-col, row
	}
	if t.Mirror {
		col = size - 1 - col
	}
	return row, col
}

// MapIndex is MapCoords for row-major cell indices.
func (t Transform) MapIndex(size, idx int) int {
	r, c := t.MapCoords(size, idx/size, idx%size)
	return r*size + c
}

// Apply returns a transformed copy of a row-major size x size grid.
func (t Transform) Apply(size int, grid []float32) []float32 {
	out := make([]float32, len(grid))
	for i, v := range grid {
		out[t.MapIndex(size, i)] = v
	}
	return out
}

// ApplyPlanes transforms every plane with the same mapping.
func (t Transform) ApplyPlanes(size int, planes [][]float32) [][]float32 {
	out := make([][]float32, len(planes))
	for i, p := range planes {
		out[i] = t.Apply(size, p)
	}
	return out
}

// Sample is one recorded position: the feature planes before the move, the
// search policy and the outcome label for the player to move.
type Sample struct {
	Planes [][]float32
	Policy []float32
	// Action is the move played, or -1.
	Action int
	Value  float32

	Transform Transform
}

// Apply transforms planes, policy and action together. The value is copied.
func (s Sample) Apply(size int, t Transform) Sample {
	action := s.Action
	if action >= 0 {
		action = t.MapIndex(size, action)
	}
	return Sample{
		Planes:    t.ApplyPlanes(size, s.Planes),
		Policy:    t.Apply(size, s.Policy),
		Action:    action,
		Value:     s.Value,
		Transform: t,
	}
}

// Augment returns the eight symmetric variants of s, Identity first.
func Augment(size int, s Sample) []Sample {
	out := make([]Sample, 0, 8)
	for _, t := range All8() {
		out = append(out, s.Apply(size, t))
	}
	return out
}
