package selfplay

import (
	"github.com/brensch/gomokuzero/executor/augment"
	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/store"
)

// Samples returns the recorded positions of t in move order.
func (t *Trajectory) Samples() []augment.Sample {
	out := make([]augment.Sample, t.Len())
	for i := range out {
		out[i] = augment.Sample{
			Planes:    t.Planes[i],
			Policy:    t.Policies[i],
			Action:    t.Actions[i],
			Value:     t.Values[i],
			Transform: augment.Identity,
		}
	}
	return out
}

// TrainingRows converts t to storage rows, one per move, or eight per move
// when withSymmetries is set.
func (t *Trajectory) TrainingRows(withSymmetries bool) []store.TrainingRow {
	per := 1
	if withSymmetries {
		per = 8
	}
	rows := make([]store.TrainingRow, 0, t.Len()*per)
	var x []float32
	for i, s := range t.Samples() {
		variants := []augment.Sample{s}
		if withSymmetries {
			variants = augment.Augment(t.BoardLen, s)
		}
		for _, v := range variants {
			x = convert.FlattenPlanes(v.Planes, x)
			rows = append(rows, store.TrainingRow{
				GameID:   t.GameID,
				Move:     int32(i),
				Symmetry: int32(v.Transform.Index()),
				BoardLen: int32(t.BoardLen),
				Planes:   int32(len(v.Planes)),
				X:        convert.Float32sToBytes(x, nil),
				Policy:   v.Policy,
				Action:   int32(v.Action),
				Player:   int32(t.Players[i]),
				Value:    v.Value,
				Source:   store.SourceSelfPlay,
				Model:    t.Model,
			})
		}
	}
	return rows
}
