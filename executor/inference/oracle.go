package inference

import (
	"math"

	"github.com/brensch/gomokuzero/game"
)

// UniformOracle assigns every cell the same prior and every position the
// value 0. It needs no model and is what generation zero plays with.
type UniformOracle struct{}

func (UniformOracle) Predict(b *game.Board) ([]float32, float32, error) {
	priors := make([]float32, b.NumCells())
	p := 1 / float32(len(priors))
	for i := range priors {
		priors[i] = p
	}
	return priors, 0, nil
}

// HeuristicOracle uses the placement heuristic of the player to move as
// priors, sharpened by Temperature, and the value 0.
type HeuristicOracle struct {
	// Temperature divides log scores before normalising. Zero means 1.
	Temperature float32
}

func (o HeuristicOracle) Predict(b *game.Board) ([]float32, float32, error) {
	scores := b.HeuristicGrid(b.ToMove(), b.LegalActions())

	t := o.Temperature
	if t <= 0 {
		t = 1
	}
	logits := make([]float32, len(scores))
	for i, s := range scores {
		if s <= 0 {
			logits[i] = -1e9
			continue
		}
		logits[i] = float32(math.Log(float64(s))) / t
	}
	softmax(logits)
	return logits, 0, nil
}
