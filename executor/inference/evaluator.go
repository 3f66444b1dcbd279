// Package inference provides the policy/value oracles used by search: an
// ONNX Runtime evaluator with request batching, a websocket client and
// server for sharing one evaluator between hosts, and model-free bootstrap
// oracles.
package inference

import (
	"fmt"
	"math"

	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/game"
)

// PlaneEvaluator evaluates one encoded board: x is the flat
// [planes, size, size] tensor from convert. policy has one probability per
// cell; value is for the player to move.
type PlaneEvaluator interface {
	EvaluatePlanes(x []float32) (policy []float32, value float32, err error)
}

// RuntimeStats are cumulative batching counters of an evaluator.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int

	AvgBatchSize float64
	AvgRunMs     float64
}

// StatsProvider is implemented by evaluators that batch.
type StatsProvider interface {
	Stats() RuntimeStats
}

func (s *RuntimeStats) finish() {
	if s.TotalBatches > 0 {
		s.AvgBatchSize = float64(s.TotalItems) / float64(s.TotalBatches)
		s.AvgRunMs = (float64(s.TotalRunNanos) / 1e6) / float64(s.TotalBatches)
	}
}

// BoardOracle encodes boards with a convert.Codec and evaluates them. It
// satisfies mcts.Oracle.
type BoardOracle struct {
	Codec     *convert.Codec
	Evaluator PlaneEvaluator
}

func NewBoardOracle(codec *convert.Codec, eval PlaneEvaluator) *BoardOracle {
	return &BoardOracle{Codec: codec, Evaluator: eval}
}

func (o *BoardOracle) Predict(b *game.Board) ([]float32, float32, error) {
	x, err := o.Codec.BoardToFloat32(b)
	if err != nil {
		return nil, 0, err
	}
	defer o.Codec.PutFloatBuffer(x)

	policy, value, err := o.Evaluator.EvaluatePlanes(*x)
	if err != nil {
		return nil, 0, err
	}
	if len(policy) != b.NumCells() {
		return nil, 0, fmt.Errorf("inference: policy has %d entries, board has %d cells", len(policy), b.NumCells())
	}
	return policy, value, nil
}

// PolicyOutput names what a model's policy head emits.
type PolicyOutput string

const (
	PolicyProbs    PolicyOutput = "probs"
	PolicyLogProbs PolicyOutput = "log_probs"
	PolicyLogits   PolicyOutput = "logits"
)

// ToProbs converts a policy head output to probabilities in place.
func (p PolicyOutput) ToProbs(v []float32) error {
	switch p {
	case PolicyProbs, "":
		return nil
	case PolicyLogProbs:
		for i, x := range v {
			v[i] = float32(math.Exp(float64(x)))
		}
		return nil
	case PolicyLogits:
		softmax(v)
		return nil
	}
	return fmt.Errorf("inference: unknown policy output %q", p)
}

func softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - maxV))
		v[i] = float32(e)
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range v {
			v[i] = float32(float64(v[i]) * inv)
		}
	}
}
