package inference

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Pool fans out EvaluatePlanes calls across several evaluators round-robin.
// With OnnxClients each member has its own session and batch loop, so
// batches run in parallel on the device.
type Pool struct {
	members []PlaneEvaluator
	rr      atomic.Uint64
}

func NewPool(members ...PlaneEvaluator) *Pool {
	return &Pool{members: members}
}

// NewOnnxPool opens sessions copies of the model. On error every session
// already opened is closed.
func NewOnnxPool(modelPath string, sessions int, cfg OnnxClientConfig) (*Pool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	members := make([]PlaneEvaluator, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClient(modelPath, cfg)
		if err != nil {
			_ = NewPool(members...).Close()
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		members = append(members, c)
	}
	return NewPool(members...), nil
}

func (p *Pool) EvaluatePlanes(x []float32) ([]float32, float32, error) {
	if len(p.members) == 0 {
		return nil, 0, errors.New("inference: pool has no evaluators")
	}
	idx := int((p.rr.Add(1) - 1) % uint64(len(p.members)))
	return p.members[idx].EvaluatePlanes(x)
}

// Stats sums the stats of every member that reports them.
func (p *Pool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, m := range p.members {
		sp, ok := m.(StatsProvider)
		if !ok {
			continue
		}
		st := sp.Stats()
		out.TotalBatches += st.TotalBatches
		out.TotalItems += st.TotalItems
		out.TotalRunNanos += st.TotalRunNanos
		out.QueueLen += st.QueueLen
		if st.LastBatchSize > out.LastBatchSize {
			out.LastBatchSize = st.LastBatchSize
		}
	}
	out.finish()
	return out
}

// Close closes every member that is an io.Closer and returns the first error.
func (p *Pool) Close() error {
	var firstErr error
	for _, m := range p.members {
		c, ok := m.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
