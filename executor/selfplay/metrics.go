package selfplay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

// Metrics are the self-play counters exported on /metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	Games          *prometheus.CounterVec
	Skipped        prometheus.Counter
	Moves          prometheus.Counter
	GameLength     prometheus.Histogram
	OracleCalls    prometheus.Counter
	OracleFailures prometheus.Counter
	OracleLatency  prometheus.Histogram
	Aborted        prometheus.Counter
}

// NewMetrics registers the self-play metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Games: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gomoku_selfplay_games_total",
			Help: "Finished self-play games by result",
		}, []string{"result"}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "gomoku_selfplay_games_skipped_total",
			Help: "Self-play games discarded after an error",
		}),
		Moves: f.NewCounter(prometheus.CounterOpts{
			Name: "gomoku_selfplay_moves_total",
			Help: "Moves played in finished games",
		}),
		GameLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gomoku_selfplay_game_length_moves",
			Help:    "Moves per finished game",
			Buckets: prometheus.LinearBuckets(10, 20, 12),
		}),
		OracleCalls: f.NewCounter(prometheus.CounterOpts{
			Name: "gomoku_oracle_requests_total",
			Help: "Oracle evaluations requested by the search",
		}),
		OracleFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gomoku_oracle_failures_total",
			Help: "Oracle evaluations that failed and fell back to uniform priors",
		}),
		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gomoku_oracle_latency_seconds",
			Help:    "Oracle evaluation latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		}),
		Aborted: f.NewCounter(prometheus.CounterOpts{
			Name: "gomoku_search_simulations_aborted_total",
			Help: "Simulations dropped after the tree and board went out of sync",
		}),
	}
}

func (m *Metrics) observeGame(t *Trajectory) {
	if m == nil {
		return
	}
	m.Games.WithLabelValues(t.Result()).Inc()
	m.Moves.Add(float64(t.Len()))
	m.GameLength.Observe(float64(t.Len()))
	m.Aborted.Add(float64(t.AbortedSimulations))
}

func (m *Metrics) observeSkip() {
	if m == nil {
		return
	}
	m.Skipped.Inc()
}

// InstrumentedOracle counts and times every call of the wrapped oracle.
type InstrumentedOracle struct {
	mcts.Oracle
	Metrics *Metrics
}

func (o *InstrumentedOracle) Predict(b *game.Board) ([]float32, float32, error) {
	start := time.Now()
	priors, value, err := o.Oracle.Predict(b)
	if m := o.Metrics; m != nil {
		m.OracleCalls.Inc()
		m.OracleLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			m.OracleFailures.Inc()
		}
	}
	return priors, value, err
}
