package mcts

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/gomokuzero/game"
)

// oracleFunc adapts a function to the Oracle interface.
type oracleFunc func(b *game.Board) ([]float32, float32, error)

func (f oracleFunc) Predict(b *game.Board) ([]float32, float32, error) { return f(b) }

// uniformOracle returns equal priors over every cell and a zero value.
var uniformOracle = oracleFunc(func(b *game.Board) ([]float32, float32, error) {
	priors := make([]float32, b.NumCells())
	for i := range priors {
		priors[i] = 1
	}
	return priors, 0, nil
})

func newTestEngine(oracle Oracle, sims int) *Engine {
	return NewEngine(Config{Cpuct: 1, Simulations: sims}, oracle, rand.New(rand.NewSource(1)), nil)
}

func smallBoard() *game.Board {
	return game.NewBoard(game.Options{Size: 9, SearchRadius: 2, WinLength: 5})
}

func TestExpand_IdempotentAndOrdered(t *testing.T) {
	tree := NewTree()
	root := tree.Root()

	tree.Expand(root, []ActionPrior{{Action: 5, Prior: 0.5}, {Action: 2, Prior: 0.3}})
	tree.Expand(root, []ActionPrior{{Action: 2, Prior: 0.9}, {Action: 7, Prior: 0.2}})

	children := tree.Node(root).Children
	require.Len(t, children, 3)
	assert.Equal(t, 5, tree.Node(children[0]).Action)
	assert.Equal(t, 2, tree.Node(children[1]).Action)
	assert.Equal(t, 7, tree.Node(children[2]).Action)
	assert.Equal(t, float32(0.3), tree.Node(children[1]).Prior, "existing child left untouched")
	for _, id := range children {
		assert.Equal(t, root, tree.Node(id).Parent)
		assert.Zero(t, tree.Node(id).VisitCount)
		assert.True(t, tree.IsLeaf(id))
	}
	assert.False(t, tree.IsLeaf(root))
}

func TestSelectBestChild_TieGoesToFirst(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	tree.Expand(root, []ActionPrior{{Action: 3, Prior: 0.25}, {Action: 1, Prior: 0.25}, {Action: 9, Prior: 0.25}})
	tree.RecordValue(root, 0)

	best := tree.SelectBestChild(root, 1)
	assert.Equal(t, 3, tree.Node(best).Action)

	assert.Equal(t, NilNode, tree.SelectBestChild(tree.Node(root).Children[0], 1))
}

func TestSelectBestChild_PUCT(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	tree.Expand(root, []ActionPrior{{Action: 0, Prior: 0.1}, {Action: 1, Prior: 0.9}})
	a, b := tree.Node(root).Children[0], tree.Node(root).Children[1]

	for i := 0; i < 4; i++ {
		tree.Backup(a, 1)
	}
	tree.RecordValue(root, 0)

	// a: Q=1, U=0.1*sqrt(5)/5; b: Q=0, U=0.9*sqrt(5)/1
	assert.InDelta(t, 0.1*math.Sqrt(5)/5, tree.U(a, 1), 1e-6)
	assert.InDelta(t, 0.9*math.Sqrt(5), tree.U(b, 1), 1e-6)
	assert.Equal(t, b, tree.SelectBestChild(root, 1))
	assert.Equal(t, a, tree.SelectBestChild(root, 0.1))
	assert.Zero(t, tree.U(root, 1))
}

func TestSelectBestChild_AgreesWithU(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	tree := NewTree()
	root := tree.Root()
	priors := make([]ActionPrior, 12)
	for i := range priors {
		priors[i] = ActionPrior{Action: i, Prior: rng.Float32()}
	}
	tree.Expand(root, priors)
	for i := 0; i < 60; i++ {
		children := tree.Node(root).Children
		tree.Backup(children[rng.Intn(len(children))], rng.Float32()*2-1)
	}

	for _, cpuct := range []float32{0, 0.5, 1.5, 4} {
		want := NilNode
		wantScore := float32(math.Inf(-1))
		for _, cid := range tree.Node(root).Children {
			if score := tree.Node(cid).MeanValue + tree.U(cid, cpuct); score > wantScore {
				want, wantScore = cid, score
			}
		}
		assert.Equal(t, want, tree.SelectBestChild(root, cpuct), "cpuct %v", cpuct)
	}
}

func TestBackup_AlternatesSignToRoot(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	tree.Expand(root, []ActionPrior{{Action: 0, Prior: 1}})
	a := tree.Node(root).Children[0]
	tree.Expand(a, []ActionPrior{{Action: 1, Prior: 1}})
	b := tree.Node(a).Children[0]
	tree.Expand(b, []ActionPrior{{Action: 2, Prior: 1}})
	c := tree.Node(b).Children[0]

	assert.Equal(t, 4, tree.Backup(c, 0.5))
	assert.Equal(t, 3, tree.Depth(c))

	want := map[NodeID]float32{c: 0.5, b: -0.5, a: 0.5, root: -0.5}
	for id, w := range want {
		assert.Equal(t, 1, tree.Node(id).VisitCount)
		assert.Equal(t, w, tree.Node(id).MeanValue)
	}

	tree.Backup(b, 1)
	for _, id := range []NodeID{root, a, b, c} {
		n := tree.Node(id)
		assert.InDelta(t, n.ValueSum/float32(n.VisitCount), n.MeanValue, 1e-6, "node %d", id)
	}
	assert.Equal(t, float32(0.25), tree.Node(b).MeanValue)
	assert.Equal(t, float32(-0.25), tree.Node(a).MeanValue)
	assert.Equal(t, float32(0.25), tree.Node(root).MeanValue)
}

func TestRenormalizePriors(t *testing.T) {
	priors := []float32{0.5, 0.1, 0.3, 0.1}
	got := RenormalizePriors(priors, []int{1, 2})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Action)
	assert.InDelta(t, 0.25, got[0].Prior, 1e-6)
	assert.InDelta(t, 0.75, got[1].Prior, 1e-6)
}

func TestRenormalizePriors_ZeroMassFallsBackToUniform(t *testing.T) {
	priors := []float32{0.7, 0, 0.3, 0, -0.2}
	legal := []int{1, 3, 4}

	got := RenormalizePriors(priors, legal)
	require.Len(t, got, len(legal))
	for i, ap := range got {
		assert.Equal(t, legal[i], ap.Action)
		assert.InDelta(t, 1.0/3, ap.Prior, 1e-6)
	}
}

func TestVisitDistribution(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	tree.Expand(root, []ActionPrior{{Action: 4, Prior: 0.2}, {Action: 1, Prior: 0.2}, {Action: 6, Prior: 0.6}})
	children := tree.Node(root).Children
	visits := []int{1, 3, 0}
	for i, id := range children {
		for j := 0; j < visits[i]; j++ {
			tree.Backup(id, 0)
		}
	}

	dist := VisitDistribution(tree, 8, 1)
	assert.InDelta(t, 0.25, dist[4], 1e-6)
	assert.InDelta(t, 0.75, dist[1], 1e-6)
	assert.Zero(t, dist[6], "unvisited child")
	assert.Zero(t, dist[0])

	sharp := VisitDistribution(tree, 8, 0.5)
	assert.InDelta(t, 0.1, sharp[4], 1e-6)
	assert.InDelta(t, 0.9, sharp[1], 1e-6)

	greedy := VisitDistribution(tree, 8, 0)
	assert.Equal(t, []float32{0, 1, 0, 0, 0, 0, 0, 0}, greedy)
}

func TestVisitDistribution_GreedyTieFirstSeen(t *testing.T) {
	tree := NewTree()
	root := tree.Root()
	tree.Expand(root, []ActionPrior{{Action: 7, Prior: 0.5}, {Action: 2, Prior: 0.5}})
	for _, id := range tree.Node(root).Children {
		tree.Backup(id, 0)
	}
	dist := VisitDistribution(tree, 9, 0)
	assert.Equal(t, float32(1), dist[7])
	assert.Zero(t, dist[2])
}

func TestSampleAction(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	probs := []float32{0, 0.25, 0, 0.75}

	counts := make([]int, len(probs))
	for i := 0; i < 4000; i++ {
		counts[SampleAction(rng, probs)]++
	}
	assert.Zero(t, counts[0])
	assert.Zero(t, counts[2])
	assert.InDelta(t, 1000, counts[1], 150)
	assert.InDelta(t, 3000, counts[3], 150)

	assert.Equal(t, 2, SampleAction(rng, []float32{0, 0, 1, 0}))
}

func TestSearch_VisitCounts(t *testing.T) {
	const sims = 64
	e := newTestEngine(uniformOracle, sims)
	board := smallBoard()
	require.NoError(t, board.AdvanceTurn(40))

	res, err := e.Search(context.Background(), board)
	require.NoError(t, err)
	assert.Equal(t, sims, res.Simulations)
	assert.Zero(t, res.Aborted)
	assert.Zero(t, res.OracleFailures)
	assert.Equal(t, 1, board.MoveCount(), "search must not mutate the board")

	root := res.Tree.Node(res.Tree.Root())
	assert.Equal(t, sims, root.VisitCount)

	total := 0
	for _, c := range res.RootChildren() {
		total += c.Visits
	}
	// The first simulation only expands the root.
	assert.Equal(t, sims-1, total)
	assert.Len(t, root.Children, len(board.LegalActions()))
	assert.Positive(t, res.MaxDepth)
}

func TestSearch_PrefersImmediateWin(t *testing.T) {
	board := smallBoard()
	for col := 2; col <= 5; col++ {
		require.NoError(t, board.PlaceWithoutAdvancing(board.Action(4, col), game.PlayerOne))
	}
	require.NoError(t, board.PlaceWithoutAdvancing(board.Action(4, 1), game.PlayerTwo))
	require.NoError(t, board.PlaceWithoutAdvancing(board.Action(6, 6), game.PlayerTwo))
	require.Equal(t, game.PlayerOne, board.ToMove())

	e := newTestEngine(uniformOracle, 300)
	action, probs, err := e.GetAction(context.Background(), board, 0)
	require.NoError(t, err)
	t.Logf("\n%s", board)

	win := board.Action(4, 6)
	assert.Equal(t, win, action)
	assert.Equal(t, float32(1), probs[win])

	res, err := e.Search(context.Background(), board)
	require.NoError(t, err)
	top := res.RootChildren()[0]
	assert.Equal(t, win, top.Action)
	assert.Equal(t, float32(1), top.Q, "every visit of the winning move is a win")
}

func TestGetAction_TemperatureZeroDeterministic(t *testing.T) {
	board := smallBoard()
	require.NoError(t, board.AdvanceTurn(40))
	require.NoError(t, board.AdvanceTurn(41))

	var firstAction int
	for seed := int64(0); seed < 3; seed++ {
		e := NewEngine(Config{Cpuct: 1.5, Simulations: 50}, uniformOracle, rand.New(rand.NewSource(seed)), nil)
		action, probs, err := e.GetAction(context.Background(), board, 0)
		require.NoError(t, err)

		res, err := e.Search(context.Background(), board)
		require.NoError(t, err)
		assert.Equal(t, res.RootChildren()[0].Visits, visitsOf(res, action))

		var sum float32
		for a, p := range probs {
			sum += p
			if a != action {
				assert.Zero(t, p)
			}
		}
		assert.Equal(t, float32(1), sum)

		if seed == 0 {
			firstAction = action
		}
		assert.Equal(t, firstAction, action)
	}
}

func TestGetAction_TemperatureOneSumsToOne(t *testing.T) {
	board := smallBoard()
	e := newTestEngine(uniformOracle, 40)

	action, probs, err := e.GetAction(context.Background(), board, 1)
	require.NoError(t, err)
	require.Len(t, probs, board.NumCells())

	var sum float64
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, float32(0))
		sum += float64(p)
	}
	assert.InDelta(t, 1, sum, 1e-5)
	assert.Positive(t, probs[action])
}

func TestSearch_OracleFailureRecovers(t *testing.T) {
	tests := []struct {
		name   string
		oracle Oracle
	}{
		{"error", oracleFunc(func(b *game.Board) ([]float32, float32, error) {
			return nil, 0, errors.New("model unavailable")
		})},
		{"wrong length", oracleFunc(func(b *game.Board) ([]float32, float32, error) {
			return make([]float32, 3), 0.5, nil
		})},
		{"nan value", oracleFunc(func(b *game.Board) ([]float32, float32, error) {
			return make([]float32, b.NumCells()), float32(math.NaN()), nil
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := smallBoard()
			require.NoError(t, board.AdvanceTurn(40))

			e := newTestEngine(tt.oracle, 20)
			res, err := e.Search(context.Background(), board)
			require.NoError(t, err)
			assert.Equal(t, 20, res.Simulations)
			assert.Positive(t, res.OracleFailures)

			legal := board.LegalActions()
			children := res.Tree.Node(res.Tree.Root()).Children
			require.Len(t, children, len(legal))
			for _, id := range children {
				assert.InDelta(t, 1/float64(len(legal)), res.Tree.Node(id).Prior, 1e-6)
			}
		})
	}
}

func TestPredict_WrapsOracleError(t *testing.T) {
	cause := errors.New("boom")
	e := newTestEngine(oracleFunc(func(b *game.Board) ([]float32, float32, error) {
		return nil, 0, cause
	}), 1)

	_, _, err := e.predict(smallBoard())
	var oe *OracleError
	require.ErrorAs(t, err, &oe)
	assert.ErrorIs(t, err, cause)
}

func TestSearch_ZeroLegalMassUsesUniform(t *testing.T) {
	board := smallBoard()
	require.NoError(t, board.AdvanceTurn(40))
	legal := board.LegalActions()

	// All mass on an illegal corner cell.
	e := newTestEngine(oracleFunc(func(b *game.Board) ([]float32, float32, error) {
		priors := make([]float32, b.NumCells())
		priors[0] = 1
		return priors, 0, nil
	}), 2)

	res, err := e.Search(context.Background(), board)
	require.NoError(t, err)
	children := res.Tree.Node(res.Tree.Root()).Children
	require.Len(t, children, len(legal))
	for i, id := range children {
		n := res.Tree.Node(id)
		assert.Equal(t, legal[i], n.Action)
		assert.NotEqual(t, 0, n.Action)
		assert.InDelta(t, 1/float64(len(legal)), n.Prior, 1e-6)
	}
}

func TestSimulate_DesyncIsStateInvariant(t *testing.T) {
	board := smallBoard()
	require.NoError(t, board.AdvanceTurn(40))

	res := &SearchResult{Tree: NewTree()}
	res.Tree.Expand(res.Tree.Root(), []ActionPrior{{Action: 40, Prior: 1}})

	e := newTestEngine(uniformOracle, 1)
	_, err := e.simulate(res, board)
	require.ErrorIs(t, err, ErrTreeDesync)
	assert.ErrorIs(t, err, game.ErrStateInvariant)
	assert.ErrorIs(t, err, game.ErrInvalidAction)
}

func TestSearch_TerminalRoot(t *testing.T) {
	board := smallBoard()
	for col := 0; col < 5; col++ {
		require.NoError(t, board.PlaceWithoutAdvancing(board.Action(0, col), game.PlayerTwo))
	}
	_, err := newTestEngine(uniformOracle, 10).Search(context.Background(), board)
	assert.ErrorIs(t, err, ErrTerminalRoot)
}

func TestSearch_NoSimulations(t *testing.T) {
	_, err := newTestEngine(uniformOracle, 0).Search(context.Background(), smallBoard())
	assert.ErrorIs(t, err, ErrRootNotExpanded)
}

func TestSearch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(uniformOracle, 10).Search(ctx, smallBoard())
	assert.ErrorIs(t, err, context.Canceled)
}

func visitsOf(res *SearchResult, action int) int {
	for _, c := range res.RootChildren() {
		if c.Action == action {
			return c.Visits
		}
	}
	return -1
}

func BenchmarkSearch(b *testing.B) {
	board := game.NewBoard(game.DefaultOptions())
	_ = board.AdvanceTurn(board.Action(7, 7))
	e := newTestEngine(uniformOracle, 200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(context.Background(), board); err != nil {
			b.Fatalf("Search failed: %v", err)
		}
	}
}
