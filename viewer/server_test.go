package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/gomokuzero/corpus"
	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/game"
	"github.com/brensch/gomokuzero/store"
)

func trainingRows(id string, n int) []store.TrainingRow {
	values := selfplay.OutcomeLabels(n, game.PlayerOne)
	out := make([]store.TrainingRow, 0, n)
	for m := 0; m < n; m++ {
		out = append(out, store.TrainingRow{
			GameID:   id,
			Move:     int32(m),
			BoardLen: 7,
			Planes:   1,
			X:        make([]byte, 7*7*4),
			Policy:   make([]float32, 49),
			Action:   int32(m),
			Player:   int32(1 + m%2),
			Value:    values[m],
			Source:   store.SourceSelfPlay,
		})
	}
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dataDir, debugDir := t.TempDir(), t.TempDir()
	_, err := store.WriteBatchParquetAtomic(dataDir, append(trainingRows("a", 5), trainingRows("b", 9)...))
	require.NoError(t, err)

	db, err := corpus.Open(context.Background(), []string{dataDir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := &Server{
		Corpus:   db,
		DebugDir: debugDir,
		Oracle:   inference.UniformOracle{},
		Board:    game.Options{Size: 7},
		Search:   mcts.Config{Cpuct: 1, Simulations: 16},
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, debugDir
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestGamesAndMoves(t *testing.T) {
	srv, _ := newTestServer(t)

	var summary corpus.Summary
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/summary", &summary))
	assert.Equal(t, int64(2), summary.Games)
	assert.Equal(t, int64(14), summary.Samples)

	var games GamesResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/games?sort=longest", &games))
	require.Len(t, games.Games, 2)
	assert.Equal(t, "b", games.Games[0].GameID)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/games?limit=1&offset=1", &games))
	require.Len(t, games.Games, 1)
	assert.Equal(t, "b", games.Games[0].GameID)

	var moves []corpus.MoveSummary
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/games/a/moves", &moves))
	require.Len(t, moves, 5)
	assert.Equal(t, int32(4), moves[4].Action)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/games/missing/moves", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/games/a", nil))

	resp, err := http.Post(srv.URL+"/api/games", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDebugGames(t *testing.T) {
	srv, debugDir := newTestServer(t)

	var files []DebugGameFile
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/debug_games", &files))
	assert.Empty(t, files)

	opts := selfplay.DefaultOptions()
	opts.Board = game.Options{Size: 7}
	opts.Search = mcts.Config{Cpuct: 1, Simulations: 8}
	opts.MaxMoves = 4
	opts.Capture = true
	traj, err := selfplay.PlayGame(context.Background(), opts, inference.UniformOracle{}, nil, nil)
	require.NoError(t, err)
	_, err = selfplay.WriteDebugGame(debugDir, traj, opts.Search)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/debug_games", &files))
	require.Len(t, files, 1)

	var g DebugGame
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/debug_games/"+files[0].File, &g))
	assert.Equal(t, traj.GameID, g.GameID)
	require.Len(t, g.Moves, 4)
	var root selfplay.TreeNode
	require.NoError(t, json.Unmarshal(g.Moves[0].Root, &root))
	assert.Equal(t, 8, root.Visits)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/debug_games/games.log", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/debug_games/debug_none.parquet", nil))
}

func TestAnalyze(t *testing.T) {
	srv, _ := newTestServer(t)

	post := func(body string) (*http.Response, selfplay.SearchSummary) {
		resp, err := http.Post(srv.URL+"/api/analyze", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out selfplay.SearchSummary
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		}
		return resp, out
	}

	resp, summary := post(`{"moves":[24,25],"simulations":32,"depth":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, summary.Move)
	assert.Equal(t, game.PlayerOne, summary.Player)
	assert.Equal(t, 32, summary.Simulations)
	assert.Len(t, summary.Cells, 49)
	require.NotNil(t, summary.Root)
	for _, c := range summary.Root.Children {
		assert.Empty(t, c.Children, "depth 1 keeps only root children")
	}

	resp, _ = post(`{"moves":[24,24]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(`{"board_len":64}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
