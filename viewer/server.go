// Package viewer serves generated games, captured search trees and fresh
// analyses as JSON for a browser front end.
package viewer

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brensch/gomokuzero/corpus"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/game"
	"github.com/brensch/gomokuzero/store"
)

const (
	maxAnalyzeSimulations = 20000
	maxBoardLen           = 32
)

type Server struct {
	Corpus   *corpus.DB
	DebugDir string

	// Oracle, Board and Search back /api/analyze.
	Oracle mcts.Oracle
	Board  game.Options
	Search mcts.Config

	Logger *slog.Logger
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/games/", s.handleGameMoves)
	mux.HandleFunc("/api/debug_games", s.handleDebugGamesList)
	mux.HandleFunc("/api/debug_games/", s.handleDebugGame)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if err := s.Corpus.Refresh(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("refresh corpus: %v", err), http.StatusInternalServerError)
		return
	}
	summary, err := s.Corpus.Summarize(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

type GamesResponse struct {
	Games []corpus.GameSummary `json:"games"`
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	// Pick up shards written since the last request.
	if err := s.Corpus.Refresh(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("refresh corpus: %v", err), http.StatusInternalServerError)
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	offset := parseIntQuery(r, "offset", 0)
	var (
		games []corpus.GameSummary
		err   error
	)
	if r.URL.Query().Get("sort") == "longest" {
		games, err = s.Corpus.LongestGames(r.Context(), limit+offset)
		if err == nil {
			games = games[min(offset, len(games)):]
		}
	} else {
		games, err = s.Corpus.Games(r.Context(), limit, offset)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if games == nil {
		games = []corpus.GameSummary{}
	}
	writeJSON(w, GamesResponse{Games: games})
}

func (s *Server) handleGameMoves(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	// /api/games/{id}/moves
	rest := strings.TrimPrefix(r.URL.Path, "/api/games/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "moves" {
		http.NotFound(w, r)
		return
	}
	gameID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}
	moves, err := s.Corpus.GameMoves(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, moves)
}

type DebugGameFile struct {
	File    string    `json:"file"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func (s *Server) handleDebugGamesList(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	files, err := listDebugGames(s.DebugDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, files)
}

// listDebugGames returns the debug game files in dir, newest first.
func listDebugGames(dir string) ([]DebugGameFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "debug_*.parquet"))
	if err != nil {
		return nil, err
	}
	out := make([]DebugGameFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		out = append(out, DebugGameFile{File: filepath.Base(p), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].File > out[j].File
	})
	return out, nil
}

type DebugMove struct {
	Move        int32           `json:"move"`
	Player      int32           `json:"player"`
	Cells       []int32         `json:"cells"`
	Action      int32           `json:"action"`
	Simulations int32           `json:"simulations"`
	Cpuct       float32         `json:"cpuct"`
	RootValue   float32         `json:"root_value"`
	Root        json.RawMessage `json:"root"`
}

type DebugGame struct {
	GameID   string      `json:"game_id"`
	Model    string      `json:"model"`
	BoardLen int32       `json:"board_len"`
	Moves    []DebugMove `json:"moves"`
}

func (s *Server) handleDebugGame(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	// /api/debug_games/{file}
	name, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/debug_games/"))
	if err != nil || !validDebugName(name) {
		http.Error(w, "bad debug game name", http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.DebugDir, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	rows, err := store.ReadDebugGame(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, debugGameFromRows(rows))
}

func validDebugName(name string) bool {
	return name != "" &&
		filepath.Base(name) == name &&
		strings.HasPrefix(name, "debug_") &&
		strings.HasSuffix(name, ".parquet")
}

func debugGameFromRows(rows []store.DebugMoveRow) DebugGame {
	out := DebugGame{Moves: make([]DebugMove, 0, len(rows))}
	if len(rows) > 0 {
		out.GameID, out.Model, out.BoardLen = rows[0].GameID, rows[0].Model, rows[0].BoardLen
	}
	for _, r := range rows {
		root := json.RawMessage(r.RootJSON)
		if len(root) == 0 {
			root = json.RawMessage("null")
		}
		out.Moves = append(out.Moves, DebugMove{
			Move:        r.Move,
			Player:      r.Player,
			Cells:       r.Cells,
			Action:      r.Action,
			Simulations: r.Simulations,
			Cpuct:       r.Cpuct,
			RootValue:   r.RootValue,
			Root:        root,
		})
	}
	return out
}

// AnalyzeRequest replays Moves from an empty board and searches the result.
// Zero fields fall back to the server's settings.
type AnalyzeRequest struct {
	BoardLen    int   `json:"board_len"`
	Moves       []int `json:"moves"`
	Simulations int   `json:"simulations"`
	Depth       int   `json:"depth"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.Oracle == nil {
		http.Error(w, "no oracle configured", http.StatusServiceUnavailable)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	if req.BoardLen > maxBoardLen {
		http.Error(w, fmt.Sprintf("board_len %d is larger than %d", req.BoardLen, maxBoardLen), http.StatusBadRequest)
		return
	}
	opts := s.Board
	if req.BoardLen > 0 {
		opts.Size = req.BoardLen
	}
	board := game.NewBoard(opts)
	for i, a := range req.Moves {
		if err := board.AdvanceTurn(a); err != nil {
			http.Error(w, fmt.Sprintf("move %d: %v", i, err), http.StatusBadRequest)
			return
		}
	}

	cfg := s.Search
	if req.Simulations > 0 {
		cfg.Simulations = min(req.Simulations, maxAnalyzeSimulations)
	}
	depth := req.Depth
	if depth <= 0 {
		depth = 2
	}

	start := time.Now()
	summary, err := selfplay.Analyze(r.Context(), board, s.Oracle, cfg, depth)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mcts.ErrTerminalRoot) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.logger().Info("analyzed position",
		"moves", len(req.Moves),
		"simulations", summary.Simulations,
		"took", time.Since(start).Round(time.Millisecond),
	)
	writeJSON(w, summary)
}
