// Package corpus answers aggregate questions about self-play shards with
// DuckDB, without loading the rows into Go.
package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/brensch/gomokuzero/store"
)

// DB is an in-memory DuckDB with a "samples" view over the shards of one or
// more output directories and a "games" view with one row per game.
type DB struct {
	db    *sql.DB
	roots []string

	mu     sync.Mutex
	shards int
}

func Open(ctx context.Context, roots []string) (*DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	_, _ = db.ExecContext(ctx, "PRAGMA threads=4")

	d := &DB{db: db}
	for _, root := range roots {
		if root = strings.TrimSpace(root); root != "" {
			d.roots = append(d.roots, root)
		}
	}
	if err := d.Refresh(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Refresh rebuilds the views over the shards currently on disk.
func (d *DB) Refresh(ctx context.Context) error {
	var files []string
	for _, root := range d.roots {
		paths, err := store.ShardPaths(root)
		if err != nil {
			return fmt.Errorf("list shards in %s: %w", root, err)
		}
		files = append(files, paths...)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := createViews(ctx, d.db, files); err != nil {
		return err
	}
	d.shards = len(files)
	return nil
}

func createViews(ctx context.Context, db *sql.DB, files []string) error {
	samples := `CREATE OR REPLACE VIEW samples AS
		SELECT * FROM (
			SELECT
				NULL::VARCHAR AS game_id,
				NULL::INTEGER AS move,
				NULL::INTEGER AS symmetry,
				NULL::INTEGER AS board_len,
				NULL::INTEGER AS player,
				NULL::INTEGER AS action,
				NULL::REAL AS value,
				NULL::VARCHAR AS source,
				NULL::VARCHAR AS model,
				NULL::VARCHAR AS filename
		) WHERE 1=0`
	if len(files) > 0 {
		quoted := make([]string, len(files))
		for i, f := range files {
			quoted[i] = "'" + strings.ReplaceAll(f, "'", "''") + "'"
		}
		samples = `CREATE OR REPLACE VIEW samples AS
			SELECT * FROM read_parquet([` + strings.Join(quoted, ",") + `], filename=true, union_by_name=true)`
	}
	if _, err := db.ExecContext(ctx, samples); err != nil {
		return fmt.Errorf("create samples view: %w", err)
	}

	// The first move's label is PlayerOne's result.
	const games = `CREATE OR REPLACE VIEW games AS
		SELECT
			game_id,
			count(*) AS moves,
			any_value(board_len) AS board_len,
			coalesce(any_value(model), '') AS model,
			coalesce(max(CASE WHEN move = 0 THEN value END), 0) AS first_value
		FROM samples
		WHERE symmetry = 0
		GROUP BY game_id`
	if _, err := db.ExecContext(ctx, games); err != nil {
		return fmt.Errorf("create games view: %w", err)
	}
	return nil
}

func (d *DB) Close() error { return d.db.Close() }

// SQL exposes the connection for ad-hoc queries over the views.
func (d *DB) SQL() *sql.DB { return d.db }

type Summary struct {
	Shards     int     `json:"shards"`
	Games      int64   `json:"games"`
	Samples    int64   `json:"samples"`
	MeanLength float64 `json:"mean_length"`
	MaxLength  int64   `json:"max_length"`
	WinsOne    int64   `json:"wins_p1"`
	WinsTwo    int64   `json:"wins_p2"`
	// NoResult counts draws and games stopped at the move cap.
	NoResult int64        `json:"no_result"`
	Models   []ModelCount `json:"models"`
}

type ModelCount struct {
	Model string `json:"model"`
	Games int64  `json:"games"`
}

func (d *DB) Summarize(ctx context.Context) (Summary, error) {
	d.mu.Lock()
	s := Summary{Shards: d.shards}
	d.mu.Unlock()

	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM samples`).Scan(&s.Samples); err != nil {
		return s, fmt.Errorf("count samples: %w", err)
	}

	err := d.db.QueryRowContext(ctx, `
		SELECT
			count(*),
			coalesce(avg(moves), 0)::DOUBLE,
			coalesce(max(moves), 0),
			count(*) FILTER (WHERE first_value > 0),
			count(*) FILTER (WHERE first_value < 0),
			count(*) FILTER (WHERE first_value = 0)
		FROM games`).Scan(&s.Games, &s.MeanLength, &s.MaxLength, &s.WinsOne, &s.WinsTwo, &s.NoResult)
	if err != nil {
		return s, fmt.Errorf("summarize games: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `SELECT model, count(*) FROM games GROUP BY model ORDER BY count(*) DESC, model`)
	if err != nil {
		return s, fmt.Errorf("count models: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mc ModelCount
		if err := rows.Scan(&mc.Model, &mc.Games); err != nil {
			return s, err
		}
		s.Models = append(s.Models, mc)
	}
	return s, rows.Err()
}

// GameSummary is one row of the games view.
type GameSummary struct {
	GameID   string `json:"game_id"`
	Moves    int64  `json:"moves"`
	BoardLen int32  `json:"board_len"`
	Model    string `json:"model"`
	// Result is "1", "2" or "none".
	Result string `json:"result"`
}

// LongestGames returns up to limit games by descending length.
func (d *DB) LongestGames(ctx context.Context, limit int) ([]GameSummary, error) {
	return d.queryGames(ctx, "moves DESC, game_id", limit, 0)
}

// Games pages through every game ordered by id.
func (d *DB) Games(ctx context.Context, limit, offset int) ([]GameSummary, error) {
	return d.queryGames(ctx, "game_id", limit, offset)
}

func (d *DB) queryGames(ctx context.Context, order string, limit, offset int) ([]GameSummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT game_id, moves, board_len, model,
			CASE WHEN first_value > 0 THEN '1' WHEN first_value < 0 THEN '2' ELSE 'none' END
		FROM games
		ORDER BY `+order+`
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var out []GameSummary
	for rows.Next() {
		var g GameSummary
		if err := rows.Scan(&g.GameID, &g.Moves, &g.BoardLen, &g.Model, &g.Result); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MoveSummary is one move of a stored game, untransformed.
type MoveSummary struct {
	Move   int32   `json:"move"`
	Player int32   `json:"player"`
	Action int32   `json:"action"`
	Value  float32 `json:"value"`
}

// GameMoves returns the moves of gameID in order, or sql.ErrNoRows.
func (d *DB) GameMoves(ctx context.Context, gameID string) ([]MoveSummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT move, player, action, value
		FROM samples
		WHERE game_id = ? AND symmetry = 0
		ORDER BY move`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []MoveSummary
	for rows.Next() {
		var m MoveSummary
		if err := rows.Scan(&m.Move, &m.Player, &m.Action, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, sql.ErrNoRows
	}
	return out, nil
}
