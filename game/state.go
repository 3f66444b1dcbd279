// Package game defines the five-in-a-row board used by search and self-play.
//
// Board is mutable: stones are placed and undone in place, and the set of
// legal actions is pruned to a neighbourhood of the stones already played.
// It is designed to be cheaply clonable for MCTS tree exploration.
package game

import (
	"strings"
)

// Player is the occupant of a cell, or the side to move.
type Player int8

const (
	Empty Player = iota
	PlayerOne
	PlayerTwo
)

// Opponent returns the other side. Empty has no opponent.
func (p Player) Opponent() Player {
	switch p {
	case PlayerOne:
		return PlayerTwo
	case PlayerTwo:
		return PlayerOne
	}
	return Empty
}

func (p Player) String() string {
	switch p {
	case PlayerOne:
		return "1"
	case PlayerTwo:
		return "2"
	}
	return "none"
}

const (
	DefaultSize         = 15
	DefaultSearchRadius = 2
	DefaultWinLength    = 5
)

// Options configures a Board. Zero fields take the defaults.
type Options struct {
	Size         int
	SearchRadius int
	WinLength    int
}

func DefaultOptions() Options {
	return Options{Size: DefaultSize, SearchRadius: DefaultSearchRadius, WinLength: DefaultWinLength}
}

// Placement is one entry of the move history.
type Placement struct {
	Action int
	Player Player
	// Advanced is false for stones placed with PlaceWithoutAdvancing.
	Advanced bool
}

// Board is the complete game state.
//
// Actions are cell indices in row-major order: action = row*Size + col.
// Every cell is either occupied or available, and len(history) equals the
// number of occupied cells.
type Board struct {
	size      int
	radius    int
	winLength int

	cells  []Player
	toMove Player

	available  []bool
	nAvailable int

	// candidates holds the empty cells within radius (Chebyshev distance) of
	// any stone. It is empty before the first move.
	candidates []bool

	history []Placement
}

// NewBoard returns an empty board with PlayerOne to move.
func NewBoard(opts Options) *Board {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.SearchRadius <= 0 {
		opts.SearchRadius = DefaultSearchRadius
	}
	if opts.WinLength <= 0 {
		opts.WinLength = DefaultWinLength
	}

	n := opts.Size * opts.Size
	b := &Board{
		size:       opts.Size,
		radius:     opts.SearchRadius,
		winLength:  opts.WinLength,
		cells:      make([]Player, n),
		toMove:     PlayerOne,
		available:  make([]bool, n),
		nAvailable: n,
		candidates: make([]bool, n),
		history:    make([]Placement, 0, n),
	}
	for i := range b.available {
		b.available[i] = true
	}
	return b
}

// Clone performs a deep copy of the board.
func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	out := &Board{
		size:       b.size,
		radius:     b.radius,
		winLength:  b.winLength,
		toMove:     b.toMove,
		nAvailable: b.nAvailable,
		cells:      make([]Player, len(b.cells)),
		available:  make([]bool, len(b.available)),
		candidates: make([]bool, len(b.candidates)),
		history:    make([]Placement, len(b.history), cap(b.history)),
	}
	copy(out.cells, b.cells)
	copy(out.available, b.available)
	copy(out.candidates, b.candidates)
	copy(out.history, b.history)
	return out
}

func (b *Board) Size() int { return b.size }

// NumCells is the size of the action space.
func (b *Board) NumCells() int { return len(b.cells) }

func (b *Board) ToMove() Player { return b.toMove }

func (b *Board) MoveCount() int { return len(b.history) }

// Options returns the options the board was built with.
func (b *Board) Options() Options {
	return Options{Size: b.size, SearchRadius: b.radius, WinLength: b.winLength}
}

// Action converts a (row, col) coordinate to an action index.
func (b *Board) Action(row, col int) int { return row*b.size + col }

// Coords converts an action index to (row, col).
func (b *Board) Coords(action int) (row, col int) { return action / b.size, action % b.size }

func (b *Board) inBounds(row, col int) bool {
	return row >= 0 && col >= 0 && row < b.size && col < b.size
}

// At returns the occupant of (row, col). Out-of-bounds cells are Empty.
func (b *Board) At(row, col int) Player {
	if !b.inBounds(row, col) {
		return Empty
	}
	return b.cells[b.Action(row, col)]
}

// Cell returns the occupant of an action index.
func (b *Board) Cell(action int) Player {
	if action < 0 || action >= len(b.cells) {
		return Empty
	}
	return b.cells[action]
}

func (b *Board) IsAvailable(action int) bool {
	return action >= 0 && action < len(b.available) && b.available[action]
}

// IsCandidate reports whether action is in LegalActions.
func (b *Board) IsCandidate(action int) bool {
	if !b.IsAvailable(action) {
		return false
	}
	return len(b.history) == 0 || b.candidates[action]
}

// AvailableActions returns every empty cell in ascending order.
func (b *Board) AvailableActions() []int {
	out := make([]int, 0, b.nAvailable)
	for a, ok := range b.available {
		if ok {
			out = append(out, a)
		}
	}
	return out
}

// History returns a copy of the placements so far, oldest first.
func (b *Board) History() []Placement {
	out := make([]Placement, len(b.history))
	copy(out, b.history)
	return out
}

// LastAction returns the most recent action, if any.
func (b *Board) LastAction() (int, bool) {
	if len(b.history) == 0 {
		return -1, false
	}
	return b.history[len(b.history)-1].Action, true
}

// AdvanceTurn places a stone for the player to move and passes the turn.
func (b *Board) AdvanceTurn(action int) error {
	return b.place(action, b.toMove, true)
}

// PlaceWithoutAdvancing places a stone for an explicit player and leaves the
// player to move unchanged. It exists for replay and diagnostic tooling;
// self-play always uses AdvanceTurn.
func (b *Board) PlaceWithoutAdvancing(action int, player Player) error {
	if player != PlayerOne && player != PlayerTwo {
		return &InvalidActionError{Action: action, Reason: "player " + player.String() + " cannot place stones"}
	}
	return b.place(action, player, false)
}

func (b *Board) place(action int, player Player, advance bool) error {
	if action < 0 || action >= len(b.cells) {
		return &InvalidActionError{Action: action, Reason: "out of bounds"}
	}
	if !b.available[action] {
		return &InvalidActionError{Action: action, Reason: "cell is occupied"}
	}

	b.cells[action] = player
	b.available[action] = false
	b.nAvailable--
	b.candidates[action] = false
	b.history = append(b.history, Placement{Action: action, Player: player, Advanced: advance})
	b.markNeighbourhood(action)

	if advance {
		b.toMove = b.toMove.Opponent()
	}
	return nil
}

// Undo removes the most recent stone and restores the exact prior state.
//
// Candidates are rebuilt from the whole remaining history: a cell that was
// added by the undone stone may still be justified by another stone.
func (b *Board) Undo() error {
	if len(b.history) == 0 {
		return ErrEmptyHistory
	}
	last := b.history[len(b.history)-1]
	b.history = b.history[:len(b.history)-1]

	b.cells[last.Action] = Empty
	b.available[last.Action] = true
	b.nAvailable++
	if last.Advanced {
		b.toMove = b.toMove.Opponent()
	}

	clear(b.candidates)
	for _, p := range b.history {
		b.markNeighbourhood(p.Action)
	}
	return nil
}

func (b *Board) markNeighbourhood(action int) {
	row, col := b.Coords(action)
	for r := row - b.radius; r <= row+b.radius; r++ {
		for c := col - b.radius; c <= col+b.radius; c++ {
			if !b.inBounds(r, c) {
				continue
			}
			a := b.Action(r, c)
			if b.available[a] {
				b.candidates[a] = true
			}
		}
	}
}

// LegalActions returns the search frontier in ascending order: every cell
// before the first move, afterwards the available candidates only.
func (b *Board) LegalActions() []int {
	if len(b.history) == 0 {
		return b.AvailableActions()
	}
	out := make([]int, 0, 64)
	for a, ok := range b.candidates {
		if ok && b.available[a] {
			out = append(out, a)
		}
	}
	return out
}

func (b *Board) hasLegalAction() bool {
	if len(b.history) == 0 {
		return b.nAvailable > 0
	}
	for a, ok := range b.candidates {
		if ok && b.available[a] {
			return true
		}
	}
	return false
}

// lineDirections are the four line orientations: horizontal, vertical and
// the two diagonals.
var lineDirections = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// Terminal reports whether the game is over and who won.
//
// A player wins with WinLength or more contiguous stones in any line, so
// overlines count. With no winner and no legal action left the game is a
// draw and winner is Empty.
func (b *Board) Terminal() (ended bool, winner Player) {
	if len(b.history) >= b.winLength {
		for a, p := range b.cells {
			if p == Empty {
				continue
			}
			row, col := b.Coords(a)
			for _, d := range lineDirections {
				if b.runLength(row, col, d[0], d[1], p) >= b.winLength {
					return true, p
				}
			}
		}
	}
	if !b.hasLegalAction() {
		return true, Empty
	}
	return false, Empty
}

// runLength counts contiguous stones of p starting at (row, col) inclusive
// and stepping by (dr, dc).
func (b *Board) runLength(row, col, dr, dc int, p Player) int {
	n := 0
	for b.inBounds(row, col) && b.cells[b.Action(row, col)] == p {
		n++
		row += dr
		col += dc
	}
	return n
}

// String renders the board with the player to move, for logs and tests.
// 'X' is PlayerOne, 'O' is PlayerTwo and the last stone is lowercase.
func (b *Board) String() string {
	last, hasLast := b.LastAction()
	var sb strings.Builder
	sb.Grow((b.size*2 + 1) * (b.size + 1))
	sb.WriteString("to move: ")
	sb.WriteString(b.toMove.String())
	sb.WriteByte('\n')
	for r := 0; r < b.size; r++ {
		for c := 0; c < b.size; c++ {
			a := b.Action(r, c)
			ch := byte('.')
			switch b.cells[a] {
			case PlayerOne:
				ch = 'X'
			case PlayerTwo:
				ch = 'O'
			}
			if hasLast && a == last {
				ch += 'a' - 'A'
			}
			if c > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte(ch)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
