package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/gomokuzero/executor/selfplay"
)

const recentGames = 10

// progressModel is the live self-play view. observe runs on the batch's
// goroutine; the view only reads a snapshot on each tick.
type progressModel struct {
	target int
	start  time.Time

	mu      sync.Mutex
	played  int
	skipped int
	moves   int
	results map[string]int
	recent  []string

	frame string
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func newProgressModel(target int) *progressModel {
	return &progressModel{target: target, start: time.Now(), results: make(map[string]int)}
}

func (m *progressModel) observe(ev selfplay.GameEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var line string
	if ev.Err != nil {
		m.skipped++
		line = fmt.Sprintf("worker %2d  game %4d  skipped: %v", ev.Worker, ev.Index, ev.Err)
	} else {
		t := ev.Trajectory
		m.played++
		m.moves += t.Len()
		m.results[t.Result()]++
		line = fmt.Sprintf("worker %2d  game %4d  result %-6s  moves %3d  %s",
			ev.Worker, ev.Index, t.Result(), t.Len(), t.Duration.Round(time.Millisecond))
	}
	m.recent = append([]string{line}, m.recent...)
	if len(m.recent) > recentGames {
		m.recent = m.recent[:recentGames]
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tick()
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.frame = m.render(time.Time(msg))
		return m, tick()
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.frame == "" {
		return m.render(time.Now())
	}
	return m.frame
}

func (m *progressModel) render(now time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Sub(m.start)
	var gamesPerSec, movesPerSec float64
	if elapsed >= time.Second {
		gamesPerSec = float64(m.played) / elapsed.Seconds()
		movesPerSec = float64(m.moves) / elapsed.Seconds()
	}

	var sb strings.Builder
	if m.target > 0 {
		fmt.Fprintf(&sb, "Games:     %d / %d (%d skipped)\n", m.played, m.target, m.skipped)
	} else {
		fmt.Fprintf(&sb, "Games:     %d (%d skipped)\n", m.played, m.skipped)
	}
	fmt.Fprintf(&sb, "Moves:     %d\n", m.moves)
	fmt.Fprintf(&sb, "Results:   P1 %d  P2 %d  draw %d  capped %d\n",
		m.results["1"], m.results["2"], m.results["draw"], m.results["capped"])
	fmt.Fprintf(&sb, "Duration:  %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(&sb, "Games/s:   %.2f\n", gamesPerSec)
	fmt.Fprintf(&sb, "Moves/s:   %.2f\n\n", movesPerSec)

	sb.WriteString("Recent games:\n")
	for _, g := range m.recent {
		sb.WriteString(g)
		sb.WriteByte('\n')
	}
	sb.WriteString("\nPress q to stop.\n")
	return sb.String()
}
