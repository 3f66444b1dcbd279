package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger is an append-only list of game IDs whose shards have been
// finalized, one ID per line. A line cut short by a crash is dropped from
// the file on the next open. The selfplay command appends every finalized
// shard's games and reports the running total for the output directory.
type Ledger struct {
	mu   sync.RWMutex
	file *os.File
	ids  map[string]struct{}
}

func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("store: ledger path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	ids, err := readLedger(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Ledger{file: file, ids: ids}, nil
}

// readLedger loads every complete line of f, truncates an unterminated
// trailing line and leaves the offset at the end of the file.
func readLedger(f *os.File) (map[string]struct{}, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	end := bytes.LastIndexByte(data, '\n') + 1
	if end < len(data) {
		if err := f.Truncate(int64(end)); err != nil {
			return nil, fmt.Errorf("truncate torn ledger line: %w", err)
		}
	}
	if _, err := f.Seek(int64(end), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek ledger: %w", err)
	}

	ids := make(map[string]struct{})
	for _, line := range strings.Split(string(data[:end]), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (l *Ledger) Has(gameID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[gameID]
	return ok
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// Add records gameIDs and syncs once. Empty and already known IDs are skipped.
func (l *Ledger) Add(gameIDs ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("store: ledger is closed")
	}

	var sb strings.Builder
	fresh := make([]string, 0, len(gameIDs))
	for _, id := range gameIDs {
		if id == "" {
			continue
		}
		if _, ok := l.ids[id]; ok {
			continue
		}
		sb.WriteString(id)
		sb.WriteByte('\n')
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return nil
	}

	if _, err := l.file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	for _, id := range fresh {
		l.ids[id] = struct{}{}
	}
	return nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
