package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// keepTrades bounds the trade history carried in snapshots.
const keepTrades = 100

// Snapshot is the durable slice of gate state: enough to survive a restart
// without re-risking past the daily limit.
type Snapshot struct {
	ExposureMicros uint64        `json:"exposure_micros"`
	DailyPnlMicros int64         `json:"daily_pnl_micros"`
	DailyDate      string        `json:"daily_date"`
	Halted         bool          `json:"halted"`
	HaltReason     string        `json:"halt_reason,omitempty"`
	Stats          dailyStats    `json:"daily_stats"`
	Trades         []TradeRecord `json:"trades,omitempty"`
}

// Store is the durable key-value persistence the gate snapshots into. Read
// once at startup, written on shutdown and after every settlement.
type Store interface {
	Load() (Snapshot, bool, error)
	Save(Snapshot) error
}

// SaveTo writes the gate's current snapshot into the store.
func (g *Gate) SaveTo(store Store) error {
	g.mu.Lock()
	snap := Snapshot{
		ExposureMicros: g.exposureMicros,
		DailyPnlMicros: g.dailyPnlMicros,
		DailyDate:      g.dailyDate,
		Halted:         g.halted,
		HaltReason:     g.haltReason,
		Stats:          g.stats,
		Trades:         append([]TradeRecord(nil), g.trades...),
	}
	g.mu.Unlock()
	return store.Save(snap)
}

// LoadFrom restores a previously saved snapshot. Daily figures from an
// earlier date are discarded by the next rollover, but a halt always
// survives.
func (g *Gate) LoadFrom(store Store) error {
	snap, found, err := store.Load()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	g.mu.Lock()
	g.exposureMicros = snap.ExposureMicros
	g.dailyPnlMicros = snap.DailyPnlMicros
	g.dailyDate = snap.DailyDate
	g.halted = snap.Halted
	g.haltReason = snap.HaltReason
	g.stats = snap.Stats
	g.trades = append([]TradeRecord(nil), snap.Trades...)
	g.mu.Unlock()

	g.log.Info().
		Bool("halted", snap.Halted).
		Str("daily_date", snap.DailyDate).
		Msg("risk state restored")
	return nil
}

// FileStore persists snapshots as JSON, written atomically (tmp + rename).
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (Snapshot, bool, error) {
	if s.path == "" {
		return Snapshot{}, false, nil
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("parse risk snapshot %s: %w", s.path, err)
	}
	return snap, true, nil
}

func (s *FileStore) Save(snap Snapshot) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
