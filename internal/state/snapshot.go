package state

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
)

// Snapshot captures the account state at a point in time.
type Snapshot struct {
	Timestamp  int64           `json:"timestamp"`
	Venue      string          `json:"venue"`
	LastFillTs int64           `json:"lastFillTs"`
	Positions  []PositionEntry `json:"positions"`
	Balances   []BalanceEntry  `json:"balances"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`
	EntryPrice  float64 `json:"entryPrice"`
	RealizedPnL float64 `json:"realizedPnl"`
}

type BalanceEntry struct {
	Asset     string  `json:"asset"`
	Wallet    float64 `json:"wallet"`
	Available float64 `json:"available"`
}

// Snapshot builds a snapshot from the current positions.
func (b *PositionBook) Snapshot(ts int64, lastFillTs int64) Snapshot {
	positions := b.Positions()
	entries := make([]PositionEntry, 0, len(positions))
	for _, p := range positions {
		entries = append(entries, PositionEntry{
			Symbol:      p.Symbol,
			Qty:         p.Qty,
			EntryPrice:  p.EntryPrice,
			RealizedPnL: p.RealizedPnL,
		})
	}
	return Snapshot{
		Timestamp:  ts,
		LastFillTs: lastFillTs,
		Positions:  entries,
	}
}

// WithBalances returns s carrying balances.
func (s Snapshot) WithBalances(balances []schema.Balance) Snapshot {
	s.Balances = make([]BalanceEntry, 0, len(balances))
	for _, bal := range balances {
		s.Balances = append(s.Balances, BalanceEntry{Asset: bal.Asset, Wallet: bal.Wallet, Available: bal.Available})
	}
	return s
}

// SchemaPositions converts the entries back to positions.
func (s Snapshot) SchemaPositions() []schema.Position {
	out := make([]schema.Position, 0, len(s.Positions))
	for _, e := range s.Positions {
		out = append(out, schema.Position{Symbol: e.Symbol, Qty: e.Qty, EntryPrice: e.EntryPrice, RealizedPnL: e.RealizedPnL})
	}
	return out
}

// SchemaBalances converts the entries back to balances.
func (s Snapshot) SchemaBalances() []schema.Balance {
	out := make([]schema.Balance, 0, len(s.Balances))
	for _, e := range s.Balances {
		out = append(out, schema.Balance{Asset: e.Asset, Wallet: e.Wallet, Available: e.Available})
	}
	return out
}

// WriteSnapshot writes a snapshot to disk as JSON. The file is replaced atomically.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create snapshot dir")
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot").With("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "rename snapshot").With("path", path)
	}
	return nil
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode snapshot").With("path", path)
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots hold the same positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	want := make(map[string]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		want[entry.Symbol] = entry
	}
	for _, entry := range actual.Positions {
		exp, ok := want[entry.Symbol]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", entry.Symbol)
		}
		if !near(exp.Qty, entry.Qty) || !near(exp.EntryPrice, entry.EntryPrice) {
			return fmt.Errorf("snapshot mismatch: symbol=%s expected=%v@%v actual=%v@%v",
				entry.Symbol, exp.Qty, exp.EntryPrice, entry.Qty, entry.EntryPrice)
		}
	}
	return nil
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
