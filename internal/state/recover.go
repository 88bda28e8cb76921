package state

import (
	"context"

	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
)

// FillSource replays journaled fills in arrival order.
type FillSource interface {
	FillsSince(ctx context.Context, ts int64) ([]schema.Fill, error)
}

// RecoverConfig controls snapshot + journal recovery.
type RecoverConfig struct {
	SnapshotPath string
	Journal      FillSource
}

// RecoverResult contains recovered state and metadata.
type RecoverResult struct {
	Positions  *PositionBook
	Balances   []schema.Balance
	LastFillTs int64
	Replayed   int
	// Seen holds the venue fill ids replayed from the journal.
	Seen map[string]struct{}
}

// RecoverPositions loads a snapshot and replays the journal tail to rebuild positions.
// Fills at or before the snapshot fill time are skipped, so are repeated venue fill ids.
func RecoverPositions(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	positions := NewPositionBook()
	res := RecoverResult{Positions: positions, Seen: make(map[string]struct{})}

	if cfg.SnapshotPath != "" {
		snap, err := ReadSnapshot(cfg.SnapshotPath)
		if err != nil {
			return RecoverResult{}, errors.Wrap(err, "read snapshot")
		}
		positions.ApplySnapshot(snap.SchemaPositions())
		res.Balances = snap.SchemaBalances()
		res.LastFillTs = snap.LastFillTs
	}

	if cfg.Journal == nil {
		return res, nil
	}
	fills, err := cfg.Journal.FillsSince(ctx, res.LastFillTs)
	if err != nil {
		return RecoverResult{}, errors.Wrap(err, "replay journal")
	}
	for _, fill := range fills {
		if fill.Ts <= res.LastFillTs && cfg.SnapshotPath != "" {
			continue
		}
		if _, dup := res.Seen[fill.VenueFillID]; dup {
			continue
		}
		res.Seen[fill.VenueFillID] = struct{}{}
		positions.ApplyFill(fill)
		res.Replayed++
		if fill.Ts > res.LastFillTs {
			res.LastFillTs = fill.Ts
		}
	}
	return res, nil
}
