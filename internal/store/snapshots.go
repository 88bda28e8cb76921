package store

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"tradecore/internal/state"
	"tradecore/pkg/exception"
)

// AccountSnapshotRow is one persisted account snapshot.
type AccountSnapshotRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Venue      string `gorm:"index:idx_snapshot_venue_ts,priority:1;not null"`
	Ts         int64  `gorm:"index:idx_snapshot_venue_ts,priority:2;not null"`
	LastFillTs int64  `gorm:"not null"`
	CreatedAt  time.Time
	Positions  []PositionRow `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
	Balances   []BalanceRow  `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
}

func (AccountSnapshotRow) TableName() string { return "account_snapshots" }

type PositionRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	SnapshotID  uint64 `gorm:"index;not null"`
	Symbol      string `gorm:"not null"`
	Qty         float64
	EntryPrice  float64
	RealizedPnL float64
}

func (PositionRow) TableName() string { return "snapshot_positions" }

type BalanceRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	SnapshotID uint64 `gorm:"index;not null"`
	Asset      string `gorm:"not null"`
	Wallet     float64
	Available  float64
}

func (BalanceRow) TableName() string { return "snapshot_balances" }

// SnapshotStore keeps account snapshots in postgres.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore migrates the snapshot tables.
func NewSnapshotStore(db *gorm.DB) (*SnapshotStore, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "snapshot store db")
	}
	if err := db.AutoMigrate(&AccountSnapshotRow{}, &PositionRow{}, &BalanceRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate snapshot tables")
	}
	return &SnapshotStore{db: db}, nil
}

// Save stores snap with its positions and balances in one transaction.
func (s *SnapshotStore) Save(ctx context.Context, snap state.Snapshot) error {
	row := toRow(snap)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "save snapshot").With("venue", snap.Venue)
	}
	return nil
}

// Latest returns the newest snapshot of venue.
func (s *SnapshotStore) Latest(ctx context.Context, venue string) (state.Snapshot, bool, error) {
	var row AccountSnapshotRow
	err := s.db.WithContext(ctx).
		Preload("Positions").
		Preload("Balances").
		Where("venue = ?", venue).
		Order("ts DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return state.Snapshot{}, false, nil
	}
	if err != nil {
		return state.Snapshot{}, false, errors.Wrap(err, "load snapshot").With("venue", venue)
	}
	return fromRow(row), true, nil
}

// Prune deletes snapshots of venue older than before.
func (s *SnapshotStore) Prune(ctx context.Context, venue string, before int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("venue = ? AND ts < ?", venue, before).Delete(&AccountSnapshotRow{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "prune snapshots").With("venue", venue)
	}
	return res.RowsAffected, nil
}

func toRow(snap state.Snapshot) AccountSnapshotRow {
	row := AccountSnapshotRow{
		Venue:      snap.Venue,
		Ts:         snap.Timestamp,
		LastFillTs: snap.LastFillTs,
		Positions:  make([]PositionRow, 0, len(snap.Positions)),
		Balances:   make([]BalanceRow, 0, len(snap.Balances)),
	}
	for _, p := range snap.Positions {
		row.Positions = append(row.Positions, PositionRow{
			Symbol:      p.Symbol,
			Qty:         p.Qty,
			EntryPrice:  p.EntryPrice,
			RealizedPnL: p.RealizedPnL,
		})
	}
	for _, b := range snap.Balances {
		row.Balances = append(row.Balances, BalanceRow{Asset: b.Asset, Wallet: b.Wallet, Available: b.Available})
	}
	return row
}

func fromRow(row AccountSnapshotRow) state.Snapshot {
	snap := state.Snapshot{
		Timestamp:  row.Ts,
		Venue:      row.Venue,
		LastFillTs: row.LastFillTs,
		Positions:  make([]state.PositionEntry, 0, len(row.Positions)),
		Balances:   make([]state.BalanceEntry, 0, len(row.Balances)),
	}
	for _, p := range row.Positions {
		snap.Positions = append(snap.Positions, state.PositionEntry{
			Symbol:      p.Symbol,
			Qty:         p.Qty,
			EntryPrice:  p.EntryPrice,
			RealizedPnL: p.RealizedPnL,
		})
	}
	for _, b := range row.Balances {
		snap.Balances = append(snap.Balances, state.BalanceEntry{Asset: b.Asset, Wallet: b.Wallet, Available: b.Available})
	}
	return snap
}
