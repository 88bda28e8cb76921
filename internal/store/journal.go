/*
Store persists what the trader must not lose and publishes what others read.

# Module
  - journal: sqlite fill journal, replayed on recovery
  - snapshots: account snapshots in postgres through gorm
  - bbo: latest top of book per symbol in redis
*/
package store

import (
	"context"
	"database/sql"
	"sync"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/schema"
	"tradecore/pkg/conn"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS fills (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	venue           TEXT    NOT NULL,
	venue_fill_id   TEXT    NOT NULL,
	client_order_id TEXT    NOT NULL,
	venue_order_id  TEXT    NOT NULL,
	symbol          TEXT    NOT NULL,
	side            INTEGER NOT NULL,
	qty             REAL    NOT NULL,
	price           REAL    NOT NULL,
	fee             REAL    NOT NULL,
	maker           INTEGER NOT NULL,
	ts              INTEGER NOT NULL,
	UNIQUE (venue, venue_fill_id)
);
CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(venue, ts);
`

// Journal records fills in arrival order. A fill id seen twice is stored once.
type Journal struct {
	ctx   core.Context
	venue string

	mu sync.Mutex
	db *sql.DB
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(ctx core.Context, path, venue string) (*Journal, error) {
	db, err := conn.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create journal schema").With("path", path)
	}
	j := &Journal{
		ctx:   core.Resolve(ctx).Named("journal"),
		venue: venue,
		db:    db,
	}
	j.ctx.Log.Infof("opened fill journal at %s", path)
	return j, nil
}

// RecordFill appends fill. It is called from the dispatcher on every distinct fill.
func (j *Journal) RecordFill(fill schema.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	maker := 0
	if fill.Maker {
		maker = 1
	}
	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO fills
		 (venue, venue_fill_id, client_order_id, venue_order_id, symbol, side, qty, price, fee, maker, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.venue, fill.VenueFillID, fill.ClientOrderID, fill.VenueOrderID, fill.Symbol,
		int(fill.Side), fill.Qty, fill.Price, fill.Fee, maker, fill.Ts,
	)
	if err != nil {
		return errors.Wrap(err, "insert fill").With("fill", fill.VenueFillID)
	}
	return nil
}

// FillsSince returns fills with ts > since in arrival order.
func (j *Journal) FillsSince(ctx context.Context, since int64) ([]schema.Fill, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT venue_fill_id, client_order_id, venue_order_id, symbol, side, qty, price, fee, maker, ts
		 FROM fills WHERE venue = ? AND ts > ? ORDER BY seq`,
		j.venue, since,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query fills")
	}
	defer rows.Close()

	var out []schema.Fill
	for rows.Next() {
		var (
			f     schema.Fill
			side  int
			maker int
		)
		if err := rows.Scan(&f.VenueFillID, &f.ClientOrderID, &f.VenueOrderID, &f.Symbol, &side,
			&f.Qty, &f.Price, &f.Fee, &maker, &f.Ts); err != nil {
			return nil, errors.Wrap(err, "scan fill")
		}
		f.Side = schema.Side(side)
		f.Maker = maker == 1
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate fills")
	}
	return out, nil
}

// Count returns the number of journaled fills of this venue.
func (j *Journal) Count(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fills WHERE venue = ?`, j.venue).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count fills")
	}
	return n, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
