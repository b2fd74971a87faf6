package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WatchStore = (*WatchRepo)(nil)

// WatchRepo is the SQLite implementation of the WatchStore port interface.
type WatchRepo struct {
	db *DB
}

// NewWatchRepo creates a new WatchRepo backed by the given database.
func NewWatchRepo(db *DB) *WatchRepo {
	return &WatchRepo{db: db}
}

// Put registers or replaces a watch. The last observed state is reset.
func (r *WatchRepo) Put(ctx context.Context, w model.GameWatch) error {
	const query = `
		INSERT OR REPLACE INTO game_watches (address, owner_id, channel_id, last_online, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := r.db.Writer.ExecContext(ctx, query,
		w.Address, w.OwnerID, w.ChannelID, nullableBool(w.LastOnline), formatTime(w.CreatedAt),
	); err != nil {
		return fmt.Errorf("put watch %s: %w", w.Address, err)
	}
	return nil
}

// Delete removes the watch for address.
func (r *WatchRepo) Delete(ctx context.Context, address string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM game_watches WHERE address = ?`, address); err != nil {
		return fmt.Errorf("delete watch %s: %w", address, err)
	}
	return nil
}

// ListAll returns every watch ordered by address.
func (r *WatchRepo) ListAll(ctx context.Context) ([]model.GameWatch, error) {
	const query = `SELECT address, owner_id, channel_id, last_online, created_at FROM game_watches ORDER BY address`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	var watches []model.GameWatch
	for rows.Next() {
		var (
			w          model.GameWatch
			lastOnline sql.NullBool
			createdAt  string
		)
		if err := rows.Scan(&w.Address, &w.OwnerID, &w.ChannelID, &lastOnline, &createdAt); err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		if lastOnline.Valid {
			online := lastOnline.Bool
			w.LastOnline = &online
		}
		if w.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for watch %s: %w", w.Address, err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watches: %w", err)
	}
	return watches, nil
}

// SetOnline records the last observed state for address.
func (r *WatchRepo) SetOnline(ctx context.Context, address string, online bool) error {
	const query = `UPDATE game_watches SET last_online = ? WHERE address = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, online, address); err != nil {
		return fmt.Errorf("set online for watch %s: %w", address, err)
	}
	return nil
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
