package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BindingStore = (*BindingRepo)(nil)

// BindingRepo is the SQLite implementation of the BindingStore port interface.
// A binding row owns its delegate and history rows; they are rewritten
// together in one transaction on every Put.
type BindingRepo struct {
	db *DB
}

// NewBindingRepo creates a new BindingRepo backed by the given database.
func NewBindingRepo(db *DB) *BindingRepo {
	return &BindingRepo{db: db}
}

// Put creates or replaces the binding keyed by b.OwnerID.
func (r *BindingRepo) Put(ctx context.Context, b model.Binding) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = b.UpdatedAt
	}

	const upsert = `
		INSERT INTO bindings (owner_id, resource_name, resource_url, tunnel_url, notify_mode, notify_channel_id, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			resource_name = excluded.resource_name,
			resource_url = excluded.resource_url,
			tunnel_url = excluded.tunnel_url,
			notify_mode = excluded.notify_mode,
			notify_channel_id = excluded.notify_channel_id,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`
	mode := b.Notify.Mode
	if mode == "" {
		mode = model.NotifyDM
	}
	if _, err := tx.ExecContext(ctx, upsert,
		b.OwnerID,
		b.ResourceName,
		b.ResourceURL,
		b.TunnelURL,
		string(mode),
		b.Notify.ChannelID,
		nullableTime(b.ExpiresAt),
		formatTime(createdAt),
		formatTime(b.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert binding for %s: %w", b.OwnerID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM binding_delegates WHERE owner_id = ?`, b.OwnerID); err != nil {
		return fmt.Errorf("clear delegates for %s: %w", b.OwnerID, err)
	}
	for i, d := range b.Delegates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO binding_delegates (owner_id, delegate_id, position) VALUES (?, ?, ?)`,
			b.OwnerID, d, i,
		); err != nil {
			return fmt.Errorf("insert delegate %s for %s: %w", d, b.OwnerID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM binding_history WHERE owner_id = ?`, b.OwnerID); err != nil {
		return fmt.Errorf("clear history for %s: %w", b.OwnerID, err)
	}
	for i, name := range b.History {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO binding_history (owner_id, position, resource_name) VALUES (?, ?, ?)`,
			b.OwnerID, i, name,
		); err != nil {
			return fmt.Errorf("insert history for %s: %w", b.OwnerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit binding for %s: %w", b.OwnerID, err)
	}
	return nil
}

// Get returns the binding for ownerID, or (nil, nil) if none exists.
func (r *BindingRepo) Get(ctx context.Context, ownerID string) (*model.Binding, error) {
	const query = bindingSelect + ` WHERE owner_id = ?`

	b, err := scanBinding(r.db.Reader.QueryRowContext(ctx, query, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get binding for %s: %w", ownerID, err)
	}

	if err := r.loadChildren(ctx, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListAll returns every binding ordered by owner ID.
func (r *BindingRepo) ListAll(ctx context.Context) ([]model.Binding, error) {
	const query = bindingSelect + ` ORDER BY owner_id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []model.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}

	for i := range bindings {
		if err := r.loadChildren(ctx, &bindings[i]); err != nil {
			return nil, err
		}
	}
	return bindings, nil
}

// Delete removes the binding and, via cascade, its delegates and history.
func (r *BindingRepo) Delete(ctx context.Context, ownerID string) error {
	const query = `DELETE FROM bindings WHERE owner_id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("delete binding for %s: %w", ownerID, err)
	}
	return nil
}

const bindingSelect = `
	SELECT owner_id, resource_name, resource_url, tunnel_url, notify_mode, notify_channel_id, expires_at, created_at, updated_at
	FROM bindings`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row rowScanner) (model.Binding, error) {
	var (
		b                    model.Binding
		mode                 string
		expiresAt            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&b.OwnerID,
		&b.ResourceName,
		&b.ResourceURL,
		&b.TunnelURL,
		&mode,
		&b.Notify.ChannelID,
		&expiresAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return model.Binding{}, err
	}

	b.Notify.Mode = model.NotificationMode(mode)

	var err error
	if b.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return model.Binding{}, fmt.Errorf("parse expires_at: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Binding{}, fmt.Errorf("parse created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Binding{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return b, nil
}

func (r *BindingRepo) loadChildren(ctx context.Context, b *model.Binding) error {
	delegates, err := r.queryStrings(ctx,
		`SELECT delegate_id FROM binding_delegates WHERE owner_id = ? ORDER BY position`, b.OwnerID)
	if err != nil {
		return fmt.Errorf("load delegates for %s: %w", b.OwnerID, err)
	}
	history, err := r.queryStrings(ctx,
		`SELECT resource_name FROM binding_history WHERE owner_id = ? ORDER BY position`, b.OwnerID)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", b.OwnerID, err)
	}
	b.Delegates = delegates
	b.History = history
	return nil
}

func (r *BindingRepo) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
