// Package remote implements the remote store over Postgres.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	syncpkg "github.com/yihtzu/timetable/core/internal/sync"
)

// PostgresStore talks to the items table:
//
//	items(id text primary key, user_id text, category text,
//	      data jsonb, updated_at bigint, deleted boolean)
//
// Failures are classified for the sync engine: integrity and data
// errors are terminal rejections, everything else is retryable.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to the remote store using a Postgres DSN.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection. Used by tests.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the remote connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Upsert writes a record by id, overwriting any prior value.
func (s *PostgresStore) Upsert(ctx context.Context, item *syncpkg.RemoteItem) error {
	query := `
	INSERT INTO items (id, user_id, category, data, updated_at, deleted)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		category = EXCLUDED.category,
		data = EXCLUDED.data,
		updated_at = EXCLUDED.updated_at,
		deleted = EXCLUDED.deleted
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.UserID, item.Category, []byte(item.Data), item.UpdatedAt, item.Deleted)
	if err != nil {
		return classify("upsert failed", err)
	}
	return nil
}

// MarkDeleted flips the deleted flag on an existing record. A missing
// record is not an error: the tombstone never reached the remote, so
// there is nothing to delete.
func (s *PostgresStore) MarkDeleted(ctx context.Context, id string, updatedAt int64) error {
	query := `UPDATE items SET deleted = TRUE, updated_at = $2 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, updatedAt)
	if err != nil {
		return classify("delete failed", err)
	}
	return nil
}

// FetchSince returns records for userID with updated_at strictly
// greater than since.
func (s *PostgresStore) FetchSince(ctx context.Context, userID string, since int64) ([]*syncpkg.RemoteItem, error) {
	query := `
	SELECT id, user_id, category, data, updated_at, deleted
	FROM items
	WHERE user_id = $1 AND updated_at > $2
	ORDER BY updated_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, classify("fetch failed", err)
	}
	defer rows.Close()

	var items []*syncpkg.RemoteItem
	for rows.Next() {
		var item syncpkg.RemoteItem
		var data []byte
		if err := rows.Scan(&item.ID, &item.UserID, &item.Category, &data, &item.UpdatedAt, &item.Deleted); err != nil {
			return nil, classify("scan failed", err)
		}
		item.Data = data
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("fetch failed", err)
	}
	return items, nil
}

// classify maps a driver error to the engine's retryable/terminal
// taxonomy. Class 23 (integrity constraint) and class 22 (data
// exception) rejections will never succeed on retry; anything else,
// including connection failures and timeouts, is worth retrying on the
// next sync cycle.
func classify(msg string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		class := string(pqErr.Code.Class())
		if strings.HasPrefix(class, "23") || strings.HasPrefix(class, "22") {
			return apperrors.Wrap(apperrors.ErrRemoteRejected, msg, err)
		}
	}
	return apperrors.Transient(apperrors.ErrRemoteUnavailable, msg, err)
}
