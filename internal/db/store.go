// Package db provides the local store for items, the mutation queue and
// persisted notifications.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/models"
)

// checkpointKey is the sync_state row holding the last successful pull
// timestamp, stored as RFC3339 text.
const checkpointKey = "last-sync-time"

// Store provides CRUD operations for all locally persisted state.
// Statements are prepared on first use and cached for reuse.
type Store struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a new Store over an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db.DB}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Item Operations
// =====================================================

const itemColumns = "id, category, color, reminders, payload, deleted, created_at, updated_at"

// PutItem upserts an item by id, overwriting any prior value. The
// caller's Deleted flag and UpdatedAt are written as given: pull merges
// rely on this being an unconditional overwrite.
func (s *Store) PutItem(item *models.Item) error {
	if err := item.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid item", err)
	}

	reminders, err := json.Marshal(item.Reminders)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode reminders", err)
	}

	query := `
	INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		category = excluded.category,
		color = excluded.color,
		reminders = excluded.reminders,
		payload = excluded.payload,
		deleted = excluded.deleted,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return err
	}

	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	_, err = stmt.Exec(item.ID, item.Category, item.Color, string(reminders),
		string(payload), item.Deleted, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to put item", err)
	}
	return nil
}

// PutItemQueued writes an item and its mutation queue entry in a single
// transaction. A crash between the two writes can therefore never drop
// a pending mutation.
func (s *Store) PutItemQueued(item *models.Item, op models.Operation) error {
	if err := item.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid item", err)
	}
	if !op.IsValid() {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("invalid operation: %q", op))
	}

	reminders, err := json.Marshal(item.Reminders)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode reminders", err)
	}
	snapshot, err := json.Marshal(item)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode item snapshot", err)
	}

	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	INSERT INTO items (`+itemColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		category = excluded.category,
		color = excluded.color,
		reminders = excluded.reminders,
		payload = excluded.payload,
		deleted = excluded.deleted,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`, item.ID, item.Category, item.Color, string(reminders),
		string(payload), item.Deleted, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to put item", err)
	}

	_, err = tx.Exec(
		"INSERT INTO sync_queue (operation, payload, enqueued_at) VALUES (?, ?, ?)",
		op, string(snapshot), time.Now().Unix(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue mutation", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit mutation", err)
	}
	return nil
}

// GetItem retrieves an item by id, tombstones included.
func (s *Store) GetItem(id models.UUID) (*models.Item, error) {
	query := "SELECT " + itemColumns + " FROM items WHERE id = ?"
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	item, err := scanItem(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("item not found: %s", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get item", err)
	}
	return item, nil
}

// ListItems returns all items. With includeDeleted false, tombstones are
// filtered out. Order is unspecified.
func (s *Store) ListItems(includeDeleted bool) ([]*models.Item, error) {
	query := "SELECT " + itemColumns + " FROM items"
	if !includeDeleted {
		query += " WHERE deleted = 0"
	}

	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list items", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate items", err)
	}
	return items, nil
}

// DeleteItem soft-deletes an item: the tombstone stays in place so the
// deletion can propagate to the remote store. The flip and the queue
// entry commit together.
func (s *Store) DeleteItem(id models.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRow("SELECT "+itemColumns+" FROM items WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("item not found: %s", id))
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to load item", err)
	}

	item.Deleted = true
	item.Touch()

	_, err = tx.Exec("UPDATE items SET deleted = 1, updated_at = ? WHERE id = ?", item.UpdatedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to tombstone item", err)
	}

	snapshot, err := json.Marshal(item)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode item snapshot", err)
	}

	_, err = tx.Exec(
		"INSERT INTO sync_queue (operation, payload, enqueued_at) VALUES (?, ?, ?)",
		models.OperationDelete, string(snapshot), time.Now().Unix(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue delete", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit delete", err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var item models.Item
	var reminders, payload string
	err := row.Scan(&item.ID, &item.Category, &item.Color, &reminders,
		&payload, &item.Deleted, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reminders), &item.Reminders); err != nil {
		return nil, fmt.Errorf("corrupt reminders column for %s: %w", item.ID, err)
	}
	item.Payload = json.RawMessage(payload)
	return &item, nil
}

// =====================================================
// Mutation Queue Operations
// =====================================================

// EnqueueOp appends a queue entry outside of an item write. Used when a
// mutation originates elsewhere (e.g. restoring a backup snapshot).
func (s *Store) EnqueueOp(op models.Operation, item *models.Item) error {
	if !op.IsValid() {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("invalid operation: %q", op))
	}
	snapshot, err := json.Marshal(item)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode item snapshot", err)
	}

	stmt, err := s.prepareStmt("INSERT INTO sync_queue (operation, payload, enqueued_at) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(op, string(snapshot), time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue mutation", err)
	}
	return nil
}

// ListQueue returns all queue entries in append order.
func (s *Store) ListQueue() ([]*models.QueueEntry, error) {
	stmt, err := s.prepareStmt("SELECT seq, operation, payload, enqueued_at FROM sync_queue ORDER BY seq")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var payload string
		if err := rows.Scan(&e.Seq, &e.Operation, &payload, &e.EnqueuedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue entry", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate queue", err)
	}
	return entries, nil
}

// AckOp removes exactly one queue entry after its remote call succeeded.
func (s *Store) AckOp(seq int64) error {
	stmt, err := s.prepareStmt("DELETE FROM sync_queue WHERE seq = ?")
	if err != nil {
		return err
	}
	result, err := stmt.Exec(seq)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to ack queue entry", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue entry not found: %d", seq))
	}
	return nil
}

// QueueLen returns the number of pending queue entries.
func (s *Store) QueueLen() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue", err)
	}
	return n, nil
}

// =====================================================
// Sync Checkpoint Operations
// =====================================================

// Checkpoint returns the timestamp of the last successful pull. The
// zero time means no pull has completed yet.
func (s *Store) Checkpoint() (time.Time, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_state WHERE key = ?", checkpointKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to read checkpoint", err)
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ErrDatabase, "corrupt checkpoint value", err)
	}
	return t, nil
}

// SetCheckpoint records a successful pull.
func (s *Store) SetCheckpoint(t time.Time) error {
	stmt, err := s.prepareStmt(`
	INSERT INTO sync_state (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(checkpointKey, t.UTC().Format(time.RFC3339)); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to set checkpoint", err)
	}
	return nil
}

// ResetCheckpoint clears the checkpoint. Used on re-login or local wipe
// so the next pull fetches everything.
func (s *Store) ResetCheckpoint() error {
	if _, err := s.db.Exec("DELETE FROM sync_state WHERE key = ?", checkpointKey); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to reset checkpoint", err)
	}
	return nil
}

// =====================================================
// Notification Operations
// =====================================================

// PutNotification persists a pending notification, replacing any prior
// one with the same id. Last schedule call wins.
func (s *Store) PutNotification(n *models.PendingNotification) error {
	if n.ID == "" {
		return apperrors.New(apperrors.ErrValidation, "notification id is required")
	}

	stmt, err := s.prepareStmt(`
	INSERT INTO notifications (id, title, body, fire_at, sound_ref, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		body = excluded.body,
		fire_at = excluded.fire_at,
		sound_ref = excluded.sound_ref,
		created_at = excluded.created_at`)
	if err != nil {
		return err
	}

	createdAt := n.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	if _, err := stmt.Exec(n.ID, n.Title, n.Body, n.FireAt, n.SoundRef, createdAt); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to put notification", err)
	}
	return nil
}

// DeleteNotification removes a single pending notification. Removing an
// id that is not present is not an error: the poller and cancel paths
// race benignly.
func (s *Store) DeleteNotification(id string) error {
	stmt, err := s.prepareStmt("DELETE FROM notifications WHERE id = ?")
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete notification", err)
	}
	return nil
}

// DeleteNotificationTree removes the notification with the exact id and
// every "<id>-reminder-<n>" sub-id derived from it.
func (s *Store) DeleteNotificationTree(id string) error {
	stmt, err := s.prepareStmt("DELETE FROM notifications WHERE id = ? OR id LIKE ? || '-reminder-%'")
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(id, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete notification tree", err)
	}
	return nil
}

// ListNotifications returns every pending notification ordered by fire time.
func (s *Store) ListNotifications() ([]*models.PendingNotification, error) {
	return s.queryNotifications("SELECT id, title, body, fire_at, sound_ref, created_at FROM notifications ORDER BY fire_at")
}

// ListDueNotifications returns pending notifications with fire_at at or
// before now, ordered by fire time.
func (s *Store) ListDueNotifications(now time.Time) ([]*models.PendingNotification, error) {
	return s.queryNotifications(
		"SELECT id, title, body, fire_at, sound_ref, created_at FROM notifications WHERE fire_at <= ? ORDER BY fire_at",
		now.Unix(),
	)
}

func (s *Store) queryNotifications(query string, args ...interface{}) ([]*models.PendingNotification, error) {
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list notifications", err)
	}
	defer rows.Close()

	var notifications []*models.PendingNotification
	for rows.Next() {
		var n models.PendingNotification
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.FireAt, &n.SoundRef, &n.CreatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan notification", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate notifications", err)
	}
	return notifications, nil
}
