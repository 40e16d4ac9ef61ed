// Package sync provides offline-first synchronization against the
// remote store.
package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yihtzu/timetable/core/internal/models"
)

// RemoteStore is the remote table of user records keyed by item id.
// Implementations must classify failures: transport problems as
// retryable AppErrors, constraint rejections as terminal ones.
type RemoteStore interface {
	// Upsert writes a record by id, overwriting any prior value.
	Upsert(ctx context.Context, item *RemoteItem) error

	// MarkDeleted flips the deleted flag on an existing record.
	MarkDeleted(ctx context.Context, id string, updatedAt int64) error

	// FetchSince returns records for userID with updated_at strictly
	// greater than since (Unix seconds). since <= 0 means everything.
	FetchSince(ctx context.Context, userID string, since int64) ([]*RemoteItem, error)
}

// RemoteItem is the wire shape of a record in the remote store: the
// envelope columns plus an opaque data payload.
type RemoteItem struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Category  string          `json:"category"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt int64           `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

// remoteData is the portion of the local envelope carried inside the
// remote record's data column.
type remoteData struct {
	Color     string            `json:"color,omitempty"`
	Reminders []models.Reminder `json:"reminders,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"`
}

// remoteFromItem converts a local item snapshot to its remote record.
func remoteFromItem(item *models.Item, userID string) (*RemoteItem, error) {
	data, err := json.Marshal(remoteData{
		Color:     item.Color,
		Reminders: item.Reminders,
		Payload:   item.Payload,
		CreatedAt: item.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote data: %w", err)
	}

	return &RemoteItem{
		ID:        item.ID.String(),
		UserID:    userID,
		Category:  string(item.Category),
		Data:      data,
		UpdatedAt: item.UpdatedAt,
		Deleted:   item.Deleted,
	}, nil
}

// itemFromRemote converts a fetched remote record back into the local
// envelope. Remote state is authoritative once fetched.
func itemFromRemote(r *RemoteItem) (*models.Item, error) {
	var data remoteData
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode remote data for %s: %w", r.ID, err)
		}
	}

	createdAt := data.CreatedAt
	if createdAt == 0 {
		createdAt = r.UpdatedAt
	}

	return &models.Item{
		ID:        models.UUID(r.ID),
		Category:  models.Category(r.Category),
		Color:     data.Color,
		Reminders: data.Reminders,
		Payload:   data.Payload,
		Deleted:   r.Deleted,
		CreatedAt: createdAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}
