// Package queue provides the mutation queue replayed against the remote
// store. Entries are durable, FIFO per append, and removed only after
// the remote call is confirmed — at-least-once delivery.
package queue

import (
	"github.com/yihtzu/timetable/core/internal/db"
	"github.com/yihtzu/timetable/core/internal/logging"
	"github.com/yihtzu/timetable/core/internal/models"
)

// MutationQueue records local create/update/delete operations for later
// replay. Multiple writes to the same item produce multiple entries; no
// coalescing happens, since redundant last-write-wins upserts are
// harmless on replay.
type MutationQueue struct {
	store *db.Store
}

// New creates a MutationQueue over the local store.
func New(store *db.Store) *MutationQueue {
	return &MutationQueue{store: store}
}

// Enqueue records a mutation together with its item write in one
// transaction.
func (q *MutationQueue) Enqueue(op models.Operation, item *models.Item) error {
	if err := q.store.PutItemQueued(item, op); err != nil {
		return err
	}
	logging.Debug("Enqueued mutation", map[string]interface{}{
		"operation": string(op),
		"item_id":   item.ID.String(),
	})
	return nil
}

// Drain returns all pending entries in original append order. Entries
// stay in the queue until acked; a partial drain leaves the remainder
// intact.
func (q *MutationQueue) Drain() ([]*models.QueueEntry, error) {
	return q.store.ListQueue()
}

// Ack removes exactly one entry after its remote replay succeeded.
func (q *MutationQueue) Ack(seq int64) error {
	return q.store.AckOp(seq)
}

// Len returns the number of pending entries.
func (q *MutationQueue) Len() (int, error) {
	return q.store.QueueLen()
}
