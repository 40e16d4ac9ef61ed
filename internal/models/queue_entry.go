// Package models provides data model definitions for the timetable core.
package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of local mutation recorded in the queue.
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValid reports whether the operation is one of the known kinds.
func (o Operation) IsValid() bool {
	switch o {
	case OperationAdd, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// QueueEntry is a pending mutation awaiting replay against the remote
// store. Entries are ordered by Seq, assigned by SQLite AUTOINCREMENT
// at insert time, and removed only once the remote call succeeds.
type QueueEntry struct {
	Seq        int64           `db:"seq" json:"seq"`
	Operation  Operation       `db:"operation" json:"operation"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "sync_queue"
}

// Item decodes the item snapshot captured when the entry was appended.
func (e *QueueEntry) Item() (*Item, error) {
	var item Item
	if err := json.Unmarshal(e.Payload, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (e *QueueEntry) EnqueuedAtTime() time.Time {
	return time.Unix(e.EnqueuedAt, 0)
}
