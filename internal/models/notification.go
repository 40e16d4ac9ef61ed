// Package models provides data model definitions for the timetable core.
package models

import "time"

// PendingNotification is a persisted time-triggered notification waiting
// to fire. Sub-ids derived from a parent item use the
// "<item-id>-reminder-<n>" convention so a single cancel call can sweep
// every reminder of an edited or deleted item.
type PendingNotification struct {
	ID        string `db:"id" json:"id"`
	Title     string `db:"title" json:"title"`
	Body      string `db:"body" json:"body"`
	FireAt    int64  `db:"fire_at" json:"fire_at"`
	SoundRef  string `db:"sound_ref" json:"sound_ref,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for PendingNotification.
func (PendingNotification) TableName() string {
	return "notifications"
}

// FireAtTime returns FireAt as time.Time.
func (n *PendingNotification) FireAtTime() time.Time {
	return time.Unix(n.FireAt, 0)
}
