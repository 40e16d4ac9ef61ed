// Package models provides data model definitions for the timetable core.
package models

// User identifies the authenticated account sync runs against.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Preferences holds user-level settings. The core never interprets them;
// they are round-tripped through backup snapshots as-is.
type Preferences map[string]interface{}
