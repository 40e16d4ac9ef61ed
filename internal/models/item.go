// Package models provides data model definitions for the timetable core.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Category identifies the kind of schedulable item.
type Category string

const (
	CategoryEvent Category = "event"
	CategoryTask  Category = "task"
	CategoryHabit Category = "habit"
)

// IsValid reports whether the category is one of the known kinds.
func (c Category) IsValid() bool {
	switch c {
	case CategoryEvent, CategoryTask, CategoryHabit:
		return true
	default:
		return false
	}
}

// Reminder is a relative reminder attached to an item.
// OffsetMinutes counts backwards from the item's own base time.
type Reminder struct {
	OffsetMinutes int    `json:"offset_minutes"`
	Label         string `json:"label,omitempty"`
}

// Item is the common envelope shared by events, tasks and habits.
// Category-specific fields live in Payload and are opaque to the sync
// layer; the typed detail structs below give callers a structured view.
type Item struct {
	ID        UUID            `db:"id" json:"id"`
	Category  Category        `db:"category" json:"category"`
	Color     string          `db:"color" json:"color,omitempty"`
	Reminders []Reminder      `db:"reminders" json:"reminders,omitempty"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	Deleted   bool            `db:"deleted" json:"deleted"`
	CreatedAt int64           `db:"created_at" json:"created_at"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Item.
func (Item) TableName() string {
	return "items"
}

// Validate checks the invariants every stored item must hold.
func (i *Item) Validate() error {
	if i.ID == "" {
		return errors.New("item id is required")
	}
	if !i.Category.IsValid() {
		return fmt.Errorf("invalid category: %q", i.Category)
	}
	return nil
}

// Touch bumps UpdatedAt to the current time. UpdatedAt never moves
// backwards, even against a skewed clock.
func (i *Item) Touch() {
	now := time.Now().Unix()
	if now <= i.UpdatedAt {
		now = i.UpdatedAt + 1
	}
	i.UpdatedAt = now
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (i *Item) UpdatedAtTime() time.Time {
	return time.Unix(i.UpdatedAt, 0)
}

// EventDetails is the event-specific payload variant.
type EventDetails struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Repeat    string `json:"repeat,omitempty"`
	Location  string `json:"location,omitempty"`
}

// TaskDetails is the task-specific payload variant.
type TaskDetails struct {
	Deadline  string `json:"deadline,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes,omitempty"`
}

// HabitDetails is the habit-specific payload variant.
type HabitDetails struct {
	Frequency       string `json:"frequency,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// SetPayload marshals a detail struct into the opaque payload.
func (i *Item) SetPayload(details interface{}) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	i.Payload = data
	return nil
}

// DecodePayload unmarshals the opaque payload into a detail struct.
func (i *Item) DecodePayload(details interface{}) error {
	if len(i.Payload) == 0 {
		return errors.New("item has no payload")
	}
	if err := json.Unmarshal(i.Payload, details); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
