// Package backup serializes the full local data set to and from a
// versioned JSON interchange format.
package backup

import (
	"encoding/json"
	"time"

	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/models"
)

// FormatVersion is the snapshot format this codec reads and writes.
const FormatVersion = "1.0"

// Snapshot is the interchange document: items split by category, the
// opaque preferences object, and format metadata.
type Snapshot struct {
	Events      []*models.Item     `json:"events"`
	Tasks       []*models.Item     `json:"tasks"`
	Habits      []*models.Item     `json:"habits"`
	Preferences models.Preferences `json:"preferences"`
	ExportedAt  string             `json:"exportedAt"`
	Version     string             `json:"version"`
}

// Items flattens the snapshot back into a single item list.
func (s *Snapshot) Items() []*models.Item {
	items := make([]*models.Item, 0, len(s.Events)+len(s.Tasks)+len(s.Habits))
	items = append(items, s.Events...)
	items = append(items, s.Tasks...)
	items = append(items, s.Habits...)
	return items
}

// Export serializes items and preferences into a version "1.0"
// snapshot. The output is indented UTF-8 JSON with an ISO-8601
// exportedAt stamp.
func Export(items []*models.Item, prefs models.Preferences) ([]byte, error) {
	snapshot := Snapshot{
		Events:      []*models.Item{},
		Tasks:       []*models.Item{},
		Habits:      []*models.Item{},
		Preferences: prefs,
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		Version:     FormatVersion,
	}

	for _, item := range items {
		switch item.Category {
		case models.CategoryEvent:
			snapshot.Events = append(snapshot.Events, item)
		case models.CategoryTask:
			snapshot.Tasks = append(snapshot.Tasks, item)
		case models.CategoryHabit:
			snapshot.Habits = append(snapshot.Habits, item)
		default:
			return nil, apperrors.New(apperrors.ErrExportFailed,
				"item with unknown category: "+item.ID.String())
		}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to encode snapshot", err)
	}
	return data, nil
}

// Import parses a snapshot. A document without a version field, or with
// a version this codec does not understand, is rejected with a
// validation error; nothing is ever partially applied, since Import
// only parses — writing the snapshot into a store is the caller's loop.
func Import(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrImportFailed, "failed to parse backup data", err)
	}

	if snapshot.Version == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "invalid backup format: missing version")
	}
	if snapshot.Version != FormatVersion {
		return nil, apperrors.New(apperrors.ErrValidation,
			"unsupported backup version: "+snapshot.Version)
	}

	return &snapshot, nil
}
