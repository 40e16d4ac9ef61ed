package backup

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/models"
)

func backupItem(id string, category models.Category) *models.Item {
	now := time.Now().Unix()
	return &models.Item{
		ID:        models.UUID(id),
		Category:  category,
		Color:     "#cc3366",
		Payload:   []byte(`{"title":"` + id + `"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestExportImportRoundTrip tests that a snapshot survives the full
// encode and decode cycle.
func TestExportImportRoundTrip(t *testing.T) {
	items := []*models.Item{
		backupItem("e-1", models.CategoryEvent),
		backupItem("t-1", models.CategoryTask),
		backupItem("t-2", models.CategoryTask),
		backupItem("h-1", models.CategoryHabit),
	}
	prefs := models.Preferences{"weekStart": "monday", "theme": "dark"}

	data, err := Export(items, prefs)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	snapshot, err := Import(data)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if snapshot.Version != FormatVersion {
		t.Errorf("Expected version %s, got %s", FormatVersion, snapshot.Version)
	}
	if len(snapshot.Events) != 1 || len(snapshot.Tasks) != 2 || len(snapshot.Habits) != 1 {
		t.Errorf("Unexpected split: %d events, %d tasks, %d habits",
			len(snapshot.Events), len(snapshot.Tasks), len(snapshot.Habits))
	}
	if snapshot.Preferences["weekStart"] != "monday" {
		t.Errorf("Expected preferences preserved, got %+v", snapshot.Preferences)
	}

	flat := snapshot.Items()
	if len(flat) != 4 {
		t.Fatalf("Expected 4 items flattened, got %d", len(flat))
	}
	byID := make(map[models.UUID]*models.Item)
	for _, item := range flat {
		byID[item.ID] = item
	}
	if got := byID["t-2"]; got == nil || string(got.Payload) != `{"title":"t-2"}` {
		t.Errorf("Expected payload preserved, got %+v", got)
	}

	if _, err := time.Parse(time.RFC3339, snapshot.ExportedAt); err != nil {
		t.Errorf("Expected RFC3339 export stamp, got %q", snapshot.ExportedAt)
	}
}

// TestExportEmpty tests that an empty data set exports as empty arrays
// rather than nulls.
func TestExportEmpty(t *testing.T) {
	data, err := Export(nil, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"events", "tasks", "habits"} {
		if string(raw[key]) == "null" {
			t.Errorf("Expected %s to be an array, got null", key)
		}
	}
}

// TestExportUnknownCategory tests that no partial snapshot is produced
// for invalid input.
func TestExportUnknownCategory(t *testing.T) {
	items := []*models.Item{backupItem("x-1", "meeting")}

	if _, err := Export(items, nil); !apperrors.Is(err, apperrors.ErrExportFailed) {
		t.Errorf("Expected EXPORT_FAILED, got %v", err)
	}
}

// TestImportRejectsMissingVersion tests the version guard.
func TestImportRejectsMissingVersion(t *testing.T) {
	data := []byte(`{"events":[],"tasks":[],"habits":[],"preferences":{}}`)

	if _, err := Import(data); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
}

// TestImportRejectsUnsupportedVersion tests that future formats are
// refused instead of half-read.
func TestImportRejectsUnsupportedVersion(t *testing.T) {
	data := []byte(`{"events":[],"tasks":[],"habits":[],"version":"2.0"}`)

	if _, err := Import(data); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
}

// TestImportRejectsMalformedJSON tests the parse failure path.
func TestImportRejectsMalformedJSON(t *testing.T) {
	if _, err := Import([]byte(`{"events": [`)); !apperrors.Is(err, apperrors.ErrImportFailed) {
		t.Errorf("Expected IMPORT_FAILED, got %v", err)
	}
}
