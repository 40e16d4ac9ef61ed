// Package models provides unit tests for the core data models.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// TestCategoryIsValid tests category validation.
func TestCategoryIsValid(t *testing.T) {
	valid := []Category{CategoryEvent, CategoryTask, CategoryHabit}
	for _, c := range valid {
		if !c.IsValid() {
			t.Errorf("Expected %q to be valid", c)
		}
	}

	invalid := []Category{"", "note", "EVENT"}
	for _, c := range invalid {
		if c.IsValid() {
			t.Errorf("Expected %q to be invalid", c)
		}
	}
}

// TestOperationIsValid tests operation validation.
func TestOperationIsValid(t *testing.T) {
	for _, op := range []Operation{OperationAdd, OperationUpdate, OperationDelete} {
		if !op.IsValid() {
			t.Errorf("Expected %q to be valid", op)
		}
	}
	if Operation("upsert").IsValid() {
		t.Error("Expected unknown operation to be invalid")
	}
}

// TestItemValidate tests envelope invariants.
func TestItemValidate(t *testing.T) {
	item := &Item{ID: "item-1", Category: CategoryEvent}
	if err := item.Validate(); err != nil {
		t.Errorf("Expected valid item, got %v", err)
	}

	if err := (&Item{Category: CategoryEvent}).Validate(); err == nil {
		t.Error("Expected error for missing id")
	}
	if err := (&Item{ID: "item-1", Category: "bogus"}).Validate(); err == nil {
		t.Error("Expected error for invalid category")
	}
}

// TestItemTouchMonotonic tests that UpdatedAt strictly increases even
// when the wall clock has not advanced past the previous value.
func TestItemTouchMonotonic(t *testing.T) {
	item := &Item{ID: "item-1", Category: CategoryTask}

	item.Touch()
	first := item.UpdatedAt
	if first == 0 {
		t.Fatal("Expected Touch to set UpdatedAt")
	}

	item.Touch()
	if item.UpdatedAt <= first {
		t.Errorf("Expected UpdatedAt to increase, got %d then %d", first, item.UpdatedAt)
	}

	// A future timestamp must not move backwards.
	future := time.Now().Unix() + 3600
	item.UpdatedAt = future
	item.Touch()
	if item.UpdatedAt <= future {
		t.Errorf("Expected UpdatedAt to stay ahead of %d, got %d", future, item.UpdatedAt)
	}
}

// TestItemPayloadRoundTrip tests the typed payload variants.
func TestItemPayloadRoundTrip(t *testing.T) {
	item := &Item{ID: "task-1", Category: CategoryTask}

	details := TaskDetails{Deadline: "2026-09-15", Priority: "high", Completed: false}
	if err := item.SetPayload(details); err != nil {
		t.Fatalf("SetPayload failed: %v", err)
	}

	var decoded TaskDetails
	if err := item.DecodePayload(&decoded); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}

	if decoded != details {
		t.Errorf("Expected %+v, got %+v", details, decoded)
	}
}

// TestDecodePayloadEmpty tests that decoding an absent payload fails.
func TestDecodePayloadEmpty(t *testing.T) {
	item := &Item{ID: "task-1", Category: CategoryTask}
	var details TaskDetails
	if err := item.DecodePayload(&details); err == nil {
		t.Error("Expected error for empty payload")
	}
}

// TestQueueEntryItem tests decoding the captured item snapshot.
func TestQueueEntryItem(t *testing.T) {
	snapshot, err := json.Marshal(&Item{ID: "item-1", Category: CategoryHabit, UpdatedAt: 42})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	entry := &QueueEntry{Seq: 1, Operation: OperationAdd, Payload: snapshot}

	item, err := entry.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if item.ID != "item-1" || item.Category != CategoryHabit || item.UpdatedAt != 42 {
		t.Errorf("Unexpected decoded item: %+v", item)
	}

	bad := &QueueEntry{Seq: 2, Operation: OperationAdd, Payload: json.RawMessage("{")}
	if _, err := bad.Item(); err == nil {
		t.Error("Expected error for corrupt snapshot")
	}
}
