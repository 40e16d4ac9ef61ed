package notify

import (
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/yihtzu/timetable/core/internal/db"
	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/models"
)

// recordingDispatcher collects fired notifications and can fail per id.
type recordingDispatcher struct {
	mu       stdsync.Mutex
	fired    []Notification
	failWith map[string]error
}

func (d *recordingDispatcher) Dispatch(n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, n)
	if d.failWith != nil {
		return d.failWith[n.ID]
	}
	return nil
}

func (d *recordingDispatcher) firedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, len(d.fired))
	for i, n := range d.fired {
		ids[i] = n.ID
	}
	return ids
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingDispatcher) {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	store := db.NewStore(database)
	t.Cleanup(func() { store.Close() })

	dispatcher := &recordingDispatcher{}
	scheduler := New(store, dispatcher, nil)
	return scheduler, dispatcher
}

// TestScheduleReplacesByID tests that re-scheduling the same id is
// idempotent rather than duplicating.
func TestScheduleReplacesByID(t *testing.T) {
	s, _ := newTestScheduler(t)

	fireAt := time.Now().Add(time.Hour)
	if err := s.Schedule("n-1", "first", "", fireAt, ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := s.Schedule("n-1", "second", "", fireAt.Add(time.Minute), ""); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending, got %d", len(pending))
	}
	if pending[0].Title != "second" {
		t.Errorf("Expected last schedule to win, got %q", pending[0].Title)
	}

	if err := s.Schedule("", "no id", "", fireAt, ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for empty id, got %v", err)
	}
}

// TestTickFiresDueOnce tests that a notification inside the grace
// window dispatches exactly once and leaves the pending set.
func TestTickFiresDueOnce(t *testing.T) {
	s, d := newTestScheduler(t)

	base := time.Now()
	s.now = func() time.Time { return base }

	// Due 2 minutes ago: inside the 5-minute grace window.
	if err := s.Schedule("due", "standup", "in 10 minutes", base.Add(-2*time.Minute), "chime"); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	// One hour out: not due yet.
	if err := s.Schedule("future", "review", "", base.Add(time.Hour), ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Tick()
	s.Tick()

	fired := d.firedIDs()
	if len(fired) != 1 || fired[0] != "due" {
		t.Fatalf("Expected exactly one dispatch of %q, got %v", "due", fired)
	}
	if d.fired[0].Title != "standup" || d.fired[0].SoundRef != "chime" {
		t.Errorf("Unexpected payload: %+v", d.fired[0])
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "future" {
		t.Errorf("Expected only the future notification pending, got %+v", pending)
	}
}

// TestTickDropsStale tests that a notification past the grace window
// is removed without dispatching.
func TestTickDropsStale(t *testing.T) {
	s, d := newTestScheduler(t)

	base := time.Now()
	s.now = func() time.Time { return base }

	// Due 10 minutes ago: beyond the 5-minute grace window.
	if err := s.Schedule("stale", "old meeting", "", base.Add(-10*time.Minute), ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Tick()

	if len(d.firedIDs()) != 0 {
		t.Errorf("Expected no dispatch for stale notification, got %v", d.firedIDs())
	}
	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected stale notification removed, got %+v", pending)
	}
}

// TestTickGraceBoundary tests that exactly grace-old still fires and
// a custom grace window is honored.
func TestTickGraceBoundary(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	store := db.NewStore(database)
	defer store.Close()

	d := &recordingDispatcher{}
	s := New(store, d, &Config{Interval: time.Second, Grace: time.Minute})

	// Fire times persist as whole Unix seconds; align the clock so the
	// boundary comparison is exact.
	base := time.Now().Truncate(time.Second)
	s.now = func() time.Time { return base }

	if err := s.Schedule("edge", "edge", "", base.Add(-time.Minute), ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := s.Schedule("past", "past", "", base.Add(-2*time.Minute), ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Tick()

	fired := d.firedIDs()
	if len(fired) != 1 || fired[0] != "edge" {
		t.Errorf("Expected only the boundary notification fired, got %v", fired)
	}
}

// TestDispatchFailureDoesNotRedeliver tests that a failing dispatcher
// neither blocks other notifications nor causes re-delivery.
func TestDispatchFailureDoesNotRedeliver(t *testing.T) {
	s, d := newTestScheduler(t)
	d.failWith = map[string]error{"bad": errors.New("channel closed")}

	base := time.Now()
	s.now = func() time.Time { return base }

	if err := s.Schedule("bad", "bad", "", base.Add(-time.Minute), ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := s.Schedule("good", "good", "", base.Add(-time.Minute), ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Tick()
	s.Tick()

	fired := d.firedIDs()
	if len(fired) != 2 {
		t.Fatalf("Expected both dispatched once, got %v", fired)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected pending set empty after firing, got %+v", pending)
	}
}

// TestScheduleReminders tests the per-reminder fan-out ids and default
// body text.
func TestScheduleReminders(t *testing.T) {
	s, _ := newTestScheduler(t)

	item := &models.Item{
		ID:       "task1",
		Category: models.CategoryEvent,
		Reminders: []models.Reminder{
			{OffsetMinutes: 10, Label: "ten minutes out"},
			{OffsetMinutes: 60},
		},
	}

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if err := s.ScheduleReminders(item, "Standup", base, "chime"); err != nil {
		t.Fatalf("ScheduleReminders failed: %v", err)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 reminders, got %d", len(pending))
	}

	byID := make(map[string]*models.PendingNotification)
	for _, n := range pending {
		byID[n.ID] = n
	}

	first := byID["task1-reminder-0"]
	if first == nil {
		t.Fatal("Missing task1-reminder-0")
	}
	if first.Body != "ten minutes out" {
		t.Errorf("Expected label as body, got %q", first.Body)
	}
	if !first.FireAtTime().Equal(base.Add(-10 * time.Minute)) {
		t.Errorf("Unexpected fire time: %v", first.FireAtTime())
	}

	second := byID["task1-reminder-1"]
	if second == nil {
		t.Fatal("Missing task1-reminder-1")
	}
	if second.Body != "in 60 minutes" {
		t.Errorf("Expected default body, got %q", second.Body)
	}
	if !second.FireAtTime().Equal(base.Add(-time.Hour)) {
		t.Errorf("Unexpected fire time: %v", second.FireAtTime())
	}
}

// TestCancelSweepsReminderTree tests that cancelling an item id also
// removes its reminder sub-ids, and nothing else.
func TestCancelSweepsReminderTree(t *testing.T) {
	s, _ := newTestScheduler(t)

	fireAt := time.Now().Add(time.Hour)
	for _, id := range []string{"task1", "task1-reminder-0", "task1-reminder-1", "task10", "task2"} {
		if err := s.Schedule(id, id, "", fireAt, ""); err != nil {
			t.Fatalf("Schedule %s failed: %v", id, err)
		}
	}

	if err := s.Cancel("task1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 survivors, got %d", len(pending))
	}
	for _, n := range pending {
		if n.ID != "task10" && n.ID != "task2" {
			t.Errorf("Unexpected survivor %q", n.ID)
		}
	}

	// Cancelling an id with no pending notifications is a no-op.
	if err := s.Cancel("missing"); err != nil {
		t.Errorf("Expected cancel of unknown id to succeed, got %v", err)
	}
}

// TestStartStop tests that the poll loop fires scheduled work and shuts
// down cleanly.
func TestStartStop(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	store := db.NewStore(database)
	defer store.Close()

	d := &recordingDispatcher{}
	s := New(store, d, &Config{Interval: 10 * time.Millisecond, Grace: 5 * time.Minute})

	if err := s.Schedule("due", "due", "", time.Now().Add(-time.Second), ""); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Start()
	s.Start() // second start is a no-op

	deadline := time.After(2 * time.Second)
	for len(d.firedIDs()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for poller to fire")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Stop()
	s.Stop() // second stop is a no-op
}
