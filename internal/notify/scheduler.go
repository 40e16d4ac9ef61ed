// Package notify provides the time-triggered notification scheduler.
//
// Pending notifications are persisted and a recurring poller fires any
// whose trigger time has elapsed. Polling, rather than exact timers,
// survives the host process sleeping or backgrounding: a missed tick is
// reconciled on the next one instead of being silently dropped.
package notify

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/logging"
	"github.com/yihtzu/timetable/core/internal/models"
)

// Notification is the dispatch payload handed to the Dispatcher when a
// pending notification fires.
type Notification struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	SoundRef string `json:"sound_ref,omitempty"`
}

// Dispatcher performs the side effects of a fired notification: UI
// event, sound playback, system-level notification. Dispatch errors are
// logged and swallowed; they never abort a poller tick.
type Dispatcher interface {
	Dispatch(n Notification) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(n Notification) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(n Notification) error { return f(n) }

// NotificationStore is the persistence the scheduler needs from the
// local store.
type NotificationStore interface {
	PutNotification(n *models.PendingNotification) error
	DeleteNotification(id string) error
	DeleteNotificationTree(id string) error
	ListNotifications() ([]*models.PendingNotification, error)
	ListDueNotifications(now time.Time) ([]*models.PendingNotification, error)
}

// Scheduler maintains the pending set and polls it.
type Scheduler struct {
	store      NotificationStore
	dispatcher Dispatcher
	interval   time.Duration
	grace      time.Duration
	now        func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds scheduler configuration. Interval is the poll cadence;
// Grace is the maximum staleness before a due notification is dropped
// instead of dispatched.
type Config struct {
	Interval time.Duration // default: 1 second
	Grace    time.Duration // default: 5 minutes
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval: time.Second,
		Grace:    5 * time.Minute,
	}
}

// New creates a Scheduler.
func New(store NotificationStore, dispatcher Dispatcher, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		interval:   config.Interval,
		grace:      config.Grace,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Schedule persists a pending notification. Scheduling an id that
// already exists replaces it: re-registering after an item edit is
// idempotent.
func (s *Scheduler) Schedule(id, title, body string, fireAt time.Time, soundRef string) error {
	if id == "" {
		return apperrors.New(apperrors.ErrValidation, "notification id is required")
	}

	err := s.store.PutNotification(&models.PendingNotification{
		ID:        id,
		Title:     title,
		Body:      body,
		FireAt:    fireAt.Unix(),
		SoundRef:  soundRef,
		CreatedAt: s.now().Unix(),
	})
	if err != nil {
		return err
	}

	logging.Debug("Scheduled notification", map[string]interface{}{
		"id":      id,
		"fire_at": fireAt.UTC().Format(time.RFC3339),
	})
	return nil
}

// ScheduleReminders registers one notification per reminder offset of
// an item, counting backwards from base. Sub-ids follow the
// "<item-id>-reminder-<n>" convention so Cancel on the item id sweeps
// them all.
func (s *Scheduler) ScheduleReminders(item *models.Item, title string, base time.Time, soundRef string) error {
	for n, reminder := range item.Reminders {
		fireAt := base.Add(-time.Duration(reminder.OffsetMinutes) * time.Minute)
		body := reminder.Label
		if body == "" {
			body = fmt.Sprintf("in %d minutes", reminder.OffsetMinutes)
		}

		id := fmt.Sprintf("%s-reminder-%d", item.ID, n)
		if err := s.Schedule(id, title, body, fireAt, soundRef); err != nil {
			return err
		}
	}
	return nil
}

// Cancel removes any pending notification matching id exactly, plus all
// "<id>-reminder-<n>" sub-ids derived from it. Deleting or editing a
// parent item cancels its whole reminder fan-out in one call.
func (s *Scheduler) Cancel(id string) error {
	if err := s.store.DeleteNotificationTree(id); err != nil {
		return err
	}
	logging.Debug("Cancelled notifications", map[string]interface{}{"id": id})
	return nil
}

// Pending returns all pending notifications ordered by fire time.
func (s *Scheduler) Pending() ([]*models.PendingNotification, error) {
	return s.store.ListNotifications()
}

// Start begins the poll loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	go s.loop()

	logging.Info("Notification poller started", map[string]interface{}{
		"interval": s.interval.String(),
		"grace":    s.grace.String(),
	})
}

// Stop stops the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	logging.Info("Notification poller stopped")
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick scans the pending set once. Due notifications within the grace
// window are dispatched and removed; due ones beyond it are dropped
// without dispatching, so a process that slept past a pile of trigger
// times does not flood the user on resume. Future notifications stay
// untouched.
func (s *Scheduler) Tick() {
	now := s.now()

	due, err := s.store.ListDueNotifications(now)
	if err != nil {
		logging.Error("Poller failed to load due notifications", err)
		return
	}

	for _, n := range due {
		elapsed := now.Sub(n.FireAtTime())

		if elapsed > s.grace {
			logging.Warn("Dropping stale notification", map[string]interface{}{
				"id":      n.ID,
				"title":   n.Title,
				"elapsed": elapsed.String(),
			})
			if err := s.store.DeleteNotification(n.ID); err != nil {
				logging.Error("Failed to remove stale notification", err,
					map[string]interface{}{"id": n.ID})
			}
			continue
		}

		s.fire(n)
	}
}

// fire dispatches one due notification and removes it from the pending
// set. Removal happens regardless of dispatch outcome: Fired is a
// terminal state and a failing dispatcher must not cause re-delivery on
// every subsequent tick.
func (s *Scheduler) fire(n *models.PendingNotification) {
	logging.Info("Firing notification", map[string]interface{}{
		"id":    n.ID,
		"title": n.Title,
	})

	if err := s.dispatcher.Dispatch(Notification{
		ID:       n.ID,
		Title:    n.Title,
		Body:     n.Body,
		SoundRef: n.SoundRef,
	}); err != nil {
		logging.ErrorWithCode("Notification dispatch failed", string(apperrors.ErrNotifyDispatch), err,
			map[string]interface{}{"id": n.ID})
	}

	if err := s.store.DeleteNotification(n.ID); err != nil {
		logging.Error("Failed to remove fired notification", err,
			map[string]interface{}{"id": n.ID})
	}
}
