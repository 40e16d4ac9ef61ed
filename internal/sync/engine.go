// Package sync provides offline-first synchronization against the
// remote store.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/yihtzu/timetable/core/internal/auth"
	"github.com/yihtzu/timetable/core/internal/db"
	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/logging"
	"github.com/yihtzu/timetable/core/internal/models"
	"github.com/yihtzu/timetable/core/internal/queue"
)

// Event types emitted to the event handler during sync.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventSyncSkipped   = "sync.skipped"
)

// Event is a sync lifecycle notification for the UI side-channel.
type Event struct {
	Type   string
	Detail map[string]interface{}
}

// EventHandler receives sync lifecycle events.
type EventHandler func(Event)

// Engine orchestrates push (drain the mutation queue to the remote
// store) and pull (fetch remote deltas since the checkpoint and merge
// them into the local store).
type Engine struct {
	store  *db.Store
	queue  *queue.MutationQueue
	remote RemoteStore
	auth   auth.Provider
	online func() bool
	now    func() time.Time

	mu       stdsync.Mutex
	syncing  bool
	lastSync *time.Time
	lastErr  error
	handler  EventHandler
}

// NewEngine creates a sync Engine. online reports current network
// connectivity; a nil online means always online.
func NewEngine(store *db.Store, q *queue.MutationQueue, remote RemoteStore, provider auth.Provider, online func() bool) *Engine {
	if online == nil {
		online = func() bool { return true }
	}
	return &Engine{
		store:  store,
		queue:  q,
		remote: remote,
		auth:   provider,
		online: online,
		now:    time.Now,
	}
}

// SetEventHandler sets the handler for sync lifecycle events.
func (e *Engine) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *Engine) emit(event Event) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

// LastSync returns the timestamp of the last successful sync.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the last sync error.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// PendingChanges returns the number of queued mutations awaiting push.
func (e *Engine) PendingChanges() int {
	n, err := e.queue.Len()
	if err != nil {
		return 0
	}
	return n
}

// Result summarizes one sync run.
type Result struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Pushed    int // queue entries replayed and acked
	Dropped   int // entries discarded on terminal remote rejection
	Pulled    int // remote records merged into the local store
	Skipped   bool
	Error     string
}

// Sync runs push then pull. Local changes are flushed before remote
// state is imported, so a pulled update cannot be clobbered by a stale
// local queue entry. Without connectivity or an authenticated user the
// whole run is a no-op success.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	e.syncing = true
	e.lastErr = nil
	e.mu.Unlock()

	result := &Result{StartTime: e.now()}

	defer func() {
		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)

		e.mu.Lock()
		e.syncing = false
		if e.lastErr == nil && !result.Skipped {
			t := result.EndTime
			e.lastSync = &t
		}
		e.mu.Unlock()
	}()

	if e.auth.CurrentUser() == nil {
		logging.Debug("Skipping sync: not authenticated")
		result.Skipped = true
		e.emit(Event{Type: EventSyncSkipped, Detail: map[string]interface{}{"reason": "unauthenticated"}})
		return result, nil
	}
	if !e.online() {
		logging.Debug("Skipping sync: offline")
		result.Skipped = true
		e.emit(Event{Type: EventSyncSkipped, Detail: map[string]interface{}{"reason": "offline"}})
		return result, nil
	}

	e.emit(Event{Type: EventSyncStarted})

	if err := e.push(ctx, result); err != nil {
		e.fail(result, fmt.Errorf("push failed: %w", err))
		return result, err
	}
	if err := e.pull(ctx, result); err != nil {
		e.fail(result, fmt.Errorf("pull failed: %w", err))
		return result, err
	}

	e.emit(Event{Type: EventSyncCompleted, Detail: map[string]interface{}{
		"pushed":  result.Pushed,
		"dropped": result.Dropped,
		"pulled":  result.Pulled,
	}})
	return result, nil
}

func (e *Engine) fail(result *Result, err error) {
	result.Error = err.Error()
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.emit(Event{Type: EventSyncFailed, Detail: map[string]interface{}{"error": err.Error()}})
}

// Push drains the mutation queue. Callers outside Sync get the same
// auth and connectivity short-circuits.
func (e *Engine) Push(ctx context.Context) (*Result, error) {
	result := &Result{StartTime: e.now()}
	defer func() {
		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	if e.auth.CurrentUser() == nil || !e.online() {
		result.Skipped = true
		return result, nil
	}
	err := e.push(ctx, result)
	return result, err
}

// push replays queue entries in append order. A retryable failure
// leaves the entry in place and poisons the item id for the rest of the
// run, so later entries for the same item never overtake the failed
// one. Failures on independent items do not block each other. Terminal
// rejections are logged and dropped rather than retried forever.
func (e *Engine) push(ctx context.Context, result *Result) error {
	user := e.auth.CurrentUser()
	if user == nil {
		return apperrors.New(apperrors.ErrSyncAuthRequired, "no authenticated user")
	}

	entries, err := e.queue.Drain()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	logging.Info("Pushing local changes", map[string]interface{}{"count": len(entries)})

	failed := make(map[models.UUID]bool)

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := entry.Item()
		if err != nil {
			// Undecodable snapshots can never replay; keeping them
			// would wedge the queue.
			logging.ErrorWithCode("Dropping corrupt queue entry", string(apperrors.ErrValidation), err,
				map[string]interface{}{"seq": entry.Seq})
			if ackErr := e.queue.Ack(entry.Seq); ackErr != nil {
				return ackErr
			}
			result.Dropped++
			continue
		}

		if failed[item.ID] {
			// An earlier entry for this item is still pending; replaying
			// this one now would reorder writes for the same id.
			continue
		}

		if err := e.replay(ctx, user.ID, entry.Operation, item); err != nil {
			if apperrors.IsRetryable(err) {
				logging.Warn("Push failed, entry kept for retry", map[string]interface{}{
					"seq":       entry.Seq,
					"operation": string(entry.Operation),
					"item_id":   item.ID.String(),
					"error":     err.Error(),
				})
				failed[item.ID] = true
				continue
			}

			logging.ErrorWithCode("Remote rejected entry, dropping", string(apperrors.ErrRemoteRejected), err,
				map[string]interface{}{
					"seq":       entry.Seq,
					"operation": string(entry.Operation),
					"item_id":   item.ID.String(),
				})
			if ackErr := e.queue.Ack(entry.Seq); ackErr != nil {
				return ackErr
			}
			result.Dropped++
			continue
		}

		if err := e.queue.Ack(entry.Seq); err != nil {
			return err
		}
		result.Pushed++
	}

	return nil
}

// replay performs the remote call for one queue entry.
func (e *Engine) replay(ctx context.Context, userID string, op models.Operation, item *models.Item) error {
	switch op {
	case models.OperationAdd, models.OperationUpdate:
		remote, err := remoteFromItem(item, userID)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "failed to encode item", err)
		}
		return e.remote.Upsert(ctx, remote)
	case models.OperationDelete:
		return e.remote.MarkDeleted(ctx, item.ID.String(), item.UpdatedAt)
	default:
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("unknown operation: %q", op))
	}
}

// Pull fetches remote records newer than the checkpoint and merges them
// into the local store.
func (e *Engine) Pull(ctx context.Context) (*Result, error) {
	result := &Result{StartTime: e.now()}
	defer func() {
		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	if e.auth.CurrentUser() == nil || !e.online() {
		result.Skipped = true
		return result, nil
	}
	err := e.pull(ctx, result)
	return result, err
}

// pull merges remote deltas. Every fetched record unconditionally
// overwrites the local row by id: remote is authoritative once fetched,
// last-write-wins with no three-way merge. The checkpoint only advances
// after a successful fetch, including an empty one.
func (e *Engine) pull(ctx context.Context, result *Result) error {
	user := e.auth.CurrentUser()
	if user == nil {
		return apperrors.New(apperrors.ErrSyncAuthRequired, "no authenticated user")
	}

	checkpoint, err := e.store.Checkpoint()
	if err != nil {
		return err
	}

	var since int64
	if !checkpoint.IsZero() {
		since = checkpoint.Unix()
	}

	// Capture "now" before the fetch so records written remotely while
	// the fetch is in flight are not skipped by the next pull.
	fetchStart := e.now()

	records, err := e.remote.FetchSince(ctx, user.ID, since)
	if err != nil {
		return err
	}

	if len(records) > 0 {
		logging.Info("Pulling remote changes", map[string]interface{}{"count": len(records)})
	}

	for _, record := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := itemFromRemote(record)
		if err != nil {
			logging.Error("Skipping undecodable remote record", err,
				map[string]interface{}{"item_id": record.ID})
			continue
		}

		if err := e.store.PutItem(item); err != nil {
			// Local store writes are fatal on failure: there is no
			// fallback persistence layer.
			return err
		}
		result.Pulled++
	}

	return e.store.SetCheckpoint(fetchStart)
}
