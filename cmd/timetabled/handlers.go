// Package main provides the REST API surface of the timetable daemon.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yihtzu/timetable/core/internal/backup"
	"github.com/yihtzu/timetable/core/internal/db"
	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/logging"
	"github.com/yihtzu/timetable/core/internal/models"
	"github.com/yihtzu/timetable/core/internal/notify"
	"github.com/yihtzu/timetable/core/internal/queue"
	syncpkg "github.com/yihtzu/timetable/core/internal/sync"
)

// API bundles the handlers' dependencies.
type API struct {
	store    *db.Store
	queue    *queue.MutationQueue
	engine   syncpkg.EngineInterface
	notifier *notify.Scheduler
}

// NewAPI creates the handler set.
func NewAPI(store *db.Store, q *queue.MutationQueue, engine syncpkg.EngineInterface, notifier *notify.Scheduler) *API {
	return &API{store: store, queue: q, engine: engine, notifier: notifier}
}

// Register mounts all routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", a.Health)
	mux.HandleFunc("/api/items", a.Items)
	mux.HandleFunc("/api/items/", a.ItemByID)
	mux.HandleFunc("/api/sync", a.SyncNow)
	mux.HandleFunc("/api/sync/status", a.SyncStatus)
	mux.HandleFunc("/api/notifications", a.Notifications)
	mux.HandleFunc("/api/notifications/", a.CancelNotification)
	mux.HandleFunc("/api/backup/export", a.ExportBackup)
	mux.HandleFunc("/api/backup/import", a.ImportBackup)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := apperrors.ErrInternal
	if appErr, ok := err.(*apperrors.AppError); ok {
		code = appErr.Code
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}

// Health handles GET /api/health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "timetabled"})
}

// Items handles GET /api/items (list) and POST /api/items (create or
// update; the write and its queue entry commit atomically).
func (a *API) Items(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeDeleted := r.URL.Query().Get("include_deleted") == "true"
		items, err := a.store.ListItems(includeDeleted)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if items == nil {
			items = []*models.Item{}
		}
		writeJSON(w, http.StatusOK, items)

	case http.MethodPost:
		var item models.Item
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest,
				apperrors.Wrap(apperrors.ErrInvalid, "malformed item", err))
			return
		}

		op := models.OperationUpdate
		if item.ID == "" {
			item.ID = models.UUID(uuid.New().String())
			item.CreatedAt = time.Now().Unix()
			op = models.OperationAdd
		}
		item.Touch()

		if err := a.queue.Enqueue(op, &item); err != nil {
			status := http.StatusInternalServerError
			if apperrors.Is(err, apperrors.ErrValidation) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, &item)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ItemByID handles GET and DELETE on /api/items/{id}. Deletion is a
// soft delete and cancels the item's reminder fan-out.
func (a *API) ItemByID(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.URL.Path[len("/api/items/"):])
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := a.store.GetItem(id)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodDelete:
		if err := a.store.DeleteItem(id); err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if err := a.notifier.Cancel(id.String()); err != nil {
			logging.Error("Failed to cancel reminders for deleted item", err,
				map[string]interface{}{"item_id": id.String()})
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// SyncNow handles POST /api/sync: runs a full sync and returns its result.
func (a *API) SyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := a.engine.Sync(r.Context())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SyncStatus handles GET /api/sync/status.
func (a *API) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"pending_changes": a.engine.PendingChanges(),
	}
	if t := a.engine.LastSync(); t != nil {
		status["last_sync"] = t.UTC().Format(time.RFC3339)
	}
	if err := a.engine.LastError(); err != nil {
		status["last_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, status)
}

// Notifications handles GET /api/notifications (pending list) and POST
// /api/notifications (schedule one).
func (a *API) Notifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pending, err := a.notifier.Pending()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if pending == nil {
			pending = []*models.PendingNotification{}
		}
		writeJSON(w, http.StatusOK, pending)

	case http.MethodPost:
		var req struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Body     string `json:"body"`
			FireAt   string `json:"fire_at"`
			SoundRef string `json:"sound_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest,
				apperrors.Wrap(apperrors.ErrInvalid, "malformed notification", err))
			return
		}

		fireAt, err := time.Parse(time.RFC3339, req.FireAt)
		if err != nil {
			writeError(w, http.StatusBadRequest,
				apperrors.Wrap(apperrors.ErrInvalid, "fire_at must be RFC3339", err))
			return
		}

		if err := a.notifier.Schedule(req.ID, req.Title, req.Body, fireAt, req.SoundRef); err != nil {
			status := http.StatusInternalServerError
			if apperrors.Is(err, apperrors.ErrValidation) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// CancelNotification handles DELETE /api/notifications/{id}, sweeping
// the id and its reminder sub-ids.
func (a *API) CancelNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/api/notifications/"):]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if err := a.notifier.Cancel(id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ExportBackup handles GET /api/backup/export: streams a version "1.0"
// snapshot of all non-deleted items.
func (a *API) ExportBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := a.store.ListItems(false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	data, err := backup.Export(items, models.Preferences{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=timetable-backup-%s.json", time.Now().Format("2006-01-02")))
	w.Write(data)
}

// ImportBackup handles POST /api/backup/import: parses a snapshot and
// writes every item through the mutation queue so the restore also
// propagates to the remote store.
func (a *API) ImportBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest,
			apperrors.Wrap(apperrors.ErrInvalid, "failed to read body", err))
		return
	}

	snapshot, err := backup.Import(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	imported := 0
	for _, item := range snapshot.Items() {
		item.Touch()
		if err := a.queue.Enqueue(models.OperationUpdate, item); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		imported++
	}

	logging.Info("Backup imported", map[string]interface{}{"items": imported})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "imported",
		"items":    imported,
		"version":  snapshot.Version,
		"exported": snapshot.ExportedAt,
	})
}
