// Package scheduler runs sync on a cadence and on demand.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/yihtzu/timetable/core/internal/errors"
	"github.com/yihtzu/timetable/core/internal/logging"
	syncpkg "github.com/yihtzu/timetable/core/internal/sync"
)

// Scheduler invokes the sync engine periodically while online. The
// engine itself short-circuits when unauthenticated or offline, so a
// tick that fires at the wrong moment is cheap.
type Scheduler struct {
	engine   syncpkg.EngineInterface
	interval time.Duration
	timeout  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	lastSyncTime time.Time
}

// Config holds scheduler configuration.
type Config struct {
	Interval time.Duration // how often to sync (default: 15 minutes)
	Timeout  time.Duration // per-run deadline (default: 5 minutes)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Minute,
		Timeout:  5 * time.Minute,
	}
}

// New creates a Scheduler.
func New(engine syncpkg.EngineInterface, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:   engine,
		interval: config.Interval,
		timeout:  config.Timeout,
		stopCh:   make(chan struct{}),
		isOnline: true,
	}
}

// Start begins the periodic sync loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

// Stop stops the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped")
}

// SetOnline records a connectivity change. Going online triggers an
// immediate sync so queued mutations flush without waiting for the
// next tick.
func (s *Scheduler) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = online
	s.mu.Unlock()

	if wasOnline == online {
		return
	}

	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  online,
	})

	if online {
		s.TriggerSync(ctx)
	}
}

// IsOnline returns whether the scheduler considers itself online.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// LastSyncTime returns when the last successful scheduled sync finished.
func (s *Scheduler) LastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.runSync(ctx)
		}
	}
}

// TriggerSync runs a sync immediately, off the ticker cadence.
// Returns false if the run was skipped or a sync is already in flight.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	return s.runSync(ctx)
}

func (s *Scheduler) runSync(ctx context.Context) bool {
	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			logging.Debug("Sync already in progress, skipping tick")
			return false
		}
		logging.ErrorWithCode("Scheduled sync failed", string(apperrors.ErrSyncFailed), err,
			map[string]interface{}{"interval": s.interval.String()})
		return false
	}

	if result.Skipped {
		return false
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Scheduled sync completed", map[string]interface{}{
		"pushed":  result.Pushed,
		"dropped": result.Dropped,
		"pulled":  result.Pulled,
	})
	return true
}
