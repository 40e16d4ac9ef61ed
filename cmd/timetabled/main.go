// Package main provides the timetable daemon: local store, sync engine,
// notification poller and the localhost API the UI talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/yihtzu/timetable/core/internal/auth"
	"github.com/yihtzu/timetable/core/internal/config"
	"github.com/yihtzu/timetable/core/internal/db"
	"github.com/yihtzu/timetable/core/internal/logging"
	"github.com/yihtzu/timetable/core/internal/models"
	"github.com/yihtzu/timetable/core/internal/notify"
	"github.com/yihtzu/timetable/core/internal/queue"
	syncpkg "github.com/yihtzu/timetable/core/internal/sync"
	"github.com/yihtzu/timetable/core/internal/sync/remote"
	syncsched "github.com/yihtzu/timetable/core/internal/sync/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "timetabled: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.Init(os.Stdout, logging.LogLevel(cfg.LogLevel))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}

	store := db.NewStore(database)
	defer store.Close()

	mutations := queue.New(store)

	var provider auth.Provider = auth.NilProvider{}
	if cfg.UserID != "" {
		provider = &auth.StaticProvider{User: models.User{ID: cfg.UserID, Email: cfg.UserEmail}}
	}

	var remoteStore syncpkg.RemoteStore
	if cfg.RemoteDSN != "" {
		pg, err := remote.Open(cfg.RemoteDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		remoteStore = pg
	} else {
		logging.Warn("No remote DSN configured, sync is disabled")
		provider = auth.NilProvider{}
		remoteStore = unreachableRemote{}
	}

	engine := syncpkg.NewEngine(store, mutations, remoteStore, provider, nil)

	hub := NewWSHub()
	engine.SetEventHandler(func(event syncpkg.Event) {
		hub.Broadcast(event.Type, event.Detail)
	})

	notifier := notify.New(store, newDispatcher(hub), &notify.Config{
		Interval: cfg.PollInterval,
		Grace:    cfg.GraceWindow,
	})

	syncScheduler := syncsched.New(engine, &syncsched.Config{
		Interval: cfg.SyncInterval,
		Timeout:  cfg.SyncTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier.Start()
	defer notifier.Stop()

	syncScheduler.Start(ctx)
	defer syncScheduler.Stop()

	mux := http.NewServeMux()
	NewAPI(store, mutations, engine, notifier).Register(mux)
	mux.HandleFunc("/ws", hub.ServeWS)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("timetabled listening", map[string]interface{}{"addr": cfg.ListenAddr})
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		server.Shutdown(context.Background())
		return nil
	}
}

// unreachableRemote stands in when no remote is configured. Sync never
// reaches it because the auth provider reports no user.
type unreachableRemote struct{}

func (unreachableRemote) Upsert(ctx context.Context, item *syncpkg.RemoteItem) error {
	return fmt.Errorf("remote store not configured")
}

func (unreachableRemote) MarkDeleted(ctx context.Context, id string, updatedAt int64) error {
	return fmt.Errorf("remote store not configured")
}

func (unreachableRemote) FetchSince(ctx context.Context, userID string, since int64) ([]*syncpkg.RemoteItem, error) {
	return nil, fmt.Errorf("remote store not configured")
}
