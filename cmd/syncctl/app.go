package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/eduflow-sync/internal/connectivity"
	"github.com/angelmondragon/eduflow-sync/internal/localstore"
	"github.com/angelmondragon/eduflow-sync/internal/remote"
	"github.com/angelmondragon/eduflow-sync/internal/syncer"
	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/db"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
	"github.com/angelmondragon/eduflow-sync/pkg/migrate"
	"github.com/angelmondragon/eduflow-sync/pkg/outbox"
)

// app is the slice of the agent the CLI needs: the local store, the outbox,
// and a way to reach the remote store on demand.
type app struct {
	cfg        *config.Config
	logg       *logger.Logger
	local      *db.Client
	store      *localstore.Store
	outbox     *outbox.Service
	openRemote func(ctx context.Context) (remote.Store, func() error, error)
	closeLocal func() error
}

type appOpener func(ctx context.Context) (*app, error)

func openApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Service.Kind = "syncctl"

	logg := logger.New(logger.Options{
		ServiceName: "syncctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})

	local, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	a, err := newApp(ctx, cfg, logg, local)
	if err != nil {
		local.Close()
		return nil, err
	}
	a.closeLocal = local.Close
	a.openRemote = func(ctx context.Context) (remote.Store, func() error, error) {
		return remote.Open(ctx, cfg.Remote, logg)
	}
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, logg *logger.Logger, local *db.Client) (*app, error) {
	if err := migrate.EnsureLocal(ctx, logg, local); err != nil {
		return nil, fmt.Errorf("prepare local schema: %w", err)
	}
	store := localstore.New(local.DB())
	svc, err := outbox.NewService(outbox.ServiceParams{
		Repo:   outbox.NewRepository(local.DB()),
		DLQ:    outbox.NewDLQRepository(local.DB()),
		States: store,
		DB:     local,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logg: logg, local: local, store: store, outbox: svc}, nil
}

// manager connects to the remote store and probes it once, so the returned
// manager reflects current reachability.
func (a *app) manager(ctx context.Context) (*syncer.Manager, func() error, error) {
	store, closeRemote, err := a.openRemote(ctx)
	if err != nil {
		return nil, nil, err
	}
	monitor, err := connectivity.NewProbeMonitor(connectivity.PingProber(store), connectivity.ProbeOptions{
		Timeout: a.cfg.Connectivity.Timeout,
	}, a.logg)
	if err != nil {
		closeRemote()
		return nil, nil, err
	}
	monitor.Check(ctx)

	manager, err := syncer.NewManager(syncer.ManagerParams{
		DB:            a.local,
		Local:         a.store,
		Outbox:        a.outbox,
		Remote:        store,
		Monitor:       monitor,
		Logger:        a.logg,
		BatchSize:     a.cfg.Sync.BatchSize,
		MaxAttempts:   a.cfg.Sync.MaxAttempts,
		RemoteTimeout: a.cfg.Remote.Timeout,
	})
	if err != nil {
		closeRemote()
		return nil, nil, err
	}
	return manager, closeRemote, nil
}

func (a *app) Close() error {
	if a.closeLocal == nil {
		return nil
	}
	return a.closeLocal()
}
