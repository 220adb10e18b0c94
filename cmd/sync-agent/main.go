package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/eduflow-sync/api/routes"
	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/instance"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-agent"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "sync-agent"

	logg = logger.New(logger.Options{
		ServiceName: "sync-agent",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		File:        cfg.App.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"agentId":     instance.ID(),
	})

	agent, err := bootstrap(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap sync agent", err)
		os.Exit(1)
	}
	defer agent.close(context.Background())

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			ReadyChecks: agent.readyChecks,
			Records:     agent.resolveRecords,
			Sync:        agent.syncer,
			Outbox:      agent.outbox,
			Idempotency: agent.idempotencyStore(),
			Metrics:     agent.metricsHandler,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	orgs := cfg.Sync.Organizations()
	if len(orgs) == 0 {
		logg.Warn(ctx, "no organizations configured; background sync is disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.monitor.Run(gctx) })
	g.Go(func() error { return agent.mirror.Run(gctx) })
	g.Go(func() error { return agent.cron.Run(gctx) })
	if len(orgs) > 0 {
		g.Go(func() error { return agent.syncer.Run(gctx, orgs) })
	}
	g.Go(func() error {
		logg.Info(logg.WithField(gctx, "addr", server.Addr), "starting sync agent http server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync agent stopped unexpectedly", err)
		agent.close(context.Background())
		os.Exit(1)
	}

	logg.Info(ctx, "sync agent shutting down gracefully")
}
