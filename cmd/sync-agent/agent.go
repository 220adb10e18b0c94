package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/eduflow-sync/api/controllers"
	"github.com/angelmondragon/eduflow-sync/internal/changefeed"
	"github.com/angelmondragon/eduflow-sync/internal/connectivity"
	"github.com/angelmondragon/eduflow-sync/internal/cron"
	"github.com/angelmondragon/eduflow-sync/internal/live"
	"github.com/angelmondragon/eduflow-sync/internal/localstore"
	"github.com/angelmondragon/eduflow-sync/internal/remote"
	"github.com/angelmondragon/eduflow-sync/internal/repository"
	"github.com/angelmondragon/eduflow-sync/internal/syncer"
	"github.com/angelmondragon/eduflow-sync/pkg/amqp"
	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/db"
	"github.com/angelmondragon/eduflow-sync/pkg/instance"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
	"github.com/angelmondragon/eduflow-sync/pkg/metrics"
	"github.com/angelmondragon/eduflow-sync/pkg/migrate"
	"github.com/angelmondragon/eduflow-sync/pkg/outbox"
	"github.com/angelmondragon/eduflow-sync/pkg/outbox/idempotency"
	"github.com/angelmondragon/eduflow-sync/pkg/pubsub"
	"github.com/angelmondragon/eduflow-sync/pkg/redis"
)

// agent holds the wired components of one sync agent process.
type agent struct {
	logg *logger.Logger

	local    *db.Client
	redis    *redis.Client
	records  *repository.Registry
	outbox   *outbox.Service
	syncer   *syncer.Manager
	mirror   *live.Mirror
	monitor  *connectivity.ProbeMonitor
	cron     *cron.Service
	registry *prometheus.Registry

	readyChecks    []controllers.ReadyCheck
	metricsHandler http.Handler

	closers   []func() error
	closeOnce sync.Once
}

func bootstrap(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*agent, error) {
	a := &agent{logg: logg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metricsHandler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})

	if err := a.openStores(ctx, cfg); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.wire(ctx, cfg); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *agent) openStores(ctx context.Context, cfg *config.Config) error {
	local, err := db.New(ctx, cfg.DB, a.logg)
	if err != nil {
		return fmt.Errorf("bootstrap local store: %w", err)
	}
	a.local = local
	a.closers = append(a.closers, local.Close)

	if err := migrate.EnsureLocal(ctx, a.logg, local); err != nil {
		return fmt.Errorf("prepare local schema: %w", err)
	}

	if cfg.Redis.Enabled() {
		client, err := redis.New(ctx, cfg.Redis, a.logg)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
	} else {
		a.logg.Warn(ctx, "redis not configured; replay guard, request idempotency and cross-agent locking are disabled")
	}
	return nil
}

func (a *agent) wire(ctx context.Context, cfg *config.Config) error {
	feed, err := openChangeFeed(ctx, cfg, a.logg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, feed.Close)

	rawRemote, closeRemote, err := remote.Open(ctx, cfg.Remote, a.logg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeRemote)
	remoteStore, err := remote.NewNotifying(rawRemote, feed, a.logg)
	if err != nil {
		return err
	}

	store := localstore.New(a.local.DB())
	a.outbox, err = outbox.NewService(outbox.ServiceParams{
		Repo:   outbox.NewRepository(a.local.DB()),
		DLQ:    outbox.NewDLQRepository(a.local.DB()),
		States: store,
		DB:     a.local,
		Logger: a.logg,
	})
	if err != nil {
		return err
	}

	var dedup *idempotency.Manager
	if a.redis != nil {
		dedup, err = idempotency.NewManager(a.redis, cfg.Sync.IdempotencyTTL)
		if err != nil {
			return err
		}
	}

	mirrorParams := live.MirrorParams{
		Store:         store,
		Subscriber:    feed,
		Organizations: cfg.Sync.Organizations(),
		Logger:        a.logg,
	}
	if dedup != nil {
		mirrorParams.Idempotency = dedup
	}
	a.mirror, err = live.NewMirror(mirrorParams)
	if err != nil {
		return err
	}

	a.records, err = repository.NewRegistry(repository.Params{
		DB:      a.local,
		Store:   store,
		Outbox:  a.outbox,
		Watcher: a.mirror,
	})
	if err != nil {
		return err
	}

	a.monitor, err = connectivity.NewProbeMonitor(prober(cfg.Connectivity, rawRemote), connectivity.ProbeOptions{
		Interval: cfg.Connectivity.Interval,
		Timeout:  cfg.Connectivity.Timeout,
	}, a.logg)
	if err != nil {
		return err
	}

	managerParams := syncer.ManagerParams{
		DB:            a.local,
		Local:         store,
		Outbox:        a.outbox,
		Remote:        remoteStore,
		Monitor:       a.monitor,
		Metrics:       metrics.NewSyncMetrics(a.registry),
		Logger:        a.logg,
		BatchSize:     cfg.Sync.BatchSize,
		MaxAttempts:   cfg.Sync.MaxAttempts,
		RemoteTimeout: cfg.Remote.Timeout,
	}
	if dedup != nil {
		managerParams.Guard = dedup
	}
	a.syncer, err = syncer.NewManager(managerParams)
	if err != nil {
		return err
	}

	if a.cron, err = a.buildCron(cfg); err != nil {
		return err
	}

	a.readyChecks = []controllers.ReadyCheck{
		{Name: "local", Pinger: a.local, Required: true},
		{Name: "remote", Pinger: rawRemote},
	}
	if a.redis != nil {
		a.readyChecks = append(a.readyChecks, controllers.ReadyCheck{Name: "redis", Pinger: a.redis, Required: true})
	}
	return nil
}

func (a *agent) buildCron(cfg *config.Config) (*cron.Service, error) {
	registry := cron.NewRegistry()

	if orgs := cfg.Sync.Organizations(); len(orgs) > 0 {
		job, err := cron.NewSyncJob(cron.SyncJobParams{
			Logger:        a.logg,
			Syncer:        a.syncer,
			Organizations: orgs,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}

	retention, err := cron.NewDLQRetentionJob(cron.DLQRetentionJobParams{
		Logger:     a.logg,
		Repository: a.outbox.DLQ(),
		Retention:  cfg.Sync.DLQRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(retention); err != nil {
		return nil, err
	}

	var lock cron.Lock
	if a.redis != nil {
		redisLock, err := cron.NewRedisLock(a.redis, a.redis.LockKey("sync-agent:"+envOrLocal(cfg.App.Env)), instance.ID(), cfg.Sync.LockTTL)
		if err != nil {
			return nil, err
		}
		lock = redisLock
	} else {
		lock = cron.NewLocalLock()
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   a.logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(a.registry),
		Interval: cfg.Sync.Interval,
	})
}

// resolveRecords adapts the registry to the HTTP layer.
func (a *agent) resolveRecords(name string) (controllers.RecordRepository, error) {
	facade, err := a.records.For(name)
	if err != nil {
		return nil, err
	}
	return facade, nil
}

func (a *agent) idempotencyStore() redis.IdempotencyStore {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

func (a *agent) close(ctx context.Context) {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logg.Error(ctx, "error closing resource", err)
			}
		}
	})
}

// openChangeFeed selects the change transport. Without one, remote writes of
// this agent still wake its own watchers through an in-process bus.
func openChangeFeed(ctx context.Context, cfg *config.Config, logg *logger.Logger) (changefeed.Feed, error) {
	switch cfg.ChangeFeed.Driver {
	case config.ChangeFeedPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap pubsub: %w", err)
		}
		feed, err := changefeed.NewPubSubFeed(client.ChangesPublisher(), client.ChangesSubscription(), logg)
		if err != nil {
			client.Close()
			return nil, err
		}
		return closingFeed{Feed: feed, extra: client.Close}, nil
	case config.ChangeFeedAMQP:
		client, err := amqp.New(ctx, cfg.AMQP, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap amqp: %w", err)
		}
		feed, err := changefeed.NewAMQPFeed(client, cfg.AMQP.Queue, logg)
		if err != nil {
			client.Close()
			return nil, err
		}
		return feed, nil
	default:
		return changefeed.NewLocalBus(), nil
	}
}

// closingFeed closes the transport client after the feed.
type closingFeed struct {
	changefeed.Feed
	extra func() error
}

func (f closingFeed) Close() error {
	err := f.Feed.Close()
	if extraErr := f.extra(); err == nil {
		err = extraErr
	}
	return err
}

func prober(cfg config.ConnectivityConfig, store remote.Store) connectivity.Prober {
	if cfg.ProbeURL != "" {
		return connectivity.HTTPProber{URL: cfg.ProbeURL}
	}
	return connectivity.PingProber(store)
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
