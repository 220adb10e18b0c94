package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/eduflow-sync/api/controllers"
	"github.com/angelmondragon/eduflow-sync/api/middleware"
	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
	"github.com/angelmondragon/eduflow-sync/pkg/redis"
)

// Deps carries everything the agent's HTTP surface needs. Idempotency is
// optional and stays off without redis.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	ReadyChecks []controllers.ReadyCheck
	Records     controllers.RecordResolver
	Sync        controllers.SyncManager
	Outbox      controllers.OutboxAdmin
	Idempotency redis.IdempotencyStore
	Metrics     http.Handler
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger
	origins := middleware.AllowedOrigins(cfg.App.CORSOrigins)
	orgs := cfg.Sync.Organizations()

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(origins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.ReadyChecks...))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Idempotency != nil {
			r.Use(middleware.Idempotency(deps.Idempotency, logg))
		}

		r.Route("/orgs/{orgId}", func(r chi.Router) {
			r.Use(middleware.Organization(orgs, logg))
			r.Post("/sync", controllers.TriggerSync(deps.Sync, logg))

			r.Route("/collections/{collection}", func(r chi.Router) {
				r.Get("/", controllers.ListRecords(deps.Records, logg))
				r.Post("/", controllers.CreateRecord(deps.Records, logg))
				r.Get("/live", controllers.WatchRecords(deps.Records, origins, logg))
				r.Get("/{id}", controllers.GetRecord(deps.Records, logg))
				r.Patch("/{id}", controllers.UpdateRecord(deps.Records, logg))
				r.Delete("/{id}", controllers.DeleteRecord(deps.Records, logg))
			})
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", controllers.SyncStatus(deps.Sync))
			r.Get("/outbox", controllers.ListOutbox(deps.Outbox, logg))
			r.Get("/dlq", controllers.ListDLQ(deps.Outbox, logg))
			r.Post("/dlq/{eventId}/requeue", controllers.RequeueDLQ(deps.Outbox, logg))
			r.Post("/dlq/{eventId}/discard", controllers.DiscardDLQ(deps.Outbox, logg))
		})
	})

	return r
}
