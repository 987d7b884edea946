package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdvjgm/pos-backend/api/controllers"
	"github.com/pdvjgm/pos-backend/api/middleware"
	"github.com/pdvjgm/pos-backend/internal/dlq"
	"github.com/pdvjgm/pos-backend/internal/erpsync"
	salessvc "github.com/pdvjgm/pos-backend/internal/sales"
	sessionssvc "github.com/pdvjgm/pos-backend/internal/sessions"
	"github.com/pdvjgm/pos-backend/pkg/config"
	"github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/logger"
	"github.com/pdvjgm/pos-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	locker middleware.Locker,
	gatherer prometheus.Gatherer,
	syncService erpsync.Service,
	dlqService dlq.Service,
	salesService salessvc.Service,
	sessionsService sessionssvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ClientContext())
		r.Use(middleware.Idempotency(locker, logg, cfg.Idempotency.TTL))

		r.Route("/erp", func(r chi.Router) {
			r.Post("/sync", controllers.TriggerSync(syncService, logg))
			r.Get("/dlq", controllers.DLQList(dlqService, logg))
			r.Post("/dlq/{jobId}/retry", controllers.DLQRetry(dlqService, logg))
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/offline", controllers.OfflineSale(salesService, logg))
			r.Post("/{saleId}/checkout", controllers.StartCheckout(salesService, logg))
			r.Get("/{saleId}", controllers.GetSale(salesService, logg))
		})

		r.Post("/webhooks/payment", controllers.PaymentWebhook(salesService, logg))

		r.Post("/sessions", controllers.SessionStart(sessionsService, logg))
		r.Get("/sessions/{sessionId}", controllers.SessionGet(sessionsService, logg))
		r.Post("/sessions/{sessionId}/items", controllers.SessionAddItem(sessionsService, logg))
		r.Post("/sessions/{sessionId}/close", controllers.SessionClose(sessionsService, logg))
		r.Post("/sessions/{sessionId}/sale", controllers.SessionToSale(salesService, logg))
	})

	return r
}
