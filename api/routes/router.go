package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quickbuyer/quickbuyer-backend/api/controllers"
	webhookcontrollers "github.com/quickbuyer/quickbuyer-backend/api/controllers/webhooks"
	"github.com/quickbuyer/quickbuyer-backend/api/middleware"
	"github.com/quickbuyer/quickbuyer-backend/internal/admin"
	checkoutsvc "github.com/quickbuyer/quickbuyer-backend/internal/checkout"
	"github.com/quickbuyer/quickbuyer-backend/internal/downloads"
	"github.com/quickbuyer/quickbuyer-backend/internal/projects"
	"github.com/quickbuyer/quickbuyer-backend/internal/purchases"
	"github.com/quickbuyer/quickbuyer-backend/internal/subscriptions"
	"github.com/quickbuyer/quickbuyer-backend/internal/uploads"
	"github.com/quickbuyer/quickbuyer-backend/internal/users"
	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
	"github.com/quickbuyer/quickbuyer-backend/pkg/metrics"
	pkgredis "github.com/quickbuyer/quickbuyer-backend/pkg/redis"
)

// RedisStore backs the Idempotency-Key replay cache and the rate limiter.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// Dependencies is everything the HTTP surface needs. Nil services answer 500;
// a nil Redis disables replay protection and throttling.
type Dependencies struct {
	Readiness     map[string]controllers.Pinger
	Redis         RedisStore
	Metrics       *metrics.Marketplace
	Gatherer      prometheus.Gatherer
	Users         *users.Repository
	Admins        admin.Checker
	Projects      projects.Service
	Checkout      checkoutsvc.Service
	Downloads     downloads.Service
	Uploads       uploads.Service
	Purchases     purchases.Service
	Subscriptions subscriptions.Service
	Webhooks      webhookcontrollers.CreemWebhookService
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.Metrics),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	store := deps.Redis
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.CheckoutWindow, cfg.RateLimit.CheckoutIPMax)
	uploadPolicy := middleware.NewRateLimitPolicy("upload", cfg.RateLimit.UploadWindow, cfg.RateLimit.UploadIPMax)

	requireAuth := middleware.Auth(cfg.Auth, logg)
	optionalAuth := middleware.OptionalAuth(cfg.Auth, logg)
	idempotent := middleware.Idempotency(store, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		// the processor signs the raw body; no bearer token is involved
		r.Post("/webhooks/creem", webhookcontrollers.CreemWebhook(deps.Webhooks, logg))

		r.With(optionalAuth).Get("/projects", controllers.ProjectList(deps.Projects, logg))
		r.With(requireAuth, idempotent).Post("/projects", controllers.ProjectCreate(deps.Projects, logg))
		r.With(optionalAuth).Get("/projects/{slugOrId}", controllers.ProjectGet(deps.Projects, logg))
		r.With(requireAuth).Put("/projects/{slugOrId}", controllers.ProjectUpdate(deps.Projects, logg))
		r.With(requireAuth).Delete("/projects/{slugOrId}", controllers.ProjectDelete(deps.Projects, logg))
		r.With(requireAuth).Get("/projects/{slugOrId}/download", controllers.ProjectDownload(deps.Downloads, logg))

		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)
			r.Use(middleware.RateLimit(checkoutPolicy, store, logg))
			r.With(idempotent).Post("/checkout", controllers.Checkout(deps.Checkout, logg))
			r.With(idempotent).Post("/checkout/cart", controllers.CheckoutCart(deps.Checkout, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", controllers.Me(deps.Users, deps.Admins, logg))
			r.Get("/purchases", controllers.PurchaseList(deps.Purchases, logg))
			r.Get("/subscription", controllers.SubscriptionFetch(deps.Subscriptions, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(uploadPolicy, store, logg))
				r.Post("/upload", controllers.UploadThumbnail(deps.Uploads, logg))
				r.Post("/ipfs/upload", controllers.UploadIPFS(deps.Uploads, logg))
			})
		})
	})

	return r
}
