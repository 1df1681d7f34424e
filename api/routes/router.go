package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subboxlabs/subbox-backend/api/controllers"
	catalogcontrollers "github.com/subboxlabs/subbox-backend/api/controllers/catalog"
	subscriptioncontrollers "github.com/subboxlabs/subbox-backend/api/controllers/subscriptions"
	"github.com/subboxlabs/subbox-backend/api/middleware"
	catalogsvc "github.com/subboxlabs/subbox-backend/internal/catalog"
	subscriptionsvc "github.com/subboxlabs/subbox-backend/internal/subscriptions"
	"github.com/subboxlabs/subbox-backend/pkg/config"
	"github.com/subboxlabs/subbox-backend/pkg/db"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
	"github.com/subboxlabs/subbox-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	catalogService catalogsvc.Service,
	subscriptionsService subscriptionsvc.Service,
	promRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if promRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", catalogcontrollers.ListProducts(catalogService, logg))
			r.Post("/", catalogcontrollers.CreateProduct(catalogService, logg))
			r.Get("/{productID}", catalogcontrollers.GetProduct(catalogService, logg))
			r.Patch("/{productID}", catalogcontrollers.UpdateProduct(catalogService, logg))
			r.Delete("/{productID}", catalogcontrollers.DeleteProduct(catalogService, logg))
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Use(middleware.MemberContext(logg))

			r.Post("/", subscriptioncontrollers.Create(subscriptionsService, logg))
			r.Get("/", subscriptioncontrollers.Get(subscriptionsService, logg))

			r.Route("/{subscriptionID}", func(r chi.Router) {
				r.Patch("/billing-date", subscriptioncontrollers.UpdateBillingDate(subscriptionsService, logg))
				r.Patch("/payment-method", subscriptioncontrollers.UpdatePaymentMethod(subscriptionsService, logg))
				r.Patch("/address", subscriptioncontrollers.UpdateAddress(subscriptionsService, logg))
				r.Patch("/delivery-request", subscriptioncontrollers.UpdateDeliveryRequest(subscriptionsService, logg))
				r.Post("/cancel", subscriptioncontrollers.Cancel(subscriptionsService, logg))
				r.Get("/charges", subscriptioncontrollers.ListCharges(subscriptionsService, logg))

				r.Route("/next-items", func(r chi.Router) {
					r.Put("/", subscriptioncontrollers.SetStagedItems(subscriptionsService, logg))
					r.Post("/", subscriptioncontrollers.UpsertStagedItem(subscriptionsService, logg))
					r.Delete("/{productID}", subscriptioncontrollers.RemoveStagedItem(subscriptionsService, logg))
				})
			})
		})
	})

	return r
}
