package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Baskets  *BasketHandler
	Payments *PaymentHandler
	Orders   *OrdersHandler
	Webhooks *WebhookHandler
}

const maxRequestBodySize = 1 << 20 // 1MB

func NewRouter(h Handlers, requestTimeout time.Duration, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.RequestSize(maxRequestBodySize))
	r.Use(IdentityMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/baskets", func(r chi.Router) {
			r.Post("/merge", h.Baskets.Merge)
			r.Route("/{basketID}", func(r chi.Router) {
				r.Get("/", h.Baskets.GetBasket)
				r.Delete("/", h.Baskets.DeleteBasket)
				r.Post("/items", h.Baskets.AddItem)
				r.Post("/items/{productID}/increase", h.Baskets.IncreaseItem)
				r.Post("/items/{productID}/decrease", h.Baskets.DecreaseItem)
				r.Delete("/items/{productID}", h.Baskets.RemoveItem)
				r.Put("/discount", h.Baskets.ApplyDiscount)
				r.Delete("/discount", h.Baskets.RemoveDiscount)
			})
		})
		r.Post("/payments/{basketID}", h.Payments.SyncIntent)
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.Orders.CreateOrder)
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{orderID}", h.Orders.GetOrder)
		})
	})

	r.Post("/webhooks/payments", h.Webhooks.HandlePayment)

	return otelhttp.NewHandler(r, "storefront",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
