package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, auth Authenticator, limiter *RateLimiter) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(handler.Log))
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes: the customer's browser and provider callbacks.
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Route("/payments", func(r chi.Router) {
			r.Post("/reconcile", handler.ReconcilePayment)
			r.Get("/{pendingId}/stream", handler.StreamPayment)
		})
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/mercadopago/{companyId}", handler.MercadoPagoWebhook)
			r.Post("/picpay/{companyId}", handler.PicPayWebhook)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/subscriptions/reconcile", handler.ReconcileSubscription)
		r.Route("/refunds", func(r chi.Router) {
			r.Post("/requests", handler.CreateRefundRequest)
			r.With(auth.RequireAdmin).Post("/process", handler.ProcessRefund)
		})
	})

	return &Server{Router: r}
}
