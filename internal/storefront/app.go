package storefront

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/pkg/kit"
)

type HTTPDeps struct {
	Log      *zap.Logger
	Service  string
	Registry *prometheus.Registry

	MetricsEnabled bool
	MetricsToken   string

	// APIBaseURL is the upstream for the /api passthrough.
	APIBaseURL string
}

const (
	loginLimitPerMin = 5
	limitWindow      = 60 * time.Second
	readyTimeout     = 1 * time.Second
)

func NewHandler(s *Server, deps HTTPDeps) (http.Handler, error) {
	var tokens api.TokenSource
	if s.Session != nil {
		tokens = s.Session
	}
	proxy, err := NewReverseProxy(deps.APIBaseURL, tokens, deps.Log)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	setupMiddleware(r, deps)
	setupMetrics(r, deps)
	setupRoutes(r, s)

	r.Handle("/api", proxy)
	r.Handle("/api/*", proxy)

	return r, nil
}

func setupMiddleware(r *chi.Mux, deps HTTPDeps) {
	r.Use(chimw.RequestID)
	r.Use(kit.EchoRequestID)
	r.Use(kit.Recoverer)
	r.Use(kit.Logging(deps.Log))
}

func setupMetrics(r *chi.Mux, deps HTTPDeps) {
	if deps.Registry == nil {
		return
	}

	metrics := kit.NewMetrics(deps.Registry)
	r.Use(metrics.Middleware(deps.Service, kit.ChiRoutePatternOrPath))

	if !deps.MetricsEnabled {
		return
	}

	r.With(kit.MetricsAuth(deps.MetricsToken)).
		Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
}

func setupRoutes(r *chi.Mux, s *Server) {
	loginLimiter := kit.NewIPRateLimiter(loginLimitPerMin, limitWindow)

	r.Get("/healthz", healthz)
	r.Get("/readyz", s.handleReady)

	r.Route("/session", func(rr chi.Router) {
		rr.With(loginLimiter.Middleware).Post("/login", s.handleLogin)
		rr.Post("/logout", s.handleLogout)
		rr.Get("/whoami", s.handleWhoAmI)
	})

	r.Get("/fruits", s.handleFruits)

	r.Route("/cart", func(rr chi.Router) {
		rr.Get("/", s.handleGetCart)
		rr.Get("/events", s.handleCartEvents)
		rr.Delete("/", s.handleClearCart)
		rr.Post("/items", s.handleAddItem)
		rr.Put("/items/{id}", s.handleSetQuantity)
		rr.Delete("/items/{id}", s.handleRemoveItem)
		rr.Post("/items/{id}/weigh", s.handleWeigh)
		rr.Post("/view/open", s.handleViewOpen)
		rr.Post("/view/close", s.handleViewClose)
	})

	r.Route("/checkout", func(rr chi.Router) {
		rr.Use(s.requireStaff)
		rr.Post("/", s.handleBeginCheckout)
		rr.Get("/", s.handleGetCheckout)
		rr.Delete("/", s.handleCancelCheckout)
		rr.Post("/mode", s.handleCheckoutMode)
		rr.Post("/customer/find", s.handleFindCustomer)
		rr.Post("/customer/create", s.handleCreateCustomer)
		rr.Post("/submit", s.handleSubmit)
	})

	r.With(s.requireStaff).Get("/bills", s.handleBills)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Storage == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.Storage.Ping(ctx); err != nil {
		s.log().Warn("readyz failed: storage", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "storage not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}
