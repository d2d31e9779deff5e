// Package server exposes the protocol over HTTP/JSON. Mutations route to
// the controller, reads to the query service. Every error maps to a
// status code by its category; nothing leaks internal stack detail.
package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/observability"
	"github.com/marwinsteiner/lendflow/internal/protocol"
	"github.com/marwinsteiner/lendflow/internal/query"
)

type Server struct {
	controller *protocol.Controller
	query      *query.Service
	health     *observability.HealthChecker
	adminToken string
	log        zerolog.Logger
	metrics    *observability.Metrics
}

func New(controller *protocol.Controller, qs *query.Service, health *observability.HealthChecker, adminToken string, log zerolog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		controller: controller,
		query:      qs,
		health:     health,
		adminToken: adminToken,
		log:        log,
		metrics:    metrics,
	}
}

// Router builds the HTTP route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/pool", func(r chi.Router) {
			r.Get("/", s.handlePoolStatus)
			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/yield", s.handleDistributeYield)
		})

		r.Route("/loans", func(r chi.Router) {
			r.Get("/", s.handleListLoans)
			r.Post("/", s.handleBorrow)
			r.Route("/{loanID}", func(r chi.Router) {
				r.Get("/", s.handleGetLoan)
				r.Get("/health", s.handleLoanHealth)
				r.Post("/repay", s.handleRepay)
				r.Post("/liquidate", s.handleLiquidate)
			})
		})

		r.Get("/liquidatable", s.handleLiquidatable)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdminToken)
			r.Post("/pause", s.handleSetPaused)
			r.Post("/risk-params", s.handleSetRiskParams)
		})
	})

	return r
}

// requireAdminToken guards the admin subtree with a shared-secret header.
// The controller still checks the actor identity; the header keeps the
// admin surface closed to anyone without the deployment secret. An empty
// configured token fails closed.
func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
			s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
