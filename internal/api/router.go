package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/plcwatch-core/internal/auth"
)

// healthCheckTimeout bounds dependency checks made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		middleware.RequestSize(maxRequestBodySize),
	)

	// Prometheus scrape endpoint
	r.Handle("/metrics", s.prometheusHandler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.requirePermission(auth.PermPLCRead)).Get("/metrics", s.handleMetrics)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{userID}", s.handleGetUser)
				r.Patch("/{userID}", s.handleUpdateUser)
				r.Delete("/{userID}", s.handleDeleteUser)
			})

			r.With(s.requirePermission(auth.PermUserManage)).Get("/audit", s.handleListAudit)

			r.Route("/controllers", s.controllerRoutes)
		})
	})

	return r
}

// controllerRoutes mounts controller, register and live-value endpoints.
func (s *Server) controllerRoutes(r chi.Router) {
	read := s.requirePermission(auth.PermPLCRead)
	operate := s.requirePermission(auth.PermPLCOperate)
	configure := s.requirePermission(auth.PermPLCConfigure)

	r.With(read).Get("/", s.handleListControllers)
	r.With(configure).Post("/", s.handleCreateController)

	r.Route("/{id}", func(r chi.Router) {
		r.With(read).Get("/", s.handleGetController)
		r.With(configure).Put("/", s.handleUpdateController)
		r.With(configure).Delete("/", s.handleDeleteController)

		r.With(read).Get("/status", s.handleControllerStatus)
		r.With(configure).Post("/test-connection", s.handleTestConnection)
		r.With(operate).Post("/monitor", s.handleStartMonitoring)
		r.With(operate).Delete("/monitor", s.handleStopMonitoring)

		r.Route("/registers", func(r chi.Router) {
			r.With(read).Get("/", s.handleListRegisters)
			r.With(configure).Post("/", s.handleCreateRegister)

			r.Route("/{registerID}", func(r chi.Router) {
				r.With(read).Get("/", s.handleGetRegister)
				r.With(configure).Put("/", s.handleUpdateRegister)
				r.With(configure).Delete("/", s.handleDeleteRegister)
				r.With(read).Get("/value", s.handleReadValue)
				r.With(operate).Put("/value", s.handleWriteValue)
			})
		})
	})
}

// handleHealth reports server health. Storage and broker failures make the
// response 503 so load balancers stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		checks["database"] = "ok"
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	if s.mqtt != nil {
		checks["mqtt"] = "ok"
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			checks["mqtt"] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"monitoring": len(s.monitor.Monitoring()),
		"checks":     checks,
	})
}
