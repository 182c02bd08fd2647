package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe of GET /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/device", s.handleDevice)

		r.Route("/engine", func(r chi.Router) {
			r.Post("/pause", s.handlePauseEngine)
			r.Post("/resume", s.handleResumeEngine)
		})

		r.Route("/macros", func(r chi.Router) {
			r.Get("/", s.handleListMacros)
			r.Post("/sync", s.handleSyncMacros)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMacro)
				r.Put("/", s.handlePutMacro)
				r.Delete("/", s.handleDeleteMacro)
				r.Put("/enabled", s.handleSetMacroEnabled)
				r.Get("/executions", s.handleListMacroExecutions)
			})
		})

		r.Get("/executions/{id}", s.handleGetExecution)

		r.Route("/components", func(r chi.Router) {
			r.Get("/triggers", s.handleListTriggers)
			r.Get("/actions", s.handleListActions)
		})

		r.Post("/events", s.handlePostEvent)
		r.Post("/continuations", s.handlePostContinuation)

		r.Route("/prompts", func(r chi.Router) {
			r.Get("/", s.handleListPrompts)
			r.Post("/{id}", s.handleAnswerPrompt)
		})

		r.Get("/audit", s.handleListAudit)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the engine state and every dependency check. Any
// failing check turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name](ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":         overall,
		"version":        s.version,
		"engine_running": s.engine.Running(),
		"checks":         checks,
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeNotFound(w, "metrics are not enabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}
