package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const checkTimeout = 2 * time.Second

// HealthChecker checks one dependency, such as the database pool.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// NewRouter serves /metrics and /healthz for the worker process.
func NewRouter(checks ...HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
		defer cancel()

		resp := healthResponse{Status: "healthy"}
		status := http.StatusOK
		for _, p := range checks {
			if err := p.Check(ctx); err != nil {
				if resp.Components == nil {
					resp.Components = map[string]string{}
				}
				resp.Components[p.Name()] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})
	return r
}
