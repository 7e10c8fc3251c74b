package scheduler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"seopulse/internal/types"
)

// Trigger is satisfied by *Handler.
type Trigger interface {
	Handle(ctx context.Context, payload TaskPayload) (TriggerResult, error)
}

// JobService is satisfied by *queue.Enqueuer.
type JobService interface {
	EnqueueJob(ctx context.Context, actorKey string, kind types.JobKind, payload types.JobPayload, opts types.EnqueueOptions) (types.EnqueueResult, error)
	GetJobStatus(ctx context.Context, kind types.JobKind) (types.JobCounts, error)
}

type triggerRequest struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

type enqueueRequest struct {
	Payload      json.RawMessage `json:"payload"`
	DedupeKey    string          `json:"dedupe_key,omitempty"`
	DelaySeconds int             `json:"delay_seconds,omitempty"`
}

// NewRouter exposes the trigger surface. Everything except /healthz requires
// "Authorization: Bearer <token>".
//
//	GET|POST /cron/{task}         run a scheduled task now
//	POST     /jobs/{kind}         enqueue an on-demand job
//	GET      /jobs/{kind}/status  per-state job counts
func NewRouter(trigger Trigger, jobs JobService, token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(propagateRequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))

		runTask := func(w http.ResponseWriter, req *http.Request) {
			task, err := ParseTask(chi.URLParam(req, "task"))
			if err != nil {
				writeError(w, req, err)
				return
			}
			var body triggerRequest
			if req.Method == http.MethodPost {
				if err := decodeJSON(w, req, &body, true); err != nil {
					writeError(w, req, err)
					return
				}
			}
			res, err := trigger.Handle(req.Context(), TaskPayload{Task: task, ReferenceTime: body.ReferenceTime})
			if err != nil {
				writeError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		}
		r.Get("/cron/{task}", runTask)
		r.Post("/cron/{task}", runTask)

		r.Post("/jobs/{kind}", func(w http.ResponseWriter, req *http.Request) {
			kind := types.JobKind(chi.URLParam(req, "kind"))
			var body enqueueRequest
			if err := decodeJSON(w, req, &body, false); err != nil {
				writeError(w, req, err)
				return
			}
			payload, err := types.DecodeJobPayload(kind, body.Payload)
			if err != nil {
				writeError(w, req, err)
				return
			}
			// Limits apply per organization.
			_, orgID := payload.Tenant()
			res, err := jobs.EnqueueJob(req.Context(), orgID, kind, payload, types.EnqueueOptions{
				DedupeKey: body.DedupeKey,
				Delay:     time.Duration(body.DelaySeconds) * time.Second,
			})
			if err != nil {
				writeError(w, req, err)
				return
			}
			writeJSON(w, http.StatusAccepted, res)
		})

		r.Get("/jobs/{kind}/status", func(w http.ResponseWriter, req *http.Request) {
			counts, err := jobs.GetJobStatus(req.Context(), types.JobKind(chi.URLParam(req, "kind")))
			if err != nil {
				writeError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, counts)
		})
	})
	return r
}

func propagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := types.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerAuth compares the presented token in constant time. An empty
// configured token rejects every request.
func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got == "" {
				writeError(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "bearer token required", nil))
				return
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid bearer token", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
