package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maceip/rlitert-lm/internal/broker"
	"github.com/maceip/rlitert-lm/internal/manager"
	"github.com/maceip/rlitert-lm/internal/pool"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels(all bool) []types.Model
	Status() types.StatusResponse
	Ready() bool
	StartPull(ref, alias, token string) (types.Model, error)
	RunCompletion(ctx context.Context, model, prompt string) (string, error)
	RunCompletionStream(ctx context.Context, model, prompt string) (<-chan pool.Chunk, error)
	RemoveModel(id string) error
	DownloadState(model string) types.DownloadEvent
	SubscribeDownloads(model string) *broker.Subscription
	UnsubscribeDownloads(sub *broker.Subscription)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[types.ChatCompletionRequest](w, r)
		if !ok {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		prompt := joinMessages(req.Messages)
		if strings.TrimSpace(prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "messages are required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if req.Stream {
			streamChatCompletion(ctx, w, r, svc, req.Model, prompt)
			return
		}
		out, err := svc.RunCompletion(ctx, req.Model, prompt)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeServiceError(w, err)
			return
		}
		resp := types.ChatCompletionResponse{
			ID:      "chatcmpl-" + uuid.NewString(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []types.ChatChoice{{
				Message:      types.ChatMessage{Role: "assistant", Content: out},
				FinishReason: "stop",
			}},
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/v1/pull", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeJSON[types.PullRequest](w, r)
		if !ok {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		mdl, err := svc.StartPull(req.Model, req.Alias, req.Token)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, svc.DownloadState(mdl.ID))
	})

	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		all := r.URL.Query().Get("all") == "1"
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels(all)})
	})

	r.Delete("/v1/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.RemoveModel(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/v1/downloads/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.DownloadState(chi.URLParam(r, "id")))
	})

	r.Get("/v1/downloads/events", func(w http.ResponseWriter, r *http.Request) {
		serveDownloadEventsSSE(w, r, svc)
	})

	r.Get("/v1/downloads/ws", func(w http.ResponseWriter, r *http.Request) {
		serveDownloadEventsWS(w, r, svc)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("closing"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// decodeJSON enforces content type and the body size cap, then decodes.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	return req, true
}

// joinMessages flattens a chat transcript into the single-line prompt the
// worker protocol expects.
func joinMessages(msgs []types.ChatMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		c := strings.TrimSpace(m.Content)
		if c == "" {
			continue
		}
		if m.Role != "" && m.Role != "user" {
			parts = append(parts, m.Role+": "+c)
			continue
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, " ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Debug().Err(err).Msg("encode response")
	}
}

// writeServiceError maps the coordinator error taxonomy to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case manager.IsModelNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case manager.IsAlreadyInProgress(err):
		writeJSONError(w, http.StatusConflict, err.Error())
	case manager.IsTooBusy(err):
		IncrementBackpressure("worker_queue")
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case manager.IsSpawnFailure(err), manager.IsProtocolViolation(err),
		manager.IsWorkerCrashed(err), manager.IsDownloadFailure(err):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		if he, ok := err.(HTTPError); ok {
			writeJSONError(w, he.StatusCode(), he.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
