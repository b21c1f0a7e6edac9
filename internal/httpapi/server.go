package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"batchd/internal/manager"
	"batchd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the HTTP router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Post("/generate", generateHandler(svc))

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
		_, _ = w.Write([]byte("stopping"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// generateHandler blocks until the request reaches a final state.
//
//	@Summary	Generate tokens
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.GenerateRequest	true	"generation request"
//	@Success	200		{object}	types.GenerateResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	409		{object}	types.ErrorResponse
//	@Failure	429		{object}	types.ErrorResponse
//	@Failure	503		{object}	types.ErrorResponse
//	@Router		/generate [post]
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			reqLog(r, zlog.Info()).Int("input_len", len(req.InputIDs)).Uint64("id", req.ID).Msg("generate start")
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if generateTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, generateTimeout)
			defer tcancel()
		}

		resp, err := svc.Generate(ctx, req)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure(backpressureReason(err))
			}
			writeJSONError(w, status, err.Error())
			if lvl >= LevelError {
				reqLog(r, zlog.Warn()).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("generate end")
			}
			return
		}
		writeJSON(w, http.StatusOK, resp)
		observeGenerate(resp.State, len(resp.OutputIDs))
		if lvl >= LevelInfo {
			ev := reqLog(r, zlog.Info()).Int("status", http.StatusOK).Dur("dur", time.Since(start)).
				Uint64("id", resp.ID).Str("state", resp.State).Int("output_len", len(resp.OutputIDs))
			if lvl >= LevelDebug {
				ev = ev.Ints32("output_ids", resp.OutputIDs)
			}
			ev.Msg("generate end")
		}
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case manager.IsValidation(err):
		return http.StatusBadRequest
	case manager.IsDuplicateID(err):
		return http.StatusConflict
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case errors.Is(err, manager.ErrStopped), manager.IsDropped(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &he):
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

func backpressureReason(err error) string {
	var ce *manager.CapacityError
	if errors.As(err, &ce) {
		return strings.ReplaceAll(ce.What, " ", "_")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
