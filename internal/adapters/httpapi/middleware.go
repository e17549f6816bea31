package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"custodyledger/pkg/domain"
)

const (
	headerRequestID = "X-Request-ID"
	headerCaller    = "X-Caller-Identity"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	callerKey
)

// RequestID returns the id assigned to the current request.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Caller returns the identity presented by the current request. It is the
// null identity when the header was absent.
func Caller(ctx context.Context) domain.Identity {
	v, _ := ctx.Value(callerKey).(domain.Identity)
	return v
}

// requestID propagates X-Request-ID, generating one when absent.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// callerIdentity resolves X-Caller-Identity. Authentication happens in front
// of this service; the header is trusted as-is.
func callerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := domain.NormalizeIdentity(r.Header.Get(headerCaller))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// RequestObserver counts served requests by route pattern and status code.
type RequestObserver interface {
	ObserveRequest(route, code string)
}

// accessLog logs every request and reports it to obs. It also turns a
// handler panic into a 500.
func accessLog(logger *slog.Logger, obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.ErrorContext(r.Context(), "handler panicked", "request_id", RequestID(r.Context()), "panic", p)
					if rec.status == 0 {
						writeJSON(rec, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
					}
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				route := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				if obs != nil {
					obs.ObserveRequest(route, strconv.Itoa(status))
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "http request",
					"request_id", RequestID(r.Context()),
					"method", r.Method,
					"route", route,
					"status", status,
					"caller", Caller(r.Context()),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
