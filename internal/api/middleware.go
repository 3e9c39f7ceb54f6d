package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/farmsight/farmsight-backend/internal/auth"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

// MetricsRecorder receives one observation per served request.
type MetricsRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// SessionVerifier resolves a session id to its user.
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID string) (*entities.User, error)
}

type contextKey int

const (
	userKey contextKey = iota
	sessionKey
)

func userFromContext(ctx context.Context) *entities.User {
	user, _ := ctx.Value(userKey).(*entities.User)
	return user
}

func sessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

type Middleware struct {
	logger   *zap.SugaredLogger
	metrics  MetricsRecorder
	sessions SessionVerifier
}

func NewMiddleware(logger *zap.SugaredLogger, metrics MetricsRecorder, sessions SessionVerifier) *Middleware {
	return &Middleware{
		logger:   logger,
		metrics:  metrics,
		sessions: sessions,
	}
}

// CORS middleware
func (m *Middleware) CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.SessionHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// RateLimit caps the whole API at rpm requests per minute. Zero disables it.
func (m *Middleware) RateLimit(rpm int) func(http.Handler) http.Handler {
	if rpm <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := rpm / 6 // Allow burst of 1/6th of rpm
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeMiddlewareError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CredentialLimit throttles credential endpoints per client address.
func (m *Middleware) CredentialLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.logger.Warnw("Credential rate limit hit", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeMiddlewareError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts")
		}),
	)
}

// Request logging middleware
func (m *Middleware) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)

			m.logger.Infow("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"size", ww.BytesWritten(),
				"duration", duration,
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)

			if m.metrics != nil {
				m.metrics.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), ww.Status(), duration)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// routePattern keeps metric labels bounded by using the matched chi pattern
// instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Security headers middleware
func (m *Middleware) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// Recovery middleware with structured logging
func (m *Middleware) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				m.logger.Errorw("Panic recovered",
					"panic", rvr,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)

				writeMiddlewareError(w, http.StatusInternalServerError, "INTERNAL_ERROR", http.StatusText(http.StatusInternalServerError))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Timeout middleware
func (m *Middleware) Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, "Request timeout")
	}
}

// Authenticate rejects requests without a live session and stores the user
// in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.SessionIDFromRequest(r)
		if id == "" {
			writeMiddlewareError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
			return
		}

		user, err := m.sessions.VerifySession(r.Context(), id)
		if err != nil {
			status, code := http.StatusUnauthorized, "UNAUTHORIZED"
			if !isAuthError(err) {
				// store unavailable or broken, not the caller's fault
				status, code = http.StatusServiceUnavailable, "AUTH_UNAVAILABLE"
				m.logger.Warnw("Session verification failed", "error", err)
			}
			writeMiddlewareError(w, status, code, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, sessionKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits only users holding role. It runs after Authenticate.
func (m *Middleware) RequireRole(role entities.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil {
				writeMiddlewareError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session")
				return
			}
			if user.Role != role {
				m.logger.Warnw("Role check failed", "user_id", user.ID, "role", user.Role, "required", role, "path", r.URL.Path)
				writeMiddlewareError(w, http.StatusForbidden, "FORBIDDEN", "requires "+string(role)+" role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrInvalidSession)
}

func writeMiddlewareError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}
