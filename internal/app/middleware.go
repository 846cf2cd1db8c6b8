package app

import (
	"net/http"
	"time"

	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/sirupsen/logrus"
)

// RequestContext stores the request's path, method, id and user in its
// context so the query log can correlate queries with the request that ran them.
// An incoming X-Request-ID is reused; otherwise a new UUID is assigned.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			if user, _, ok := r.BasicAuth(); ok {
				userID = user
			}
		}

		ctx := types.WithRequestInfo(r.Context(), types.RequestInfo{
			Path:      r.URL.Path,
			Method:    r.Method,
			RequestID: id,
			UserID:    userID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog writes one logrus line per request.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
		}
		if info, ok := types.RequestInfoFromContext(r.Context()); ok {
			fields["request_id"] = info.RequestID
		}
		logrus.WithFields(fields).Debug("HTTP request")
	})
}

// RateLimitMiddleware rejects requests once the token bucket is empty.
func (app *Application) RateLimitMiddleware(next http.Handler) http.Handler {
	rate, burst := app.config.GlobalConfig.RateLimitRequests, app.config.GlobalConfig.RateLimitBurst
	if rate <= 0 {
		rate = 100
	}
	if burst <= 0 {
		burst = 50
	}
	bucket := ratelimit.NewBucketWithRate(float64(rate), int64(burst))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bucket.TakeAvailable(1) == 0 {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BasicAuth protects next with the configured credentials. Empty credentials disable it.
func (app *Application) BasicAuth(next http.Handler) http.Handler {
	return utils.BasicAuthHandler(app.config.BasicAuth.Username, app.config.BasicAuth.Password, next)
}
