/*
middleware.go - Request-scoped middleware for the ledger API

PURPOSE:
  Resolves the caller identity once per request and records every request
  in the structured log and the HTTP latency histogram.

AUTH RESOLUTION:
  The upstream gateway authenticates users and forwards the result as
  headers. Authenticate turns them into a ledger.AuthContext stored in the
  request context; handlers read it with AuthFrom and pass it by value.

    X-Tenant-ID  required, 401 when missing
    X-User-ID    required for writes (the engine rejects an empty user)
    X-Role       optional, "admin" unlocks balance rebuilds

SEE ALSO:
  - server.go: Where the middleware is mounted
  - ledger/types.go: AuthContext
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderRole     = "X-Role"

	RoleAdmin = "admin"
)

type authKey struct{}

// Authenticate resolves the AuthContext from the gateway headers.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := ledger.AuthContext{
			TenantID: ledger.TenantID(strings.TrimSpace(r.Header.Get(HeaderTenantID))),
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:     strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))),
		}
		if auth.TenantID == "" {
			writeError(w, http.StatusUnauthorized, "Missing tenant", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey{}, auth)))
	})
}

// AuthFrom returns the AuthContext resolved by Authenticate.
func AuthFrom(ctx context.Context) (ledger.AuthContext, bool) {
	auth, ok := ctx.Value(authKey{}).(ledger.AuthContext)
	return auth, ok
}

// HTTPMetrics records request latency.
type HTTPMetrics interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// RequestLogger logs one line per request and feeds the latency metric.
// m may be nil.
func RequestLogger(log *zap.Logger, m HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			if m != nil {
				m.ObserveHTTP(r.Method, route, status, elapsed)
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				log.Warn("request failed", fields...)
				return
			}
			log.Info("request", fields...)
		})
	}
}
