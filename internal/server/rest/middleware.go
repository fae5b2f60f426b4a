package rest

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Recover turns a panic into a 500 without leaking its details.
func Recover(base logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.From(r.Context(), base).Error(r.Context(), "panic recovered",
						"path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
					writeMessage(w, http.StatusInternalServerError, common.ErrorInternal.Error())
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logging puts a request-scoped logger into the context, echoes the request
// id and writes one line per request. With m set it also records the
// request in the HTTP metrics.
func Logging(base logging.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := base.With("method", r.Method, "path", r.URL.Path)
			if rid := chimw.GetReqID(r.Context()); rid != "" {
				l = l.With("request_id", rid)
				w.Header().Set(chimw.RequestIDHeader, rid)
			}
			r = r.WithContext(logging.Into(r.Context(), l))

			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			l.Info(r.Context(), "http", "status", sw.status, "dur", dur, "bytes", sw.count)
			if m != nil {
				var route string
				if rc := chi.RouteContext(r.Context()); rc != nil {
					route = rc.RoutePattern()
				}
				m.ObserveHTTP(r.Method, route, sw.status, dur)
			}
		})
	}
}

// Timeout sets a deadline on requests that have none. d <= 0 disables it.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole authenticates the bearer token and rejects principals below
// required. The principal is available to handlers via auth.PrincipalFrom.
func RequireRole(a Authenticator, required auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.AuthenticateHeader(r.Header.Get("Authorization"))
			if err != nil {
				WriteError(w, r, err)
				return
			}
			if err := auth.Authorize(p, required); err != nil {
				WriteError(w, r, err)
				return
			}
			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = logging.Into(ctx, logging.From(ctx, nil).With("user_id", p.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusWriter records the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	count  int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w}
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.count += n
	return n, err
}

// Flush lets streamed downloads reach the client as they are written.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
