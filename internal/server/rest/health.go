package rest

import (
	"net/http"

	"github.com/dmitrijs2005/crmkeeper/internal/logging"
)

func (h *handlers) livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// healthz is ready once the database answers a ping.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			logging.From(r.Context(), nil).Warn(r.Context(), "readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
