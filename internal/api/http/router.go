package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the daemon API routes.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()

	v0 := r.PathPrefix("/v0").Subrouter()
	v0.HandleFunc("/content", h.GetContent).Methods(http.MethodGet)
	v0.HandleFunc("/content", h.CacheContent).Methods(http.MethodPost)
	v0.HandleFunc("/content/history", h.GetHistory).Methods(http.MethodGet)
	v0.HandleFunc("/refresh", h.ForceRefresh).Methods(http.MethodPost)
	v0.HandleFunc("/refresh/needed", h.NeedsRefresh).Methods(http.MethodGet)
	v0.HandleFunc("/interactions", h.QueueInteraction).Methods(http.MethodPost)
	v0.HandleFunc("/sync", h.Sync).Methods(http.MethodPost)
	v0.HandleFunc("/invalidate", h.Invalidate).Methods(http.MethodPost)
	v0.HandleFunc("/diagnostics", h.Diagnostics).Methods(http.MethodGet)
	v0.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}
