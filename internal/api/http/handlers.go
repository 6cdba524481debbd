// Package http exposes the coordinator surface over the daemon's local API.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/beewell/todayfeed/internal/api/respond"
	"github.com/beewell/todayfeed/internal/coordinator"
	"github.com/beewell/todayfeed/internal/model"
	"github.com/beewell/todayfeed/internal/syncqueue"
)

// Handlers binds the coordinator to the HTTP surface.
type Handlers struct {
	co     *coordinator.Coordinator
	health interface{ IsHealthy() bool }
}

func NewHandlers(co *coordinator.Coordinator, health interface{ IsHealthy() bool }) *Handlers {
	return &Handlers{co: co, health: health}
}

type contentResponse struct {
	Item     *model.ContentItem `json:"item"`
	Fallback model.FallbackKind `json:"fallback"`
}

// GetContent handles GET /v0/content?allowStale=true
func (h *Handlers) GetContent(w http.ResponseWriter, r *http.Request) {
	allowStale := r.URL.Query().Get("allowStale") == "true"
	item, kind, err := h.co.GetContent(r.Context(), allowStale)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, contentResponse{Item: item, Fallback: kind})
}

// GetHistory handles GET /v0/content/history[?date=YYYY-MM-DD]
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	if date := r.URL.Query().Get("date"); date != "" {
		item, err := h.co.Store().HistoryItem(r.Context(), date)
		if err != nil {
			writeCoordinatorError(w, err)
			return
		}
		if item == nil {
			respond.WriteError(w, http.StatusNotFound, "no history entry for "+date)
			return
		}
		respond.WriteJSON(w, http.StatusOK, item)
		return
	}
	items, err := h.co.GetHistory(r.Context())
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, items)
}

type cacheContentRequest struct {
	Item          model.ContentItem `json:"item"`
	IsFromNetwork bool              `json:"isFromNetwork"`
}

// CacheContent handles POST /v0/content
func (h *Handlers) CacheContent(w http.ResponseWriter, r *http.Request) {
	var req cacheContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := h.co.CacheContent(r.Context(), req.Item, req.IsFromNetwork); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]string{"status": "cached"})
}

// ForceRefresh handles POST /v0/refresh
func (h *Handlers) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.co.ForceRefresh(r.Context()); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// NeedsRefresh handles GET /v0/refresh/needed
func (h *Handlers) NeedsRefresh(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"needsRefresh": h.co.NeedsRefresh(r.Context())})
}

// QueueInteraction handles POST /v0/interactions
func (h *Handlers) QueueInteraction(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil || len(payload) == 0 || !json.Valid(payload) {
		respond.WriteBadRequest(w, "body must be a JSON payload")
		return
	}
	item, err := h.co.QueueInteraction(r.Context(), payload)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, item)
}

// Sync handles POST /v0/sync
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	rep, err := h.co.SyncPendingUpdates(r.Context())
	if err != nil {
		if errors.Is(err, syncqueue.ErrSyncInProgress) {
			respond.WriteConflict(w, "replay already in progress")
			return
		}
		writeCoordinatorError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, rep)
}

type invalidateRequest struct {
	Reason string `json:"reason"`
}

// Invalidate handles POST /v0/invalidate
func (h *Handlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		respond.WriteBadRequest(w, "reason is required")
		return
	}
	if err := h.co.InvalidateCache(r.Context(), req.Reason); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Diagnostics handles GET /v0/diagnostics
func (h *Handlers) Diagnostics(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, h.co.Diagnostics(r.Context()))
}

// Health handles GET /v0/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && !h.health.IsHealthy() {
		respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrValidation):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, coordinator.ErrNotInitialized), errors.Is(err, coordinator.ErrDisposed):
		respond.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}
