package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/teamgrid-app/teamgrid/internal/blob"
	"github.com/teamgrid-app/teamgrid/internal/chat"
	"github.com/teamgrid-app/teamgrid/internal/chaterr"
	"github.com/teamgrid-app/teamgrid/internal/realtime"
	"github.com/teamgrid-app/teamgrid/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *chat.Service
	hub    *realtime.Hub
	blobs  blob.Store
	db     store.ChatStore
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies. redis may
// be nil.
func NewHandler(svc *chat.Service, hub *realtime.Hub, blobs blob.Store, db store.ChatStore, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		hub:    hub,
		blobs:  blobs,
		db:     db,
		redis:  redis,
		logger: logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DomainError maps a service error onto its HTTP envelope. Storage and
// channel errors keep their details in the log, not the response.
func (h *Handler) DomainError(w http.ResponseWriter, err error) {
	status := chaterr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("internal error")
		h.Error(w, status, "internal error")
		return
	}
	h.Error(w, status, err.Error())
}
