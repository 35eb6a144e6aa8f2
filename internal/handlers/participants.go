package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/teamgrid-app/teamgrid/internal/api/middleware"
	"github.com/teamgrid-app/teamgrid/internal/models"
)

// AddParticipants handles POST /api/chats/{chatID}/participants. New
// participants always join as members; already-present users are left
// untouched.
func (h *Handler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	var req struct {
		UserIDs []uuid.UUID `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	roster, err := h.svc.AddParticipants(r.Context(), chatID, req.UserIDs, actorID)
	if err != nil {
		h.DomainError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"participants": roster})
}

// RemoveParticipant handles DELETE /api/chats/{chatID}/participants/{userID}.
func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.svc.RemoveParticipant(r.Context(), chatID, userID, actorID); err != nil {
		h.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateRole handles PUT /api/chats/{chatID}/participants/{userID}.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Role models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.UpdateRole(r.Context(), chatID, userID, req.Role, actorID); err != nil {
		h.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
