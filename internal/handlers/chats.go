package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/teamgrid-app/teamgrid/internal/api/middleware"
	"github.com/teamgrid-app/teamgrid/internal/models"
)

// CreateChatRequest is the body of POST /api/chats.
type CreateChatRequest struct {
	Kind      models.ChatKind `json:"kind"`
	Name      string          `json:"name,omitempty"`
	CompanyID uuid.UUID       `json:"company_id"`
	MemberIDs []uuid.UUID     `json:"member_ids"`
}

// CreateChat handles POST /api/chats.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromContext(r.Context())

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CompanyID == uuid.Nil {
		h.Error(w, http.StatusBadRequest, "company_id is required")
		return
	}

	chat, err := h.svc.CreateChat(r.Context(), userID, req.CompanyID, req.Kind, req.Name, req.MemberIDs)
	if err != nil {
		h.DomainError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, chat)
}

// ListChats handles GET /api/chats. Chats come back with their newest
// message and the caller's unread count.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromContext(r.Context())

	summaries, err := h.svc.ListChats(r.Context(), userID)
	if err != nil {
		h.DomainError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"chats": summaries})
}
