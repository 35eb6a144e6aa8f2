package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/teamgrid-app/teamgrid/internal/api/middleware"
)

// Attachment handles GET /api/chats/{chatID}/attachments/{mediaID}.
// The blob backend serves the bytes and honors Range requests, so audio
// and video attachments can be scrubbed without a full download.
func (h *Handler) Attachment(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	mediaID, err := uuid.Parse(chi.URLParam(r, "mediaID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid attachment id")
		return
	}

	media, err := h.svc.Media(r.Context(), chatID, userID, mediaID)
	if err != nil {
		h.DomainError(w, err)
		return
	}

	h.blobs.Serve(w, r, media.StorageKey, media.FileName, media.MimeType)
}
