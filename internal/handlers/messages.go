package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/teamgrid-app/teamgrid/internal/api/middleware"
	"github.com/teamgrid-app/teamgrid/internal/chat"
	"github.com/teamgrid-app/teamgrid/internal/models"
)

// multipartMemory is the in-memory threshold for multipart parsing;
// larger parts spill to temp files.
const multipartMemory = 4 << 20

// SendMessage handles POST /api/chats/{chatID}/messages. Plain text
// sends use a JSON body; sends with attachments use multipart/form-data
// with a "content" field and one or more "files" parts.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	var content string
	var attachments []chat.AttachmentUpload

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		defer r.MultipartForm.RemoveAll()

		content = r.FormValue("content")
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				h.Error(w, http.StatusBadRequest, "unreadable file part")
				return
			}
			defer f.Close()
			attachments = append(attachments, chat.AttachmentUpload{
				FileName: fh.Filename,
				MimeType: partMimeType(fh.Header.Get("Content-Type"), fh.Filename),
				Size:     fh.Size,
				Data:     f,
			})
		}
	} else {
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		content = req.Content
	}

	msg, err := h.svc.Send(r.Context(), chatID, userID, content, attachments)
	if err != nil {
		h.DomainError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// History handles GET /api/chats/{chatID}/messages with optional limit
// and cursor query parameters.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := h.svc.History(r.Context(), chatID, userID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.DomainError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

// Search handles GET /api/chats/{chatID}/messages/search?q=...
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := h.svc.Search(r.Context(), chatID, userID, r.URL.Query().Get("q"), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		h.DomainError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

// MarkDelivered handles POST /api/chats/{chatID}/messages/{messageID}/delivered.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.markStatus(w, r, h.svc.MarkDelivered)
}

// MarkRead handles POST /api/chats/{chatID}/messages/{messageID}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.markStatus(w, r, h.svc.MarkRead)
}

// markStatus is the shared body of the delivered and read endpoints.
// Repeating an already-reached status returns 200 with the unchanged
// message; a backward transition is rejected by the service with 409.
func (h *Handler) markStatus(w http.ResponseWriter, r *http.Request, mark func(ctx context.Context, chatID uuid.UUID, messageID string, actorID uuid.UUID) (*models.Message, error)) {
	userID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")
	if _, err := ulid.ParseStrict(messageID); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := mark(r.Context(), chatID, messageID, userID)
	if err != nil {
		h.DomainError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

func (h *Handler) chatID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid chat id")
		return uuid.Nil, false
	}
	return id, true
}

// partMimeType resolves a file part's MIME type, preferring the part
// header and falling back to the file extension.
func partMimeType(header, filename string) string {
	if header != "" && header != "application/octet-stream" {
		return header
	}
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		if byExt := mime.TypeByExtension(filename[idx:]); byExt != "" {
			return byExt
		}
	}
	if header != "" {
		return header
	}
	return "application/octet-stream"
}
