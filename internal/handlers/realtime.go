package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/teamgrid-app/teamgrid/internal/api/middleware"
	"github.com/teamgrid-app/teamgrid/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers connect from the web app's origin; token auth is the
	// actual gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscribe handles GET /ws/chats/{chatID}. Membership is checked once
// at subscribe time; a removal mid-session evicts the connection.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromContext(r.Context())
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	allowed, err := h.svc.AuthorizeSubscribe(r.Context(), chatID, userID)
	if err != nil {
		h.DomainError(w, err)
		return
	}
	if !allowed {
		h.Error(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConn(userID, ws)
	h.hub.Subscribe(chatID, conn)
	h.logger.Info().
		Str("chat_id", chatID.String()).
		Str("user_id", userID.String()).
		Msg("realtime subscriber connected")

	go conn.WriteLoop()
	conn.ReadLoop(func() {
		h.hub.Unsubscribe(chatID, conn)
		h.logger.Info().
			Str("chat_id", chatID.String()).
			Str("user_id", userID.String()).
			Msg("realtime subscriber disconnected")
	})
}
