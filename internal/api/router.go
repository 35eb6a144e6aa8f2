// Package api assembles the HTTP surface: middleware stack, public
// endpoints and the authenticated chat API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/teamgrid-app/teamgrid/internal/api/middleware"
	"github.com/teamgrid-app/teamgrid/internal/chat"
	"github.com/teamgrid-app/teamgrid/internal/handlers"
)

// jsonBodyLimit caps JSON request bodies. Multipart sends get their own
// cap derived from the attachment limit.
const jsonBodyLimit = 1 << 20

// NewRouter builds the chi router with the full middleware stack.
func NewRouter(h *handlers.Handler, auth *middleware.AuthMiddleware, rl *middleware.RateLimiter, logger zerolog.Logger, maxAttachmentBytes int64) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Public endpoints.
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(rl.Middleware)

		r.Route("/api/chats", func(r chi.Router) {
			r.With(middleware.MaxBodySize(jsonBodyLimit)).Get("/", h.ListChats)
			r.With(middleware.MaxBodySize(jsonBodyLimit)).Post("/", h.CreateChat)

			r.Route("/{chatID}", func(r chi.Router) {
				// The attachment limit is per file, so the send body cap
				// covers a full set of maximum-size files plus form
				// overhead.
				r.With(middleware.MaxBodySize(chat.MaxAttachmentsPerMessage*maxAttachmentBytes + jsonBodyLimit)).
					Post("/messages", h.SendMessage)

				r.Group(func(r chi.Router) {
					r.Use(middleware.MaxBodySize(jsonBodyLimit))

					r.Get("/messages", h.History)
					r.Get("/messages/search", h.Search)
					r.Post("/messages/{messageID}/delivered", h.MarkDelivered)
					r.Post("/messages/{messageID}/read", h.MarkRead)

					r.Post("/participants", h.AddParticipants)
					r.Delete("/participants/{userID}", h.RemoveParticipant)
					r.Put("/participants/{userID}", h.UpdateRole)

					r.Get("/attachments/{mediaID}", h.Attachment)
				})
			})
		})

		r.Get("/ws/chats/{chatID}", h.Subscribe)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})

	return r
}
