package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/teamgrid-app/teamgrid/internal/chaterr"
	"github.com/teamgrid-app/teamgrid/internal/models"
	"github.com/teamgrid-app/teamgrid/internal/store"
)

const (
	// DefaultPageSize is used when the caller does not pass a limit.
	DefaultPageSize = 20
	// MaxPageSize clamps caller-supplied limits.
	MaxPageSize = 100
)

// Page is one backward page of a chat's timeline, newest first.
// NextCursor points at the oldest message of this page and fetches the
// next older page when passed back.
type Page struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

// SearchPage is a Page plus the total number of matches across the whole
// chat.
type SearchPage struct {
	Page
	TotalCount int `json:"total_count"`
}

// History returns one page of a chat's message timeline. Side-effect
// free: nothing is marked read. cursor is the opaque value from a
// previous page; empty means the most recent page.
func (s *Service) History(ctx context.Context, chatID, userID uuid.UUID, limit int, cursor string) (*Page, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	before, err := store.ParseCursor(cursor)
	if err != nil {
		return nil, chaterr.Validation("invalid cursor: %v", err)
	}

	msgs, hasMore, err := s.store.ListMessages(ctx, chatID, clampLimit(limit), before)
	if err != nil {
		return nil, chaterr.Storage("list messages", err)
	}
	return buildPage(msgs, hasMore), nil
}

// Search pages through messages whose content contains the query,
// case-insensitively, with the same cursor contract as History.
func (s *Service) Search(ctx context.Context, chatID, userID uuid.UUID, query string, limit int, cursor string) (*SearchPage, error) {
	if query == "" {
		return nil, chaterr.Validation("search query is required")
	}
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	before, err := store.ParseCursor(cursor)
	if err != nil {
		return nil, chaterr.Validation("invalid cursor: %v", err)
	}

	msgs, total, hasMore, err := s.store.SearchMessages(ctx, chatID, query, clampLimit(limit), before)
	if err != nil {
		return nil, chaterr.Storage("search messages", err)
	}
	return &SearchPage{Page: *buildPage(msgs, hasMore), TotalCount: total}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func buildPage(msgs []models.Message, hasMore bool) *Page {
	page := &Page{Messages: msgs, HasMore: hasMore}
	if len(msgs) > 0 {
		// Messages are newest first; the cursor anchors at the oldest.
		oldest := msgs[len(msgs)-1]
		page.NextCursor = store.CursorFor(&oldest).String()
	}
	return page
}
