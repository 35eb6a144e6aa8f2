package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/teamgrid-app/teamgrid/internal/chaterr"
	"github.com/teamgrid-app/teamgrid/internal/models"
)

// CreateChat creates a private or group chat with its initial roster.
// Private chats take exactly one other participant and both members hold
// the owner role. Group chats require a name; the creator is the sole
// owner and everyone else joins as a member.
func (s *Service) CreateChat(ctx context.Context, creatorID, companyID uuid.UUID, kind models.ChatKind, name string, memberIDs []uuid.UUID) (*models.Chat, error) {
	members := dedupe(memberIDs, creatorID)

	var participants []models.ChatParticipant
	switch kind {
	case models.ChatPrivate:
		if len(members) != 1 {
			return nil, chaterr.Validation("private chat requires exactly one other participant")
		}
		if name != "" {
			return nil, chaterr.Validation("private chats do not have a display name")
		}
		participants = []models.ChatParticipant{
			{UserID: creatorID, Role: models.RoleOwner},
			{UserID: members[0], Role: models.RoleOwner},
		}
	case models.ChatGroup:
		if name == "" {
			return nil, chaterr.Validation("group chat requires a name")
		}
		participants = []models.ChatParticipant{{UserID: creatorID, Role: models.RoleOwner}}
		for _, id := range members {
			participants = append(participants, models.ChatParticipant{UserID: id, Role: models.RoleMember})
		}
	default:
		return nil, chaterr.Validation("unknown chat kind %q", kind)
	}

	chat := &models.Chat{Kind: kind, Name: name, CompanyID: companyID}
	if err := s.store.CreateChat(ctx, chat, participants); err != nil {
		return nil, chaterr.Storage("create chat", err)
	}
	return chat, nil
}

// IsParticipant reports chat membership. Pure lookup, no side effects.
func (s *Service) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	p, err := s.store.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return false, chaterr.Storage("load participant", err)
	}
	return p != nil, nil
}

// RoleOf returns the user's role in the chat, or "" for non-members.
func (s *Service) RoleOf(ctx context.Context, chatID, userID uuid.UUID) (models.Role, error) {
	p, err := s.store.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return "", chaterr.Storage("load participant", err)
	}
	if p == nil {
		return "", nil
	}
	return p.Role, nil
}

// AuthorizeSubscribe gates realtime channel subscriptions on membership.
// Checked once at subscribe time; removal mid-session is handled by
// eviction, not by re-checking per event.
func (s *Service) AuthorizeSubscribe(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	return s.IsParticipant(ctx, chatID, userID)
}

// AddParticipants adds users to a chat as members. Adding an existing
// participant is a no-op for that user, so concurrent retries are safe.
func (s *Service) AddParticipants(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID, actorID uuid.UUID) ([]models.ChatParticipant, error) {
	if len(userIDs) == 0 {
		return nil, chaterr.Validation("no participants given")
	}
	if err := s.requireManager(ctx, chatID, actorID); err != nil {
		return nil, err
	}

	if err := s.store.AddParticipants(ctx, chatID, dedupe(userIDs, uuid.Nil), models.RoleMember); err != nil {
		return nil, chaterr.Storage("add participants", err)
	}
	roster, err := s.store.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, chaterr.Storage("list participants", err)
	}
	return roster, nil
}

// RemoveParticipant removes a user from a chat. The owner cannot be
// removed by anyone, including themselves. The removed user's live
// subscription, if any, is closed.
func (s *Service) RemoveParticipant(ctx context.Context, chatID, userID, actorID uuid.UUID) error {
	if err := s.requireManager(ctx, chatID, actorID); err != nil {
		return err
	}

	target, err := s.store.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return chaterr.Storage("load participant", err)
	}
	if target == nil {
		return chaterr.NotFound("user %s is not a participant of chat %s", userID, chatID)
	}
	if target.Role == models.RoleOwner {
		return chaterr.Authorization("chat owner cannot be removed")
	}

	if err := s.store.RemoveParticipant(ctx, chatID, userID); err != nil {
		return chaterr.Storage("remove participant", err)
	}
	s.pub.Evict(chatID, userID)
	return nil
}

// UpdateRole changes a participant's role. Owner is never a grantable
// role here, and the current owner's role cannot be changed.
func (s *Service) UpdateRole(ctx context.Context, chatID, userID uuid.UUID, newRole models.Role, actorID uuid.UUID) error {
	switch newRole {
	case models.RoleAdmin, models.RoleMember:
	case models.RoleOwner:
		return chaterr.Authorization("ownership is not granted through role updates")
	default:
		return chaterr.Validation("unknown role %q", newRole)
	}
	if err := s.requireManager(ctx, chatID, actorID); err != nil {
		return err
	}

	target, err := s.store.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return chaterr.Storage("load participant", err)
	}
	if target == nil {
		return chaterr.NotFound("user %s is not a participant of chat %s", userID, chatID)
	}
	if target.Role == models.RoleOwner {
		return chaterr.Authorization("chat owner role cannot be changed")
	}

	if err := s.store.UpdateParticipantRole(ctx, chatID, userID, newRole); err != nil {
		return chaterr.Storage("update role", err)
	}
	return nil
}

// requireManager rejects unless the actor holds owner or admin in the
// chat.
func (s *Service) requireManager(ctx context.Context, chatID, actorID uuid.UUID) error {
	p, err := s.store.GetParticipant(ctx, chatID, actorID)
	if err != nil {
		return chaterr.Storage("load participant", err)
	}
	if p == nil || !p.Role.CanManage() {
		return chaterr.Authorization("user %s may not manage participants of chat %s", actorID, chatID)
	}
	return nil
}

// dedupe removes duplicates and the excluded id, preserving order.
func dedupe(ids []uuid.UUID, exclude uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	var out []uuid.UUID
	for _, id := range ids {
		if id == exclude || id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
