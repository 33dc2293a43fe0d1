package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/model"
	"github.com/edulink/messaging/internal/store"
)

// ConversationStore fetches and enriches the signed-in user's conversation
// list: participants with profiles, last message, derived unread count.
// Read-only; any failed read aborts the whole aggregation so the caller
// keeps its last known good list.
type ConversationStore struct {
	gw  store.Gateway
	log *zap.SugaredLogger
}

func NewConversationStore(gw store.Gateway, log *zap.SugaredLogger) *ConversationStore {
	return &ConversationStore{gw: gw, log: log}
}

func (c *ConversationStore) Fetch(ctx context.Context, userID string) ([]ConversationView, error) {
	mine, err := c.gw.ParticipantsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(mine) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(mine))
	myRow := make(map[string]model.Participant, len(mine))
	for _, p := range mine {
		ids = append(ids, p.ConversationID)
		myRow[p.ConversationID] = p
	}

	convs, err := c.gw.ConversationsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	parts, err := c.gw.ParticipantsIn(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	byConv := make(map[string][]model.Participant)
	seen := make(map[string]bool)
	var userIDs []string
	for _, p := range parts {
		byConv[p.ConversationID] = append(byConv[p.ConversationID], p)
		if !seen[p.UserID] {
			seen[p.UserID] = true
			userIDs = append(userIDs, p.UserID)
		}
	}

	profiles, err := c.gw.ProfilesByID(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	profileOf := make(map[string]*model.Profile, len(profiles))
	for i := range profiles {
		profileOf[profiles[i].ID] = &profiles[i]
	}

	// One last-message fetch plus, on the exact-count branch, one count per
	// conversation. Scales linearly with list size.
	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		last, err := c.gw.LastMessage(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("last message of %s: %w", conv.ID, err)
		}
		me := myRow[conv.ID]
		unread, err := c.unread(ctx, conv.ID, userID, me.LastReadAt, last)
		if err != nil {
			return nil, fmt.Errorf("unread of %s: %w", conv.ID, err)
		}

		pvs := make([]ParticipantView, 0, len(byConv[conv.ID]))
		for _, p := range byConv[conv.ID] {
			pvs = append(pvs, ParticipantView{Participant: p, Profile: profileOf[p.UserID]})
		}
		views = append(views, ConversationView{
			Conversation: conv,
			Participants: pvs,
			LastMessage:  last,
			Unread:       unread,
		})
	}
	return views, nil
}

// unread derives the badge count. A nil watermark with at least one message
// yields the sentinel 1 ("has unread"), not an exact count; changing that
// would change observable badge behavior.
func (c *ConversationStore) unread(ctx context.Context, convID, userID string, lastRead *time.Time, last *model.Message) (int, error) {
	if lastRead == nil {
		if last != nil {
			return 1, nil
		}
		return 0, nil
	}
	return c.gw.CountUnread(ctx, convID, *lastRead, userID)
}
