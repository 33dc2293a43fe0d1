// Package store defines the persistence gateway consumed by the messaging
// core. It covers four tables: conversations, conversation_participants,
// messages, profiles.
package store

import (
	"context"
	"time"

	"github.com/edulink/messaging/internal/model"
)

type Gateway interface {
	// ParticipantsOf lists userID's membership rows across all conversations.
	ParticipantsOf(ctx context.Context, userID string) ([]model.Participant, error)

	// ParticipantsIn lists every membership row of the given conversations.
	ParticipantsIn(ctx context.Context, convIDs []string) ([]model.Participant, error)

	// ConversationsByID returns the conversations, newest UpdatedAt first.
	ConversationsByID(ctx context.Context, ids []string) ([]model.Conversation, error)

	// ProfilesByID returns the profiles for the given user ids; missing
	// profiles are skipped, not an error.
	ProfilesByID(ctx context.Context, ids []string) ([]model.Profile, error)

	// LastMessage returns the most recent message of the conversation, or
	// nil when it has none.
	LastMessage(ctx context.Context, convID string) (*model.Message, error)

	// MessagesAsc returns all messages of the conversation ordered
	// ascending by (created_at, id).
	MessagesAsc(ctx context.Context, convID string) ([]model.Message, error)

	// CountUnread counts messages in convID created strictly after `after`
	// whose sender is not excludeSender.
	CountUnread(ctx context.Context, convID string, after time.Time, excludeSender string) (int, error)

	InsertConversation(ctx context.Context, c model.Conversation) error
	InsertParticipants(ctx context.Context, ps []model.Participant) error
	InsertMessage(ctx context.Context, m model.Message) error

	// SetLastRead moves the (convID, userID) watermark to at. The watermark
	// is monotonic: an older timestamp never overwrites a newer one.
	SetLastRead(ctx context.Context, convID, userID string, at time.Time) error

	// TouchConversation bumps the conversation's UpdatedAt; the list sort key.
	TouchConversation(ctx context.Context, convID string, at time.Time) error

	// FindPrivateConversation looks up the private conversation between the
	// unordered pair (userA, userB); returns nil when none exists.
	FindPrivateConversation(ctx context.Context, userA, userB string) (*model.Conversation, error)
}
