// Package chat is the realtime messaging core: conversation listing with
// derived unread counts, per-conversation message streaming, presence and
// typing indicators, reconciled over a persistence gateway and a push
// transport.
package chat

import "github.com/edulink/messaging/internal/model"

// ParticipantView pairs a membership row with its resolved profile; Profile
// is nil when the user has no profile row.
type ParticipantView struct {
	model.Participant
	Profile *model.Profile `json:"profile,omitempty"`
}

// ConversationView is a conversation enriched for the list screen.
type ConversationView struct {
	model.Conversation
	Participants []ParticipantView `json:"participants"`
	LastMessage  *model.Message    `json:"last_message,omitempty"`
	Unread       int               `json:"unread"`
}

type MessageView struct {
	model.Message
	Sender *model.Profile `json:"sender,omitempty"`
}

// Channel naming: one row-event channel and one typing presence channel per
// conversation, one shared online-presence channel per deployment.
const onlineChannel = "online-users"

func messagesChannel(convID string) string { return "messages:" + convID }
func typingChannel(convID string) string   { return "typing:" + convID }
