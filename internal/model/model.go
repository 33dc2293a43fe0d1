package model

import "time"

// Conversation kinds.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Message types.
const (
	TypeText  = "text"
	TypeFile  = "file"
	TypeImage = "image"
)

type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	Kind      string    `bson:"kind" json:"kind"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	CreatedBy string    `bson:"created_by" json:"created_by"`
	SchoolID  string    `bson:"school_id,omitempty" json:"school_id,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Participant is a user's membership record in a conversation. LastReadAt is
// the read watermark: nil means the user has never opened the conversation.
type Participant struct {
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	UserID         string     `bson:"user_id" json:"user_id"`
	Role           string     `bson:"role" json:"role"`
	LastReadAt     *time.Time `bson:"last_read_at,omitempty" json:"last_read_at,omitempty"`
	JoinedAt       time.Time  `bson:"joined_at" json:"joined_at"`
}

// Message is immutable once created. Content may be empty for
// pure-attachment messages.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	SenderID       string    `bson:"sender_id" json:"sender_id"`
	Content        string    `bson:"content,omitempty" json:"content,omitempty"`
	Type           string    `bson:"type" json:"type"`
	FileURL        string    `bson:"file_url,omitempty" json:"file_url,omitempty"`
	FileName       string    `bson:"file_name,omitempty" json:"file_name,omitempty"`
	FileSize       int64     `bson:"file_size,omitempty" json:"file_size,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

type Profile struct {
	ID          string `bson:"_id" json:"id"`
	DisplayName string `bson:"display_name" json:"display_name"`
	AvatarURL   string `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Role        string `bson:"role,omitempty" json:"role,omitempty"`
}

// FileMeta is the result of a successful upload.
type FileMeta struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// MessageLess orders messages by (CreatedAt, ID); the id breaks timestamp
// ties deterministically.
func MessageLess(a, b Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
