package chat

import (
	"time"

	"github.com/loomchat/loomchat/internal/ai"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Chat ids are client-supplied and act as the idempotency key: a chat is
// created at most once per id.
type Chat struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string     `gorm:"type:varchar(26);index;not null" json:"user_id"`
	Title       string     `gorm:"type:varchar(256);not null" json:"title"`
	Visibility  Visibility `gorm:"type:varchar(16);not null;default:private" json:"visibility"`
	LastContext *ai.Usage  `gorm:"serializer:json;type:json" json:"last_context,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// Message rows are immutable once persisted. Seq is assigned at append
// time and defines creation order within a chat; the client-visible ID is
// a UUID.
type Message struct {
	Seq         uint64       `gorm:"primaryKey;autoIncrement" json:"-"`
	ID          string       `gorm:"type:varchar(36);uniqueIndex;not null" json:"id"`
	ChatID      string       `gorm:"type:varchar(36);index;not null" json:"chat_id"`
	Role        string       `gorm:"type:varchar(16);index;not null" json:"role"`
	Parts       []ai.Part    `gorm:"serializer:json;type:json" json:"parts"`
	Attachments []Attachment `gorm:"serializer:json;type:json" json:"attachments"`
	CreatedAt   time.Time    `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// StreamRecord maps a durable stream id to the generation turn it belongs
// to, purely for resumption lookup.
type StreamRecord struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);index;not null" json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (StreamRecord) TableName() string { return "chat_streams" }
