package models

import (
	"encoding/json"
	"time"
)

type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderSystem SenderType = "system"
)

// MessageContent is stored as a JSON document in messages.content.
type MessageContent struct {
	Text               string          `json:"text,omitempty"`
	Attachment         string          `json:"attachment,omitempty"`
	AttachmentType     string          `json:"attachment_type,omitempty"`
	AttachmentMetadata json.RawMessage `json:"attachment_metadata,omitempty"`
	VoiceNote          string          `json:"voice_note,omitempty"`
	SystemMessage      bool            `json:"system_message,omitempty"`
	Type               string          `json:"type,omitempty"`
}

type Message struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	SenderID         *string        `json:"sender_id"`
	SenderType       SenderType     `json:"sender_type"`
	Content          MessageContent `json:"content"`
	ReplyToMessageID *string        `json:"reply_to_message_id"`
	IsDeleted        bool           `json:"is_deleted"`
	IsEdited         bool           `json:"is_edited"`
	SentAt           time.Time      `json:"sent_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
