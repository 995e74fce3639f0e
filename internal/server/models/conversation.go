package models

import "time"

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

type Conversation struct {
	ID            string
	Type          ConversationType
	Name          *string
	CreatorID     *string
	LastMessageAt *time.Time
	LastMessageID *string
}

type Participant struct {
	ID             string
	ConversationID string
	UserID         string
}

type ReadMarker struct {
	ParticipantID  string
	ConversationID string
	ReadAt         time.Time
}

type User struct {
	ID       string
	UserName string
}
