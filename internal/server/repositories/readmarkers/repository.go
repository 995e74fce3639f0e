package readmarkers

import (
	"context"
	"time"
)

type Repository interface {
	// Upsert sets the read marker of a participant in a conversation.
	Upsert(ctx context.Context, participantID, conversationID string, readAt time.Time) error
}
