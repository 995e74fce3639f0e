package conversations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/server/models"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	// GetForUpdate locks the conversation row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Conversation, error)
	UpdateLastMessage(ctx context.Context, id, messageID string, at time.Time) error
}
