package messages

import (
	"context"

	"github.com/dmitrijs2005/mediarelay/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, msg *models.Message) error
	ExistsInConversation(ctx context.Context, messageID, conversationID string) (bool, error)
}
