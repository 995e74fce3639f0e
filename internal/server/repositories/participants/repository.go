package participants

import "context"

type Repository interface {
	// FindID returns the participant id of userID in conversationID,
	// or common.ErrorNotFound.
	FindID(ctx context.Context, conversationID, userID string) (string, error)
}
