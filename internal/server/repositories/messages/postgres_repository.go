package messages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/mediarelay/internal/dbx"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts msg. ID and SentAt must be set by the caller.
func (r *PostgresRepository) Create(ctx context.Context, msg *models.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	query :=
		`INSERT INTO messages (id, conversation_id, sender_id, sender_type, content, reply_to_message_id, sent_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 `

	_, err = r.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.SenderType), content, msg.ReplyToMessageID, msg.SentAt)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	msg.UpdatedAt = msg.SentAt
	return nil
}

func (r *PostgresRepository) ExistsInConversation(ctx context.Context, messageID, conversationID string) (bool, error) {
	query :=
		`SELECT EXISTS (
		   SELECT 1 FROM messages
		   WHERE id = $1 AND conversation_id = $2 AND NOT is_deleted
		 )
		 `

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, messageID, conversationID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}
