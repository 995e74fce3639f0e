package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/dbx"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectConversation = `SELECT id, type, name, creator_id, last_message_at, last_message_id
		 FROM conversations
		 WHERE id = $1 AND NOT is_deleted`

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	return r.get(ctx, selectConversation, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Conversation, error) {
	return r.get(ctx, selectConversation+"\n\t\t FOR UPDATE", id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.Conversation, error) {
	var (
		c             models.Conversation
		kind          string
		name, creator sql.NullString
		lastAt        sql.NullTime
		lastID        sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &kind, &name, &creator, &lastAt, &lastID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	c.Type = models.ConversationType(kind)
	if name.Valid {
		c.Name = &name.String
	}
	if creator.Valid {
		c.CreatorID = &creator.String
	}
	if lastAt.Valid {
		c.LastMessageAt = &lastAt.Time
	}
	if lastID.Valid {
		c.LastMessageID = &lastID.String
	}
	return &c, nil
}

func (r *PostgresRepository) UpdateLastMessage(ctx context.Context, id, messageID string, at time.Time) error {
	query :=
		`UPDATE conversations
		 SET last_message_at = $2, last_message_id = $3, updated_at = now()
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id, at, messageID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
