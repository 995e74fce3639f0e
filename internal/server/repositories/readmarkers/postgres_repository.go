package readmarkers

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, participantID, conversationID string, readAt time.Time) error {
	query :=
		`INSERT INTO conversations_read_status (participant_id, conversation_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (participant_id, conversation_id)
		 DO UPDATE SET read_at = EXCLUDED.read_at
		 `

	if _, err := r.db.ExecContext(ctx, query, participantID, conversationID, readAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
