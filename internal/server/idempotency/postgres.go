package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/dbx"
)

// PostgresStore keeps records in the idempotency_records table, with the
// fields serialized as a JSONB object.
type PostgresStore struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (map[string]string, error) {
	query :=
		`SELECT fields FROM idempotency_records
		 WHERE key = $1 AND expires_at > $2
		 `

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("select", err)
	}

	fields := map[string]string{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCorruptedRecord, err)
	}
	return fields, nil
}

// Acquire inserts the record, or replaces one that has already expired.
func (s *PostgresStore) Acquire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	if _, ok := fields[StatusField]; !ok {
		return false, errNoStatus
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return false, err
	}

	query :=
		`INSERT INTO idempotency_records (key, fields, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE
		 SET fields = EXCLUDED.fields, expires_at = EXCLUDED.expires_at
		 WHERE idempotency_records.expires_at <= $4
		 `

	now := s.now()
	res, err := s.db.ExecContext(ctx, query, key, raw, now.Add(ttl), now)
	if err != nil {
		return false, unavailable("insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("insert", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Update(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	query :=
		`INSERT INTO idempotency_records (key, fields, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE
		 SET fields = idempotency_records.fields || EXCLUDED.fields, expires_at = EXCLUDED.expires_at
		 `

	if _, err := s.db.ExecContext(ctx, query, key, raw, s.now().Add(ttl)); err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = $1`, key); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// DeleteExpired purges expired rows and returns how many were removed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, unavailable("purge", err)
	}
	return res.RowsAffected()
}
