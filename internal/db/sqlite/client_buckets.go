package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/warden-labs/warden/internal/db"
)

func (s *sqliteClient) GetBucket(ctx context.Context, actorID, category string) (*db.BucketRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record := &db.BucketRecord{}
	err := s.db.GetContext(ctx, record,
		`SELECT actor_id, category, hourly, daily FROM rate_buckets WHERE actor_id = ? AND category = ?`,
		actorID, category)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bucket %s/%s: %w", actorID, category, err)
	}
	return record, nil
}

func (s *sqliteClient) SaveBucket(ctx context.Context, record *db.BucketRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO rate_buckets (actor_id, category, hourly, daily)
		VALUES (:actor_id, :category, :hourly, :daily)
		ON CONFLICT(actor_id, category) DO UPDATE SET
		hourly = excluded.hourly,
		daily = excluded.daily
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, record))
}

func (s *sqliteClient) DeleteBucket(ctx context.Context, actorID, category string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_buckets WHERE actor_id = ? AND category = ?`, actorID, category)
	return err
}
