package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/warden-labs/warden/internal/db"
)

func (s *sqliteClient) GetQuarantine(ctx context.Context, actorID string) (*db.QuarantineRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record := &db.QuarantineRecord{}
	err := s.db.GetContext(ctx, record,
		`SELECT actor_id, guild_id, saved_role_ids, quarantined_at, quarantined_by, reason
		 FROM quarantine_records WHERE actor_id = ?`, actorID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quarantine record for %s: %w", actorID, err)
	}
	return record, nil
}

func (s *sqliteClient) PutQuarantine(ctx context.Context, record *db.QuarantineRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO quarantine_records (actor_id, guild_id, saved_role_ids, quarantined_at, quarantined_by, reason)
		VALUES (:actor_id, :guild_id, :saved_role_ids, :quarantined_at, :quarantined_by, :reason)
		ON CONFLICT(actor_id) DO UPDATE SET
		guild_id = excluded.guild_id,
		saved_role_ids = excluded.saved_role_ids,
		quarantined_at = excluded.quarantined_at,
		quarantined_by = excluded.quarantined_by,
		reason = excluded.reason
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, record))
}

func (s *sqliteClient) DeleteQuarantine(ctx context.Context, actorID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM quarantine_records WHERE actor_id = ?`, actorID)
	return err
}

func (s *sqliteClient) AddAuditCase(ctx context.Context, auditCase *db.AuditCase) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO audit_cases (id, guild_id, actor_id, kind, reason, roles_kept, created_at)
		VALUES (:id, :guild_id, :actor_id, :kind, :reason, :roles_kept, :created_at)
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, auditCase))
}

func (s *sqliteClient) GetAuditCases(ctx context.Context, guildID string, limit int) ([]db.AuditCase, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var cases []db.AuditCase
	err := s.db.SelectContext(ctx, &cases,
		`SELECT id, guild_id, actor_id, kind, reason, roles_kept, created_at
		 FROM audit_cases WHERE guild_id = ? ORDER BY created_at DESC LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit cases for %s: %w", guildID, err)
	}
	return cases, nil
}
