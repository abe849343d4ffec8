package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/warden-labs/warden/internal/db"
)

func (s *sqliteClient) GetAntiNukeConfig(ctx context.Context, guildID string) (*db.AntiNukeConfigRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record := &db.AntiNukeConfigRecord{}
	err := s.db.GetContext(ctx, record,
		`SELECT guild_id, enabled, log_channel, limits FROM antinuke_config WHERE guild_id = ?`, guildID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get antinuke config for %s: %w", guildID, err)
	}
	return record, nil
}

func (s *sqliteClient) SaveAntiNukeConfig(ctx context.Context, record *db.AntiNukeConfigRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO antinuke_config (guild_id, enabled, log_channel, limits)
		VALUES (:guild_id, :enabled, :log_channel, :limits)
		ON CONFLICT(guild_id) DO UPDATE SET
		enabled = excluded.enabled,
		log_channel = excluded.log_channel,
		limits = excluded.limits
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, record))
}
