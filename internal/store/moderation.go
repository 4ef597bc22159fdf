package store

import (
	"context"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// GetModerationConfig returns the guild's moderation settings, or an empty
// config when none are stored.
func (s *Store) GetModerationConfig(ctx context.Context, guildID int64) (*models.ModerationConfig, error) {
	var m models.ModerationConfig
	err := s.pool.QueryRow(ctx,
		`SELECT guild_id, member_log_webhook, join_role_id
		 FROM moderation_configs WHERE guild_id = $1`, guildID,
	).Scan(&m.GuildID, &m.MemberLogWebhook, &m.JoinRoleID)
	if err != nil {
		wrapped := wrapErr("getting moderation config", err)
		if IsNotFound(wrapped) {
			return &models.ModerationConfig{GuildID: guildID}, nil
		}
		return nil, wrapped
	}
	return &m, nil
}

// SetModerationConfig upserts the guild's moderation settings.
func (s *Store) SetModerationConfig(ctx context.Context, m *models.ModerationConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO moderation_configs (guild_id, member_log_webhook, join_role_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (guild_id) DO UPDATE SET
			member_log_webhook = EXCLUDED.member_log_webhook,
			join_role_id = EXCLUDED.join_role_id`,
		m.GuildID, m.MemberLogWebhook, m.JoinRoleID,
	)
	return wrapErr("setting moderation config", err)
}
