package store

import (
	"context"
	"time"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// CreateMonitorMessage registers a self-refreshing status message. A second
// monitor of the same type in the same channel is a domain conflict.
func (s *Store) CreateMonitorMessage(ctx context.Context, m *models.MonitorMessage) error {
	if m.ID.IsZero() {
		m.ID = models.NewULID()
	}
	if m.RefreshSeconds <= 0 {
		m.RefreshSeconds = 300
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO monitor_messages (id, guild_id, channel_id, message_id, monitor_type, refresh_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.GuildID, m.ChannelID, m.MessageID, m.MonitorType, m.RefreshSeconds,
	)
	return wrapErr("creating monitor message", err)
}

// ListDueMonitorMessages returns monitors whose refresh interval has elapsed.
func (s *Store) ListDueMonitorMessages(ctx context.Context) ([]models.MonitorMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, guild_id, channel_id, message_id, monitor_type, refresh_seconds, last_update, created_at
		 FROM monitor_messages
		 WHERE last_update + (refresh_seconds * INTERVAL '1 second') <= now()
		 ORDER BY last_update`)
	if err != nil {
		return nil, wrapErr("listing due monitor messages", err)
	}
	defer rows.Close()

	var monitors []models.MonitorMessage
	for rows.Next() {
		var m models.MonitorMessage
		if err := rows.Scan(&m.ID, &m.GuildID, &m.ChannelID, &m.MessageID, &m.MonitorType,
			&m.RefreshSeconds, &m.LastUpdate, &m.CreatedAt); err != nil {
			return nil, wrapErr("scanning monitor message", err)
		}
		monitors = append(monitors, m)
	}
	return monitors, wrapErr("iterating monitor messages", rows.Err())
}

// TouchMonitorMessage stamps a successful refresh.
func (s *Store) TouchMonitorMessage(ctx context.Context, id models.ULID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE monitor_messages SET last_update = $2 WHERE id = $1`, id, at)
	return wrapErr("touching monitor message", err)
}

// DeleteMonitorMessage removes a monitor (e.g. after its message vanished).
func (s *Store) DeleteMonitorMessage(ctx context.Context, id models.ULID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM monitor_messages WHERE id = $1`, id)
	return wrapErr("deleting monitor message", err)
}

// GuildStats returns the usage counts a server monitor displays.
func (s *Store) GuildStats(ctx context.Context, guildID int64) (*models.GuildStats, error) {
	var stats models.GuildStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM feeds WHERE guild_id = $1),
			(SELECT COUNT(*) FROM calendars WHERE guild_id = $1),
			(SELECT COUNT(*) FROM map_pins WHERE guild_id = $1),
			(SELECT COUNT(*) FROM posted_entries WHERE guild_id = $1 AND posted_at > now() - INTERVAL '7 days')`,
		guildID,
	).Scan(&stats.Feeds, &stats.Calendars, &stats.Pins, &stats.Entries)
	if err != nil {
		return nil, wrapErr("loading guild stats", err)
	}
	return &stats, nil
}
