package store

import (
	"context"
	"time"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// UpsertGuild creates the guild on first observation or refreshes its name.
// The timezone is only written on insert so a configured value survives.
func (s *Store) UpsertGuild(ctx context.Context, id int64, name, timezone string) error {
	if timezone == "" {
		timezone = models.DefaultTimezone
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO guilds (id, name, timezone, joined_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`,
		id, name, timezone,
	)
	return wrapErr("upserting guild", err)
}

// GetGuild returns one guild by id.
func (s *Store) GetGuild(ctx context.Context, id int64) (*models.Guild, error) {
	var g models.Guild
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, timezone, joined_at, created_at, updated_at
		 FROM guilds WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Timezone, &g.JoinedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, wrapErr("getting guild", err)
	}
	return &g, nil
}

// ListGuilds returns all known guilds ordered by join time.
func (s *Store) ListGuilds(ctx context.Context) ([]models.Guild, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, timezone, joined_at, created_at, updated_at
		 FROM guilds ORDER BY joined_at`)
	if err != nil {
		return nil, wrapErr("listing guilds", err)
	}
	defer rows.Close()

	var guilds []models.Guild
	for rows.Next() {
		var g models.Guild
		if err := rows.Scan(&g.ID, &g.Name, &g.Timezone, &g.JoinedAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, wrapErr("scanning guild", err)
		}
		guilds = append(guilds, g)
	}
	return guilds, wrapErr("iterating guilds", rows.Err())
}

// SetGuildTimezone updates a guild's IANA timezone.
func (s *Store) SetGuildTimezone(ctx context.Context, id int64, timezone string) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return wrapErr("setting guild timezone", err)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE guilds SET timezone = $2, updated_at = now() WHERE id = $1`,
		id, timezone,
	)
	return wrapErr("setting guild timezone", err)
}

// DeleteGuild removes a guild and, via foreign keys, all of its feeds,
// calendars, pins, and caches.
func (s *Store) DeleteGuild(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM guilds WHERE id = $1`, id)
	return wrapErr("deleting guild", err)
}

// GuildLocation loads the guild's timezone, falling back to the default when
// the guild is unknown.
func (s *Store) GuildLocation(ctx context.Context, id int64) *time.Location {
	g, err := s.GetGuild(ctx, id)
	if err != nil {
		loc, _ := time.LoadLocation(models.DefaultTimezone)
		if loc == nil {
			return time.UTC
		}
		return loc
	}
	return g.Location()
}
