package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spa1teN/tausendsassa/internal/models"
)

const feedColumns = `id, guild_id, name, feed_url, channel_id, username, avatar_url, color,
	max_items, crosspost, embed_template, enabled, failure_count, last_success,
	created_at, updated_at`

func scanFeed(row interface{ Scan(...any) error }) (*models.Feed, error) {
	var f models.Feed
	var template []byte
	err := row.Scan(&f.ID, &f.GuildID, &f.Name, &f.FeedURL, &f.ChannelID,
		&f.Username, &f.AvatarURL, &f.Color, &f.MaxItems, &f.Crosspost,
		&template, &f.Enabled, &f.FailureCount, &f.LastSuccess,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(template) > 0 {
		if err := json.Unmarshal(template, &f.EmbedTemplate); err != nil {
			return nil, fmt.Errorf("decoding embed template for feed %s: %w", f.ID, err)
		}
	}
	return &f, nil
}

// CreateFeed inserts a feed. A duplicate (guild, name) surfaces as a domain
// conflict.
func (s *Store) CreateFeed(ctx context.Context, f *models.Feed) error {
	if f.ID.IsZero() {
		f.ID = models.NewULID()
	}
	if f.MaxItems <= 0 {
		f.MaxItems = 3
	}
	template, err := json.Marshal(f.EmbedTemplate)
	if err != nil {
		return fmt.Errorf("encoding embed template: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO feeds (id, guild_id, name, feed_url, channel_id, username, avatar_url,
		                    color, max_items, crosspost, embed_template, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true)`,
		f.ID, f.GuildID, f.Name, f.FeedURL, f.ChannelID, f.Username, f.AvatarURL,
		f.Color, f.MaxItems, f.Crosspost, template,
	)
	return wrapErr("creating feed", err)
}

// GetFeed returns one feed by id.
func (s *Store) GetFeed(ctx context.Context, id models.ULID) (*models.Feed, error) {
	f, err := scanFeed(s.pool.QueryRow(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("getting feed", err)
	}
	return f, nil
}

// ListFeedsByGuild returns all feeds of a guild ordered by name.
func (s *Store) ListFeedsByGuild(ctx context.Context, guildID int64) ([]models.Feed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE guild_id = $1 ORDER BY name`, guildID)
	if err != nil {
		return nil, wrapErr("listing feeds", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, wrapErr("scanning feed", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, wrapErr("iterating feeds", rows.Err())
}

// ListEnabledFeeds returns every enabled feed across all guilds.
func (s *Store) ListEnabledFeeds(ctx context.Context) ([]models.Feed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE enabled = true ORDER BY guild_id, name`)
	if err != nil {
		return nil, wrapErr("listing enabled feeds", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, wrapErr("scanning feed", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, wrapErr("iterating enabled feeds", rows.Err())
}

// FeedUpdate is a partial update: nil fields are left untouched.
type FeedUpdate struct {
	Name          *string
	FeedURL       *string
	ChannelID     *int64
	Username      *string
	AvatarURL     *string
	Color         *int
	MaxItems      *int
	Crosspost     *bool
	EmbedTemplate map[string]any
}

// UpdateFeed applies a partial update to a feed.
func (s *Store) UpdateFeed(ctx context.Context, id models.ULID, u FeedUpdate) error {
	var template []byte
	if u.EmbedTemplate != nil {
		var err error
		template, err = json.Marshal(u.EmbedTemplate)
		if err != nil {
			return fmt.Errorf("encoding embed template: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE feeds SET
			name           = COALESCE($2, name),
			feed_url       = COALESCE($3, feed_url),
			channel_id     = COALESCE($4, channel_id),
			username       = COALESCE($5, username),
			avatar_url     = COALESCE($6, avatar_url),
			color          = COALESCE($7, color),
			max_items      = COALESCE($8, max_items),
			crosspost      = COALESCE($9, crosspost),
			embed_template = COALESCE($10, embed_template),
			updated_at     = now()
		 WHERE id = $1`,
		id, u.Name, u.FeedURL, u.ChannelID, u.Username, u.AvatarURL,
		u.Color, u.MaxItems, u.Crosspost, template,
	)
	return wrapErr("updating feed", err)
}

// DeleteFeed removes a feed.
func (s *Store) DeleteFeed(ctx context.Context, id models.ULID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	return wrapErr("deleting feed", err)
}

// SetFeedEnabled flips the enabled flag.
func (s *Store) SetFeedEnabled(ctx context.Context, id models.ULID, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE feeds SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	return wrapErr("setting feed enabled", err)
}

// IncrementFeedFailure bumps the consecutive failure counter and returns the
// new value (I5: non-zero means the last poll failed).
func (s *Store) IncrementFeedFailure(ctx context.Context, id models.ULID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE feeds SET failure_count = failure_count + 1, updated_at = now()
		 WHERE id = $1 RETURNING failure_count`, id,
	).Scan(&count)
	if err != nil {
		return 0, wrapErr("incrementing feed failure", err)
	}
	return count, nil
}

// ResetFeedFailure clears the failure counter and stamps the last success.
func (s *Store) ResetFeedFailure(ctx context.Context, id models.ULID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE feeds SET failure_count = 0, last_success = now(), updated_at = now()
		 WHERE id = $1`, id)
	return wrapErr("resetting feed failure", err)
}
