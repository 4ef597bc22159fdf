package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// GetFeedHTTPCache returns the conditional-request validators for a feed URL,
// or nil when none are stored. Cache entries are advisory (I6): a read error
// degrades to a full fetch instead of failing the poll.
func (s *Store) GetFeedHTTPCache(ctx context.Context, url string) (*models.FeedHTTPCache, error) {
	var c models.FeedHTTPCache
	err := s.pool.QueryRow(ctx,
		`SELECT url, etag, last_modified, content_hash, last_check
		 FROM feed_http_cache WHERE url = $1`, url,
	).Scan(&c.URL, &c.ETag, &c.LastModified, &c.ContentHash, &c.LastCheck)
	if err != nil {
		wrapped := wrapErr("getting feed http cache", err)
		if IsNotFound(wrapped) {
			return nil, nil
		}
		return nil, wrapped
	}
	return &c, nil
}

// SetFeedHTTPCache stores new validators and full-feed hash for a URL.
func (s *Store) SetFeedHTTPCache(ctx context.Context, c *models.FeedHTTPCache) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feed_http_cache (url, etag, last_modified, content_hash, last_check)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (url) DO UPDATE SET
			etag = EXCLUDED.etag, last_modified = EXCLUDED.last_modified,
			content_hash = EXCLUDED.content_hash, last_check = now()`,
		c.URL, c.ETag, c.LastModified, c.ContentHash,
	)
	return wrapErr("setting feed http cache", err)
}

// CleanupFeedHTTPCache drops cache entries not touched for the given number
// of days. Rebuildable, so aggressive sweeping is safe.
func (s *Store) CleanupFeedHTTPCache(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM feed_http_cache WHERE last_check < $1`, cutoff)
	if err != nil {
		return 0, wrapErr("cleaning up feed http cache", err)
	}
	return tag.RowsAffected(), nil
}

// GetEntryHash returns the stored content fingerprint for a posted GUID, or
// "" when the entry is unknown.
func (s *Store) GetEntryHash(ctx context.Context, guildID int64, guid string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT content_hash FROM posted_entries WHERE guild_id = $1 AND guid = $2`,
		guildID, guid,
	).Scan(&hash)
	if err != nil {
		wrapped := wrapErr("getting entry hash", err)
		if IsNotFound(wrapped) {
			return "", nil
		}
		return "", wrapped
	}
	return hash, nil
}

// BulkSetEntryHashes updates the fingerprints of many posted GUIDs in one
// round trip.
func (s *Store) BulkSetEntryHashes(ctx context.Context, guildID int64, hashes map[string]string) error {
	if len(hashes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for guid, hash := range hashes {
		batch.Queue(
			`UPDATE posted_entries SET content_hash = $3 WHERE guild_id = $1 AND guid = $2`,
			guildID, guid, hash)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range hashes {
		if _, err := results.Exec(); err != nil {
			return wrapErr("bulk setting entry hashes", err)
		}
	}
	return nil
}

// --- Webhook cache ---

// GetWebhookCache returns the cached webhook for a channel, or nil.
func (s *Store) GetWebhookCache(ctx context.Context, channelID int64) (*models.WebhookCache, error) {
	var w models.WebhookCache
	err := s.pool.QueryRow(ctx,
		`SELECT channel_id, webhook_id, webhook_token, webhook_name, created_at
		 FROM webhook_cache WHERE channel_id = $1`, channelID,
	).Scan(&w.ChannelID, &w.WebhookID, &w.WebhookToken, &w.WebhookName, &w.CreatedAt)
	if err != nil {
		wrapped := wrapErr("getting webhook cache", err)
		if IsNotFound(wrapped) {
			return nil, nil
		}
		return nil, wrapped
	}
	return &w, nil
}

// SetWebhookCache stores a channel webhook.
func (s *Store) SetWebhookCache(ctx context.Context, w *models.WebhookCache) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_cache (channel_id, webhook_id, webhook_token, webhook_name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (channel_id) DO UPDATE SET
			webhook_id = EXCLUDED.webhook_id, webhook_token = EXCLUDED.webhook_token,
			webhook_name = EXCLUDED.webhook_name`,
		w.ChannelID, w.WebhookID, w.WebhookToken, w.WebhookName,
	)
	return wrapErr("setting webhook cache", err)
}

// DeleteWebhookCache forgets a channel webhook (e.g. after a 404 on execute).
func (s *Store) DeleteWebhookCache(ctx context.Context, channelID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_cache WHERE channel_id = $1`, channelID)
	return wrapErr("deleting webhook cache", err)
}
