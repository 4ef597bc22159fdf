package store

import (
	"context"
	"time"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// IsEntryPosted reports whether the GUID was already emitted for this guild.
func (s *Store) IsEntryPosted(ctx context.Context, guildID int64, guid string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posted_entries WHERE guild_id = $1 AND guid = $2)`,
		guildID, guid,
	).Scan(&exists)
	if err != nil {
		return false, wrapErr("checking posted entry", err)
	}
	return exists, nil
}

// MarkEntryPosted records an emitted entry. Message/channel ids may be nil for
// webhook posts where no message id is available. Re-marking an existing GUID
// refreshes the hash and artifact location.
func (s *Store) MarkEntryPosted(ctx context.Context, guildID int64, guid string, messageID, channelID *int64, contentHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posted_entries (guild_id, guid, message_id, channel_id, content_hash, posted_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (guild_id, guid) DO UPDATE SET
			message_id   = COALESCE(EXCLUDED.message_id, posted_entries.message_id),
			channel_id   = COALESCE(EXCLUDED.channel_id, posted_entries.channel_id),
			content_hash = EXCLUDED.content_hash`,
		guildID, guid, messageID, channelID, contentHash,
	)
	return wrapErr("marking entry posted", err)
}

// GetPostedEntry returns the dedup record for a GUID, including the artifact
// location needed for edit-in-place.
func (s *Store) GetPostedEntry(ctx context.Context, guildID int64, guid string) (*models.PostedEntry, error) {
	var e models.PostedEntry
	err := s.pool.QueryRow(ctx,
		`SELECT guild_id, guid, message_id, channel_id, content_hash, posted_at
		 FROM posted_entries WHERE guild_id = $1 AND guid = $2`,
		guildID, guid,
	).Scan(&e.GuildID, &e.GUID, &e.MessageID, &e.ChannelID, &e.ContentHash, &e.PostedAt)
	if err != nil {
		return nil, wrapErr("getting posted entry", err)
	}
	return &e, nil
}

// UpdateEntryHash stores the new content fingerprint after an edit.
func (s *Store) UpdateEntryHash(ctx context.Context, guildID int64, guid, contentHash string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE posted_entries SET content_hash = $3 WHERE guild_id = $1 AND guid = $2`,
		guildID, guid, contentHash,
	)
	return wrapErr("updating entry hash", err)
}

// CleanupPostedEntries removes dedup records older than the given number of
// days and returns how many were removed.
func (s *Store) CleanupPostedEntries(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM posted_entries WHERE posted_at < $1`, cutoff)
	if err != nil {
		return 0, wrapErr("cleaning up posted entries", err)
	}
	return tag.RowsAffected(), nil
}
