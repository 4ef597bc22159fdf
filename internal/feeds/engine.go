// Package feeds implements the RSS/Atom ingestion pipeline: conditional
// fetching through the shared pool, per-entry fingerprinting, dedup against
// the posted-entry store, edit-in-place on content change, and auto-disable
// after consecutive terminal failures.
package feeds

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/events"
	"github.com/spa1teN/tausendsassa/internal/faults"
	"github.com/spa1teN/tausendsassa/internal/httpfetch"
	"github.com/spa1teN/tausendsassa/internal/metrics"
	"github.com/spa1teN/tausendsassa/internal/models"
	"github.com/spa1teN/tausendsassa/internal/retry"
)

// recentUpdateWindow bounds the recent-updates pass: only entries newer than
// this are re-examined when the feed is globally unchanged.
const recentUpdateWindow = 24 * time.Hour

// recentUpdateCount is how many of the newest entries the pass looks at.
const recentUpdateCount = 5

// pollConcurrency bounds how many feeds one cycle polls in parallel.
const pollConcurrency = 4

// Store is the slice of the persistent store the feed engine uses.
type Store interface {
	ListEnabledFeeds(ctx context.Context) ([]models.Feed, error)
	GetGuild(ctx context.Context, id int64) (*models.Guild, error)
	GetPostedEntry(ctx context.Context, guildID int64, guid string) (*models.PostedEntry, error)
	MarkEntryPosted(ctx context.Context, guildID int64, guid string, messageID, channelID *int64, contentHash string) error
	UpdateEntryHash(ctx context.Context, guildID int64, guid, contentHash string) error
	IncrementFeedFailure(ctx context.Context, id models.ULID) (int, error)
	ResetFeedFailure(ctx context.Context, id models.ULID) error
	SetFeedEnabled(ctx context.Context, id models.ULID, enabled bool) error
	GetWebhookCache(ctx context.Context, channelID int64) (*models.WebhookCache, error)
	SetWebhookCache(ctx context.Context, w *models.WebhookCache) error
}

// Fetcher is the slice of the HTTP fetcher the feed engine uses.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*httpfetch.Result, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// WebhookPoster posts and edits identity messages through channel webhooks.
type WebhookPoster interface {
	PostForMessage(ctx context.Context, url string, payload chat.WebhookPayload) (int64, error)
	EditMessage(ctx context.Context, url string, messageID int64, payload chat.WebhookPayload) error
}

// Config carries the engine's tunables from the process configuration.
type Config struct {
	MaxPostAge       time.Duration
	FailureThreshold int
}

// Engine drives the feed pipeline. One Engine serves all guilds.
type Engine struct {
	store    Store
	fetcher  Fetcher
	retry    *retry.Fabric
	surface  chat.Surface
	webhooks WebhookPoster
	bus      *events.Bus
	logger   *slog.Logger
	cfg      Config
}

// New creates the feed engine.
func New(store Store, fetcher Fetcher, fabric *retry.Fabric, surface chat.Surface, webhooks WebhookPoster, bus *events.Bus, logger *slog.Logger, cfg Config) *Engine {
	if cfg.MaxPostAge <= 0 {
		cfg.MaxPostAge = 24 * time.Hour
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &Engine{
		store:    store,
		fetcher:  fetcher,
		retry:    fabric,
		surface:  surface,
		webhooks: webhooks,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
	}
}

// PollAll polls every enabled feed. Feeds run in a bounded worker group; a
// failing feed never affects the others (P5).
func (e *Engine) PollAll(ctx context.Context) error {
	feedList, err := e.store.ListEnabledFeeds(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled feeds: %w", err)
	}
	metrics.Global.FeedPollsTotal.Add(1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)

	for _, feed := range feedList {
		feed := feed
		g.Go(func() error {
			if err := e.PollFeed(ctx, feed); err != nil {
				e.logger.Error("feed poll failed",
					slog.String("feed", feed.Name),
					slog.Int64("guild_id", feed.GuildID),
					slog.String("kind", faults.KindOf(err).String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// PollFeed runs one poll cycle for a single feed.
func (e *Engine) PollFeed(ctx context.Context, feed models.Feed) error {
	opID := "poll_feed:" + feed.ID.String()

	var res *httpfetch.Result
	err := e.retry.Execute(ctx, opID, func(ctx context.Context) error {
		r, err := e.fetcher.Fetch(ctx, feed.FeedURL)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return e.recordFailure(ctx, feed, err)
	}

	if res.Status == httpfetch.StatusNotModified {
		// 304 leaves no body to re-examine; the recent-updates pass needs
		// entries, so it only runs on hash-matched 200s.
		return e.recordSuccess(ctx, feed)
	}

	entries, err := parseFeed(res.Body)
	if err != nil {
		return e.recordFailure(ctx, feed,
			faults.New(faults.KindPermanentSource, "parsing feed "+feed.Name, err))
	}

	guild, err := e.store.GetGuild(ctx, feed.GuildID)
	if err != nil {
		return fmt.Errorf("loading guild %d: %w", feed.GuildID, err)
	}
	loc := guild.Location()

	if res.Status == httpfetch.StatusUnchanged {
		e.checkRecentUpdates(ctx, feed, entries, loc)
		return e.recordSuccess(ctx, feed)
	}

	e.processEntries(ctx, feed, entries, loc)
	return e.recordSuccess(ctx, feed)
}

// processEntries walks the first max_items entries in feed order: new entries
// are posted (unless stale), changed entries are edited in place.
func (e *Engine) processEntries(ctx context.Context, feed models.Feed, entries []Entry, loc *time.Location) {
	maxItems := feed.MaxItems
	if maxItems <= 0 {
		maxItems = 3
	}
	if maxItems > len(entries) {
		maxItems = len(entries)
	}

	var firstPosted *int64
	now := time.Now()

	for _, entry := range entries[:maxItems] {
		if entry.GUID == "" {
			continue
		}
		hash := Fingerprint(entry)

		posted, err := e.store.GetPostedEntry(ctx, feed.GuildID, entry.GUID)
		switch {
		case err != nil && faults.KindOf(err) == faults.KindNotFound:
			published := entry.Published
			if published.IsZero() {
				published = now
			}
			if now.Sub(published) > e.cfg.MaxPostAge {
				continue // P3: stale entries are never posted
			}

			msgID, err := e.emitEntry(ctx, feed, entry, loc)
			if err != nil {
				e.logger.Error("failed to post entry",
					slog.String("feed", feed.Name),
					slog.String("guid", truncateGUID(entry.GUID)),
					slog.String("error", err.Error()),
				)
				continue
			}
			var msgPtr, chanPtr *int64
			if msgID != 0 {
				msgPtr = &msgID
				channelID := feed.ChannelID
				chanPtr = &channelID
			}
			if err := e.store.MarkEntryPosted(ctx, feed.GuildID, entry.GUID, msgPtr, chanPtr, hash); err != nil {
				e.logger.Error("failed to mark entry posted",
					slog.String("guid", truncateGUID(entry.GUID)),
					slog.String("error", err.Error()),
				)
			}
			if firstPosted == nil && msgID != 0 {
				firstPosted = &msgID
			}
			metrics.Global.EntriesPosted.Add(1)
			e.bus.PublishData(ctx, events.SubjectFeedEntryPosted, feed.GuildID, map[string]any{
				"feed": feed.Name, "guid": entry.GUID, "title": entry.Title,
			})

		case err != nil:
			e.logger.Error("failed to read posted entry",
				slog.String("guid", truncateGUID(entry.GUID)),
				slog.String("error", err.Error()),
			)

		case posted.ContentHash != hash:
			e.editEntry(ctx, feed, entry, posted, hash, loc)
		}
	}

	if feed.Crosspost && firstPosted != nil {
		if err := e.surface.PublishMessage(ctx, feed.ChannelID, *firstPosted); err != nil {
			e.logger.Warn("crosspost failed",
				slog.String("feed", feed.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// checkRecentUpdates is the bounded pass over the newest entries when the
// global feed hash is unchanged. It catches local edits that entry rotation
// can mask (P4 allows writes from exactly this pass).
func (e *Engine) checkRecentUpdates(ctx context.Context, feed models.Feed, entries []Entry, loc *time.Location) {
	cutoff := time.Now().Add(-recentUpdateWindow)

	limit := recentUpdateCount
	if limit > len(entries) {
		limit = len(entries)
	}

	for _, entry := range entries[:limit] {
		if entry.GUID == "" {
			continue
		}
		if !entry.Published.IsZero() && entry.Published.Before(cutoff) {
			continue
		}

		posted, err := e.store.GetPostedEntry(ctx, feed.GuildID, entry.GUID)
		if err != nil {
			continue // unknown entries are not posted by this pass
		}

		hash := Fingerprint(entry)
		if posted.ContentHash != hash {
			e.editEntry(ctx, feed, entry, posted, hash, loc)
		}
	}
}

// editEntry delivers a correction: the stored hash is updated first, then the
// existing message is edited. Edit failures are logged and do not roll the
// hash back; a later real change re-edits (at-least-once semantics).
func (e *Engine) editEntry(ctx context.Context, feed models.Feed, entry Entry, posted *models.PostedEntry, hash string, loc *time.Location) {
	if err := e.store.UpdateEntryHash(ctx, feed.GuildID, entry.GUID, hash); err != nil {
		e.logger.Error("failed to update entry hash",
			slog.String("guid", truncateGUID(entry.GUID)),
			slog.String("error", err.Error()),
		)
		return
	}

	if posted.MessageID == nil || posted.ChannelID == nil {
		return // nothing to edit; the artifact location was never recorded
	}

	entry.Thumbnail = e.findThumbnail(ctx, entry)
	embed := RenderEmbed(feed, entry, loc)

	var err error
	if feed.HasIdentity() {
		url, whErr := e.channelWebhookURL(ctx, feed.ChannelID)
		if whErr != nil {
			err = whErr
		} else {
			err = e.webhooks.EditMessage(ctx, url, *posted.MessageID, e.identityPayload(feed, embed))
		}
	} else {
		err = e.surface.EditMessage(ctx, *posted.ChannelID, *posted.MessageID, chat.Message{Embeds: []chat.Embed{embed}})
	}
	if err != nil {
		e.logger.Warn("failed to edit posted entry",
			slog.String("feed", feed.Name),
			slog.String("guid", truncateGUID(entry.GUID)),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.Global.EntriesEdited.Add(1)
	e.logger.Info("entry updated in place",
		slog.String("feed", feed.Name),
		slog.String("guid", truncateGUID(entry.GUID)),
	)
	e.bus.PublishData(ctx, events.SubjectFeedEntryUpdated, feed.GuildID, map[string]any{
		"feed": feed.Name, "guid": entry.GUID, "title": entry.Title,
	})
}

// emitEntry renders and posts one new entry, returning the message id (0 when
// the transport yields none).
func (e *Engine) emitEntry(ctx context.Context, feed models.Feed, entry Entry, loc *time.Location) (int64, error) {
	entry.Thumbnail = e.findThumbnail(ctx, entry)
	embed := RenderEmbed(feed, entry, loc)

	if feed.HasIdentity() {
		url, err := e.channelWebhookURL(ctx, feed.ChannelID)
		if err != nil {
			return 0, err
		}
		return e.webhooks.PostForMessage(ctx, url, e.identityPayload(feed, embed))
	}

	return e.surface.SendMessage(ctx, feed.ChannelID, chat.Message{Embeds: []chat.Embed{embed}})
}

func (e *Engine) identityPayload(feed models.Feed, embed chat.Embed) chat.WebhookPayload {
	payload := chat.WebhookPayload{Embeds: []chat.Embed{embed}}
	if feed.Username != nil {
		payload.Username = *feed.Username
	}
	if feed.AvatarURL != nil {
		payload.AvatarURL = *feed.AvatarURL
	}
	return payload
}

// channelWebhookURL resolves the channel's posting webhook, preferring the
// cache and falling back to creation through the chat surface.
func (e *Engine) channelWebhookURL(ctx context.Context, channelID int64) (string, error) {
	cached, err := e.store.GetWebhookCache(ctx, channelID)
	if err == nil && cached != nil {
		return chat.WebhookURL(cached.WebhookID, cached.WebhookToken), nil
	}

	id, token, err := e.surface.EnsureChannelWebhook(ctx, channelID)
	if err != nil {
		return "", fmt.Errorf("ensuring channel webhook: %w", err)
	}
	if err := e.store.SetWebhookCache(ctx, &models.WebhookCache{
		ChannelID:    channelID,
		WebhookID:    id,
		WebhookToken: token,
		WebhookName:  "Tausendsassa",
	}); err != nil {
		e.logger.Warn("failed to cache channel webhook",
			slog.Int64("channel_id", channelID),
			slog.String("error", err.Error()),
		)
	}
	return chat.WebhookURL(id, token), nil
}

// recordSuccess resets the failure counter (I5) and stamps last_success.
func (e *Engine) recordSuccess(ctx context.Context, feed models.Feed) error {
	if err := e.store.ResetFeedFailure(ctx, feed.ID); err != nil {
		return fmt.Errorf("resetting failure count: %w", err)
	}
	return nil
}

// recordFailure increments the failure counter and disables the feed once the
// threshold is reached (S1: the counter clamps at the threshold because the
// feed stops being polled). Shutdown cancellations don't count against the
// source.
func (e *Engine) recordFailure(ctx context.Context, feed models.Feed, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	count, err := e.store.IncrementFeedFailure(ctx, feed.ID)
	if err != nil {
		e.logger.Error("failed to increment feed failure",
			slog.String("feed", feed.Name),
			slog.String("error", err.Error()),
		)
		return cause
	}

	if count >= e.cfg.FailureThreshold {
		if err := e.store.SetFeedEnabled(ctx, feed.ID, false); err != nil {
			e.logger.Error("failed to disable feed",
				slog.String("feed", feed.Name),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.Warn("feed disabled after consecutive failures",
				slog.String("feed", feed.Name),
				slog.Int64("guild_id", feed.GuildID),
				slog.Int("failures", count),
				slog.String("last_error", cause.Error()),
			)
			e.bus.PublishData(ctx, events.SubjectFeedDisabled, feed.GuildID, map[string]any{
				"feed": feed.Name, "failures": count, "error": cause.Error(),
			})
		}
	}
	return cause
}

// Fingerprint computes the per-entry content hash used for change detection
// (P2): md5 over title|summary|description|link|content.
func Fingerprint(entry Entry) string {
	parts := []string{
		entry.Title,
		entry.Summary,
		entry.Description,
		entry.Link,
		strings.Join(entry.Content, ","),
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func truncateGUID(guid string) string {
	if len(guid) > 50 {
		return guid[:50]
	}
	return guid
}
