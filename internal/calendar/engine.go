// Package calendar implements the iCal synchronization loop: recurrence-aware
// parsing, whitelist/blacklist filtering, the per-week summary message
// (rewritten on rollover, edited within a week), reconciliation of platform
// scheduled events against the current calendar, wall-clock status
// transitions, and one-hour-ahead reminders emitted exactly once.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/events"
	"github.com/spa1teN/tausendsassa/internal/faults"
	"github.com/spa1teN/tausendsassa/internal/metrics"
	"github.com/spa1teN/tausendsassa/internal/models"
	"github.com/spa1teN/tausendsassa/internal/retry"
)

// expansionWindow is how far recurrences are expanded on each sync, both
// before and after now.
const expansionWindow = 4 * 7 * 24 * time.Hour

// reminderSweepDays is the retention for reminder dedup records.
const reminderSweepDays = 7

// reminderDedupWindow suppresses duplicate reminders for the same key (P8).
const reminderDedupWindow = 2 * time.Hour

// Store is the slice of the persistent store the calendar engine uses.
type Store interface {
	ListCalendars(ctx context.Context) ([]models.Calendar, error)
	GetGuild(ctx context.Context, id int64) (*models.Guild, error)
	UpdateCalendarSummary(ctx context.Context, id models.ULID, messageID *int64, weekStart time.Time) error
	TouchCalendarSync(ctx context.Context, id models.ULID) error
	ListEventLinks(ctx context.Context, calendarID models.ULID) ([]models.EventLink, error)
	AddEventLink(ctx context.Context, calendarID models.ULID, title string, platformEventID int64) error
	RemoveEventLink(ctx context.Context, calendarID models.ULID, title string) error
	EventLinkByTitle(ctx context.Context, calendarID models.ULID, title string) (int64, error)
	IsReminderSent(ctx context.Context, calendarID models.ULID, key string, within time.Duration) (bool, error)
	MarkReminderSent(ctx context.Context, calendarID models.ULID, key string) error
	CleanupReminders(ctx context.Context, olderThanDays int) (int64, error)
}

// Fetcher is the slice of the HTTP fetcher the calendar engine uses.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Engine drives the three calendar drivers. One Engine serves all guilds.
type Engine struct {
	store   Store
	fetcher Fetcher
	retry   *retry.Fabric
	surface chat.Surface
	bus     *events.Bus
	logger  *slog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates the calendar engine.
func New(store Store, fetcher Fetcher, fabric *retry.Fabric, surface chat.Surface, bus *events.Bus, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		fetcher: fetcher,
		retry:   fabric,
		surface: surface,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// SyncAll runs one sync cycle over every calendar. Per-calendar failures are
// logged and never affect other calendars.
func (e *Engine) SyncAll(ctx context.Context) error {
	calendars, err := e.store.ListCalendars(ctx)
	if err != nil {
		return fmt.Errorf("listing calendars: %w", err)
	}
	metrics.Global.CalendarSyncsTotal.Add(1)

	for _, cal := range calendars {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.syncCalendar(ctx, cal); err != nil {
			e.logger.Error("calendar sync failed",
				slog.String("calendar", cal.CalendarID),
				slog.Int64("guild_id", cal.GuildID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// syncCalendar runs one full sync for a single calendar: fetch, expand,
// filter, weekly summary, and platform-event reconciliation. The two write
// phases are serialized per calendar by construction.
func (e *Engine) syncCalendar(ctx context.Context, cal models.Calendar) error {
	guild, err := e.store.GetGuild(ctx, cal.GuildID)
	if err != nil {
		return fmt.Errorf("loading guild %d: %w", cal.GuildID, err)
	}
	loc := guild.Location()

	filtered, err := e.fetchEvents(ctx, cal, loc)
	if err != nil {
		return err
	}

	now := e.now()
	weekly, weekStart := weeklyEvents(filtered, now, loc)

	if err := e.reconcileSummary(ctx, cal, weekly, weekStart, loc); err != nil {
		e.logger.Error("weekly summary reconciliation failed",
			slog.String("calendar", cal.CalendarID),
			slog.String("error", err.Error()),
		)
	}

	e.reconcilePlatformEvents(ctx, cal, weekly)

	if err := e.store.TouchCalendarSync(ctx, cal.ID); err != nil {
		e.logger.Warn("failed to stamp calendar sync",
			slog.String("calendar", cal.CalendarID),
			slog.String("error", err.Error()),
		)
	}

	e.bus.PublishData(ctx, events.SubjectCalendarSynced, cal.GuildID, map[string]any{
		"calendar": cal.CalendarID, "events": len(weekly),
	})
	return nil
}

// fetchEvents downloads and parses the calendar, expanding recurrences over
// the expansion window on either side of now and applying the calendar's
// filters.
func (e *Engine) fetchEvents(ctx context.Context, cal models.Calendar, loc *time.Location) ([]Event, error) {
	opID := "sync_calendar:" + cal.ID.String()

	var body []byte
	err := e.retry.Execute(ctx, opID, func(ctx context.Context) error {
		b, err := e.fetcher.Get(ctx, cal.ICalURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching calendar %s: %w", cal.CalendarID, err)
	}

	now := e.now()
	parsed, err := parseICS(body, loc, now.Add(-expansionWindow), now.Add(expansionWindow))
	if err != nil {
		return nil, faults.New(faults.KindPermanentSource, "parsing calendar "+cal.CalendarID, err)
	}

	return filterEvents(parsed, cal.Whitelist, cal.Blacklist), nil
}

// reconcileSummary enforces I3: a week rollover (or a missing summary) posts
// a fresh message and deletes the previous one; within a week the existing
// message is edited in place.
func (e *Engine) reconcileSummary(ctx context.Context, cal models.Calendar, weekly []Event, weekStart time.Time, loc *time.Location) error {
	links, err := e.store.ListEventLinks(ctx, cal.ID)
	if err != nil {
		e.logger.Warn("failed to load event links for summary",
			slog.String("calendar", cal.CalendarID),
			slog.String("error", err.Error()),
		)
		links = nil
	}
	embed := summaryEmbed(weekly, links, cal.GuildID, loc, e.now())

	isNewWeek := cal.CurrentWeekStart == nil || !cal.CurrentWeekStart.Equal(weekStart)

	if isNewWeek || cal.LastMessageID == nil {
		if cal.LastMessageID != nil {
			// Best-effort: a vanished message is fine.
			if err := e.surface.DeleteMessage(ctx, cal.TextChannelID, *cal.LastMessageID); err != nil &&
				faults.KindOf(err) != faults.KindNotFound {
				e.logger.Warn("could not delete previous summary message",
					slog.String("calendar", cal.CalendarID),
					slog.String("error", err.Error()),
				)
			}
		}
		return e.postSummary(ctx, cal, embed, weekStart)
	}

	err = e.surface.EditMessage(ctx, cal.TextChannelID, *cal.LastMessageID,
		chat.Message{Embeds: []chat.Embed{embed}})
	if err != nil {
		e.logger.Warn("could not edit summary message, posting a new one",
			slog.String("calendar", cal.CalendarID),
			slog.String("error", err.Error()),
		)
		return e.postSummary(ctx, cal, embed, weekStart)
	}
	return nil
}

func (e *Engine) postSummary(ctx context.Context, cal models.Calendar, embed chat.Embed, weekStart time.Time) error {
	msgID, err := e.surface.SendMessage(ctx, cal.TextChannelID,
		chat.Message{Embeds: []chat.Embed{embed}})
	if err != nil {
		return fmt.Errorf("posting weekly summary: %w", err)
	}
	if err := e.store.UpdateCalendarSummary(ctx, cal.ID, &msgID, weekStart); err != nil {
		return fmt.Errorf("persisting weekly summary state: %w", err)
	}
	e.logger.Info("weekly summary posted",
		slog.String("calendar", cal.CalendarID),
		slog.Int64("message_id", msgID),
		slog.Time("week_start", weekStart),
	)
	return nil
}

// reconcilePlatformEvents maintains the event-link projection (P7): every
// filtered weekly event gets a platform event, edits propagate when start,
// end, or description drift, and links whose title left the weekly set are
// deleted. Deletion of an already-gone event counts as success.
func (e *Engine) reconcilePlatformEvents(ctx context.Context, cal models.Calendar, weekly []Event) {
	links, err := e.store.ListEventLinks(ctx, cal.ID)
	if err != nil {
		e.logger.Error("failed to list event links",
			slog.String("calendar", cal.CalendarID),
			slog.String("error", err.Error()),
		)
		return
	}
	linkByTitle := make(map[string]models.EventLink, len(links))
	for _, l := range links {
		linkByTitle[l.EventTitle] = l
	}

	keep := make(map[string]bool, len(weekly))
	for _, ev := range weekly {
		keep[ev.Title] = true

		if link, ok := linkByTitle[ev.Title]; ok {
			e.updatePlatformEvent(ctx, cal, link, ev)
			continue
		}
		e.createPlatformEvent(ctx, cal, ev)
	}

	for title, link := range linkByTitle {
		if keep[title] {
			continue
		}
		err := e.surface.DeleteScheduledEvent(ctx, cal.GuildID, link.PlatformEventID)
		if err != nil && faults.KindOf(err) != faults.KindNotFound {
			e.logger.Warn("could not delete platform event",
				slog.String("title", title),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := e.store.RemoveEventLink(ctx, cal.ID, title); err != nil {
			e.logger.Error("failed to remove event link",
				slog.String("title", title),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.Info("platform event removed",
				slog.String("calendar", cal.CalendarID),
				slog.String("title", title),
			)
		}
	}
}

func (e *Engine) createPlatformEvent(ctx context.Context, cal models.Calendar, ev Event) {
	eventID, err := e.surface.CreateScheduledEvent(ctx, cal.GuildID, chat.ScheduledEvent{
		Name:           ev.Title,
		Start:          ev.Start,
		End:            ev.End,
		Description:    ev.Description,
		VoiceChannelID: cal.VoiceChannelID,
	})
	if err != nil {
		e.logger.Error("could not create platform event",
			slog.String("calendar", cal.CalendarID),
			slog.String("title", ev.Title),
			slog.String("error", err.Error()),
		)
		return
	}

	// The link records the exact title used at creation (I2). If the insert
	// fails the platform event is orphaned until the next sync recreates the
	// pairing, so the failure is loud.
	if err := e.store.AddEventLink(ctx, cal.ID, ev.Title, eventID); err != nil {
		e.logger.Error("failed to record event link",
			slog.String("title", ev.Title),
			slog.Int64("platform_event_id", eventID),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Info("platform event created",
		slog.String("calendar", cal.CalendarID),
		slog.String("title", ev.Title),
		slog.Int64("platform_event_id", eventID),
	)
}

func (e *Engine) updatePlatformEvent(ctx context.Context, cal models.Calendar, link models.EventLink, ev Event) {
	state, err := e.surface.FetchScheduledEvent(ctx, cal.GuildID, link.PlatformEventID)
	if err != nil {
		if faults.KindOf(err) == faults.KindNotFound {
			// The platform event vanished; drop the link so the next sync
			// recreates it.
			e.store.RemoveEventLink(ctx, cal.ID, link.EventTitle)
			return
		}
		e.logger.Warn("could not fetch platform event",
			slog.String("title", ev.Title),
			slog.String("error", err.Error()),
		)
		return
	}

	description := ev.Description
	if len(description) > chat.DescriptionLimit {
		description = description[:chat.DescriptionLimit]
	}
	if state.Start.Equal(ev.Start) && state.End.Equal(ev.End) && state.Description == description {
		return
	}

	err = e.surface.EditScheduledEvent(ctx, cal.GuildID, link.PlatformEventID, chat.ScheduledEvent{
		Name:           ev.Title,
		Start:          ev.Start,
		End:            ev.End,
		Description:    ev.Description,
		VoiceChannelID: cal.VoiceChannelID,
	})
	if err != nil {
		e.logger.Warn("could not update platform event",
			slog.String("title", ev.Title),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Info("platform event updated",
		slog.String("calendar", cal.CalendarID),
		slog.String("title", ev.Title),
	)
}
