package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spa1teN/tausendsassa/internal/models"
)

const calendarColumns = `id, guild_id, calendar_id, ical_url, text_channel_id, voice_channel_id,
	whitelist, blacklist, reminder_role_id, last_message_id, current_week_start,
	last_sync, created_at, updated_at`

func scanCalendar(row interface{ Scan(...any) error }) (*models.Calendar, error) {
	var c models.Calendar
	err := row.Scan(&c.ID, &c.GuildID, &c.CalendarID, &c.ICalURL, &c.TextChannelID,
		&c.VoiceChannelID, &c.Whitelist, &c.Blacklist, &c.ReminderRoleID,
		&c.LastMessageID, &c.CurrentWeekStart, &c.LastSync, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCalendar inserts a calendar. A duplicate (guild, calendar id) surfaces
// as a domain conflict.
func (s *Store) CreateCalendar(ctx context.Context, c *models.Calendar) error {
	if c.ID.IsZero() {
		c.ID = models.NewULID()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calendars (id, guild_id, calendar_id, ical_url, text_channel_id,
		                        voice_channel_id, whitelist, blacklist, reminder_role_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.GuildID, c.CalendarID, c.ICalURL, c.TextChannelID,
		c.VoiceChannelID, c.Whitelist, c.Blacklist, c.ReminderRoleID,
	)
	return wrapErr("creating calendar", err)
}

// GetCalendar returns one calendar by primary key.
func (s *Store) GetCalendar(ctx context.Context, id models.ULID) (*models.Calendar, error) {
	c, err := scanCalendar(s.pool.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("getting calendar", err)
	}
	return c, nil
}

// ListCalendarsByGuild returns a guild's calendars ordered by calendar id.
func (s *Store) ListCalendarsByGuild(ctx context.Context, guildID int64) ([]models.Calendar, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE guild_id = $1 ORDER BY calendar_id`, guildID)
	if err != nil {
		return nil, wrapErr("listing calendars", err)
	}
	defer rows.Close()
	return collectCalendars(rows)
}

// ListCalendars returns every calendar across all guilds.
func (s *Store) ListCalendars(ctx context.Context) ([]models.Calendar, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+calendarColumns+` FROM calendars ORDER BY guild_id, calendar_id`)
	if err != nil {
		return nil, wrapErr("listing calendars", err)
	}
	defer rows.Close()
	return collectCalendars(rows)
}

func collectCalendars(rows pgx.Rows) ([]models.Calendar, error) {
	var calendars []models.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, wrapErr("scanning calendar", err)
		}
		calendars = append(calendars, *c)
	}
	return calendars, wrapErr("iterating calendars", rows.Err())
}

// UpdateCalendarFilters replaces the whitelist and blacklist.
func (s *Store) UpdateCalendarFilters(ctx context.Context, id models.ULID, whitelist, blacklist []string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calendars SET whitelist = $2, blacklist = $3, updated_at = now() WHERE id = $1`,
		id, whitelist, blacklist,
	)
	return wrapErr("updating calendar filters", err)
}

// UpdateCalendarSummary persists the summary message id and the week it
// belongs to after a post or rollover (I3).
func (s *Store) UpdateCalendarSummary(ctx context.Context, id models.ULID, messageID *int64, weekStart time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calendars SET last_message_id = $2, current_week_start = $3, updated_at = now()
		 WHERE id = $1`,
		id, messageID, weekStart,
	)
	return wrapErr("updating calendar summary", err)
}

// TouchCalendarSync stamps the last successful sync.
func (s *Store) TouchCalendarSync(ctx context.Context, id models.ULID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calendars SET last_sync = now(), updated_at = now() WHERE id = $1`, id)
	return wrapErr("touching calendar sync", err)
}

// DeleteCalendar removes a calendar with its event links and reminders.
func (s *Store) DeleteCalendar(ctx context.Context, id models.ULID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM calendars WHERE id = $1`, id)
	return wrapErr("deleting calendar", err)
}

// --- Event links ---

// ListEventLinks returns the materialized title -> platform event relation.
func (s *Store) ListEventLinks(ctx context.Context, calendarID models.ULID) ([]models.EventLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT calendar_id, event_title, platform_event_id, created_at
		 FROM calendar_event_links WHERE calendar_id = $1 ORDER BY event_title`,
		calendarID)
	if err != nil {
		return nil, wrapErr("listing event links", err)
	}
	defer rows.Close()

	var links []models.EventLink
	for rows.Next() {
		var l models.EventLink
		if err := rows.Scan(&l.CalendarID, &l.EventTitle, &l.PlatformEventID, &l.CreatedAt); err != nil {
			return nil, wrapErr("scanning event link", err)
		}
		links = append(links, l)
	}
	return links, wrapErr("iterating event links", rows.Err())
}

// AddEventLink records a platform event created for a calendar title. Callers
// creating the platform event and the link together should run inside WithTx;
// AddEventLinkTx serves that path.
func (s *Store) AddEventLink(ctx context.Context, calendarID models.ULID, title string, platformEventID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calendar_event_links (calendar_id, event_title, platform_event_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (calendar_id, event_title) DO UPDATE SET platform_event_id = EXCLUDED.platform_event_id`,
		calendarID, title, platformEventID,
	)
	return wrapErr("adding event link", err)
}

// AddEventLinkTx is AddEventLink inside a caller-owned transaction.
func (s *Store) AddEventLinkTx(ctx context.Context, tx pgx.Tx, calendarID models.ULID, title string, platformEventID int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO calendar_event_links (calendar_id, event_title, platform_event_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (calendar_id, event_title) DO UPDATE SET platform_event_id = EXCLUDED.platform_event_id`,
		calendarID, title, platformEventID,
	)
	return wrapErr("adding event link", err)
}

// RemoveEventLink drops the link for a title.
func (s *Store) RemoveEventLink(ctx context.Context, calendarID models.ULID, title string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM calendar_event_links WHERE calendar_id = $1 AND event_title = $2`,
		calendarID, title,
	)
	return wrapErr("removing event link", err)
}

// EventLinkByTitle returns the platform event id for a title.
func (s *Store) EventLinkByTitle(ctx context.Context, calendarID models.ULID, title string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT platform_event_id FROM calendar_event_links
		 WHERE calendar_id = $1 AND event_title = $2`,
		calendarID, title,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("getting event link by title", err)
	}
	return id, nil
}

// EventLinkByPlatformID returns the title backing a platform event id (I2
// reverse lookup).
func (s *Store) EventLinkByPlatformID(ctx context.Context, calendarID models.ULID, platformEventID int64) (string, error) {
	var title string
	err := s.pool.QueryRow(ctx,
		`SELECT event_title FROM calendar_event_links
		 WHERE calendar_id = $1 AND platform_event_id = $2`,
		calendarID, platformEventID,
	).Scan(&title)
	if err != nil {
		return "", wrapErr("getting event link by platform id", err)
	}
	return title, nil
}

// --- Reminders ---

// IsReminderSent reports whether the reminder key was marked within the given
// window (P8: at most one reminder per key per 2-hour window).
func (s *Store) IsReminderSent(ctx context.Context, calendarID models.ULID, key string, within time.Duration) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM calendar_reminders
			WHERE calendar_id = $1 AND reminder_key = $2 AND sent_at > $3
		 )`,
		calendarID, key, time.Now().UTC().Add(-within),
	).Scan(&exists)
	if err != nil {
		return false, wrapErr("checking reminder sent", err)
	}
	return exists, nil
}

// MarkReminderSent records a reminder emission.
func (s *Store) MarkReminderSent(ctx context.Context, calendarID models.ULID, key string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calendar_reminders (calendar_id, reminder_key, sent_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (calendar_id, reminder_key) DO UPDATE SET sent_at = now()`,
		calendarID, key,
	)
	return wrapErr("marking reminder sent", err)
}

// CleanupReminders sweeps reminder records older than the given number of days.
func (s *Store) CleanupReminders(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM calendar_reminders WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, wrapErr("cleaning up reminders", err)
	}
	return tag.RowsAffected(), nil
}
