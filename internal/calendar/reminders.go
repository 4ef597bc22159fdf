package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hako/durafmt"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/events"
	"github.com/spa1teN/tausendsassa/internal/metrics"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// Reminder window: events starting between 45 and 75 minutes from now get
// their one-hour-ahead reminder.
const (
	reminderWindowMin = 45 * time.Minute
	reminderWindowMax = 75 * time.Minute
)

// TickReminders emits one-hour-ahead reminder messages for upcoming events.
// The (calendar, title, start) key dedups emission: at most one reminder per
// key per two-hour window (P8, S4). Old records are swept afterwards.
func (e *Engine) TickReminders(ctx context.Context) error {
	calendars, err := e.store.ListCalendars(ctx)
	if err != nil {
		return fmt.Errorf("listing calendars: %w", err)
	}

	now := e.now()
	sent := 0

	for _, cal := range calendars {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		guild, err := e.store.GetGuild(ctx, cal.GuildID)
		if err != nil {
			e.logger.Error("failed to load guild for reminders",
				slog.Int64("guild_id", cal.GuildID),
				slog.String("error", err.Error()),
			)
			continue
		}
		loc := guild.Location()

		filtered, err := e.fetchEvents(ctx, cal, loc)
		if err != nil {
			e.logger.Error("failed to fetch calendar for reminders",
				slog.String("calendar", cal.CalendarID),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, ev := range filtered {
			untilStart := ev.Start.Sub(now)
			if untilStart < reminderWindowMin || untilStart > reminderWindowMax {
				continue
			}

			key := models.ReminderKey(cal.CalendarID, ev.Title, ev.Start)
			already, err := e.store.IsReminderSent(ctx, cal.ID, key, reminderDedupWindow)
			if err != nil {
				e.logger.Error("failed to check reminder dedup",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
			if already {
				continue
			}

			if err := e.sendReminder(ctx, cal, ev, loc); err != nil {
				e.logger.Error("failed to send reminder",
					slog.String("calendar", cal.CalendarID),
					slog.String("title", ev.Title),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := e.store.MarkReminderSent(ctx, cal.ID, key); err != nil {
				e.logger.Error("failed to mark reminder sent",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
			sent++
			metrics.Global.RemindersSent.Add(1)

			e.bus.PublishData(ctx, events.SubjectCalendarReminderSent, cal.GuildID, map[string]any{
				"calendar": cal.CalendarID, "title": ev.Title, "start": ev.Start,
			})
		}
	}

	if sent > 0 {
		e.logger.Info("reminders sent", slog.Int("count", sent))
	}

	if removed, err := e.store.CleanupReminders(ctx, reminderSweepDays); err != nil {
		e.logger.Warn("reminder sweep failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		e.logger.Debug("reminder records swept", slog.Int64("removed", removed))
	}
	return nil
}

// sendReminder renders the reminder embed and posts it to the calendar's text
// channel, pinging the reminder role when one is configured.
func (e *Engine) sendReminder(ctx context.Context, cal models.Calendar, ev Event, loc *time.Location) error {
	startsIn := durafmt.Parse(ev.Start.Sub(e.now()).Round(time.Minute)).LimitFirstN(2)

	embed := chat.Embed{
		Title: "📢 Event Reminder",
		Color: 0xFFA500,
		Fields: []chat.EmbedField{
			{Name: "Event", Value: ev.Title},
			{Name: "Starts at", Value: fmt.Sprintf("<t:%d:F> (%s)",
				ev.Start.Unix(), ev.Start.In(loc).Format("15:04")), Inline: true},
			{Name: "Time until start", Value: fmt.Sprintf("in %s", startsIn), Inline: true},
		},
		Footer: &chat.EmbedFooter{Text: "Event starts in approximately 1 hour"},
	}
	if ev.Description != "" {
		description := ev.Description
		if len(description) > 500 {
			description = description[:500]
		}
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Description", Value: description})
	}
	if ev.Location != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Location", Value: ev.Location})
	}
	if eventID, err := e.store.EventLinkByTitle(ctx, cal.ID, ev.Title); err == nil {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:   "Discord Event",
			Value:  fmt.Sprintf("[View Event](%s)", chat.EventURL(cal.GuildID, eventID)),
			Inline: true,
		})
	}

	var content string
	if cal.ReminderRoleID != nil {
		content = fmt.Sprintf("<@&%d> Event starting soon!", *cal.ReminderRoleID)
	}

	_, err := e.surface.SendMessage(ctx, cal.TextChannelID, chat.Message{
		Content: content,
		Embeds:  []chat.Embed{embed},
	})
	if err != nil {
		return err
	}

	e.logger.Info("reminder sent",
		slog.String("calendar", cal.CalendarID),
		slog.String("title", ev.Title),
		slog.Time("start", ev.Start),
	)
	return nil
}
