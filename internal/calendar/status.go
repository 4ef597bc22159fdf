package calendar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/faults"
)

// TickEventStatus transitions tracked platform events through their lifecycle
// based on the wall clock: scheduled events whose start has passed are
// started, active events whose end has passed are ended, and links to
// vanished events are dropped. The engine never reverses a transition.
func (e *Engine) TickEventStatus(ctx context.Context) error {
	calendars, err := e.store.ListCalendars(ctx)
	if err != nil {
		return fmt.Errorf("listing calendars: %w", err)
	}

	now := e.now()
	var started, ended, cleaned int

	for _, cal := range calendars {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		links, err := e.store.ListEventLinks(ctx, cal.ID)
		if err != nil {
			e.logger.Error("failed to list event links",
				slog.String("calendar", cal.CalendarID),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, link := range links {
			state, err := e.surface.FetchScheduledEvent(ctx, cal.GuildID, link.PlatformEventID)
			if err != nil {
				if faults.KindOf(err) == faults.KindNotFound {
					if err := e.store.RemoveEventLink(ctx, cal.ID, link.EventTitle); err == nil {
						cleaned++
					}
					continue
				}
				e.logger.Warn("could not fetch platform event for status check",
					slog.String("title", link.EventTitle),
					slog.String("error", err.Error()),
				)
				continue
			}

			switch {
			case state.Status == chat.EventScheduled && !state.Start.After(now):
				if err := e.surface.StartScheduledEvent(ctx, cal.GuildID, link.PlatformEventID); err != nil {
					// A colliding active event in the same channel resolves
					// itself; retried next tick.
					e.logger.Debug("could not start platform event",
						slog.String("title", link.EventTitle),
						slog.String("error", err.Error()),
					)
					continue
				}
				started++

			case state.Status == chat.EventActive && !state.End.IsZero() && !state.End.After(now):
				if err := e.surface.EndScheduledEvent(ctx, cal.GuildID, link.PlatformEventID); err != nil {
					e.logger.Debug("could not end platform event",
						slog.String("title", link.EventTitle),
						slog.String("error", err.Error()),
					)
					continue
				}
				ended++
			}
		}
	}

	if started > 0 || ended > 0 || cleaned > 0 {
		e.logger.Info("event status tick",
			slog.Int("started", started),
			slog.Int("ended", ended),
			slog.Int("cleaned", cleaned),
		)
	}
	return nil
}
