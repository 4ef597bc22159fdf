// Package monitor refreshes self-updating status messages: system monitors
// render process runtime stats, server monitors render per-guild usage
// counts. Messages are edited in place on their own per-monitor interval.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/faults"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// Store is the slice of the persistent store the monitor engine uses.
type Store interface {
	ListDueMonitorMessages(ctx context.Context) ([]models.MonitorMessage, error)
	TouchMonitorMessage(ctx context.Context, id models.ULID, at time.Time) error
	DeleteMonitorMessage(ctx context.Context, id models.ULID) error
	GuildStats(ctx context.Context, guildID int64) (*models.GuildStats, error)
}

// Engine drives monitor refreshes.
type Engine struct {
	store   Store
	surface chat.Surface
	logger  *slog.Logger

	startedAt time.Time
	version   string
}

// New creates the monitor engine.
func New(store Store, surface chat.Surface, logger *slog.Logger, version string) *Engine {
	return &Engine{
		store:     store,
		surface:   surface,
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
}

// RefreshDue updates every monitor whose interval has elapsed. A monitor
// whose message vanished is dropped.
func (e *Engine) RefreshDue(ctx context.Context) error {
	due, err := e.store.ListDueMonitorMessages(ctx)
	if err != nil {
		return fmt.Errorf("listing due monitors: %w", err)
	}

	for _, m := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		embed, err := e.renderMonitor(ctx, m)
		if err != nil {
			e.logger.Error("failed to render monitor",
				slog.String("type", m.MonitorType),
				slog.Int64("channel_id", m.ChannelID),
				slog.String("error", err.Error()),
			)
			continue
		}

		err = e.surface.EditMessage(ctx, m.ChannelID, m.MessageID,
			chat.Message{Embeds: []chat.Embed{embed}})
		if err != nil {
			if faults.KindOf(err) == faults.KindNotFound {
				e.logger.Info("monitor message gone, dropping monitor",
					slog.String("type", m.MonitorType),
					slog.Int64("channel_id", m.ChannelID),
				)
				e.store.DeleteMonitorMessage(ctx, m.ID)
				continue
			}
			e.logger.Warn("failed to edit monitor message",
				slog.String("type", m.MonitorType),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := e.store.TouchMonitorMessage(ctx, m.ID, time.Now()); err != nil {
			e.logger.Warn("failed to stamp monitor refresh",
				slog.String("type", m.MonitorType),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (e *Engine) renderMonitor(ctx context.Context, m models.MonitorMessage) (chat.Embed, error) {
	switch m.MonitorType {
	case models.MonitorTypeSystem:
		return e.systemEmbed(), nil
	case models.MonitorTypeServer:
		return e.serverEmbed(ctx, m.GuildID)
	default:
		return chat.Embed{}, fmt.Errorf("unknown monitor type %q", m.MonitorType)
	}
}

func (e *Engine) systemEmbed() chat.Embed {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	now := time.Now()

	return chat.Embed{
		Title: "🖥️ System Monitor",
		Color: 0x2ECC71,
		Fields: []chat.EmbedField{
			{Name: "Version", Value: e.version, Inline: true},
			{Name: "Uptime", Value: now.Sub(e.startedAt).Round(time.Second).String(), Inline: true},
			{Name: "Goroutines", Value: fmt.Sprintf("%d", runtime.NumGoroutine()), Inline: true},
			{Name: "Heap", Value: fmt.Sprintf("%.1f MB", float64(mem.HeapAlloc)/(1024*1024)), Inline: true},
			{Name: "GC cycles", Value: fmt.Sprintf("%d", mem.NumGC), Inline: true},
		},
		Footer: &chat.EmbedFooter{Text: "Updated " + now.UTC().Format("2006-01-02 15:04:05 UTC")},
	}
}

func (e *Engine) serverEmbed(ctx context.Context, guildID int64) (chat.Embed, error) {
	stats, err := e.store.GuildStats(ctx, guildID)
	if err != nil {
		return chat.Embed{}, fmt.Errorf("loading guild stats: %w", err)
	}

	return chat.Embed{
		Title: "📊 Server Monitor",
		Color: 0x3498DB,
		Fields: []chat.EmbedField{
			{Name: "Feeds", Value: fmt.Sprintf("%d", stats.Feeds), Inline: true},
			{Name: "Calendars", Value: fmt.Sprintf("%d", stats.Calendars), Inline: true},
			{Name: "Map pins", Value: fmt.Sprintf("%d", stats.Pins), Inline: true},
			{Name: "Posted entries (7d)", Value: fmt.Sprintf("%d", stats.Entries), Inline: true},
		},
		Footer: &chat.EmbedFooter{Text: "Updated " + time.Now().UTC().Format("2006-01-02 15:04:05 UTC")},
	}, nil
}
