// Package events implements the internal event bus using NATS pub/sub. The
// sync engines publish lifecycle and sync events; the audit worker subscribes
// to member-lifecycle subjects and renders them into the guild's member-log
// webhook. The bus is optional: a nil *Bus silently drops publications so the
// engines work without a broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject constants define the NATS subject hierarchy. Subjects follow the
// pattern tsb.<category>.<action>.
const (
	// Feed events.
	SubjectFeedEntryPosted  = "tsb.feed.entry_posted"
	SubjectFeedEntryUpdated = "tsb.feed.entry_updated"
	SubjectFeedDisabled     = "tsb.feed.disabled"

	// Calendar events.
	SubjectCalendarSynced       = "tsb.calendar.synced"
	SubjectCalendarReminderSent = "tsb.calendar.reminder_sent"

	// Guild member lifecycle, consumed by the audit worker.
	SubjectGuildMemberAdd    = "tsb.guild.member_add"
	SubjectGuildMemberRemove = "tsb.guild.member_remove"
	SubjectGuildBanAdd       = "tsb.guild.ban_add"

	// Map events.
	SubjectMapPinSet     = "tsb.map.pin_set"
	SubjectMapPinRemoved = "tsb.map.pin_removed"

	// Backup events.
	SubjectBackupCompleted = "tsb.backup.completed"
)

// Event is the envelope for all events published through NATS.
type Event struct {
	Type    string          `json:"t"`
	GuildID int64           `json:"guild_id,omitempty"`
	Data    json.RawMessage `json:"d"`
}

// Bus wraps a NATS connection and provides publish/subscribe methods.
type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// New connects to the NATS server at the given URL and returns an event Bus.
func New(natsURL string, logger *slog.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("tausendsassa"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", slog.String("error", err.Error()))
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", natsURL, err)
	}

	logger.Info("NATS connection established", slog.String("url", nc.ConnectedUrl()))

	return &Bus{conn: nc, logger: logger}, nil
}

// Publish sends an event to the given subject. A nil bus drops the event: the
// engines publish unconditionally and the broker stays optional.
func (b *Bus) Publish(_ context.Context, subject string, event Event) error {
	if b == nil {
		return nil
	}
	event.Type = subject

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// PublishData marshals payload and publishes it under subject. Failures are
// logged, never propagated: event emission must not fail a sync.
func (b *Bus) PublishData(ctx context.Context, subject string, guildID int64, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal event payload",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := b.Publish(ctx, subject, Event{GuildID: guildID, Data: data}); err != nil {
		b.logger.Warn("failed to publish event",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe registers a handler for a subject.
func (b *Bus) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	if b == nil {
		return nil, fmt.Errorf("event bus is disabled")
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error("failed to unmarshal event",
				slog.String("subject", subject),
				slog.String("error", err.Error()),
			)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Drain()
	b.conn.Close()
}
