// Package audit consumes member-lifecycle events from the bus and renders
// them into each guild's member-log webhook: join, leave, and ban embeds with
// account age and membership duration.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hako/durafmt"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/events"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// Store is the slice of the persistent store the audit worker uses.
type Store interface {
	GetModerationConfig(ctx context.Context, guildID int64) (*models.ModerationConfig, error)
}

// WebhookPoster posts audit embeds to the configured webhook.
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload chat.WebhookPayload, files []chat.File) error
}

// MemberEvent is the payload published for member lifecycle subjects.
type MemberEvent struct {
	UserID    int64      `json:"user_id"`
	Username  string     `json:"username"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
	Moderator string     `json:"moderator,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Worker subscribes to member-lifecycle subjects and posts audit embeds.
type Worker struct {
	store    Store
	bus      *events.Bus
	webhooks WebhookPoster
	logger   *slog.Logger
}

// New creates the audit worker.
func New(store Store, bus *events.Bus, webhooks WebhookPoster, logger *slog.Logger) *Worker {
	return &Worker{store: store, bus: bus, webhooks: webhooks, logger: logger}
}

// Start subscribes to the lifecycle subjects. Without a bus this is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	if w.bus == nil {
		w.logger.Info("audit worker disabled (no event bus)")
		return nil
	}

	subjects := []struct {
		subject string
		render  func(MemberEvent) chat.Embed
	}{
		{events.SubjectGuildMemberAdd, w.joinEmbed},
		{events.SubjectGuildMemberRemove, w.leaveEmbed},
		{events.SubjectGuildBanAdd, w.banEmbed},
	}

	for _, s := range subjects {
		render := s.render
		_, err := w.bus.Subscribe(s.subject, func(event events.Event) {
			w.handle(ctx, event, render)
		})
		if err != nil {
			return fmt.Errorf("subscribing audit worker: %w", err)
		}
	}

	w.logger.Info("audit worker started")
	return nil
}

func (w *Worker) handle(ctx context.Context, event events.Event, render func(MemberEvent) chat.Embed) {
	var member MemberEvent
	if err := json.Unmarshal(event.Data, &member); err != nil {
		w.logger.Error("failed to unmarshal member event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	cfg, err := w.store.GetModerationConfig(ctx, event.GuildID)
	if err != nil {
		w.logger.Error("failed to load moderation config",
			slog.Int64("guild_id", event.GuildID),
			slog.String("error", err.Error()),
		)
		return
	}
	if cfg.MemberLogWebhook == nil || *cfg.MemberLogWebhook == "" {
		return // guild has no member log configured
	}

	payload := chat.WebhookPayload{
		Username: "Member Log",
		Embeds:   []chat.Embed{render(member)},
	}
	if err := w.webhooks.Post(ctx, *cfg.MemberLogWebhook, payload, nil); err != nil {
		w.logger.Warn("failed to post member log",
			slog.Int64("guild_id", event.GuildID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) joinEmbed(m MemberEvent) chat.Embed {
	embed := chat.Embed{
		Title:       "📥 Member Joined",
		Description: fmt.Sprintf("<@%d> (%s)", m.UserID, m.Username),
		Color:       0x2ECC71,
		Fields: []chat.EmbedField{
			{Name: "User ID", Value: fmt.Sprintf("%d", m.UserID), Inline: true},
		},
	}
	if m.AvatarURL != "" {
		embed.Thumbnail = &chat.EmbedMedia{URL: m.AvatarURL}
	}
	if m.CreatedAt != nil {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:   "Account age",
			Value:  durafmt.Parse(time.Since(*m.CreatedAt).Round(time.Hour)).LimitFirstN(2).String(),
			Inline: true,
		})
	}
	now := time.Now().UTC()
	embed.Timestamp = &now
	return embed
}

func (w *Worker) leaveEmbed(m MemberEvent) chat.Embed {
	embed := chat.Embed{
		Title:       "📤 Member Left",
		Description: fmt.Sprintf("%s (%d)", m.Username, m.UserID),
		Color:       0xE67E22,
	}
	if m.JoinedAt != nil {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:   "Member for",
			Value:  durafmt.Parse(time.Since(*m.JoinedAt).Round(time.Hour)).LimitFirstN(2).String(),
			Inline: true,
		})
	}
	now := time.Now().UTC()
	embed.Timestamp = &now
	return embed
}

func (w *Worker) banEmbed(m MemberEvent) chat.Embed {
	embed := chat.Embed{
		Title:       "🔨 Member Banned",
		Description: fmt.Sprintf("%s (%d)", m.Username, m.UserID),
		Color:       0xE74C3C,
	}
	if m.Moderator != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Moderator", Value: m.Moderator, Inline: true})
	}
	if m.Reason != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Reason", Value: m.Reason})
	}
	now := time.Now().UTC()
	embed.Timestamp = &now
	return embed
}
