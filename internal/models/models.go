// Package models defines shared data types for all Tausendsassa entities:
// guilds, feeds, posted entries, calendars, event links, map settings, pins,
// moderation configs, and monitor messages. Types match the PostgreSQL schema
// exactly and carry JSON tags for the ops API and backup export.
package models

import (
	"time"
)

// Guild is a tenant: one chat-platform server with its own config namespace.
// Created on first observation, never auto-deleted.
type Guild struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTimezone is used for guilds that never configured one.
const DefaultTimezone = "Europe/Berlin"

// Location resolves the guild's IANA timezone, falling back to the default
// and finally UTC. Never returns nil.
func (g Guild) Location() *time.Location {
	if loc, err := time.LoadLocation(g.Timezone); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// Feed is an RSS/Atom source owned by a guild, posted to one channel.
type Feed struct {
	ID            ULID           `json:"id"`
	GuildID       int64          `json:"guild_id"`
	Name          string         `json:"name"`
	FeedURL       string         `json:"feed_url"`
	ChannelID     int64          `json:"channel_id"`
	Username      *string        `json:"username,omitempty"`
	AvatarURL     *string        `json:"avatar_url,omitempty"`
	Color         *int           `json:"color,omitempty"`
	MaxItems      int            `json:"max_items"`
	Crosspost     bool           `json:"crosspost"`
	EmbedTemplate map[string]any `json:"embed_template,omitempty"`
	Enabled       bool           `json:"enabled"`
	FailureCount  int            `json:"failure_count"`
	LastSuccess   *time.Time     `json:"last_success,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasIdentity reports whether the feed posts through a webhook with its own
// username/avatar instead of the bot identity.
func (f Feed) HasIdentity() bool {
	return (f.Username != nil && *f.Username != "") || (f.AvatarURL != nil && *f.AvatarURL != "")
}

// PostedEntry records one emitted feed entry for dedup and edit-in-place.
// MessageID/ChannelID are set when the artifact was posted by us (I1); the
// content hash is the md5 fingerprint used for change detection.
type PostedEntry struct {
	GuildID     int64     `json:"guild_id"`
	GUID        string    `json:"guid"`
	MessageID   *int64    `json:"message_id,omitempty"`
	ChannelID   *int64    `json:"channel_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	PostedAt    time.Time `json:"posted_at"`
}

// FeedHTTPCache holds conditional-request validators per feed URL. Purely an
// optimization: absence or corruption only costs extra work (I6).
type FeedHTTPCache struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	LastCheck    time.Time `json:"last_check"`
}

// Calendar is an iCal source owned by a guild. The voice channel doubles as
// the location of platform events created from it.
type Calendar struct {
	ID               ULID       `json:"id"`
	GuildID          int64      `json:"guild_id"`
	CalendarID       string     `json:"calendar_id"`
	ICalURL          string     `json:"ical_url"`
	TextChannelID    int64      `json:"text_channel_id"`
	VoiceChannelID   int64      `json:"voice_channel_id"`
	Whitelist        []string   `json:"whitelist,omitempty"`
	Blacklist        []string   `json:"blacklist,omitempty"`
	ReminderRoleID   *int64     `json:"reminder_role_id,omitempty"`
	LastMessageID    *int64     `json:"last_message_id,omitempty"`
	CurrentWeekStart *time.Time `json:"current_week_start,omitempty"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EventLink is the materialized (title -> platform event) relation for a
// calendar: the set of platform events the engine considers its own (I2).
type EventLink struct {
	CalendarID      ULID      `json:"calendar_id"`
	EventTitle      string    `json:"event_title"`
	PlatformEventID int64     `json:"platform_event_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReminderKey builds the dedup key for a one-hour-ahead reminder.
func ReminderKey(calendarID string, eventTitle string, eventStart time.Time) string {
	return calendarID + "|" + eventTitle + "|" + eventStart.UTC().Format(time.RFC3339)
}

// VisualSettings are the per-guild map appearance knobs. Colors are hex
// strings ("#RRGGBB"); PinSize is clamped to [8, 32] at write time.
type VisualSettings struct {
	LandColor    string `json:"land_color"`
	WaterColor   string `json:"water_color"`
	CountryColor string `json:"country_color"`
	StateColor   string `json:"state_color"`
	RiverColor   string `json:"river_color"`
	PinColor     string `json:"pin_color"`
	PinSize      int    `json:"pin_size"`
}

// DefaultVisualSettings mirrors the stock map appearance.
func DefaultVisualSettings() VisualSettings {
	return VisualSettings{
		LandColor:    "#F0F0DC",
		WaterColor:   "#A8D5F2",
		CountryColor: "#000000",
		StateColor:   "#646464",
		RiverColor:   "#3C3CC8",
		PinColor:     "#FF4444",
		PinSize:      16,
	}
}

// MapSettings is the per-guild geo-pin board configuration. CustomBounds is
// only consulted for the "custom" region and holds
// [min_lat, min_lng, max_lat, max_lng].
type MapSettings struct {
	GuildID        int64          `json:"guild_id"`
	Region         string         `json:"region"`
	CustomBounds   []float64      `json:"custom_bounds,omitempty"`
	ChannelID      *int64         `json:"channel_id,omitempty"`
	MessageID      *int64         `json:"message_id,omitempty"`
	Visual         VisualSettings `json:"visual"`
	AllowProximity bool           `json:"allow_proximity"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MapPin is one user's location pin. At most one row per (guild, user); a
// repeated pin overwrites coordinates and label (I4, P9).
type MapPin struct {
	ID          ULID      `json:"id"`
	GuildID     int64     `json:"guild_id"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Location    string    `json:"location"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Color       string    `json:"color"`
	PinnedAt    time.Time `json:"pinned_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ModerationConfig holds the member-lifecycle audit settings per guild.
type ModerationConfig struct {
	GuildID          int64   `json:"guild_id"`
	MemberLogWebhook *string `json:"member_log_webhook,omitempty"`
	JoinRoleID       *int64  `json:"join_role_id,omitempty"`
}

// Monitor message types.
const (
	MonitorTypeSystem = "system"
	MonitorTypeServer = "server"
)

// MonitorMessage is a self-refreshing status message in a channel.
type MonitorMessage struct {
	ID             ULID      `json:"id"`
	GuildID        int64     `json:"guild_id"`
	ChannelID      int64     `json:"channel_id"`
	MessageID      int64     `json:"message_id"`
	MonitorType    string    `json:"monitor_type"`
	RefreshSeconds int       `json:"refresh_seconds"`
	LastUpdate     time.Time `json:"last_update"`
	CreatedAt      time.Time `json:"created_at"`
}

// WebhookCache stores a channel webhook created for identity posting, so it
// is not re-created on every poll.
type WebhookCache struct {
	ChannelID    int64     `json:"channel_id"`
	WebhookID    int64     `json:"webhook_id"`
	WebhookToken string    `json:"webhook_token"`
	WebhookName  string    `json:"webhook_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// GuildStats are the per-guild usage counts shown by server monitors.
type GuildStats struct {
	Feeds     int `json:"feeds"`
	Calendars int `json:"calendars"`
	Pins      int `json:"pins"`
	Entries   int `json:"entries"`
}

// WeekStart returns the Monday 00:00 of the week containing t, in t's
// location (I3).
func WeekStart(t time.Time) time.Time {
	weekday := int(t.Weekday())
	// time.Weekday counts Sunday as 0; shift so Monday is 0.
	daysSinceMonday := (weekday + 6) % 7
	day := t.AddDate(0, 0, -daysSinceMonday)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
}

// WeekEnd returns the Sunday 23:59:59 closing the week that starts at
// weekStart.
func WeekEnd(weekStart time.Time) time.Time {
	return weekStart.AddDate(0, 0, 7).Add(-time.Second)
}
