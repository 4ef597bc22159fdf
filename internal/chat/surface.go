// Package chat defines the surface the engines use to talk to the chat
// platform: messages, scheduled events, and webhooks. The engines depend on
// the Surface interface only; the arikawa-backed implementation lives in this
// package but is replaceable (tests use an in-memory fake).
package chat

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Embed mirrors the platform's rich-embed shape.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   *time.Time   `json:"timestamp,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedAuthor is the embed author line.
type EmbedAuthor struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedMedia is an image or thumbnail reference.
type EmbedMedia struct {
	URL string `json:"url,omitempty"`
}

// EmbedFooter is the embed footer line.
type EmbedFooter struct {
	Text string `json:"text,omitempty"`
}

// EmbedField is one titled field.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// File is an attachment to upload with a message or webhook post.
type File struct {
	Name   string
	Reader io.Reader
}

// Message is the content of a send or edit.
type Message struct {
	Content string
	Embeds  []Embed
	Files   []File
}

// EventStatus is the lifecycle state of a platform scheduled event. Allowed
// transitions are scheduled -> active -> completed; the engine never reverses.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// ScheduledEvent is the data for creating or editing a platform event. The
// description is truncated to the platform limit by the adapter.
type ScheduledEvent struct {
	Name           string
	Start          time.Time
	End            time.Time
	Description    string
	VoiceChannelID int64
}

// ScheduledEventState is the platform's view of an event.
type ScheduledEventState struct {
	ID          int64
	Name        string
	Start       time.Time
	End         time.Time
	Description string
	Status      EventStatus
}

// DescriptionLimit is the platform cap on scheduled-event descriptions.
const DescriptionLimit = 1000

// Surface is the abstract chat-platform interface the engines depend on. All
// calls are I/O and may fail; NotFound failures are classified so deletions
// can treat them as success.
type Surface interface {
	SendMessage(ctx context.Context, channelID int64, m Message) (messageID int64, err error)
	EditMessage(ctx context.Context, channelID, messageID int64, m Message) error
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	// PublishMessage crossposts a message to following channels.
	PublishMessage(ctx context.Context, channelID, messageID int64) error

	CreateScheduledEvent(ctx context.Context, guildID int64, ev ScheduledEvent) (eventID int64, err error)
	EditScheduledEvent(ctx context.Context, guildID, eventID int64, ev ScheduledEvent) error
	DeleteScheduledEvent(ctx context.Context, guildID, eventID int64) error
	FetchScheduledEvent(ctx context.Context, guildID, eventID int64) (*ScheduledEventState, error)
	StartScheduledEvent(ctx context.Context, guildID, eventID int64) error
	EndScheduledEvent(ctx context.Context, guildID, eventID int64) error

	// EnsureChannelWebhook returns a webhook for posting into the channel
	// with a custom identity, creating one when the channel has none.
	EnsureChannelWebhook(ctx context.Context, channelID int64) (webhookID int64, token string, err error)
}

// WebhookURL builds the execute URL for a webhook id and token.
func WebhookURL(id int64, token string) string {
	return fmt.Sprintf("https://discord.com/api/webhooks/%d/%s", id, token)
}

// EventURL returns the user-facing link to a platform scheduled event.
func EventURL(guildID, eventID int64) string {
	return fmt.Sprintf("https://discord.com/events/%d/%d", guildID, eventID)
}

// MessageURL returns the user-facing link to a message.
func MessageURL(guildID, channelID, messageID int64) string {
	return fmt.Sprintf("https://discord.com/channels/%d/%d/%d", guildID, channelID, messageID)
}
