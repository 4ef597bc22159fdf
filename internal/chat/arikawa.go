package chat

import (
	"context"
	"errors"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/utils/httputil"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
	"github.com/diamondburned/arikawa/v3/utils/sendpart"

	"github.com/spa1teN/tausendsassa/internal/faults"
)

// ArikawaSurface implements Surface over the arikawa REST client.
type ArikawaSurface struct {
	client *api.Client
}

// NewArikawaSurface creates a Surface talking to the platform with the given
// bot token.
func NewArikawaSurface(token string) *ArikawaSurface {
	return &ArikawaSurface{client: api.NewClient("Bot " + token)}
}

func (a *ArikawaSurface) api(ctx context.Context) *api.Client {
	return a.client.WithContext(ctx)
}

// wrapAPIErr classifies REST errors so deletions can treat 404 as success and
// the retry fabric sees 5xx/429 as transient.
func wrapAPIErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var httpErr *httputil.HTTPError
	if errors.As(err, &httpErr) {
		return faults.New(faults.FromHTTPStatus(httpErr.Status), op, err)
	}
	return faults.New(faults.KindTransient, op, err)
}

func toDiscordEmbeds(embeds []Embed) []discord.Embed {
	out := make([]discord.Embed, 0, len(embeds))
	for _, e := range embeds {
		de := discord.Embed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       discord.Color(e.Color),
		}
		if e.Timestamp != nil {
			de.Timestamp = discord.NewTimestamp(*e.Timestamp)
		}
		if e.Author != nil {
			de.Author = &discord.EmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, Icon: e.Author.IconURL}
		}
		if e.Image != nil {
			de.Image = &discord.EmbedImage{URL: e.Image.URL}
		}
		if e.Thumbnail != nil {
			de.Thumbnail = &discord.EmbedThumbnail{URL: e.Thumbnail.URL}
		}
		if e.Footer != nil {
			de.Footer = &discord.EmbedFooter{Text: e.Footer.Text}
		}
		for _, f := range e.Fields {
			de.Fields = append(de.Fields, discord.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, de)
	}
	return out
}

func toSendFiles(files []File) []sendpart.File {
	out := make([]sendpart.File, 0, len(files))
	for _, f := range files {
		out = append(out, sendpart.File{Name: f.Name, Reader: f.Reader})
	}
	return out
}

// SendMessage implements Surface.
func (a *ArikawaSurface) SendMessage(ctx context.Context, channelID int64, m Message) (int64, error) {
	msg, err := a.api(ctx).SendMessageComplex(discord.ChannelID(channelID), api.SendMessageData{
		Content: m.Content,
		Embeds:  toDiscordEmbeds(m.Embeds),
		Files:   toSendFiles(m.Files),
	})
	if err != nil {
		return 0, wrapAPIErr("sending message", err)
	}
	return int64(msg.ID), nil
}

// EditMessage implements Surface.
func (a *ArikawaSurface) EditMessage(ctx context.Context, channelID, messageID int64, m Message) error {
	data := api.EditMessageData{}
	if len(m.Embeds) > 0 {
		embeds := toDiscordEmbeds(m.Embeds)
		data.Embeds = &embeds
	}
	if m.Content != "" {
		data.Content = option.NewNullableString(m.Content)
	}
	if len(m.Files) > 0 {
		data.Files = toSendFiles(m.Files)
	}
	_, err := a.api(ctx).EditMessageComplex(discord.ChannelID(channelID), discord.MessageID(messageID), data)
	return wrapAPIErr("editing message", err)
}

// DeleteMessage implements Surface.
func (a *ArikawaSurface) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	err := a.api(ctx).DeleteMessage(discord.ChannelID(channelID), discord.MessageID(messageID), "")
	return wrapAPIErr("deleting message", err)
}

// PublishMessage implements Surface.
func (a *ArikawaSurface) PublishMessage(ctx context.Context, channelID, messageID int64) error {
	_, err := a.api(ctx).CrosspostMessage(discord.ChannelID(channelID), discord.MessageID(messageID))
	return wrapAPIErr("publishing message", err)
}

func truncateDescription(s string) string {
	if len(s) > DescriptionLimit {
		return s[:DescriptionLimit]
	}
	return s
}

// CreateScheduledEvent implements Surface. Events are created as voice events
// in the configured voice channel with guild-only visibility.
func (a *ArikawaSurface) CreateScheduledEvent(ctx context.Context, guildID int64, ev ScheduledEvent) (int64, error) {
	end := discord.NewTimestamp(ev.End)
	created, err := a.api(ctx).CreateScheduledEvent(discord.GuildID(guildID), "", api.CreateScheduledEventData{
		ChannelID:    discord.ChannelID(ev.VoiceChannelID),
		Name:         ev.Name,
		PrivacyLevel: discord.GuildOnly,
		StartTime:    discord.NewTimestamp(ev.Start),
		EndTime:      &end,
		Description:  truncateDescription(ev.Description),
		EntityType:   discord.VoiceEntity,
	})
	if err != nil {
		return 0, wrapAPIErr("creating scheduled event", err)
	}
	return int64(created.ID), nil
}

// EditScheduledEvent implements Surface.
func (a *ArikawaSurface) EditScheduledEvent(ctx context.Context, guildID, eventID int64, ev ScheduledEvent) error {
	start := discord.NewTimestamp(ev.Start)
	end := discord.NewTimestamp(ev.End)
	description := truncateDescription(ev.Description)
	_, err := a.api(ctx).EditScheduledEvent(discord.GuildID(guildID), discord.EventID(eventID), "",
		api.EditScheduledEventData{
			Name:        ev.Name,
			StartTime:   &start,
			EndTime:     &end,
			Description: option.NewNullableString(description),
		})
	return wrapAPIErr("editing scheduled event", err)
}

// DeleteScheduledEvent implements Surface.
func (a *ArikawaSurface) DeleteScheduledEvent(ctx context.Context, guildID, eventID int64) error {
	err := a.api(ctx).DeleteScheduledEvent(discord.GuildID(guildID), discord.EventID(eventID))
	return wrapAPIErr("deleting scheduled event", err)
}

// FetchScheduledEvent implements Surface.
func (a *ArikawaSurface) FetchScheduledEvent(ctx context.Context, guildID, eventID int64) (*ScheduledEventState, error) {
	ev, err := a.api(ctx).ScheduledEvent(discord.GuildID(guildID), discord.EventID(eventID), false)
	if err != nil {
		return nil, wrapAPIErr("fetching scheduled event", err)
	}

	state := &ScheduledEventState{
		ID:          int64(ev.ID),
		Name:        ev.Name,
		Start:       ev.StartTime.Time(),
		Description: ev.Description,
		Status:      fromDiscordStatus(ev.Status),
	}
	if ev.EndTime != nil {
		state.End = ev.EndTime.Time()
	}
	return state, nil
}

func fromDiscordStatus(s discord.EventStatus) EventStatus {
	switch s {
	case discord.ActiveEvent:
		return EventActive
	case discord.CompletedEvent:
		return EventCompleted
	case discord.CancelledEvent:
		return EventCancelled
	default:
		return EventScheduled
	}
}

// StartScheduledEvent implements Surface by transitioning the event to active.
func (a *ArikawaSurface) StartScheduledEvent(ctx context.Context, guildID, eventID int64) error {
	_, err := a.api(ctx).EditScheduledEvent(discord.GuildID(guildID), discord.EventID(eventID), "",
		api.EditScheduledEventData{Status: discord.ActiveEvent})
	return wrapAPIErr("starting scheduled event", err)
}

// EndScheduledEvent implements Surface by transitioning the event to completed.
func (a *ArikawaSurface) EndScheduledEvent(ctx context.Context, guildID, eventID int64) error {
	_, err := a.api(ctx).EditScheduledEvent(discord.GuildID(guildID), discord.EventID(eventID), "",
		api.EditScheduledEventData{Status: discord.CompletedEvent})
	return wrapAPIErr("ending scheduled event", err)
}

// EnsureChannelWebhook implements Surface: reuse an existing webhook on the
// channel or create one.
func (a *ArikawaSurface) EnsureChannelWebhook(ctx context.Context, channelID int64) (int64, string, error) {
	hooks, err := a.api(ctx).ChannelWebhooks(discord.ChannelID(channelID))
	if err != nil {
		return 0, "", wrapAPIErr("listing channel webhooks", err)
	}
	for _, h := range hooks {
		if h.Token != "" {
			return int64(h.ID), h.Token, nil
		}
	}

	hook, err := a.api(ctx).CreateWebhook(discord.ChannelID(channelID), api.CreateWebhookData{
		Name: "Tausendsassa",
	})
	if err != nil {
		return 0, "", wrapAPIErr("creating channel webhook", err)
	}
	return int64(hook.ID), hook.Token, nil
}

var _ Surface = (*ArikawaSurface)(nil)
