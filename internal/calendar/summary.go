package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// summaryEmbed renders the weekly summary: events grouped by day in the guild
// timezone, each line carrying the local start time and, when a platform
// event backs the title, a hyperlink to it.
func summaryEmbed(weekly []Event, links []models.EventLink, guildID int64, loc *time.Location, now time.Time) chat.Embed {
	embed := chat.Embed{
		Title: "📅 Weekly Calendar Summary",
		Color: 0x5865F2,
		Footer: &chat.EmbedFooter{
			Text: "Last updated: " + now.In(loc).Format("2006-01-02 15:04"),
		},
	}

	if len(weekly) == 0 {
		embed.Description = "No events scheduled for this week."
		return embed
	}

	linkByTitle := make(map[string]int64, len(links))
	for _, l := range links {
		linkByTitle[l.EventTitle] = l.PlatformEventID
	}

	// Group by guild-local day, preserving chronological order.
	type dayGroup struct {
		label  string
		events []Event
	}
	var days []dayGroup
	dayIndex := make(map[string]int)

	for _, ev := range weekly {
		label := ev.Start.In(loc).Format("Monday, January 02")
		idx, ok := dayIndex[label]
		if !ok {
			idx = len(days)
			dayIndex[label] = idx
			days = append(days, dayGroup{label: label})
		}
		days[idx].events = append(days[idx].events, ev)
	}

	for _, day := range days {
		var sb strings.Builder
		for _, ev := range day.events {
			timeStr := ev.Start.In(loc).Format("15:04")
			if eventID, ok := linkByTitle[ev.Title]; ok {
				fmt.Fprintf(&sb, "• **%s** - [%s](%s)\n", timeStr, ev.Title, chat.EventURL(guildID, eventID))
			} else {
				fmt.Fprintf(&sb, "• **%s** - %s\n", timeStr, ev.Title)
			}
		}
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:  day.label,
			Value: sb.String(),
		})
	}

	return embed
}
