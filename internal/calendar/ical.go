package calendar

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/spa1teN/tausendsassa/internal/models"
)

// Event is the engine's view of one calendar occurrence. Recurring events are
// expanded into one Event per occurrence.
type Event struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// defaultEventDuration backs events without a DTEND.
const defaultEventDuration = time.Hour

// parseICS parses an iCal payload and expands recurrences into occurrences
// between from and until. Events are returned sorted by start time.
func parseICS(body []byte, loc *time.Location, from, until time.Time) ([]Event, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding calendar: %w", err)
	}

	var events []Event
	for _, component := range cal.Children {
		if component.Name != ical.CompEvent {
			continue
		}
		icsEvent := ical.Event{Component: component}

		start, err := icsEvent.DateTimeStart(loc)
		if err != nil {
			continue
		}
		end, err := icsEvent.DateTimeEnd(loc)
		if err != nil || !end.After(start) {
			end = start.Add(defaultEventDuration)
		}

		base := Event{
			Title:       textProp(icsEvent.Props, ical.PropSummary),
			Start:       start,
			End:         end,
			Description: textProp(icsEvent.Props, ical.PropDescription),
			Location:    textProp(icsEvent.Props, ical.PropLocation),
		}
		if base.Title == "" {
			base.Title = "No Title"
		}

		// Recurrence rules win over the literal DTSTART/DTEND window.
		rset, _ := icsEvent.RecurrenceSet(loc)
		if rset != nil {
			duration := end.Sub(start)
			for _, occurrence := range rset.Between(from, until, true) {
				ev := base
				ev.Start = occurrence
				ev.End = occurrence.Add(duration)
				events = append(events, ev)
			}
			continue
		}

		if !start.Before(from) && !start.After(until) {
			events = append(events, base)
		}
	}

	slices.SortFunc(events, func(a, b Event) int {
		return a.Start.Compare(b.Start)
	})
	return events, nil
}

func textProp(props ical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	text, _ := prop.Text()
	return text
}

// filterEvents applies the calendar's whitelist and blacklist: a blacklist
// match excludes regardless of the whitelist; a non-empty whitelist requires
// at least one match. Terms are case-insensitive substrings of the title.
func filterEvents(events []Event, whitelist, blacklist []string) []Event {
	if len(whitelist) == 0 && len(blacklist) == 0 {
		return events
	}

	var filtered []Event
	for _, ev := range events {
		title := strings.ToLower(ev.Title)

		if matchesAny(title, blacklist) {
			continue
		}
		if len(whitelist) > 0 && !matchesAny(title, whitelist) {
			continue
		}
		filtered = append(filtered, ev)
	}
	return filtered
}

func matchesAny(title string, terms []string) bool {
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(title, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// weeklyEvents selects the events starting inside the current week
// (Monday 00:00 through Sunday 23:59:59 in the given location) and returns
// them with the week start (I3).
func weeklyEvents(events []Event, now time.Time, loc *time.Location) ([]Event, time.Time) {
	weekStart := weekStartOf(now, loc)
	weekEnd := models.WeekEnd(weekStart)

	var weekly []Event
	for _, ev := range events {
		start := ev.Start.In(loc)
		if !start.Before(weekStart) && !start.After(weekEnd) {
			weekly = append(weekly, ev)
		}
	}

	slices.SortFunc(weekly, func(a, b Event) int {
		return a.Start.Compare(b.Start)
	})
	return weekly, weekStart
}

func weekStartOf(now time.Time, loc *time.Location) time.Time {
	return models.WeekStart(now.In(loc))
}
