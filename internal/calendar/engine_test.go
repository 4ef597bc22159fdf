package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spa1teN/tausendsassa/internal/chat"
	"github.com/spa1teN/tausendsassa/internal/faults"
	"github.com/spa1teN/tausendsassa/internal/models"
	"github.com/spa1teN/tausendsassa/internal/retry"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	calendars []models.Calendar
	guilds    map[int64]*models.Guild
	links     map[string]map[string]int64 // calendar id -> title -> event id
	reminders map[string]time.Time        // calendar id | key -> sent at
	summaries map[string]summaryState
}

type summaryState struct {
	MessageID *int64
	WeekStart time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		guilds:    map[int64]*models.Guild{1: {ID: 1, Timezone: "Europe/Berlin"}},
		links:     make(map[string]map[string]int64),
		reminders: make(map[string]time.Time),
		summaries: make(map[string]summaryState),
	}
}

func (s *fakeStore) ListCalendars(context.Context) ([]models.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Calendar, len(s.calendars))
	copy(out, s.calendars)
	return out, nil
}

func (s *fakeStore) GetGuild(_ context.Context, id int64) (*models.Guild, error) {
	if g, ok := s.guilds[id]; ok {
		return g, nil
	}
	return nil, faults.New(faults.KindNotFound, "getting guild", errors.New("no rows"))
}

func (s *fakeStore) UpdateCalendarSummary(_ context.Context, id models.ULID, messageID *int64, weekStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[id.String()] = summaryState{MessageID: messageID, WeekStart: weekStart}
	for i := range s.calendars {
		if s.calendars[i].ID == id {
			s.calendars[i].LastMessageID = messageID
			ws := weekStart
			s.calendars[i].CurrentWeekStart = &ws
		}
	}
	return nil
}

func (s *fakeStore) TouchCalendarSync(context.Context, models.ULID) error { return nil }

func (s *fakeStore) ListEventLinks(_ context.Context, calendarID models.ULID) ([]models.EventLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventLink
	for title, id := range s.links[calendarID.String()] {
		out = append(out, models.EventLink{CalendarID: calendarID, EventTitle: title, PlatformEventID: id})
	}
	return out, nil
}

func (s *fakeStore) AddEventLink(_ context.Context, calendarID models.ULID, title string, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.links[calendarID.String()] == nil {
		s.links[calendarID.String()] = make(map[string]int64)
	}
	s.links[calendarID.String()][title] = eventID
	return nil
}

func (s *fakeStore) RemoveEventLink(_ context.Context, calendarID models.ULID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links[calendarID.String()], title)
	return nil
}

func (s *fakeStore) EventLinkByTitle(_ context.Context, calendarID models.ULID, title string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.links[calendarID.String()][title]; ok {
		return id, nil
	}
	return 0, faults.New(faults.KindNotFound, "event link", errors.New("no rows"))
}

func (s *fakeStore) IsReminderSent(_ context.Context, calendarID models.ULID, key string, within time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.reminders[calendarID.String()+"|"+key]
	return ok && time.Since(at) < within, nil
}

func (s *fakeStore) MarkReminderSent(_ context.Context, calendarID models.ULID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[calendarID.String()+"|"+key] = time.Now()
	return nil
}

func (s *fakeStore) CleanupReminders(context.Context, int) (int64, error) { return 0, nil }

// fakeSurface tracks messages and scheduled events.
type fakeSurface struct {
	mu        sync.Mutex
	nextMsgID int64
	nextEvID  int64
	messages  map[int64]chat.Message // message id -> content
	deleted   []int64
	events    map[int64]*chat.ScheduledEventState
	started   []int64
	ended     []int64
	sends     int
	edits     int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		messages: make(map[int64]chat.Message),
		events:   make(map[int64]*chat.ScheduledEventState),
	}
}

func (s *fakeSurface) SendMessage(_ context.Context, _ int64, m chat.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	s.messages[s.nextMsgID] = m
	s.sends++
	return s.nextMsgID, nil
}

func (s *fakeSurface) EditMessage(_ context.Context, _ int64, messageID int64, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return faults.New(faults.KindNotFound, "editing message", errors.New("gone"))
	}
	s.messages[messageID] = m
	s.edits++
	return nil
}

func (s *fakeSurface) DeleteMessage(_ context.Context, _ int64, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return faults.New(faults.KindNotFound, "deleting message", errors.New("gone"))
	}
	delete(s.messages, messageID)
	s.deleted = append(s.deleted, messageID)
	return nil
}

func (s *fakeSurface) PublishMessage(context.Context, int64, int64) error { return nil }

func (s *fakeSurface) CreateScheduledEvent(_ context.Context, _ int64, ev chat.ScheduledEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvID++
	s.events[s.nextEvID] = &chat.ScheduledEventState{
		ID: s.nextEvID, Name: ev.Name, Start: ev.Start, End: ev.End,
		Description: ev.Description, Status: chat.EventScheduled,
	}
	return s.nextEvID, nil
}

func (s *fakeSurface) EditScheduledEvent(_ context.Context, _ int64, eventID int64, ev chat.ScheduledEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.events[eventID]
	if !ok {
		return faults.New(faults.KindNotFound, "editing event", errors.New("gone"))
	}
	state.Name, state.Start, state.End, state.Description = ev.Name, ev.Start, ev.End, ev.Description
	return nil
}

func (s *fakeSurface) DeleteScheduledEvent(_ context.Context, _ int64, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return faults.New(faults.KindNotFound, "deleting event", errors.New("gone"))
	}
	delete(s.events, eventID)
	return nil
}

func (s *fakeSurface) FetchScheduledEvent(_ context.Context, _ int64, eventID int64) (*chat.ScheduledEventState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.events[eventID]; ok {
		cp := *state
		return &cp, nil
	}
	return nil, faults.New(faults.KindNotFound, "fetching event", errors.New("gone"))
}

func (s *fakeSurface) StartScheduledEvent(_ context.Context, _ int64, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID].Status = chat.EventActive
	s.started = append(s.started, eventID)
	return nil
}

func (s *fakeSurface) EndScheduledEvent(_ context.Context, _ int64, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID].Status = chat.EventCompleted
	s.ended = append(s.ended, eventID)
	return nil
}

func (s *fakeSurface) EnsureChannelWebhook(context.Context, int64) (int64, string, error) {
	return 1, "token", nil
}

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (f *fakeFetcher) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bodies[url]; ok {
		return b, nil
	}
	return nil, faults.Newf(faults.KindTransient, "fetching "+url, "status 500")
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testEngine(store *fakeStore, fetcher *fakeFetcher, surface *fakeSurface, now time.Time) *Engine {
	fabric := retry.New(retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	e := New(store, fetcher, fabric, surface, nil,
		slog.New(slog.NewTextHandler(discardWriter{}, nil)))
	e.now = func() time.Time { return now }
	return e
}

func addCalendar(store *fakeStore, url string) models.Calendar {
	cal := models.Calendar{
		ID:             models.NewULID(),
		GuildID:        1,
		CalendarID:     "team",
		ICalURL:        url,
		TextChannelID:  100,
		VoiceChannelID: 200,
	}
	store.calendars = append(store.calendars, cal)
	return cal
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

// --- tests ---

func TestSync_FirstWeek(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, loc) // Wednesday
	monday := time.Date(2026, 8, 3, 0, 0, 0, 0, loc)

	body := icsCalendar(
		icsEvent("u1", "Standup", monday.Add(10*time.Hour), monday.Add(11*time.Hour), ""),
		icsEvent("u2", "Review", monday.Add(2*24*time.Hour+14*time.Hour), monday.Add(2*24*time.Hour+15*time.Hour), ""),
	)

	store := newFakeStore()
	cal := addCalendar(store, "https://cal.example/team.ics")
	fetcher := &fakeFetcher{bodies: map[string][]byte{cal.ICalURL: body}}
	surface := newFakeSurface()

	e := testEngine(store, fetcher, surface, now)
	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	// One summary message, two platform events, links match titles (S3, P7).
	if surface.sends != 1 {
		t.Errorf("sends = %d, want 1 summary message", surface.sends)
	}
	links := store.links[cal.ID.String()]
	if len(links) != 2 {
		t.Fatalf("links = %v, want Standup and Review", links)
	}
	for _, title := range []string{"Standup", "Review"} {
		if _, ok := links[title]; !ok {
			t.Errorf("missing link for %q", title)
		}
	}
	if len(surface.events) != 2 {
		t.Errorf("platform events = %d, want 2", len(surface.events))
	}

	state := store.summaries[cal.ID.String()]
	if !state.WeekStart.Equal(monday) {
		t.Errorf("stored week start = %v, want %v", state.WeekStart, monday)
	}
}

func TestSync_EditWithinSameWeek(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, loc)
	monday := time.Date(2026, 8, 3, 0, 0, 0, 0, loc)
	body := icsCalendar(icsEvent("u1", "Standup", monday.Add(10*time.Hour), monday.Add(11*time.Hour), ""))

	store := newFakeStore()
	cal := addCalendar(store, "https://cal.example/team.ics")
	fetcher := &fakeFetcher{bodies: map[string][]byte{cal.ICalURL: body}}
	surface := newFakeSurface()
	e := testEngine(store, fetcher, surface, now)

	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if surface.sends != 1 {
		t.Errorf("sends = %d, want 1 (second sync edits in place)", surface.sends)
	}
	if surface.edits != 1 {
		t.Errorf("edits = %d, want 1", surface.edits)
	}
}

func TestSync_WeekRolloverReplacesSummary(t *testing.T) {
	loc := berlin(t)
	week1Now := time.Date(2026, 8, 5, 12, 0, 0, 0, loc)
	week1Monday := time.Date(2026, 8, 3, 0, 0, 0, 0, loc)
	week2Now := week1Now.AddDate(0, 0, 7)
	week2Monday := week1Monday.AddDate(0, 0, 7)

	store := newFakeStore()
	cal := addCalendar(store, "https://cal.example/team.ics")
	surface := newFakeSurface()

	// Week 1: Standup and Review.
	fetcher := &fakeFetcher{bodies: map[string][]byte{cal.ICalURL: icsCalendar(
		icsEvent("u1", "Standup", week1Monday.Add(10*time.Hour), week1Monday.Add(11*time.Hour), "RRULE:FREQ=WEEKLY;COUNT=8\r\n"),
		icsEvent("u2", "Review", week1Monday.Add(2*24*time.Hour+14*time.Hour), week1Monday.Add(2*24*time.Hour+15*time.Hour), ""),
	)}}
	e := testEngine(store, fetcher, surface, week1Now)
	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	week1Summary := store.summaries[cal.ID.String()]
	if week1Summary.MessageID == nil {
		t.Fatal("week 1 summary missing")
	}

	// Week 2: Review is gone upstream, Retro is new, Standup recurs.
	fetcher.mu.Lock()
	fetcher.bodies[cal.ICalURL] = icsCalendar(
		icsEvent("u1", "Standup", week1Monday.Add(10*time.Hour), week1Monday.Add(11*time.Hour), "RRULE:FREQ=WEEKLY;COUNT=8\r\n"),
		icsEvent("u3", "Retro", week2Monday.Add(3*24*time.Hour+16*time.Hour), week2Monday.Add(3*24*time.Hour+17*time.Hour), ""),
	)
	fetcher.mu.Unlock()

	e.now = func() time.Time { return week2Now }
	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// P6: the old summary is deleted, a new one posted, week start updated.
	week2Summary := store.summaries[cal.ID.String()]
	if week2Summary.MessageID == nil || *week2Summary.MessageID == *week1Summary.MessageID {
		t.Error("rollover must post a new summary message")
	}
	if !week2Summary.WeekStart.Equal(week2Monday) {
		t.Errorf("stored week start = %v, want %v", week2Summary.WeekStart, week2Monday)
	}
	found := false
	for _, id := range surface.deleted {
		if id == *week1Summary.MessageID {
			found = true
		}
	}
	if !found {
		t.Error("previous summary message must be deleted on rollover")
	}

	// S3/P7: links now exactly {Standup, Retro}; the Review event is gone.
	links := store.links[cal.ID.String()]
	if len(links) != 2 {
		t.Fatalf("links = %v, want exactly Standup and Retro", links)
	}
	if _, ok := links["Review"]; ok {
		t.Error("Review link must be removed")
	}
	if _, ok := links["Retro"]; !ok {
		t.Error("Retro link missing")
	}
	for _, state := range surface.events {
		if state.Name == "Review" {
			t.Error("platform event backing Review must be deleted")
		}
	}
}

func TestTickEventStatus_Transitions(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, loc)

	store := newFakeStore()
	cal := addCalendar(store, "https://cal.example/team.ics")
	surface := newFakeSurface()
	e := testEngine(store, &fakeFetcher{}, surface, now)

	// Seed: one event that should start, one active that should end, one link
	// whose platform event is gone.
	dueID, _ := surface.CreateScheduledEvent(context.Background(), 1, chat.ScheduledEvent{
		Name: "Due", Start: now.Add(-5 * time.Minute), End: now.Add(time.Hour),
	})
	store.AddEventLink(context.Background(), cal.ID, "Due", dueID)

	activeID, _ := surface.CreateScheduledEvent(context.Background(), 1, chat.ScheduledEvent{
		Name: "Over", Start: now.Add(-2 * time.Hour), End: now.Add(-time.Minute),
	})
	surface.events[activeID].Status = chat.EventActive
	store.AddEventLink(context.Background(), cal.ID, "Over", activeID)

	store.AddEventLink(context.Background(), cal.ID, "Ghost", 999)

	if err := e.TickEventStatus(context.Background()); err != nil {
		t.Fatalf("TickEventStatus: %v", err)
	}

	if len(surface.started) != 1 || surface.started[0] != dueID {
		t.Errorf("started = %v, want [%d]", surface.started, dueID)
	}
	if len(surface.ended) != 1 || surface.ended[0] != activeID {
		t.Errorf("ended = %v, want [%d]", surface.ended, activeID)
	}
	if _, ok := store.links[cal.ID.String()]["Ghost"]; ok {
		t.Error("link to vanished event must be dropped")
	}
}

func TestTickReminders_EmitsOnceWithRolePing(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, loc)
	start := now.Add(time.Hour)

	store := newFakeStore()
	cal := addCalendar(store, "https://cal.example/team.ics")
	roleID := int64(4242)
	store.calendars[0].ReminderRoleID = &roleID

	fetcher := &fakeFetcher{bodies: map[string][]byte{cal.ICalURL: icsCalendar(
		icsEvent("u1", "Townhall", start, start.Add(time.Hour), ""),
	)}}
	surface := newFakeSurface()
	e := testEngine(store, fetcher, surface, now)

	// S4: the first tick in the window emits exactly one reminder with the
	// role mention; subsequent ticks within 2 h emit none (P8).
	for i := 0; i < 4; i++ {
		if err := e.TickReminders(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if surface.sends != 1 {
		t.Fatalf("sends = %d, want exactly 1 reminder", surface.sends)
	}
	var msg chat.Message
	for _, m := range surface.messages {
		msg = m
	}
	if msg.Content != fmt.Sprintf("<@&%d> Event starting soon!", roleID) {
		t.Errorf("content = %q, want role ping", msg.Content)
	}
	if len(msg.Embeds) != 1 || msg.Embeds[0].Title != "📢 Event Reminder" {
		t.Errorf("embed = %+v", msg.Embeds)
	}
}

func TestTickReminders_OutsideWindowSilent(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, loc)

	store := newFakeStore()
	cal := addCalendar(store, "https://cal.example/team.ics")
	fetcher := &fakeFetcher{bodies: map[string][]byte{cal.ICalURL: icsCalendar(
		icsEvent("u1", "Too Soon", now.Add(10*time.Minute), now.Add(time.Hour), ""),
		icsEvent("u2", "Too Far", now.Add(3*time.Hour), now.Add(4*time.Hour), ""),
	)}}
	surface := newFakeSurface()
	e := testEngine(store, fetcher, surface, now)

	if err := e.TickReminders(context.Background()); err != nil {
		t.Fatal(err)
	}
	if surface.sends != 0 {
		t.Errorf("sends = %d, want 0 (no event inside [now+45m, now+75m])", surface.sends)
	}
}

func TestSummaryEmbed_GroupsByDayWithLinks(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, loc)
	monday := time.Date(2026, 8, 3, 0, 0, 0, 0, loc)

	weekly := []Event{
		{Title: "Standup", Start: monday.Add(10 * time.Hour)},
		{Title: "Planning", Start: monday.Add(14 * time.Hour)},
		{Title: "Review", Start: monday.AddDate(0, 0, 2).Add(14 * time.Hour)},
	}
	links := []models.EventLink{{EventTitle: "Standup", PlatformEventID: 555}}

	embed := summaryEmbed(weekly, links, 1, loc, now)

	if len(embed.Fields) != 2 {
		t.Fatalf("fields = %d, want 2 day groups", len(embed.Fields))
	}
	mondayField := embed.Fields[0]
	if mondayField.Name != "Monday, August 03" {
		t.Errorf("day label = %q", mondayField.Name)
	}
	if want := "[Standup](https://discord.com/events/1/555)"; !strings.Contains(mondayField.Value, want) {
		t.Errorf("linked line missing: %q", mondayField.Value)
	}
	if !strings.Contains(mondayField.Value, "**10:00**") {
		t.Errorf("guild-local time missing: %q", mondayField.Value)
	}
}

func TestSummaryEmbed_Empty(t *testing.T) {
	embed := summaryEmbed(nil, nil, 1, time.UTC, time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC))
	if embed.Description != "No events scheduled for this week." {
		t.Errorf("description = %q", embed.Description)
	}
}
