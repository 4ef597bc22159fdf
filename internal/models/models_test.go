package models

import (
	"testing"
	"time"
)

func TestWeekStart(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}

	// 2026-08-05 is a Wednesday; its week starts Monday 2026-08-03.
	wednesday := time.Date(2026, 8, 5, 15, 30, 0, 0, loc)
	want := time.Date(2026, 8, 3, 0, 0, 0, 0, loc)

	if got := WeekStart(wednesday); !got.Equal(want) {
		t.Errorf("WeekStart = %v, want %v", got, want)
	}

	// A Monday is its own week start; a Sunday belongs to the week before.
	monday := time.Date(2026, 8, 3, 9, 0, 0, 0, loc)
	if got := WeekStart(monday); !got.Equal(want) {
		t.Errorf("WeekStart(Monday) = %v, want %v", got, want)
	}
	sunday := time.Date(2026, 8, 9, 23, 59, 0, 0, loc)
	if got := WeekStart(sunday); !got.Equal(want) {
		t.Errorf("WeekStart(Sunday) = %v, want %v", got, want)
	}
}

func TestWeekEnd(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Berlin")
	start := time.Date(2026, 8, 3, 0, 0, 0, 0, loc)
	want := time.Date(2026, 8, 9, 23, 59, 59, 0, loc)

	if got := WeekEnd(start); !got.Equal(want) {
		t.Errorf("WeekEnd = %v, want %v", got, want)
	}
}

func TestGuildLocation_Fallback(t *testing.T) {
	g := Guild{Timezone: "Not/AZone"}
	if got := g.Location().String(); got != DefaultTimezone {
		t.Errorf("Location = %q, want default %q", got, DefaultTimezone)
	}

	g = Guild{Timezone: "America/New_York"}
	if got := g.Location().String(); got != "America/New_York" {
		t.Errorf("Location = %q", got)
	}
}

func TestReminderKey(t *testing.T) {
	start := time.Date(2026, 8, 5, 18, 0, 0, 0, time.UTC)
	got := ReminderKey("team", "Townhall", start)
	want := "team|Townhall|2026-08-05T18:00:00Z"
	if got != want {
		t.Errorf("ReminderKey = %q, want %q", got, want)
	}
}

func TestULID_RoundTrip(t *testing.T) {
	id := NewULID()
	if id.IsZero() {
		t.Fatal("NewULID returned zero value")
	}

	parsed, err := ParseULID(id.String())
	if err != nil {
		t.Fatalf("ParseULID: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: %v != %v", parsed, id)
	}

	var scanned ULID
	if err := scanned.Scan(id.String()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned != id {
		t.Errorf("Scan mismatch: %v != %v", scanned, id)
	}
}

func TestULID_Monotonic(t *testing.T) {
	a := NewULID()
	b := NewULID()
	if a.String() >= b.String() {
		t.Errorf("ULIDs must be monotonically increasing: %s then %s", a, b)
	}
}

func TestFeedHasIdentity(t *testing.T) {
	name := "RSS Bot"
	if (Feed{}).HasIdentity() {
		t.Error("feed without identity fields must not report identity")
	}
	if !(Feed{Username: &name}).HasIdentity() {
		t.Error("feed with username must report identity")
	}
}
