package ics

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"calstream/internal/config"
	"calstream/internal/model"
)

func masterEvent(rrule string, exdates []string) *model.CalendarEvent {
	start := time.Date(2025, 5, 26, 8, 30, 0, 0, time.UTC)
	return &model.CalendarEvent{
		ID:          "master-1",
		Subject:     "Biweekly sync",
		Start:       model.DateTimeInfo{DateTime: start, TimeZone: "UTC"},
		End:         model.DateTimeInfo{DateTime: start.Add(time.Hour), TimeZone: "UTC"},
		IsRecurring: true,
		RRule:       rrule,
		ExDates:     exdates,
	}
}

func TestExpandBiweeklyWithUntilAndExdate(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})
	master := masterEvent(
		"FREQ=WEEKLY;INTERVAL=2;BYDAY=MO;UNTIL=2026-08-03T15:30Z",
		[]string{"2025-06-23T08:30:00"},
	)

	windowStart := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	occ, err := e.Expand(master, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	// Biweekly Mondays from 2025-05-26 through 2026-08-03 inclusive is 32
	// occurrences; one is excluded.
	if len(occ) != 31 {
		t.Fatalf("occurrences = %d, want 31", len(occ))
	}

	first := occ[0].Start.UTC()
	if !first.Equal(time.Date(2025, 5, 26, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("first = %v", first)
	}
	last := occ[len(occ)-1].Start.UTC()
	if !last.Equal(time.Date(2026, 8, 3, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("last = %v", last)
	}

	for i, o := range occ {
		s := o.Start.UTC()
		if s.Year() == 2025 && s.Month() == time.June && s.Day() == 23 {
			t.Errorf("excluded date emitted at %d: %v", i, s)
		}
		if s.Weekday() != time.Monday {
			t.Errorf("occurrence %d not a Monday: %v", i, s)
		}
		if o.IsRecurring {
			t.Errorf("occurrence %d marked recurring", i)
		}
		if o.SeriesMasterID != "master-1" {
			t.Errorf("occurrence %d missing master back-reference", i)
		}
		if d := o.End.UTC().Sub(o.Start.UTC()); d != time.Hour {
			t.Errorf("occurrence %d duration = %v, want master's 1h", i, d)
		}
	}
}

func TestExpandDeterminism(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})
	windowStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	master := masterEvent("FREQ=DAILY;COUNT=10", []string{"20250528T083000Z"})

	a, err := e.Expand(master, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	b, err := e.Expand(master, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different occurrence lists")
	}
	if len(a) != 9 {
		t.Errorf("occurrences = %d, want 9 (10 minus 1 exdate)", len(a))
	}
}

func TestExpandCount(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})
	master := masterEvent("FREQ=DAILY;COUNT=5", nil)

	occ, err := e.Expand(master,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 5 {
		t.Errorf("occurrences = %d, want 5", len(occ))
	}
}

func TestExpandOccurrenceCap(t *testing.T) {
	e := NewExpander(config.ExpandConfig{MaxOccurrences: 10})
	master := masterEvent("FREQ=DAILY", nil)

	occ, err := e.Expand(master,
		time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("cap must not raise: %v", err)
	}
	if len(occ) != 10 {
		t.Errorf("occurrences = %d, want capped 10", len(occ))
	}
}

func TestExpandMalformedExdatesSkipped(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})
	master := masterEvent("FREQ=DAILY;COUNT=4", []string{"garbage", "20250527T083000Z"})

	occ, err := e.Expand(master,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 3 {
		t.Errorf("occurrences = %d, want 3 (valid exdate applied, garbage ignored)", len(occ))
	}
}

func TestExpandWindowInclusive(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})
	master := masterEvent("FREQ=DAILY;COUNT=3", nil)

	// Window exactly [first, second] keeps boundary occurrences.
	occ, err := e.Expand(master,
		time.Date(2025, 5, 26, 8, 30, 0, 0, time.UTC),
		time.Date(2025, 5, 27, 8, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 2 {
		t.Errorf("occurrences = %d, want 2 (inclusive bounds)", len(occ))
	}
}

func TestExpandErrorKinds(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})
	win0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	win1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := e.Expand(masterEvent("", nil), win0, win1)
	var parseErr *RRuleParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("empty rule: error = %T, want *RRuleParseError", err)
	}

	_, err = e.Expand(masterEvent("INTERVAL=2", nil), win0, win1)
	if !errors.As(err, &parseErr) {
		t.Errorf("missing FREQ: error = %T, want *RRuleParseError", err)
	}
}

func TestExpandInstanceIDs(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})
	master := masterEvent("FREQ=DAILY;COUNT=2", nil)

	occ, err := e.Expand(master,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(occ) != 2 {
		t.Fatalf("occurrences = %d", len(occ))
	}
	if occ[0].ID == occ[1].ID {
		t.Error("instance ids must be unique")
	}
	if occ[0].ID != "master-1_20250526T083000Z_0" {
		t.Errorf("id = %q", occ[0].ID)
	}
}

func TestExpandAllSkipsOverridesAndNonRecurring(t *testing.T) {
	e := NewExpander(config.ExpandConfig{})

	plain := *masterEvent("", nil)
	plain.ID = "plain"
	plain.IsRecurring = false
	plain.RRule = ""

	override := *masterEvent("FREQ=DAILY;COUNT=3", nil)
	override.ID = "master-1"
	override.RecurrenceID = "20250527T083000Z"

	master := masterEvent("FREQ=DAILY;COUNT=3", nil)

	out, warnings := e.ExpandAll(
		[]model.CalendarEvent{plain, override, *master},
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	// 3 originals + 3 occurrences from the single master.
	if len(out) != 6 {
		t.Errorf("out = %d events, want 6", len(out))
	}
}

func TestParseRRuleParams(t *testing.T) {
	tests := []struct {
		name    string
		rule    string
		wantErr bool
		check   func(*testing.T, *RRuleParams)
	}{
		{
			name: "weekly with byday",
			rule: "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,FR",
			check: func(t *testing.T, p *RRuleParams) {
				if p.Freq != FreqWeekly || p.Interval != 2 {
					t.Errorf("params = %+v", p)
				}
				if !reflect.DeepEqual(p.ByDay, []string{"MO", "FR"}) {
					t.Errorf("byday = %v", p.ByDay)
				}
			},
		},
		{
			name: "interval defaults to one",
			rule: "FREQ=DAILY",
			check: func(t *testing.T, p *RRuleParams) {
				if p.Interval != 1 {
					t.Errorf("interval = %d", p.Interval)
				}
			},
		},
		{
			name: "unknown keys preserved",
			rule: "FREQ=MONTHLY;WKST=MO;X-CUSTOM=yes",
			check: func(t *testing.T, p *RRuleParams) {
				if p.Extra["WKST"] != "MO" || p.Extra["X-CUSTOM"] != "yes" {
					t.Errorf("extra = %v", p.Extra)
				}
			},
		},
		{
			name: "until beats count",
			rule: "FREQ=DAILY;COUNT=10;UNTIL=20251231T000000Z",
			check: func(t *testing.T, p *RRuleParams) {
				if p.Count != 0 || p.Until == nil {
					t.Errorf("params = %+v", p)
				}
			},
		},
		{
			name: "compact until form",
			rule: "FREQ=DAILY;UNTIL=20251231",
			check: func(t *testing.T, p *RRuleParams) {
				if p.Until == nil || !p.Until.Equal(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)) {
					t.Errorf("until = %v", p.Until)
				}
			},
		},
		{name: "empty", rule: "", wantErr: true},
		{name: "missing freq", rule: "INTERVAL=1", wantErr: true},
		{name: "bad freq", rule: "FREQ=SOMETIMES", wantErr: true},
		{name: "bad byday", rule: "FREQ=WEEKLY;BYDAY=XX", wantErr: true},
		{name: "bad until", rule: "FREQ=WEEKLY;UNTIL=whenever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseRRule(tt.rule)
			if tt.wantErr {
				var parseErr *RRuleParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("error = %v, want *RRuleParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, p)
		})
	}
}
