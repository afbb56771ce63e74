package ics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/teambition/rrule-go"

	"calstream/internal/config"
	appLog "calstream/internal/log"
	"calstream/internal/model"
)

// rruleCacheSize bounds the cache of parsed rules. Feeds repeat the same
// RRULE strings across many events and sources.
const rruleCacheSize = 256

var weekdayByToken = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

var freqByName = map[Frequency]rrule.Frequency{
	FreqSecondly: rrule.SECONDLY,
	FreqMinutely: rrule.MINUTELY,
	FreqHourly:   rrule.HOURLY,
	FreqDaily:    rrule.DAILY,
	FreqWeekly:   rrule.WEEKLY,
	FreqMonthly:  rrule.MONTHLY,
	FreqYearly:   rrule.YEARLY,
}

// Expander turns recurring master events into concrete occurrence events
// within a window. Safe for reuse across parses; the rule cache is shared.
type Expander struct {
	maxOccurrences int
	cache          *lru.Cache[string, *RRuleParams]
}

func NewExpander(cfg config.ExpandConfig) *Expander {
	c := config.Config{Expand: cfg}
	c.Normalize()

	cache, err := lru.New[string, *RRuleParams](rruleCacheSize)
	if err != nil {
		// Only possible with a non-positive size constant.
		panic(err)
	}
	return &Expander{
		maxOccurrences: c.Expand.MaxOccurrences,
		cache:          cache,
	}
}

// Expand generates the occurrence events for one recurring master within
// [windowStart, windowEnd] inclusive. The master's EXDATE strings exclude
// occurrences by date only; malformed entries are skipped. Errors are
// either *RRuleParseError (bad rule string) or *RRuleExpansionError
// (generation failure).
func (e *Expander) Expand(master *model.CalendarEvent, windowStart, windowEnd time.Time) (out []model.CalendarEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &RRuleExpansionError{MasterID: master.ID, Err: fmt.Errorf("panic during generation: %v", r)}
		}
	}()

	params, err := e.params(master.RRule)
	if err != nil {
		return nil, err
	}

	rule, err := buildRule(params, master.Start.UTC())
	if err != nil {
		return nil, &RRuleExpansionError{MasterID: master.ID, Err: err}
	}

	times := rule.Between(windowStart.UTC(), windowEnd.UTC(), true)

	// EXDATE exclusion by calendar date, time-of-day ignored.
	excluded := exDateSet(master.ExDates)
	kept := times[:0]
	for _, t := range times {
		if _, skip := excluded[t.UTC().Format("20060102")]; !skip {
			kept = append(kept, t)
		}
	}

	if len(kept) > e.maxOccurrences {
		appLog.Error("expand: truncated occurrences for master due to cap",
			errors.New("max occurrences reached"),
			"uid", master.ID,
			"cap", e.maxOccurrences,
		)
		kept = kept[:e.maxOccurrences]
	}

	duration := master.Duration()
	out = make([]model.CalendarEvent, 0, len(kept))
	for i, start := range kept {
		out = append(out, instantiate(master, start, duration, i))
	}
	return out, nil
}

// ExpandAll expands every recurring master in events, appending the
// occurrences to the returned list alongside the originals. Per-master
// failures become warnings; they never abort the batch.
func (e *Expander) ExpandAll(events []model.CalendarEvent, windowStart, windowEnd time.Time) ([]model.CalendarEvent, []string) {
	out := make([]model.CalendarEvent, 0, len(events))
	var warnings []string

	for i := range events {
		ev := &events[i]
		out = append(out, *ev)

		// Modified instances carry RECURRENCE-ID and are not masters.
		if !ev.IsRecurring || ev.RecurrenceID != "" {
			continue
		}

		occ, err := e.Expand(ev, windowStart, windowEnd)
		if err != nil {
			warnings = append(warnings, err.Error())
			appLog.Error("expand failed", err, "uid", ev.ID, "rrule", ev.RRule)
			continue
		}
		out = append(out, occ...)
	}
	return out, warnings
}

// params returns the parsed rule, consulting the cache first.
func (e *Expander) params(rule string) (*RRuleParams, error) {
	if p, ok := e.cache.Get(rule); ok {
		return p, nil
	}
	p, err := ParseRRule(rule)
	if err != nil {
		return nil, err
	}
	e.cache.Add(rule, p)
	return p, nil
}

func buildRule(p *RRuleParams, dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:     freqByName[p.Freq],
		Interval: p.Interval,
		Dtstart:  dtstart,
	}
	if p.Until != nil {
		opt.Until = p.Until.UTC()
	}
	if p.Count > 0 {
		opt.Count = p.Count
	}
	for _, tok := range p.ByDay {
		wd, err := weekdayFromToken(tok)
		if err != nil {
			return nil, err
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	return rrule.NewRRule(opt)
}

// weekdayFromToken maps a BYDAY token, with optional ordinal prefix
// (e.g. 2MO, -1FR), onto a library weekday.
func weekdayFromToken(tok string) (rrule.Weekday, error) {
	if len(tok) < 2 {
		return rrule.Weekday{}, fmt.Errorf("bad weekday token %q", tok)
	}
	name := tok[len(tok)-2:]
	wd, ok := weekdayByToken[name]
	if !ok {
		return rrule.Weekday{}, fmt.Errorf("bad weekday token %q", tok)
	}
	if prefix := tok[:len(tok)-2]; prefix != "" && prefix != "+" {
		n, err := strconv.Atoi(prefix)
		if err != nil {
			return rrule.Weekday{}, fmt.Errorf("bad weekday ordinal %q", tok)
		}
		wd = wd.Nth(n)
	}
	return wd, nil
}

// exDateSet parses exclusion strings into a set of UTC date keys.
// Individual malformed entries are skipped without affecting the rest.
func exDateSet(exdates []string) map[string]struct{} {
	if len(exdates) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(exdates))
	for _, raw := range exdates {
		t, err := parseUntil(raw)
		if err != nil {
			appLog.Debug("skipping malformed exdate", "value", raw)
			continue
		}
		set[t.Format("20060102")] = struct{}{}
	}
	return set
}

// instantiate builds one concrete occurrence event from its master.
func instantiate(master *model.CalendarEvent, start time.Time, duration time.Duration, n int) model.CalendarEvent {
	ev := *master

	ev.ID = fmt.Sprintf("%s_%s_%d", master.ID, start.UTC().Format("20060102T150405Z"), n)
	ev.SeriesMasterID = master.ID
	ev.IsRecurring = false
	ev.RRule = ""
	ev.ExDates = nil
	ev.RecurrenceID = ""

	ev.Start = model.DateTimeInfo{DateTime: start, TimeZone: master.Start.TimeZone}
	ev.End = model.DateTimeInfo{DateTime: start.Add(duration), TimeZone: master.End.TimeZone}
	return ev
}
