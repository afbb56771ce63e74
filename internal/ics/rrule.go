package ics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Frequency is the RRULE FREQ value.
type Frequency string

const (
	FreqSecondly Frequency = "SECONDLY"
	FreqMinutely Frequency = "MINUTELY"
	FreqHourly   Frequency = "HOURLY"
	FreqDaily    Frequency = "DAILY"
	FreqWeekly   Frequency = "WEEKLY"
	FreqMonthly  Frequency = "MONTHLY"
	FreqYearly   Frequency = "YEARLY"
)

// RRuleParams is the structured form of an RRULE string. Keys the parser
// does not interpret are preserved opaquely in Extra.
type RRuleParams struct {
	Freq     Frequency
	Interval int
	ByDay    []string
	Until    *time.Time
	Count    int
	Extra    map[string]string
}

// RRuleParseError reports a malformed recurrence-rule string. It fails
// only the expansion call for that rule, never the surrounding parse.
type RRuleParseError struct {
	Rule   string
	Reason string
}

func (e *RRuleParseError) Error() string {
	return fmt.Sprintf("rrule parse %q: %s", e.Rule, e.Reason)
}

// RRuleExpansionError reports a failure while synthesizing occurrences
// from an already-parsed rule. Callers can tell it apart from
// RRuleParseError to distinguish bad input from generation trouble.
type RRuleExpansionError struct {
	MasterID string
	Err      error
}

func (e *RRuleExpansionError) Error() string {
	return fmt.Sprintf("rrule expansion for %q: %v", e.MasterID, e.Err)
}

func (e *RRuleExpansionError) Unwrap() error { return e.Err }

var byDayToken = regexp.MustCompile(`^[+-]?\d{0,2}(MO|TU|WE|TH|FR|SA|SU)$`)

// untilLayouts are the literal UNTIL formats accepted, tried in order.
// Naive values are treated as UTC.
var untilLayouts = []string{
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
	time.RFC3339,
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseRRule parses a KEY=VALUE;... recurrence rule. FREQ is required.
// UNTIL and COUNT are mutually exclusive in practice; when both appear,
// UNTIL bounds the series and COUNT is discarded.
func ParseRRule(s string) (*RRuleParams, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &RRuleParseError{Rule: s, Reason: "empty rule"}
	}

	params := &RRuleParams{Interval: 1}

	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return nil, &RRuleParseError{Rule: s, Reason: fmt.Sprintf("malformed pair %q", pair)}
		}
		key := strings.ToUpper(strings.TrimSpace(pair[:eq]))
		val := strings.TrimSpace(pair[eq+1:])

		switch key {
		case "FREQ":
			freq := Frequency(strings.ToUpper(val))
			switch freq {
			case FreqSecondly, FreqMinutely, FreqHourly, FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
				params.Freq = freq
			default:
				return nil, &RRuleParseError{Rule: s, Reason: fmt.Sprintf("unknown FREQ %q", val)}
			}
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, &RRuleParseError{Rule: s, Reason: fmt.Sprintf("bad INTERVAL %q", val)}
			}
			if n < 1 {
				n = 1
			}
			params.Interval = n
		case "BYDAY":
			for _, tok := range strings.Split(val, ",") {
				tok = strings.ToUpper(strings.TrimSpace(tok))
				if tok == "" {
					continue
				}
				if !byDayToken.MatchString(tok) {
					return nil, &RRuleParseError{Rule: s, Reason: fmt.Sprintf("bad BYDAY token %q", tok)}
				}
				params.ByDay = append(params.ByDay, tok)
			}
		case "UNTIL":
			t, err := parseUntil(val)
			if err != nil {
				return nil, &RRuleParseError{Rule: s, Reason: fmt.Sprintf("bad UNTIL %q", val)}
			}
			params.Until = &t
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, &RRuleParseError{Rule: s, Reason: fmt.Sprintf("bad COUNT %q", val)}
			}
			params.Count = n
		default:
			if params.Extra == nil {
				params.Extra = make(map[string]string)
			}
			params.Extra[key] = val
		}
	}

	if params.Freq == "" {
		return nil, &RRuleParseError{Rule: s, Reason: "missing FREQ"}
	}
	if params.Until != nil {
		// UNTIL wins when both bounds are supplied.
		params.Count = 0
	}
	return params, nil
}

func parseUntil(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range untilLayouts {
		t, err := time.ParseInLocation(layout, v, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
