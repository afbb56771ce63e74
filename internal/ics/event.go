package ics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"calstream/internal/model"
)

// Field bounds applied after whitespace normalization.
const (
	maxSubjectLen  = 255
	maxPreviewLen  = 1024
	maxLocationLen = 255
)

const defaultEventDuration = time.Hour

// Vendor properties recognized by the show-as classification.
const (
	propBusyStatus = "X-MICROSOFT-CDO-BUSYSTATUS"
	propDeleted    = "X-OUTLOOK-DELETED"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Known meeting-provider hosts scanned for in event descriptions.
var meetingProviders = []string{
	"teams.microsoft.com",
	"zoom.us",
	"meet.google.com",
	"webex.com",
	"gotomeeting.com",
	"chime.aws",
}

// eventParser converts one buffered VEVENT block into a CalendarEvent.
type eventParser struct {
	userEmail string
	followRe  *regexp.Regexp
	defaultTZ string
	warn      func(string)
}

// parse returns nil when the block is dropped (missing/unparseable
// DTSTART); a warning is recorded and parsing of other events continues.
func (ep *eventParser) parse(raw *rawEvent) *model.CalendarEvent {
	props := make([]contentLine, 0, len(raw.lines))
	depth := 0
	for _, line := range raw.lines {
		cl, ok := parseContentLine(line)
		if !ok {
			continue
		}
		// Sub-components (VALARM and friends) carry their own properties;
		// those stay scoped to the sub-component, not the event.
		switch cl.Name {
		case "BEGIN":
			if !strings.EqualFold(cl.Value, "VEVENT") {
				depth++
			}
			continue
		case "END":
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth > 0 {
			continue
		}
		props = append(props, cl)
	}

	first := func(name string) (contentLine, bool) {
		for _, p := range props {
			if p.Name == name {
				return p, true
			}
		}
		return contentLine{}, false
	}

	subject := boundedText(textValue(props, "SUMMARY"), maxSubjectLen)

	dtStart, ok := first("DTSTART")
	if !ok {
		ep.warn(fmt.Sprintf("event dropped: missing DTSTART (subject %q)", subject))
		return nil
	}
	start, startTZ, allDay, err := ep.parseDateTime(dtStart)
	if err != nil {
		ep.warn(fmt.Sprintf("event dropped: bad DTSTART %q: %v", dtStart.Value, err))
		return nil
	}

	end, endTZ := ep.parseEnd(props, start, startTZ, allDay)

	description := unescapeText(rawValue(props, "DESCRIPTION"))

	ev := &model.CalendarEvent{
		Subject:     subject,
		BodyPreview: boundedText(description, maxPreviewLen),
		Start:       model.DateTimeInfo{DateTime: start, TimeZone: startTZ},
		End:         model.DateTimeInfo{DateTime: end, TimeZone: endTZ},
		AllDay:      allDay,
		Location:    boundedText(textValue(props, "LOCATION"), maxLocationLen),
	}

	// Identity. UID is expected but not mandatory; without one we derive a
	// deterministic id from start time and subject.
	if uid := rawValue(props, "UID"); uid != "" {
		ev.ID = uid
	} else {
		ev.ID = start.UTC().Format(time.RFC3339) + "-" + ev.Subject
		ep.warn(fmt.Sprintf("event missing UID; derived id %q", ev.ID))
	}

	if p, ok := first("SEQUENCE"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			ev.Seq = n
		}
	}

	// Attendees / organizer.
	for _, p := range props {
		if p.Name == "ATTENDEE" {
			ev.Attendees = append(ev.Attendees, parseAttendee(p))
		}
	}
	if p, ok := first("ORGANIZER"); ok && ep.userEmail != "" {
		ev.IsOrganizer = strings.EqualFold(mailtoAddr(p.Value), ep.userEmail)
	}

	// Show-as classification inputs.
	status := upperValue(props, "STATUS")
	transp := upperValue(props, "TRANSP")
	busyOverride := upperValue(props, propBusyStatus)
	deleted := strings.EqualFold(rawValue(props, propDeleted), "TRUE")
	followed := ep.followRe != nil && ep.followRe.MatchString(ev.Subject)

	ev.IsCancelled = status == "CANCELLED"
	ev.ShowAs = classifyShowAs(deleted, busyOverride, status, transp, followed)

	// Online-meeting detection from the description body.
	for _, provider := range meetingProviders {
		if strings.Contains(description, provider) {
			ev.IsOnlineMeeting = true
			ev.OnlineMeetingURL = urlPattern.FindString(description)
			break
		}
	}

	// Recurrence metadata. RRULE and RECURRENCE-ID are kept verbatim;
	// expansion happens later and only for masters.
	if p, ok := first("RRULE"); ok && p.Value != "" {
		ev.RRule = p.Value
		ev.IsRecurring = true
	}
	if p, ok := first("RECURRENCE-ID"); ok {
		ev.RecurrenceID = strings.TrimSpace(p.Value)
	}
	for _, p := range props {
		if p.Name != "EXDATE" {
			continue
		}
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				ev.ExDates = append(ev.ExDates, part)
			}
		}
	}

	if p, ok := first("CREATED"); ok {
		if t, _, _, err := ep.parseDateTime(p); err == nil {
			ev.CreatedAt = t
		}
	}
	if p, ok := first("LAST-MODIFIED"); ok {
		if t, _, _, err := ep.parseDateTime(p); err == nil {
			ev.ModifiedAt = t
		}
	}

	return ev
}

// parseEnd resolves the event end from DTEND, then DURATION, then the
// one-hour default.
func (ep *eventParser) parseEnd(props []contentLine, start time.Time, startTZ string, allDay bool) (time.Time, string) {
	for _, p := range props {
		if p.Name == "DTEND" {
			if t, tz, _, err := ep.parseDateTime(p); err == nil {
				return t, tz
			}
			break
		}
	}
	for _, p := range props {
		if p.Name == "DURATION" {
			if d, err := parseDuration(p.Value); err == nil {
				return start.Add(d), startTZ
			}
			break
		}
	}
	if allDay {
		return start.Add(24 * time.Hour), startTZ
	}
	return start.Add(defaultEventDuration), startTZ
}

// parseDateTime handles the DATE-TIME and DATE forms of DTSTART/DTEND and
// friends. Date-only values mean an all-day boundary and map to midnight
// UTC. Naive local times without a loadable TZID are treated as UTC.
func (ep *eventParser) parseDateTime(p contentLine) (t time.Time, tz string, dateOnly bool, err error) {
	val := strings.TrimSpace(p.Value)
	if val == "" {
		return time.Time{}, "", false, fmt.Errorf("empty date-time value")
	}

	dateOnly = strings.EqualFold(p.Param("VALUE"), "DATE") || !strings.Contains(val, "T")
	if dateOnly {
		t, err = time.ParseInLocation("20060102", val, time.UTC)
		return t, "UTC", true, err
	}

	if strings.HasSuffix(val, "Z") {
		t, err = time.Parse("20060102T150405Z", val)
		return t, "UTC", false, err
	}

	tzid := p.Param("TZID")
	if tzid == "" {
		tzid = ep.defaultTZ
	}
	loc := time.UTC
	label := "UTC"
	if tzid != "" {
		if l, lerr := time.LoadLocation(tzid); lerr == nil {
			loc = l
			label = tzid
		}
	}
	t, err = time.ParseInLocation("20060102T150405", val, loc)
	return t, label, false, err
}

func parseAttendee(p contentLine) model.Attendee {
	email := mailtoAddr(p.Value)

	name := p.Param("CN")
	if name == "" {
		if i := strings.IndexByte(email, '@'); i > 0 {
			name = email[:i]
		} else {
			name = email
		}
	}

	role := model.RoleRequired
	switch strings.ToUpper(p.Param("ROLE")) {
	case "OPT-PARTICIPANT":
		role = model.RoleOptional
	case "NON-PARTICIPANT":
		role = model.RoleResource
	}

	status := model.ResponseNotResponded
	switch strings.ToUpper(p.Param("PARTSTAT")) {
	case "ACCEPTED":
		status = model.ResponseAccepted
	case "DECLINED":
		status = model.ResponseDeclined
	case "TENTATIVE":
		status = model.ResponseTentative
	}

	return model.Attendee{Name: name, Email: email, Role: role, Status: status}
}

// classifyShowAs applies the show-as precedence ladder:
//  1. deletion marker wins outright
//  2. vendor busy-status override beats STATUS/TRANSP; FREE downgrades to
//     tentative when the subject matched the forwarded/following pattern
//  3. STATUS cancelled/tentative
//  4. TRANSP transparent (tentative when paired with STATUS confirmed)
//  5. forwarded/following pattern alone
//  6. busy
func classifyShowAs(deleted bool, busyOverride, status, transp string, followed bool) model.ShowAs {
	if deleted {
		return model.ShowAsFree
	}

	switch busyOverride {
	case "FREE":
		if followed {
			return model.ShowAsTentative
		}
		return model.ShowAsFree
	case "TENTATIVE":
		return model.ShowAsTentative
	case "BUSY":
		return model.ShowAsBusy
	case "OOF":
		return model.ShowAsOutOfOffice
	case "WORKINGELSEWHERE":
		return model.ShowAsWorkingElsewhere
	}

	switch status {
	case "CANCELLED":
		return model.ShowAsFree
	case "TENTATIVE":
		return model.ShowAsTentative
	}

	if transp == "TRANSPARENT" {
		if status == "CONFIRMED" {
			return model.ShowAsTentative
		}
		return model.ShowAsFree
	}

	if followed {
		return model.ShowAsTentative
	}
	return model.ShowAsBusy
}

// parseDuration parses the RFC5545 DURATION form (e.g. PT1H30M, P1D,
// -PT15M). Weeks, days, hours, minutes and seconds are supported.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("bad duration %q", s)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := 0
	haveNum := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			haveNum = true
		case c == 'T':
			inTime = true
		default:
			if !haveNum {
				return 0, fmt.Errorf("bad duration %q", s)
			}
			switch {
			case c == 'W':
				total += time.Duration(num) * 7 * 24 * time.Hour
			case c == 'D':
				total += time.Duration(num) * 24 * time.Hour
			case c == 'H' && inTime:
				total += time.Duration(num) * time.Hour
			case c == 'M' && inTime:
				total += time.Duration(num) * time.Minute
			case c == 'S' && inTime:
				total += time.Duration(num) * time.Second
			default:
				return 0, fmt.Errorf("bad duration designator %q", string(c))
			}
			num = 0
			haveNum = false
		}
	}
	if haveNum {
		return 0, fmt.Errorf("bad duration %q", s)
	}
	if neg {
		total = -total
	}
	return total, nil
}

// mailtoAddr strips an optional mailto: prefix from an ATTENDEE/ORGANIZER
// value.
func mailtoAddr(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return v
}

// rawValue returns the first value of the named property, un-unescaped.
func rawValue(props []contentLine, name string) string {
	for _, p := range props {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

func upperValue(props []contentLine, name string) string {
	return strings.ToUpper(strings.TrimSpace(rawValue(props, name)))
}

func textValue(props []contentLine, name string) string {
	return unescapeText(rawValue(props, name))
}

// boundedText normalizes whitespace and truncates to max runes.
func boundedText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		s = string(r[:max])
	}
	return strings.TrimSpace(s)
}
