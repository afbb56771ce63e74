package ics

import (
	"fmt"
	"strings"

	"calstream/internal/model"
)

// rawEvent is one buffered VEVENT block, inclusive of its BEGIN/END lines.
type rawEvent struct {
	lines []string
}

// scanner walks logical lines, collecting calendar-level metadata outside
// VEVENTs and buffering complete VEVENT blocks.
type scanner struct {
	inEvent bool
	buf     []string

	meta            model.CalendarMeta
	totalComponents int
}

// feed consumes one logical line. It returns a non-nil rawEvent when the
// line completes a VEVENT block.
func (s *scanner) feed(line string) *rawEvent {
	if line == "" {
		return nil
	}

	upper := strings.ToUpper(line)

	if strings.HasPrefix(upper, "BEGIN:") {
		s.totalComponents++
	}

	if s.inEvent {
		s.buf = append(s.buf, line)
		if upper == "END:VEVENT" {
			ev := &rawEvent{lines: s.buf}
			s.buf = nil
			s.inEvent = false
			return ev
		}
		return nil
	}

	if upper == "BEGIN:VEVENT" {
		s.inEvent = true
		s.buf = append(s.buf, line)
		return nil
	}

	s.collectMeta(line)
	return nil
}

// flush reports an unterminated VEVENT still buffered at end of stream.
// The buffered lines are discarded; previously completed events are not
// affected.
func (s *scanner) flush() (warning string) {
	if !s.inEvent {
		return ""
	}
	n := len(s.buf)
	s.buf = nil
	s.inEvent = false
	return fmt.Sprintf("incomplete event: stream ended inside VEVENT with %d buffered lines", n)
}

// calendar-level property allow-list; only the first occurrence of each is
// recorded.
func (s *scanner) collectMeta(line string) {
	cl, ok := parseContentLine(line)
	if !ok {
		return
	}
	switch cl.Name {
	case "X-WR-CALNAME":
		if s.meta.Name == "" {
			s.meta.Name = unescapeText(cl.Value)
		}
	case "X-WR-CALDESC":
		if s.meta.Description == "" {
			s.meta.Description = unescapeText(cl.Value)
		}
	case "X-WR-TIMEZONE":
		if s.meta.Timezone == "" {
			s.meta.Timezone = strings.TrimSpace(cl.Value)
		}
	case "PRODID":
		if s.meta.ProdID == "" {
			s.meta.ProdID = cl.Value
		}
	case "VERSION":
		if s.meta.Version == "" {
			s.meta.Version = strings.TrimSpace(cl.Value)
		}
	}
}
