package ics

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// lineReconstructor turns decoded text into complete logical lines,
// unfolding RFC5545 continuation lines. Two buffers survive chunk
// boundaries independently: the tail of a raw line that has not seen its
// newline yet, and a logical line that may still receive continuations.
type lineReconstructor struct {
	partial string // incomplete raw line (no trailing newline yet)

	folded      string // logical line awaiting possible continuations
	havePending bool

	maxLineLen int
	warn       func(string)
}

func newLineReconstructor(maxLineLen int, warn func(string)) *lineReconstructor {
	if warn == nil {
		warn = func(string) {}
	}
	return &lineReconstructor{maxLineLen: maxLineLen, warn: warn}
}

// feed consumes decoded text and returns the logical lines completed by it.
func (l *lineReconstructor) feed(text string) []string {
	if text == "" {
		return nil
	}

	raw := l.partial + text
	var out []string

	for {
		idx := strings.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(raw[:idx], "\r")
		raw = raw[idx+1:]
		out = l.fold(line, out)
	}
	l.partial = raw

	return out
}

// flush emits the pending folded line and any pending partial raw line as
// final logical lines at end of stream.
func (l *lineReconstructor) flush() []string {
	var out []string

	if l.partial != "" {
		line := strings.TrimSuffix(l.partial, "\r")
		l.partial = ""
		out = l.fold(line, out)
	}
	if l.havePending {
		out = append(out, l.finish())
		l.havePending = false
	}
	return out
}

// fold applies RFC5545 unfolding to one raw line, appending any logical
// line it completes to out.
func (l *lineReconstructor) fold(line string, out []string) []string {
	if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
		if !l.havePending {
			// Orphan continuation with no base line: malformed input,
			// dropped silently.
			return out
		}
		// Exactly one leading whitespace char is stripped; the rest is
		// concatenated with no separator.
		l.folded += line[1:]
		return out
	}

	if l.havePending {
		out = append(out, l.finish())
	}
	l.folded = line
	l.havePending = true
	return out
}

func (l *lineReconstructor) finish() string {
	line := l.folded
	l.folded = ""
	if l.maxLineLen > 0 && len(line) > l.maxLineLen {
		cut := l.maxLineLen
		// Back off to a rune boundary so truncation never reintroduces
		// invalid UTF-8 into decoded text.
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		l.warn(fmt.Sprintf("logical line truncated from %d to %d bytes", len(line), cut))
		line = line[:cut]
	}
	return line
}
