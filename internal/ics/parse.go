package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"calstream/internal/config"
	appLog "calstream/internal/log"
	"calstream/internal/model"
)

// Options configures one parse invocation.
type Options struct {
	// Source identifies where the stream came from; diagnostics only.
	Source string

	// UserEmail, when set, is matched case-insensitively against the
	// ORGANIZER of each event; is_organizer is false otherwise.
	UserEmail string

	// FollowPattern is the forwarded/"Following:" subject regular
	// expression used by the show-as classification.
	FollowPattern string

	Parser config.ParserConfig
}

// Parser is the streaming ICS parser. The caller pushes byte chunks of any
// size through Feed and collects the final ParseResult from Finish. All
// state is per-instance; independent parses may run concurrently on
// separate Parser values.
type Parser struct {
	opts Options

	dec   *decoder
	lines *lineReconstructor
	scan  *scanner
	ep    *eventParser
	tel   *telemetry

	events    []model.CalendarEvent
	warnings  []string
	recurring int

	failure error
	done    bool
}

// NewParser builds a parser for a single stream. Zero-valued limits in
// opts.Parser are replaced with package defaults via config normalization.
func NewParser(opts Options) *Parser {
	cfg := config.Config{Parser: opts.Parser}
	cfg.Normalize()
	pc := cfg.Parser
	opts.Parser = pc

	p := &Parser{opts: opts}

	p.dec = newDecoder(DecodePolicy(pc.DecodePolicy), pc.MaxContentBytes, pc.WarnContentBytes, opts.Source)
	p.lines = newLineReconstructor(pc.MaxLineLength, p.warn)
	p.scan = &scanner{}
	p.tel = newTelemetry(pc.MaxIterations, pc.MaxStoredEvents,
		time.Duration(pc.MaxParseSeconds)*time.Second)

	var followRe *regexp.Regexp
	if opts.FollowPattern != "" {
		re, err := regexp.Compile(opts.FollowPattern)
		if err != nil {
			p.warn(fmt.Sprintf("invalid follow pattern %q: %v", opts.FollowPattern, err))
		} else {
			followRe = re
		}
	}
	p.ep = &eventParser{
		userEmail: opts.UserEmail,
		followRe:  followRe,
		warn:      p.warn,
	}

	return p
}

// Feed pushes one chunk of bytes into the parser. Empty chunks are fine.
// A non-nil return means the parse hit a hard bound; further Feed calls
// are no-ops and Finish reports the failure.
func (p *Parser) Feed(chunk []byte) error {
	if p.failure != nil || p.done {
		return p.failure
	}

	text, err := p.dec.feed(chunk)
	if err != nil {
		p.fail(err)
		return p.failure
	}
	p.consume(text)
	return p.failure
}

// Finish flushes all buffered state and returns the result. It is
// idempotent in the sense that the parser accepts no input afterwards.
func (p *Parser) Finish() *model.ParseResult {
	if !p.done {
		p.done = true

		if p.failure == nil {
			if text, err := p.dec.flush(); err != nil {
				p.fail(err)
			} else {
				p.consume(text)
			}
		}
		if p.failure == nil {
			for _, line := range p.lines.flush() {
				if ev := p.scan.feed(line); ev != nil {
					p.process(ev)
				}
				if p.failure != nil {
					break
				}
			}
		}
		if p.failure == nil {
			if w := p.scan.flush(); w != "" {
				p.warn(w)
			}
		}
	}

	res := &model.ParseResult{
		Success:         p.failure == nil,
		Events:          p.events,
		Calendar:        p.scan.meta,
		TotalComponents: p.scan.totalComponents,
		EventCount:      len(p.events),
		RecurringCount:  p.recurring,
		Warnings:        p.warnings,
		Source:          p.opts.Source,
	}

	if p.failure != nil {
		res.ErrorMessage = p.failure.Error()
		if errors.Is(p.failure, ErrDuplicateCorruption) {
			// A corrupted re-delivery yields no partial result.
			res.Events = nil
			res.EventCount = 0
			res.RecurringCount = 0
		}
		appLog.Error("ics parse failed", p.failure,
			"source", p.opts.Source, "items_seen", p.tel.itemsSeen)
		return res
	}

	appLog.Info("ics parse completed",
		"source", p.opts.Source,
		"event_count", res.EventCount,
		"recurring_count", res.RecurringCount,
		"components", res.TotalComponents,
		"warnings", len(res.Warnings),
	)
	return res
}

func (p *Parser) consume(text string) {
	for _, line := range p.lines.feed(text) {
		if ev := p.scan.feed(line); ev != nil {
			p.process(ev)
		}
		if p.failure != nil {
			return
		}
	}
}

func (p *Parser) process(raw *rawEvent) {
	if err := p.tel.admit(); err != nil {
		p.fail(err)
		return
	}

	// The calendar default timezone may appear anywhere before the event.
	p.ep.defaultTZ = p.scan.meta.Timezone

	ev := p.ep.parse(raw)
	if ev == nil {
		return
	}

	dup, err := p.tel.checkDuplicate(ev.ID, ev.RecurrenceID)
	if err != nil {
		p.fail(err)
		return
	}
	if dup {
		appLog.Debug("duplicate event skipped", "source", p.opts.Source, "uid", ev.ID, "recurrence_id", ev.RecurrenceID)
		return
	}

	ok, warning := p.tel.admitStore()
	if warning != "" {
		p.warn(warning)
	}
	if !ok {
		return
	}

	if ev.IsRecurring {
		p.recurring++
	}
	p.events = append(p.events, *ev)
}

func (p *Parser) warn(msg string) {
	p.warnings = append(p.warnings, msg)
	if p.tel != nil {
		p.tel.warningsIssued++
	}
}

func (p *Parser) fail(err error) {
	if p.failure == nil {
		p.failure = err
	}
}

// ParseReader drives a full parse from an io.Reader, reading chunks of the
// configured size. Cancellation is checked between chunks.
func ParseReader(ctx context.Context, r io.Reader, opts Options) *model.ParseResult {
	p := NewParser(opts)
	buf := make([]byte, p.opts.Parser.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			p.fail(fmt.Errorf("parse canceled: %w", err))
			break
		}
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := p.Feed(buf[:n]); ferr != nil {
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			p.fail(fmt.Errorf("read failed: %w", err))
			break
		}
	}
	return p.Finish()
}

// ParseBytes parses a fully-buffered document; convenience for callers and
// tests that do not stream.
func ParseBytes(data []byte, opts Options) *model.ParseResult {
	p := NewParser(opts)
	p.Feed(data)
	return p.Finish()
}
