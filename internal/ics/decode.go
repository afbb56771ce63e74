package ics

import (
	"fmt"
	"strings"
	"unicode/utf8"

	appLog "calstream/internal/log"
)

// DecodePolicy controls how invalid UTF-8 in the input stream is handled.
type DecodePolicy string

const (
	// DecodeStrict aborts the parse on the first invalid sequence.
	DecodeStrict DecodePolicy = "strict"
	// DecodeReplace substitutes U+FFFD for invalid sequences and keeps
	// going. The substitution is silent; permissive network feeds are
	// full of stray bytes and warning per byte would drown real issues.
	DecodeReplace DecodePolicy = "replace"
)

// decoder turns arbitrarily-chunked bytes into text. A multi-byte UTF-8
// sequence split across chunks is carried over and decoded once its tail
// arrives. It also enforces the cumulative input-size ceiling.
type decoder struct {
	policy DecodePolicy

	// pending holds the trailing bytes of an incomplete multi-byte
	// sequence from the previous chunk (at most utf8.UTFMax-1 bytes).
	pending []byte

	total     int64
	maxBytes  int64
	warnBytes int64
	warned    bool

	source string
}

func newDecoder(policy DecodePolicy, maxBytes, warnBytes int64, source string) *decoder {
	return &decoder{
		policy:    policy,
		maxBytes:  maxBytes,
		warnBytes: warnBytes,
		source:    source,
	}
}

// feed decodes one chunk, returning the text that is complete so far.
func (d *decoder) feed(chunk []byte) (string, error) {
	if len(chunk) == 0 {
		return "", nil
	}

	d.total += int64(len(chunk))
	if d.maxBytes > 0 && d.total > d.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrContentTooLarge, d.total, d.maxBytes)
	}
	if !d.warned && d.warnBytes > 0 && d.total > d.warnBytes {
		d.warned = true
		appLog.Info("ics input crossed size warning threshold",
			"source", d.source, "bytes", d.total, "threshold", d.warnBytes)
	}

	buf := chunk
	if len(d.pending) > 0 {
		buf = append(d.pending, chunk...)
		d.pending = nil
	}

	complete, rest := splitIncompleteRune(buf)
	if len(rest) > 0 {
		d.pending = append([]byte(nil), rest...)
	}

	return d.decode(complete)
}

// flush decodes whatever partial sequence is still pending at end of
// stream. A trailing incomplete sequence is invalid input by definition.
func (d *decoder) flush() (string, error) {
	if len(d.pending) == 0 {
		return "", nil
	}
	tail := d.pending
	d.pending = nil
	return d.decode(tail)
}

func (d *decoder) decode(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	if d.policy == DecodeStrict {
		return "", fmt.Errorf("%w after %d bytes", ErrInvalidEncoding, d.total)
	}
	// One U+FFFD per invalid byte, not per run. Run-collapsing would make
	// the output depend on where chunk boundaries fall inside the run.
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String(), nil
}

// splitIncompleteRune splits b so that complete ends on a rune boundary and
// rest holds the leading bytes of a multi-byte sequence whose tail has not
// arrived yet. A malformed tail (stray continuation bytes with no start
// byte) is left in complete for the policy to deal with.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	n := len(b)
	lim := n - utf8.UTFMax
	if lim < 0 {
		lim = 0
	}
	for i := n - 1; i >= lim; i-- {
		c := b[i]
		if c < utf8.RuneSelf {
			// ASCII: everything up to the end is complete.
			return b, nil
		}
		if c&0xC0 == 0x80 {
			// Continuation byte: keep scanning back for the start.
			continue
		}
		if need := runeLen(c); need > n-i {
			return b[:i], b[i:]
		}
		return b, nil
	}
	return b, nil
}

func runeLen(c byte) int {
	switch {
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
