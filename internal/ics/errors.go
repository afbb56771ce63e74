package ics

import "errors"

// Hard-abort conditions. A parse that hits one of these returns a
// ParseResult with Success=false and ErrorMessage set; they are never
// allowed to escape the parse entry points as panics.
var (
	// ErrContentTooLarge means the cumulative input size crossed the
	// configured hard ceiling.
	ErrContentTooLarge = errors.New("ics: content too large")

	// ErrInvalidEncoding means the input contained invalid UTF-8 and the
	// decode policy is strict.
	ErrInvalidEncoding = errors.New("ics: invalid utf-8 in input")

	// ErrIterationLimit means the parse processed more components than
	// the configured iteration cap allows.
	ErrIterationLimit = errors.New("ics: iteration limit exceeded")

	// ErrTimeout means the parse ran longer than the configured
	// wall-clock budget.
	ErrTimeout = errors.New("ics: parse timeout exceeded")

	// ErrDuplicateCorruption means repeated (UID, RECURRENCE-ID) pairs
	// tripped the circuit breaker; the delivery is considered corrupted
	// and collected events are discarded.
	ErrDuplicateCorruption = errors.New("ics: duplicate corruption detected")
)
