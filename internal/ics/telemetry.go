package ics

import (
	"fmt"
	"time"
)

// duplicateAbortThreshold is how many repeated (UID, RECURRENCE-ID) keys a
// parse tolerates before the stream is considered a corrupted re-delivery.
const duplicateAbortThreshold = 100

// telemetry tracks per-parse counters and enforces the circuit-breaker
// bounds. One instance lives for exactly one parse invocation.
type telemetry struct {
	start time.Time

	maxIterations int
	maxDuration   time.Duration
	maxStored     int

	itemsSeen      int
	eventsStored   int
	warningsIssued int
	duplicates     int

	seen      map[string]struct{}
	truncated bool
}

func newTelemetry(maxIterations, maxStored int, maxDuration time.Duration) *telemetry {
	return &telemetry{
		start:         time.Now(),
		maxIterations: maxIterations,
		maxDuration:   maxDuration,
		maxStored:     maxStored,
		seen:          make(map[string]struct{}),
	}
}

// admit is called before each extracted component is processed. It checks
// the iteration and wall-clock bounds and counts the item.
func (t *telemetry) admit() error {
	if t.maxIterations > 0 && t.itemsSeen >= t.maxIterations {
		return fmt.Errorf("%w: %d items processed, %d events accepted",
			ErrIterationLimit, t.itemsSeen, t.eventsStored)
	}
	if t.maxDuration > 0 && time.Since(t.start) > t.maxDuration {
		return fmt.Errorf("%w: ran over %s, %d events accepted",
			ErrTimeout, t.maxDuration, t.eventsStored)
	}
	t.itemsSeen++
	return nil
}

// checkDuplicate records the (uid, recurrenceID) key. It reports whether
// the key was already seen, and returns an error once repeats pile up past
// the threshold on a stream that also stopped yielding new storable events
// (the signature of a corrupted or truncated re-delivery).
func (t *telemetry) checkDuplicate(uid, recurrenceID string) (bool, error) {
	key := uid + "\x00" + recurrenceID
	if _, dup := t.seen[key]; !dup {
		t.seen[key] = struct{}{}
		return false, nil
	}

	t.duplicates++
	if t.duplicates >= duplicateAbortThreshold && (t.truncated || t.duplicates > t.eventsStored) {
		return true, fmt.Errorf("%w: %d duplicate (uid, recurrence-id) keys after %d stored events",
			ErrDuplicateCorruption, t.duplicates, t.eventsStored)
	}
	return true, nil
}

// admitStore reports whether another event may be stored. The first refusal
// returns a one-time truncation warning; later events are still scanned for
// duplicates and counters but not stored.
func (t *telemetry) admitStore() (ok bool, warning string) {
	if t.maxStored > 0 && t.eventsStored >= t.maxStored {
		if !t.truncated {
			t.truncated = true
			warning = fmt.Sprintf("stored-event cap reached (%d); further events are dropped", t.maxStored)
		}
		return false, warning
	}
	t.eventsStored++
	return true, ""
}
