package event

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxQueuedEvents bounds the queue; events added beyond the bound are
	// dropped with a debug log.
	maxQueuedEvents = 1024
	// addCoolDown is the minimum interval between two events with the same
	// name, unless added with safe=true.
	addCoolDown = 15 * time.Second
)

// Queue holds the pending events of one target, sorted ascending by
// (RunDate, insertion order).
type Queue struct {
	mu        sync.Mutex
	events    []*Event
	lastAdded map[string]time.Time
	logger    zerolog.Logger
}

// NewQueue creates an empty event queue.
func NewQueue(logger zerolog.Logger) *Queue {
	return &Queue{
		lastAdded: make(map[string]time.Time),
		logger:    logger,
	}
}

// Add inserts an event at its sorted position. safe bypasses the per-name
// cool-down used to dampen request storms. It reports whether the event was
// queued.
func (q *Queue) Add(ev *Event, safe bool) bool {
	if ev == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if !safe {
		if last, ok := q.lastAdded[ev.key()]; ok && now.Sub(last) < addCoolDown {
			q.logger.Debug().Str("event", ev.String()).Msg("event discarded by cool-down")
			return false
		}
	}

	// A new partial inventory supersedes any older one, and a maintenance
	// event replaces the pending one for the same task and target.
	switch ev.Type {
	case Partial:
		q.removeLocked(func(e *Event) bool { return e.Type == Partial && e.Task == ev.Task })
	case Maintenance:
		q.removeLocked(func(e *Event) bool {
			return e.Type == Maintenance && e.Task == ev.Task && e.Target == ev.Target
		})
	}

	if len(q.events) >= maxQueuedEvents {
		q.logger.Debug().Str("event", ev.String()).Msg("event queue full, event dropped")
		return false
	}

	// Insert after all events with an earlier or equal rundate, keeping
	// insertion order stable among equals.
	pos := len(q.events)
	for i, e := range q.events {
		if ev.RunDate.Before(e.RunDate) {
			pos = i
			break
		}
	}
	q.events = append(q.events, nil)
	copy(q.events[pos+1:], q.events[pos:])
	q.events[pos] = ev

	q.lastAdded[ev.key()] = now
	return true
}

// Next pops and returns the head event iff its rundate is due, else nil.
func (q *Queue) Next(now time.Time) *Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 || q.events[0].RunDate.After(now) {
		return nil
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev
}

// Delete removes all events matching the given name.
func (q *Queue) Delete(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(func(e *Event) bool { return e.key() == name })
}

// DeleteType removes all events of the given type for the given task.
func (q *Queue) DeleteType(t Type, task string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(func(e *Event) bool { return e.Type == t && (task == "" || e.Task == task) })
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the queued events in order, for status output.
func (q *Queue) Snapshot() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Event, len(q.events))
	copy(out, q.events)
	return out
}

func (q *Queue) removeLocked(match func(*Event) bool) {
	kept := q.events[:0]
	for _, e := range q.events {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	q.events = kept
}
