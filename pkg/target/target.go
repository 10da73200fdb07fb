package target

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/event"
	"github.com/cuemby/burrow/pkg/storage"
)

// Kind discriminates the target subtypes.
type Kind string

const (
	KindServer   Kind = "server"
	KindLocal    Kind = "local"
	KindListener Kind = "listener"
)

// Target is a destination for task artifacts with its own schedule, event
// queue and persistent state.
type Target interface {
	ID() string
	Kind() Kind
	IsType(k Kind) bool

	GetNextRunDate() time.Time
	SetNextRunDateFromNow(delay time.Duration)
	ResetNextRunDate()
	SetNextRunOnExpiration(seconds int)
	SetMaxDelay(d time.Duration)
	GetMaxDelay() time.Duration
	Paused() bool
	Pause()
	Resume()

	AddEvent(ev *event.Event, safe bool) bool
	DelEvent(name string)
	NextEvent() *event.Event
	TriggerTaskInitEvents()
	TriggerRunTasksNow(ev *event.Event)

	PlannedTasks() []string
	SetPlannedTasks(tasks []string)
	Storage() *storage.Storage
}

// state is the persisted schedule blob, kept under the "target" key of the
// target's private store.
type state struct {
	MaxDelay    int64 `json:"maxDelay"`
	NextRunDate int64 `json:"nextRunDate"`
	BaseRunDate int64 `json:"baseRunDate"`
}

// Base carries the identity, scheduling and event plumbing shared by all
// target subtypes.
type Base struct {
	id     string
	kind   Kind
	logger zerolog.Logger
	store  *storage.Storage
	queue  *event.Queue

	mu             sync.Mutex
	maxDelay       time.Duration
	errMaxDelay    time.Duration
	initialDelay   time.Duration
	baseRunDate    time.Time
	nextRunDate    time.Time
	lastRetryDelay time.Duration
	plannedTasks   []string
	paused         bool
}

// Params configures a target's shared plumbing.
type Params struct {
	ID           string
	Logger       zerolog.Logger
	Storage      *storage.Storage
	MaxDelay     time.Duration
	ErrMaxDelay  time.Duration
	InitialDelay time.Duration
}

func newBase(kind Kind, params Params) *Base {
	logger := params.Logger.With().Str("target", params.ID).Logger()
	b := &Base{
		id:           params.ID,
		kind:         kind,
		logger:       logger,
		store:        params.Storage,
		queue:        event.NewQueue(logger),
		maxDelay:     params.MaxDelay,
		errMaxDelay:  params.ErrMaxDelay,
		initialDelay: params.InitialDelay,
	}
	b.loadState()
	return b
}

func (b *Base) ID() string          { return b.id }
func (b *Base) Kind() Kind          { return b.kind }
func (b *Base) IsType(k Kind) bool  { return b.kind == k }
func (b *Base) Storage() *storage.Storage {
	return b.store
}

// Logger returns the target-scoped logger.
func (b *Base) Logger() zerolog.Logger { return b.logger }

func (b *Base) loadState() {
	if b.store == nil {
		return
	}
	var st state
	ok, err := b.store.Restore("target", &st)
	if err != nil || !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st.MaxDelay > 0 {
		b.maxDelay = time.Duration(st.MaxDelay) * time.Second
	}
	if st.NextRunDate > 0 {
		b.nextRunDate = time.Unix(st.NextRunDate, 0)
	}
	if st.BaseRunDate > 0 {
		b.baseRunDate = time.Unix(st.BaseRunDate, 0)
	}
}

func (b *Base) saveStateLocked() {
	if b.store == nil {
		return
	}
	st := state{MaxDelay: int64(b.maxDelay / time.Second)}
	if !b.nextRunDate.IsZero() {
		st.NextRunDate = b.nextRunDate.Unix()
	}
	if !b.baseRunDate.IsZero() {
		st.BaseRunDate = b.baseRunDate.Unix()
	}
	if err := b.store.Save("target", st); err != nil {
		b.logger.Error().Err(err).Msg("failed to save target state")
	}
}

// GetNextRunDate returns the next scheduled run.
func (b *Base) GetNextRunDate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextRunDate
}

// GetMaxDelay returns the scheduling upper bound.
func (b *Base) GetMaxDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxDelay
}

// SetMaxDelay updates the scheduling upper bound and persists it.
func (b *Base) SetMaxDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxDelay = d
	b.saveStateLocked()
}

// ResetNextRunDate recomputes the schedule after a successful run and clears
// the retry backoff.
func (b *Base) ResetNextRunDate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}
	b.lastRetryDelay = 0
	b.computeNextRunDateLocked()
	b.saveStateLocked()
}

// SetNextRunDateFromNow schedules a retry. A zero delay applies exponential
// backoff, doubling the previous retry delay up to min(maxDelay, errMaxDelay).
func (b *Base) SetNextRunDateFromNow(delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}

	if delay <= 0 {
		if b.lastRetryDelay <= 0 {
			b.lastRetryDelay = time.Minute
		} else {
			b.lastRetryDelay *= 2
		}
		limit := b.maxDelay
		if b.errMaxDelay > 0 && b.errMaxDelay < limit {
			limit = b.errMaxDelay
		}
		if b.lastRetryDelay > limit {
			b.lastRetryDelay = limit
		}
		delay = b.lastRetryDelay
	}

	b.nextRunDate = time.Now().Add(delay)
	if b.nextRunDate.After(b.baseRunDate) {
		b.baseRunDate = b.nextRunDate
	}
	b.saveStateLocked()
}

// SetNextRunOnExpiration schedules the next run exactly seconds from now, as
// requested by a server contact response.
func (b *Base) SetNextRunOnExpiration(seconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}
	b.nextRunDate = time.Now().Add(time.Duration(seconds) * time.Second)
	b.baseRunDate = b.nextRunDate
	b.saveStateLocked()
}

// computeNextRunDateLocked implements the steady-state schedule arithmetic:
// next = timeref + maxDelay - rand(0, maxRandom), where timeref is the
// previous base run date unless drift exceeded maxDelay.
func (b *Base) computeNextRunDateLocked() {
	now := time.Now()

	if b.initialDelay > 0 {
		// First run only: apply the configured delay with up to 50% random
		// reduction, then forget it.
		delay := b.initialDelay - time.Duration(rand.Int63n(int64(b.initialDelay)/2+1))
		b.initialDelay = 0
		b.nextRunDate = now.Add(delay)
		b.baseRunDate = b.nextRunDate
		return
	}

	timeref := b.baseRunDate
	if timeref.IsZero() || now.Sub(timeref) > b.maxDelay || timeref.After(now) {
		timeref = now
	}

	var maxRandom time.Duration
	switch {
	case b.maxDelay < 6*time.Hour:
		maxRandom = b.maxDelay / 6
	case b.maxDelay > 24*time.Hour:
		maxRandom = b.maxDelay / 24
	default:
		maxRandom = time.Hour
	}

	b.baseRunDate = timeref.Add(b.maxDelay)
	var jitter time.Duration
	if maxRandom > 0 {
		jitter = time.Duration(rand.Int63n(int64(maxRandom)))
	}
	b.nextRunDate = b.baseRunDate.Add(-jitter)
}

// Paused reports whether scheduling is frozen.
func (b *Base) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Pause freezes scheduling without losing state.
func (b *Base) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

// Resume unfreezes scheduling.
func (b *Base) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
}

// PlannedTasks returns the tasks planned for this target.
func (b *Base) PlannedTasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.plannedTasks))
	copy(out, b.plannedTasks)
	return out
}

// SetPlannedTasks replaces the planned task list.
func (b *Base) SetPlannedTasks(tasks []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plannedTasks = tasks
}

// AddEvent queues an event; safe bypasses the anti-storm cool-down.
func (b *Base) AddEvent(ev *event.Event, safe bool) bool {
	return b.queue.Add(ev, safe)
}

// DelEvent removes queued events with the given name.
func (b *Base) DelEvent(name string) {
	b.queue.Delete(name)
}

// NextEvent returns the head of the queue iff it is due.
func (b *Base) NextEvent() *event.Event {
	return b.queue.Next(time.Now())
}

// Events exposes the queue, used by status rendering.
func (b *Base) Events() *event.Queue {
	return b.queue
}

// TriggerTaskInitEvents posts one init event per planned task.
func (b *Base) TriggerTaskInitEvents() {
	for _, task := range b.PlannedTasks() {
		b.queue.Add(&event.Event{
			Type:    event.Init,
			Name:    "init-" + task,
			Task:    task,
			RunDate: time.Now(),
		}, true)
	}
}

// TriggerRunTasksNow expands a taskrun event. A task of "all" fans out to
// every planned task; when the event asks for a reschedule, the reschedule
// lands on the last expanded event so the normal plan resumes afterwards.
func (b *Base) TriggerRunTasksNow(ev *event.Event) {
	if ev == nil || ev.Type != event.TaskRun {
		return
	}

	tasks := []string{ev.Task}
	if ev.Task == "all" {
		tasks = b.PlannedTasks()
	}

	for i, task := range tasks {
		run := &event.Event{
			Type:    event.TaskRun,
			Name:    "run-" + task,
			Task:    task,
			Full:    ev.Full,
			Partial: ev.Partial,
			RunDate: time.Now(),
		}
		if ev.Reschedule && i == len(tasks)-1 {
			run.Reschedule = true
		}
		b.queue.Add(run, true)
	}
}
