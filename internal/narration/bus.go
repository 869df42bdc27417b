// Package narration implements a monotonic, in-process event bus with
// per-run subscription and bounded history. Its Bus carries the Narration
// Bus's first-person NarrationEvents only; Sensing's Observation Bus is a
// separate type of the same shape in internal/sensing.
package narration

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType enumerates the legal NarrationEvent.Type values.
type EventType string

const (
	EventSystem            EventType = "system"
	EventNarration         EventType = "narration"
	EventActionStarted     EventType = "action_started"
	EventActionCompleted   EventType = "action_completed"
	EventEvidenceCaptured  EventType = "evidence_captured"
	EventBeliefFormed      EventType = "belief_formed"
	EventExperienceLearned EventType = "experience_learned"
	EventPlanGenerated     EventType = "plan_generated"
	EventPlanStepStarted   EventType = "plan_step_started"
	EventPlanStepCompleted EventType = "plan_step_completed"
	EventRunStarted        EventType = "run_started"
	EventRunCompleted      EventType = "run_completed"
	EventError             EventType = "error"
)

// Event is one entry on the bus.
type Event struct {
	EventID   string         `json:"event_id"`
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
}

const defaultHistoryCap = 500

// Listener receives events. A panicking listener is recovered and logged; it
// never affects other listeners or the publisher.
type Listener func(Event)

type subscription struct {
	id    int64
	runID string // empty means "all runs"
	fn    Listener
}

// Bus is a synchronous, monotonic event broadcaster with bounded history.
type Bus struct {
	mu          sync.RWMutex
	seq         atomic.Int64
	subID       atomic.Int64
	history     []Event
	historyCap  int
	subscribers []subscription
	idCounter   atomic.Int64
	redactor    *Redactor
}

// New constructs a Bus with the given bounded history capacity (≥500 per
// spec; 0 selects the default).
func New(historyCap int) *Bus {
	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}
	return &Bus{historyCap: historyCap}
}

// Emit publishes an event, assigning it the next monotonic sequence number
// and an event id, then synchronously calls every matching subscriber in
// subscription order.
func (b *Bus) Emit(evType EventType, runID, message string, data map[string]any) Event {
	b.mu.RLock()
	r := b.redactor
	b.mu.RUnlock()
	ev := Event{
		EventID:   genEventID(b.idCounter.Add(1)),
		Seq:       b.seq.Add(1),
		Type:      evType,
		Message:   r.Scrub(message),
		Data:      data,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	subs := make([]subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.runID != "" && sub.runID != runID {
			continue
		}
		dispatch(sub.fn, ev)
	}
	return ev
}

func dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event_id", ev.EventID).Msg("narration: listener panicked, isolating")
		}
	}()
	fn(ev)
}

// OnAll subscribes to every event regardless of run. Returns an unsubscribe
// function.
func (b *Bus) OnAll(fn Listener) func() {
	return b.subscribe("", fn)
}

// OnRun subscribes to events for a single run id. Returns an unsubscribe
// function.
func (b *Bus) OnRun(runID string, fn Listener) func() {
	return b.subscribe(runID, fn)
}

func (b *Bus) subscribe(runID string, fn Listener) func() {
	id := b.subID.Add(1)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, subscription{id: id, runID: runID, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// GetHistory returns the bounded history, optionally filtered to one run.
func (b *Bus) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if runID == "" {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}
	var out []Event
	for _, ev := range b.history {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// GetEventsSince returns history entries with Seq > since, optionally
// filtered to one run.
func (b *Bus) GetEventsSince(since int64, runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.history {
		if ev.Seq <= since {
			continue
		}
		if runID != "" && ev.RunID != runID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// CleanupRun drops history entries and subscriptions scoped to a finished
// run, bounding per-run memory growth across a long-lived process.
func (b *Bus) CleanupRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.history[:0:0]
	for _, ev := range b.history {
		if ev.RunID != runID {
			kept = append(kept, ev)
		}
	}
	b.history = kept

	keptSubs := b.subscribers[:0:0]
	for _, s := range b.subscribers {
		if s.runID != runID {
			keptSubs = append(keptSubs, s)
		}
	}
	b.subscribers = keptSubs
}

func genEventID(n int64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "ev-0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append(buf, alphabet[n%int64(len(alphabet))])
		n /= int64(len(alphabet))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return "ev-" + string(buf)
}
