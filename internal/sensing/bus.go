// Package sensing turns raw text, logs, and screenshots into validated
// Observations, scores their salience, and publishes them on a dedicated
// Observation Bus.
//
// The semantic-text path chunks through internal/documents' token-budgeted
// splitter; the Observation Bus is its own implementation over
// domain.Observation, with the same bounded-history and subscriber shape as
// internal/narration's Bus.
package sensing

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"noema/internal/domain"
)

const defaultObservationHistoryCap = 500

// ObservationListener receives newly created Observations.
type ObservationListener func(domain.Observation)

type obsSubscription struct {
	id int64
	fn ObservationListener
}

// ObservationBus broadcasts Observations as Sensing creates them, bounded by
// a fixed-capacity history ring identical in shape to the Narration Bus.
type ObservationBus struct {
	mu          sync.RWMutex
	subID       atomic.Int64
	history     []domain.Observation
	historyCap  int
	subscribers []obsSubscription
}

// NewObservationBus constructs a bus with the given bounded history capacity
// (0 selects the default).
func NewObservationBus(historyCap int) *ObservationBus {
	if historyCap <= 0 {
		historyCap = defaultObservationHistoryCap
	}
	return &ObservationBus{historyCap: historyCap}
}

// Publish broadcasts an Observation to every subscriber, isolating panics the
// same way the Narration Bus does.
func (b *ObservationBus) Publish(obs domain.Observation) {
	b.mu.Lock()
	b.history = append(b.history, obs)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	subs := make([]obsSubscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		dispatchObservation(sub.fn, obs)
	}
}

func dispatchObservation(fn ObservationListener, obs domain.Observation) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("observation_id", obs.ID).Msg("sensing: observation listener panicked, isolating")
		}
	}()
	fn(obs)
}

// Subscribe registers fn for every published Observation. Returns an
// unsubscribe function.
func (b *ObservationBus) Subscribe(fn ObservationListener) func() {
	id := b.subID.Add(1)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, obsSubscription{id: id, fn: fn})
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

// History returns the bounded Observation history.
func (b *ObservationBus) History() []domain.Observation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Observation, len(b.history))
	copy(out, b.history)
	return out
}
