// Package events fans run lifecycle events out to in-process subscribers.
package events

import (
	"sync"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

const subscriberBuffer = 32

// Bus delivers run events to subscribers keyed by run ID. Publishing never
// blocks: a subscriber that falls behind loses events rather than stalling
// the pipeline.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan domain.RunEvent
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan domain.RunEvent)}
}

// Subscribe registers interest in a single run. The returned cancel func
// removes the subscription and closes the channel; it is safe to call more
// than once.
func (b *Bus) Subscribe(runID string) (<-chan domain.RunEvent, func()) {
	ch := make(chan domain.RunEvent, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	byRun, ok := b.subs[runID]
	if !ok {
		byRun = make(map[int]chan domain.RunEvent)
		b.subs[runID] = byRun
	}
	byRun[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			mine := false
			if byRun, ok := b.subs[runID]; ok {
				if _, ok := byRun[id]; ok {
					delete(byRun, id)
					mine = true
					if len(byRun) == 0 {
						delete(b.subs, runID)
					}
				}
			}
			b.mu.Unlock()
			// Close already closed the channel if the entry is gone.
			if mine {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers evt to every subscriber of its run.
func (b *Bus) Publish(evt domain.RunEvent) {
	if evt.RunID == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.RunID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close drops all subscriptions and closes their channels. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for runID, byRun := range b.subs {
		for id, ch := range byRun {
			close(ch)
			delete(byRun, id)
		}
		delete(b.subs, runID)
	}
}
