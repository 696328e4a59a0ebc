// Package events fans job progress events out to workflow watchers.
package events

import (
	"strings"
	"sync"

	"draftflow/internal/jobs"
)

const subscriberBuffer = 64

// Broker delivers job events to every subscriber of a workflow. Slow
// subscribers drop events rather than block the publisher.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan jobs.Event]bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan jobs.Event]bool)}
}

// Publish delivers ev to the subscribers of its workflow.
func (b *Broker) Publish(ev jobs.Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.WorkflowID] {
		select {
		case ch <- ev:
		default:
			// Watcher is not draining; progress events are advisory.
		}
	}
}

// Subscribe registers a watcher for one workflow. The returned cancel
// removes the subscription and closes the channel.
func (b *Broker) Subscribe(workflowID string) (<-chan jobs.Event, func()) {
	workflowID = strings.TrimSpace(workflowID)
	ch := make(chan jobs.Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[workflowID] == nil {
		b.subs[workflowID] = make(map[chan jobs.Event]bool)
	}
	b.subs[workflowID][ch] = true
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[workflowID], ch)
			if len(b.subs[workflowID]) == 0 {
				delete(b.subs, workflowID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
