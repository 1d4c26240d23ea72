// Package events provides a small in-process event bus. Proposal transitions
// and policy violations are published here and fanned out to subscribers
// (the SSE stream handler, primarily).
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	ProposalCreated  EventType = "PROPOSAL_CREATED"
	ProposalApproved EventType = "PROPOSAL_APPROVED"
	ProposalRejected EventType = "PROPOSAL_REJECTED"
	ProposalExecuted EventType = "PROPOSAL_EXECUTED"
	ProposalExpired  EventType = "PROPOSAL_EXPIRED"

	PolicyViolation     EventType = "POLICY_VIOLATION"
	TransactionRecorded EventType = "TRANSACTION_RECORDED"
	FeeBriefReady       EventType = "FEE_BRIEF_READY"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Bus fans events out to subscribers. Slow subscribers drop events rather
// than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
	log  zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Publish emits an event to all subscribers.
func (b *Bus) Publish(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	b.log.Debug().Str("type", string(eventType)).Str("module", module).Msg("Event published")

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber too slow; drop rather than stall the publisher
		}
	}
}

// Subscribe registers a new subscriber. Call the returned cancel function to
// unsubscribe; the channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, 32)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
