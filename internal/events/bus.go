// Package events provides the syndicate's in-process pub/sub bus plus an
// optional Redis mirror for multi-process deployments. Events use the
// CloudEvents 1.0 envelope so external consumers need no custom decoding.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Event types emitted by the syndicate core.
const (
	TypeTransactionCompleted = "syndicate.transaction.completed"
	TypeTransactionBlocked   = "syndicate.transaction.blocked"
	TypeTransactionFailed    = "syndicate.transaction.failed"
	TypeAgentOnboarded       = "syndicate.agent.onboarded"
	TypeBatchFlushed         = "syndicate.batch.flushed"
	TypeCertificateIssued    = "syndicate.certificate.issued"
	TypeFraudDetected        = "syndicate.fraud.detected"
	TypeTransferCompleted    = "syndicate.transfer.completed"
)

// Emitter is the publishing interface; the in-memory Bus and the Redis
// mirror both satisfy it.
type Emitter interface {
	Emit(eventType, subject string, data map[string]interface{})
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(eventType, subject string, data map[string]interface{}) {}

// CloudEvent is the CloudEvents 1.0 envelope for all syndicate events.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// JSON serializes the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// Bus is an in-process pub/sub event bus. Subscribers receive events on
// buffered channels; slow subscribers drop rather than block publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent
	allSubs     []chan *CloudEvent
	source      string
	bufferSize  int
	logger      *log.Logger
}

// NewBus creates an event bus identified as the given source.
func NewBus(source string) *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *CloudEvent),
		source:      source,
		bufferSize:  100,
		logger:      log.New(log.Writer(), "[Events] ", log.LstdFlags),
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is named.
func (b *Bus) Subscribe(eventTypes ...string) chan *CloudEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *CloudEvent, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *CloudEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		filtered := make([]chan *CloudEvent, 0, len(subs))
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[et] = filtered
	}

	filtered := make([]chan *CloudEvent, 0, len(b.allSubs))
	for _, s := range b.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.allSubs = filtered

	close(ch)
}

// Publish delivers an event to all matching subscribers without blocking.
func (b *Bus) Publish(event *CloudEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default: // subscriber backlogged, drop
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit builds and publishes a CloudEvent.
func (b *Bus) Emit(eventType, subject string, data map[string]interface{}) {
	b.Publish(&CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      b.source,
		ID:          fmt.Sprintf("ce-%d", time.Now().UnixNano()),
		Time:        time.Now(),
		Subject:     subject,
		Data:        data,
	})
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
