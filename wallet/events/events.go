// Package events is the wallet's observability bus, in the spirit of
// gonuts' mint/pubsub. Every
// mutation of proofs, quotes, or history publishes a typed event; the bus
// owns its subscribers so nothing in the subscriber graph can keep the
// wallet's internals alive past a Close.
package events

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// Topic names the mutation streams subscribers can listen on.
type Topic string

const (
	ProofsUpdated  Topic = "proofs_updated"
	QuoteUpdated   Topic = "quote_updated"
	HistoryUpdated Topic = "history_updated"
)

// ProofsUpdatedEvent reports that proofs for a mint changed state.
type ProofsUpdatedEvent struct {
	Mint   string `json:"mint"`
	Reason string `json:"reason"`
}

// QuoteUpdatedEvent reports a mint or melt quote's state transition.
type QuoteUpdatedEvent struct {
	QuoteID string `json:"quote_id"`
	Mint    string `json:"mint"`
	State   string `json:"state"`
}

// HistoryUpdatedEvent reports a new append to the history log.
type HistoryUpdatedEvent struct {
	Kind   string `json:"kind"`
	Mint   string `json:"mint"`
	Amount uint64 `json:"amount"`
}

// Message is one published event: its topic and a JSON-encoded payload, so
// a remote/IPC observer can relay it without understanding the payload
// type. Handle lets a subscriber unsubscribe without holding a pointer
// back into the bus.
type Message struct {
	Topic   Topic
	Payload []byte
}

// Handle identifies one subscription; it is the only thing a subscriber
// needs to call Unsubscribe.
type Handle string

type subscriber struct {
	mu       sync.Mutex
	messages chan Message
	active   bool
}

// Bus is a mutex-guarded topic-to-subscriber map; all mutation happens
// through its exported methods.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic]map[Handle]*subscriber
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[Handle]*subscriber)}
}

// Subscribe registers a new listener for topic and returns its handle and
// receive channel. The channel is closed when Unsubscribe is called.
func (b *Bus) Subscribe(topic Topic) (Handle, <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[Handle]*subscriber)
	}
	h := newHandle()
	sub := &subscriber{messages: make(chan Message, 16), active: true}
	b.subs[topic][h] = sub
	return h, sub.messages
}

// Unsubscribe deactivates and closes the subscription identified by h.
func (b *Bus) Unsubscribe(topic Topic, h Handle) {
	b.mu.Lock()
	sub, ok := b.subs[topic][h]
	delete(b.subs[topic], h)
	b.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish encodes payload to JSON and delivers it to every active
// subscriber of topic. Delivery to a slow subscriber never blocks the
// publisher for long: the subscriber's channel is buffered, and a
// subscriber that is still full is skipped rather than stalling the
// mutation that triggered the event.
func (b *Bus) Publish(topic Topic, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := Message{Topic: topic, Payload: data}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(msg)
	}
}

// Close deactivates and closes every subscriber across every topic.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for _, s := range subs {
			s.close()
		}
		delete(b.subs, topic)
	}
}

func (s *subscriber) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	select {
	case s.messages <- msg:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.messages)
}

func newHandle() Handle {
	id := make([]byte, 16)
	rand.Read(id)
	return Handle(hex.EncodeToString(id))
}
