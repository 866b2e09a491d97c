package msg

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Topic is the category of a published message.
type Topic int

const (
	// Case messages carry a finished case record.
	Case Topic = iota
	// Summary messages carry the summary of a finished run.
	Summary
)

func (t Topic) String() string {
	switch t {
	case Case:
		return "case"
	case Summary:
		return "summary"
	}
	return "unknown"
}

// Publisher is an interface for objects that allow subscribtion to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is the unit of exchange between the runner and its subscribers.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message topic
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

const inboxSize = 50

// PubSub fans published messages out to subscribers. Sends never block the
// publisher; a subscriber whose inbox is full misses the message.
type PubSub struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	subscribers map[Topic]map[uuid.UUID]chan Msg
}

// NewPublisher returns a PubSub that publishes as pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:         &sync.Mutex{},
		pid:         pid,
		subscribers: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID is the publisher's PID.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a channel receiving every message of topic published
// after the call.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if _, ok := p.subscribers[topic]; !ok {
		p.subscribers[topic] = make(map[uuid.UUID]chan Msg)
	}
	if ch, ok := p.subscribers[topic][pid]; ok {
		return ch, nil
	}
	ch := make(chan Msg, inboxSize)
	p.subscribers[topic][pid] = ch
	return ch, nil
}

// Unsubscribe closes and removes every channel held by pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish sends payload to the subscribers of topic.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	m := New(p.pid, topic, payload)
	p.mux.Lock()
	defer p.mux.Unlock()
	for pid, ch := range p.subscribers[topic] {
		select {
		case ch <- m:
		default:
			log.Printf("[PubSub] subscriber %v inbox full, dropped %v message\n", pid, topic)
		}
	}
}
