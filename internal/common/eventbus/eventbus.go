// Package eventbus is an in-memory topic bus used to fan domain events out to the
// components that react to them. Topics are dot separated; a subscription pattern may
// use "*" for any single segment, or be "*" alone to receive everything.
package eventbus

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one message on the bus.
type Event struct {
	Topic string
	Data  any
}

type subscriber struct {
	id      string
	pattern string
	ch      chan Event

	mu     sync.Mutex
	closed bool
}

// send blocks up to timeout for room in the subscriber buffer.
func (s *subscriber) send(event Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if timeout <= 0 {
		select {
		case s.ch <- event:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- event:
		return true
	case <-timer.C:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// EventBus routes published events to every subscriber whose pattern matches.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // pattern -> id -> subscriber
	counter     uint64
	dropped     uint64
	closed      bool
}

// New returns a bus with no subscribers.
func New() *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[string]*subscriber),
	}
}

// Subscribe registers a buffered subscription for pattern. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (bus *EventBus) Subscribe(pattern string, bufferSize int) (<-chan Event, func()) {
	id := fmt.Sprintf("sub-%d", atomic.AddUint64(&bus.counter, 1))
	sub := &subscriber{
		id:      id,
		pattern: pattern,
		ch:      make(chan Event, bufferSize),
	}

	bus.mu.Lock()
	if bus.closed {
		bus.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	if _, ok := bus.subscribers[pattern]; !ok {
		bus.subscribers[pattern] = make(map[string]*subscriber)
	}
	bus.subscribers[pattern][id] = sub
	bus.mu.Unlock()

	unsubscribe := func() {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		if subMap, ok := bus.subscribers[pattern]; ok {
			if s, ok := subMap[id]; ok {
				s.close()
				delete(subMap, id)
				if len(subMap) == 0 {
					delete(bus.subscribers, pattern)
				}
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers data to all matching subscribers, waiting at most timeout per
// subscriber. It returns how many subscribers received the event; the rest are
// counted as dropped.
func (bus *EventBus) Publish(topic string, data any, timeout time.Duration) int {
	event := Event{Topic: topic, Data: data}

	bus.mu.RLock()
	defer bus.mu.RUnlock()

	delivered := 0
	for pattern, subMap := range bus.subscribers {
		if !MatchTopic(pattern, topic) {
			continue
		}
		for _, sub := range subMap {
			if sub.send(event, timeout) {
				delivered++
			} else {
				atomic.AddUint64(&bus.dropped, 1)
			}
		}
	}
	return delivered
}

// Dropped reports how many deliveries were abandoned because a subscriber was full.
func (bus *EventBus) Dropped() uint64 {
	return atomic.LoadUint64(&bus.dropped)
}

// Shutdown closes every subscription. Later Subscribe calls get a closed channel.
func (bus *EventBus) Shutdown() {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	for _, subs := range bus.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	bus.subscribers = make(map[string]map[string]*subscriber)
	bus.closed = true
}

// MatchTopic reports whether topic matches pattern.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == "*" || pattern == topic {
		return true
	}
	patternParts := strings.Split(pattern, ".")
	topicParts := strings.Split(topic, ".")
	if len(patternParts) != len(topicParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] == "*" {
			continue
		}
		if patternParts[i] != topicParts[i] {
			return false
		}
	}
	return true
}
