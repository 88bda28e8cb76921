package websocket

import (
	"sort"
	"sync"
)

// subscriptions tracks desired and active topics across connections.
type subscriptions struct {
	mu      sync.Mutex
	desired map[Topic]struct{}
	active  map[Topic]struct{}
}

func newSubscriptions(topics []Topic) *subscriptions {
	s := &subscriptions{
		desired: make(map[Topic]struct{}, len(topics)),
		active:  make(map[Topic]struct{}, len(topics)),
	}
	for _, topic := range topics {
		if topic != "" {
			s.desired[topic] = struct{}{}
		}
	}
	return s
}

// Add registers a desired topic. Returns true if the topic was newly added.
func (s *subscriptions) Add(topic Topic) bool {
	s.mu.Lock()
	_, exists := s.desired[topic]
	if !exists {
		s.desired[topic] = struct{}{}
	}
	s.mu.Unlock()
	return !exists
}

// Remove deletes a desired topic. Returns true if it was present.
func (s *subscriptions) Remove(topic Topic) bool {
	s.mu.Lock()
	_, ok := s.desired[topic]
	if ok {
		delete(s.desired, topic)
		delete(s.active, topic)
	}
	s.mu.Unlock()
	return ok
}

func (s *subscriptions) MarkActive(topics ...Topic) {
	s.mu.Lock()
	for _, topic := range topics {
		if _, ok := s.desired[topic]; ok {
			s.active[topic] = struct{}{}
		}
	}
	s.mu.Unlock()
}

func (s *subscriptions) ClearActive() {
	s.mu.Lock()
	for topic := range s.active {
		delete(s.active, topic)
	}
	s.mu.Unlock()
}

func (s *subscriptions) IsActive(topic Topic) bool {
	s.mu.Lock()
	_, ok := s.active[topic]
	s.mu.Unlock()
	return ok
}

// Desired returns the desired topics in a stable order.
func (s *subscriptions) Desired() []Topic {
	s.mu.Lock()
	topics := make([]Topic, 0, len(s.desired))
	for topic := range s.desired {
		topics = append(topics, topic)
	}
	s.mu.Unlock()
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

func (s *subscriptions) Count() int {
	s.mu.Lock()
	count := len(s.desired)
	s.mu.Unlock()
	return count
}
