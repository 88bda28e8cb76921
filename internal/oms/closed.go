package oms

// boundedSet remembers the most recent keys up to a fixed capacity.
type boundedSet[V any] struct {
	cap   int
	items map[string]V
	order []string
	head  int
}

func newBoundedSet[V any](capacity int) *boundedSet[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &boundedSet[V]{
		cap:   capacity,
		items: make(map[string]V, capacity),
		order: make([]string, 0, capacity),
	}
}

func (s *boundedSet[V]) put(key string, v V) {
	if _, ok := s.items[key]; ok {
		s.items[key] = v
		return
	}
	if len(s.order) < s.cap {
		s.order = append(s.order, key)
	} else {
		delete(s.items, s.order[s.head])
		s.order[s.head] = key
		s.head = (s.head + 1) % s.cap
	}
	s.items[key] = v
}

func (s *boundedSet[V]) get(key string) (V, bool) {
	v, ok := s.items[key]
	return v, ok
}

func (s *boundedSet[V]) has(key string) bool {
	_, ok := s.items[key]
	return ok
}

func (s *boundedSet[V]) len() int {
	return len(s.items)
}
