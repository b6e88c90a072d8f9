package cache

import (
	"container/list"
	"sync"
	"time"
)

type memoryEntry[V any] struct {
	key     string
	value   V
	expires time.Time
}

// Memory is an in-process LRU cache whose entries expire after TTL
type Memory[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      Clock
	order    *list.List
	items    map[string]*list.Element
}

var _ Cache[int] = &Memory[int]{}

// NewMemory returns a Memory cache. capacity <= 0 means unbounded; now defaults to time.Now.
func NewMemory[V any](capacity int, ttl time.Duration, now Clock) *Memory[V] {
	if now == nil {
		now = time.Now
	}
	return &Memory[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the live value stored at key
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.items[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*memoryEntry[V])
	if !m.now().Before(entry.expires) {
		m.removeElement(el)
		return zero, false
	}
	m.order.MoveToFront(el)
	return entry.value, true
}

// Set stores value at key, evicting the least recently used entry when full
func (m *Memory[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires := m.now().Add(m.ttl)
	if el, ok := m.items[key]; ok {
		entry := el.Value.(*memoryEntry[V])
		entry.value = value
		entry.expires = expires
		m.order.MoveToFront(el)
		return
	}

	el := m.order.PushFront(&memoryEntry[V]{key: key, value: value, expires: expires})
	m.items[key] = el

	if m.capacity > 0 && m.order.Len() > m.capacity {
		m.removeElement(m.order.Back())
	}
}

// Delete drops key
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
}

// EvictExpired drops every expired entry
func (m *Memory[V]) EvictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*memoryEntry[V]).expires) {
			m.removeElement(el)
			evicted++
		}
		el = prev
	}
	return evicted
}

// Len is the number of stored entries, expired or not
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory[V]) removeElement(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memoryEntry[V]).key)
}
