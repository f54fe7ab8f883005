package collector

import "sync"

// DefaultCapacity is the history size used when none is configured.
const DefaultCapacity = 1000

// subscriberBuffer is the per-subscriber channel buffer.
const subscriberBuffer = 100

// Store keeps received events and fans them out to live subscribers.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Add assigns the next sequence number to ev, stores it and notifies
	// subscribers. It returns the stored event.
	Add(ev Event) Event

	// Recent returns up to limit of the newest events, oldest first.
	// limit <= 0 returns the whole history.
	Recent(limit int) []Event

	// Subscribe returns a channel that receives new events. Slow consumers
	// miss events rather than block Add.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes its channel. Safe to call
	// with an unknown or already removed channel.
	Unsubscribe(ch <-chan Event)
}

// MemoryStore is a bounded in-memory [Store]. Once full, the oldest event is
// overwritten.
type MemoryStore struct {
	mu     sync.RWMutex
	ring   []Event
	next   int
	filled bool
	seq    uint64

	subMu       sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewMemoryStore creates a [MemoryStore] holding at most capacity events.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		ring:        make([]Event, capacity),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Add implements [Store].
func (m *MemoryStore) Add(ev Event) Event {
	m.mu.Lock()
	m.seq++
	ev.Seq = m.seq
	m.ring[m.next] = ev
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.filled = true
	}
	m.mu.Unlock()

	m.notifySubscribers(ev)
	return ev
}

// Recent implements [Store].
func (m *MemoryStore) Recent(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ordered []Event
	if m.filled {
		ordered = append(ordered, m.ring[m.next:]...)
	}
	ordered = append(ordered, m.ring[:m.next]...)

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Len returns the number of events held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.filled {
		return len(m.ring)
	}
	return m.next
}

// Subscribe implements [Store].
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe implements [Store].
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers never blocks: a full subscriber misses ev.
func (m *MemoryStore) notifySubscribers(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
