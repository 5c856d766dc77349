package sessions

import "sync"

// Holder publishes the current Session to subscribers.
type Holder struct {
	mu       sync.RWMutex
	current  Session
	nextID   int
	watchers map[int]func(Session)

	notifyMu sync.Mutex
}

func NewHolder() *Holder {
	return &Holder{
		current:  Session{Status: StatusUnauthenticated},
		watchers: make(map[int]func(Session)),
	}
}

func (h *Holder) Current() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnChange registers fn for every published change and returns a function
// that removes it.
func (h *Holder) OnChange(fn func(Session)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.watchers[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers, id)
	}
}

func (h *Holder) store(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = s
}

// notify delivers the latest session, not the one that triggered it, so
// subscribers never observe an older state after a newer one.
func (h *Holder) notify() {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.RLock()
	current := h.current
	watchers := make([]func(Session), 0, len(h.watchers))
	for _, fn := range h.watchers {
		watchers = append(watchers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range watchers {
		fn(current)
	}
}
