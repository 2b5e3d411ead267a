package pubsub

import "sync"

// Hub fans out "something changed" signals per poll. Signals carry no
// payload and are coalesced: a subscriber that has not consumed the
// previous signal does not get a second one.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int64]map[int]chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[int]chan struct{})}
}

func (h *Hub) Subscribe(pollID int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	conns := h.subs[pollID]
	if conns == nil {
		conns = make(map[int]chan struct{})
		h.subs[pollID] = conns
	}
	conns[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			conns := h.subs[pollID]
			delete(conns, id)
			if len(conns) == 0 {
				delete(h.subs, pollID)
			}
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(pollID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[pollID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions for a poll.
func (h *Hub) Subscribers(pollID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[pollID])
}
