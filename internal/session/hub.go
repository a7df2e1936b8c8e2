package session

import (
	"sync"
	"time"

	"github.com/sebsto/wispr/internal/fsm"
)

// StateChange is one observable transition of the orchestrator.
type StateChange struct {
	State     fsm.State
	SessionID string
	// Message carries the failure detail on transitions into error.
	Message string
	// Text carries the final transcription when processing completes.
	Text string
	// Levels is the live amplitude feed, set on transitions into recording.
	Levels <-chan float64
	At     time.Time
}

// hub fans state changes out to subscribers. Publishing never blocks: a
// slow subscriber loses its oldest pending change, not ordering.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan StateChange
	last   StateChange
	seeded bool
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan StateChange)}
}

// subscribe registers a consumer. New subscribers immediately receive the
// most recent change so they can render current state without waiting for
// the next transition. The returned func unsubscribes; the channel closes
// after that, or when the hub closes.
func (h *hub) subscribe(buffer int) (<-chan StateChange, func()) {
	if buffer < 1 {
		buffer = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan StateChange, buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	if h.seeded {
		ch <- h.last
	}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (h *hub) publish(sc StateChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = sc
	h.seeded = true
	for _, ch := range h.subs {
		deliver(ch, sc)
	}
}

// deliver hands sc to one subscriber, evicting its oldest pending change
// when the buffer is full.
func deliver(ch chan StateChange, sc StateChange) {
	for sent := false; !sent; {
		select {
		case ch <- sc:
			sent = true
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
