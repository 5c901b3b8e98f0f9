// Package bus is an in-process publish/subscribe fan-out. Publishers never
// block: a subscriber that is not keeping up loses messages and the loss is
// counted.
package bus

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// DefaultBuffer is the per-subscriber channel capacity used by New when
// buffer is not positive.
const DefaultBuffer = 64

// Bus fans out values of type T to every current subscriber.
type Bus[T any] struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]chan T
	closed      bool
	published   uint64
	dropped     uint64
}

// New returns a bus whose subscriber channels hold buffer values.
func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{
		buffer:      buffer,
		subscribers: make(map[string]chan T),
	}
}

// Subscribe registers a new subscriber. The returned ID is used to
// unsubscribe. The channel is closed by Unsubscribe or Close.
func (b *Bus[T]) Subscribe() (string, <-chan T) {
	id := uuid.NewString()
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers v to every subscriber with room in its buffer and
// returns how many received it.
func (b *Bus[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.published++
	delivered := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- v:
			delivered++
		default:
			b.dropped++
		}
	}
	return delivered
}

// Stats returns the number of Publish calls and of per-subscriber drops.
func (b *Bus[T]) Stats() (published, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published, b.dropped
}

// Subscribers returns the current subscriber count.
func (b *Bus[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// AttachAdminRoutes serves a Server-Sent Events tail of the bus at
// /debug/<name>-tail, encoding each value with encode, and reports the
// bus counters on the debug index.
func (b *Bus[T]) AttachAdminRoutes(mux *http.ServeMux, name string, encode func(T) ([]byte, error)) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc(name+" published", func() any {
		published, _ := b.Stats()
		return published
	})
	debug.KVFunc(name+" dropped", func() any {
		_, dropped := b.Stats()
		return dropped
	})

	debug.HandleSilentFunc(name+"-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := b.Subscribe()
		defer b.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case v, ok := <-c:
				if !ok {
					return
				}
				payload, err := encode(v)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
