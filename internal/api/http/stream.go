package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"epon-monitor/internal/monitor"
)

// HealthStream fans health transition events out to connected SSE clients.
// It is both the notifier (monitor.HealthNotifier on the write side) and the
// handler for GET /api/v1/health/stream on the read side. Subscriptions are
// keyed by id so channel ownership stays inside this type.
type HealthStream struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan []byte
}

// NewHealthStream constructs an empty stream.
func NewHealthStream() *HealthStream {
	return &HealthStream{subs: make(map[uint64]chan []byte)}
}

// Notify implements monitor.HealthNotifier.
func (s *HealthStream) Notify(_ context.Context, event monitor.HealthEvent) {
	if s == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.publish(payload)
}

// publish delivers the payload under the lock so a concurrent unsubscribe
// can never close a channel mid-send. Sends are non-blocking: a slow client
// misses the frame instead of stalling the refresh goroutine.
func (s *HealthStream) publish(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (s *HealthStream) subscribe() (uint64, chan []byte) {
	ch := make(chan []byte, 16)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs[s.nextID] = ch
	return s.nextID, ch
}

// unsubscribe closes the channel under the same lock publish sends under,
// so the close and any in-flight send are serialized.
func (s *HealthStream) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// ServeHTTP handles GET /api/v1/health/stream.
func (s *HealthStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.subscribe()
	defer s.unsubscribe(id)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: health\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
