package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/transcription"
)

// recorder: Sender, запоминающий все события
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) ofType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(typ string) int { return len(r.ofType(typ)) }

func (r *recorder) waitFor(t *testing.T, typ string, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := r.ofType(typ); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, have %d", n, typ, r.count(typ))
	return nil
}

// payloadJSON: payload события в виде JSON-строки для сравнения
func payloadJSON(t *testing.T, ev Event) string {
	t.Helper()
	b, err := json.Marshal(ev.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(b)
}

type stubStream struct {
	captions chan domain.Caption
	tail     []domain.Caption // досылается при Close
	gate     chan struct{}    // если не nil, Close ждёт его закрытия
	once     sync.Once
	closed   atomic.Bool
	chunks   atomic.Int32

	mu  sync.Mutex
	err error
}

func (s *stubStream) Send([]byte) error               { s.chunks.Add(1); return nil }
func (s *stubStream) Captions() <-chan domain.Caption { return s.captions }
func (s *stubStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
func (s *stubStream) Close() error {
	s.closed.Store(true)
	if s.gate != nil {
		<-s.gate
	}
	s.once.Do(func() {
		for _, cp := range s.tail {
			s.captions <- cp
		}
		close(s.captions)
	})
	return nil
}
func (s *stubStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.captions) })
}

type stubProvider struct {
	opens     atomic.Int32
	tail      []domain.Caption
	closeGate chan struct{}

	mu   sync.Mutex
	last *stubStream
}

func (p *stubProvider) Open(context.Context, string) (transcription.Stream, error) {
	p.opens.Add(1)
	st := &stubStream{captions: make(chan domain.Caption, 16), tail: p.tail, gate: p.closeGate}
	p.mu.Lock()
	p.last = st
	p.mu.Unlock()
	return st, nil
}

func (p *stubProvider) stream() *stubStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
