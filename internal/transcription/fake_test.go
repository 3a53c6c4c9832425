package transcription

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/telecare/signaling-service/internal/domain"
)

type fakeStream struct {
	captions chan domain.Caption
	tail     []domain.Caption // досылается при Close, как финалы после CloseStream

	mu     sync.Mutex
	chunks [][]byte
	err    error
	once   sync.Once
	closed atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{captions: make(chan domain.Caption, 16)}
}

func (s *fakeStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *fakeStream) Captions() <-chan domain.Caption { return s.captions }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	s.once.Do(func() {
		for _, cp := range s.tail {
			s.captions <- cp
		}
		close(s.captions)
	})
	return nil
}

// fail имитирует обрыв со стороны провайдера
func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.captions) })
}

func (s *fakeStream) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

type fakeProvider struct {
	opens   atomic.Int32
	gate    chan struct{} // если не nil, Open ждёт его закрытия
	openErr error
	tail    []domain.Caption

	mu      sync.Mutex
	streams []*fakeStream
}

func (p *fakeProvider) Open(ctx context.Context, roomID string) (Stream, error) {
	p.opens.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := newFakeStream()
	s.tail = p.tail
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

func (p *fakeProvider) last() *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}
