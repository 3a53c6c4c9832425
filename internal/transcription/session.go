package transcription

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
)

type StopReason string

const (
	ReasonRequested      StopReason = "requested"
	ReasonRoomEmpty      StopReason = "room-empty"
	ReasonIdle           StopReason = "idle"
	ReasonProviderClosed StopReason = "provider-closed"
	ReasonShutdown       StopReason = "shutdown"
)

// Session: активная сессия распознавания комнаты.
// Captions конечен: канал закрывается, когда сессия заканчивается, и повторно не открывается.
type Session struct {
	id     string
	roomID string

	ready   chan struct{} // закрыт, когда Open завершился
	openErr error
	stream  Stream

	captions  chan domain.Caption
	done      chan struct{}
	closeOnce sync.Once
	lastAudio atomic.Int64

	mu     sync.Mutex
	reason StopReason
	err    error
}

func newSession(id, roomID string, buf int) *Session {
	s := &Session{
		id:       id,
		roomID:   roomID,
		ready:    make(chan struct{}),
		captions: make(chan domain.Caption, buf),
		done:     make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) RoomID() string { return s.roomID }

func (s *Session) Captions() <-chan domain.Caption { return s.captions }

// Done закрывается в момент остановки сессии, раньше чем Captions.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err: ошибка провайдера, если сессия закончилась обрывом.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Reason() StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) touch() { s.lastAudio.Store(time.Now().UnixNano()) }

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastAudio.Load()))
}

func (s *Session) opened() bool {
	select {
	case <-s.ready:
		return s.openErr == nil
	default:
		return false
	}
}

// shutdown закрывает поток провайдера; первая причина выигрывает.
func (s *Session) shutdown(reason StopReason, err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.err = err
		s.mu.Unlock()

		close(s.done)
		if s.stream != nil {
			_ = s.stream.Close()
		}
	})
}
