package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/google/uuid"
)

type Options struct {
	// MaxIdleAudio: сколько сессия живёт без аудио; 0 отключает сторож.
	MaxIdleAudio time.Duration
	// CaptionBuffer: ёмкость канала Captions у сессии.
	CaptionBuffer int
}

type Coordinator struct {
	provider Provider
	opts     Options
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // roomID -> session (в т.ч. ещё открывающиеся)
}

func NewCoordinator(p Provider, opts Options, log *slog.Logger) *Coordinator {
	if p == nil {
		p = Disabled{}
	}
	if opts.CaptionBuffer <= 0 {
		opts.CaptionBuffer = 64
	}
	if log == nil {
		log = slog.Default()
	}

	return &Coordinator{
		provider: p,
		opts:     opts,
		log:      log.With("component", "transcription"),
		sessions: make(map[string]*Session),
	}
}

// Start открывает сессию для комнаты или возвращает уже существующую (created=false).
// Параллельные Start для одной комнаты ждут единственного Open у провайдера.
func (c *Coordinator) Start(ctx context.Context, roomID string) (*Session, bool, error) {
	c.mu.Lock()
	if s, ok := c.sessions[roomID]; ok {
		c.mu.Unlock()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if s.openErr != nil {
			return nil, false, s.openErr
		}
		return s, false, nil
	}
	s := newSession(uuid.NewString(), roomID, c.opts.CaptionBuffer)
	c.sessions[roomID] = s
	c.mu.Unlock()

	stream, err := c.provider.Open(ctx, roomID)

	c.mu.Lock()
	if err != nil {
		if c.sessions[roomID] == s {
			delete(c.sessions, roomID)
		}
		s.openErr = fmt.Errorf("transcription: open: %w", wrapProvider(err))
		close(s.ready)
		c.mu.Unlock()
		return nil, false, s.openErr
	}
	if c.sessions[roomID] != s {
		// Stop пришёл, пока открывали поток
		s.openErr = domain.ErrSessionStopped
		close(s.ready)
		c.mu.Unlock()
		_ = stream.Close()
		return nil, false, s.openErr
	}
	s.stream = stream
	close(s.ready)
	c.mu.Unlock()

	go c.pump(s)
	if c.opts.MaxIdleAudio > 0 {
		go c.watchIdle(s)
	}
	c.log.Info("session started", "room_id", roomID, "session_id", s.id)

	return s, true, nil
}

// SendAudioChunk пересылает аудио в активную сессию.
// Без активной сессии чанк молча отбрасывается.
func (c *Coordinator) SendAudioChunk(roomID string, chunk []byte) error {
	c.mu.Lock()
	s := c.sessions[roomID]
	c.mu.Unlock()
	if s == nil || !s.opened() || len(chunk) == 0 {
		return nil
	}

	s.touch()
	if err := s.stream.Send(chunk); err != nil {
		return fmt.Errorf("transcription: send: %w", wrapProvider(err))
	}
	return nil
}

// Stop идемпотентен; поток провайдера закрывается синхронно.
func (c *Coordinator) Stop(roomID string, reason StopReason) {
	c.Finish(c.Detach(roomID), reason)
}

// Detach вынимает сессию комнаты из реестра, не трогая поток: быстро, можно звать под чужим локом.
// Новый Start для комнаты после Detach открывает уже другую сессию.
func (c *Coordinator) Detach(roomID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[roomID]
	delete(c.sessions, roomID)
	return s
}

// Finish закрывает поток сессии, вынутой через Detach; nil ничего не делает.
// Блокируется, пока провайдер не отдаст хвост распознавания.
func (c *Coordinator) Finish(s *Session, reason StopReason) {
	if s == nil {
		return
	}
	// ещё открывается: Start сам закроет поток, увидев что сессии нет в map
	if s.opened() {
		s.shutdown(reason, nil)
		c.log.Info("session stopped", "room_id", s.roomID, "session_id", s.id, "reason", reason)
	}
}

func (c *Coordinator) IsActive(roomID string) bool {
	c.mu.Lock()
	s := c.sessions[roomID]
	c.mu.Unlock()

	return s != nil && s.opened()
}

// StopAll: при остановке процесса.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	all := make([]*Session, 0, len(c.sessions))
	for room, s := range c.sessions {
		all = append(all, s)
		delete(c.sessions, room)
	}
	c.mu.Unlock()

	// каждый Close ждёт хвост от провайдера, поэтому параллельно
	var wg sync.WaitGroup
	for _, s := range all {
		if !s.opened() {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.shutdown(ReasonShutdown, nil)
		}(s)
	}
	wg.Wait()
	if len(all) > 0 {
		c.log.Info("all sessions stopped", "count", len(all))
	}
}

// detachIf убирает сессию из map, только если в слоте всё ещё она.
func (c *Coordinator) detachIf(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[s.roomID] == s {
		delete(c.sessions, s.roomID)
		return true
	}
	return false
}

// pump читает поток провайдера до его закрытия. После остановки сессии провайдер
// ещё досылает финальные фразы: они уходят в Captions без блокировки.
func (c *Coordinator) pump(s *Session) {
	defer close(s.captions)

	for cp := range s.stream.Captions() {
		select {
		case s.captions <- cp:
		case <-s.done:
			select {
			case s.captions <- cp:
			default:
				c.log.Warn("caption dropped after stop", "room_id", s.roomID, "session_id", s.id)
			}
		}
	}

	select {
	case <-s.done:
		return
	default:
	}
	// провайдер закрыл поток сам
	err := s.stream.Err()
	if err != nil {
		err = wrapProvider(err)
	}
	if c.detachIf(s) {
		c.log.Warn("provider closed session", "room_id", s.roomID, "session_id", s.id, "err", err)
	}
	s.shutdown(ReasonProviderClosed, err)
}

func (c *Coordinator) watchIdle(s *Session) {
	tick := c.opts.MaxIdleAudio / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			if s.idleFor(now) < c.opts.MaxIdleAudio {
				continue
			}
			if c.detachIf(s) {
				c.log.Info("session idle, stopping", "room_id", s.roomID, "session_id", s.id)
			}
			s.shutdown(ReasonIdle, nil)
			return
		}
	}
}

func wrapProvider(err error) error {
	if err == nil {
		return nil
	}
	if isKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTranscriptionProvider, err)
}

func isKnown(err error) bool {
	for _, target := range []error{domain.ErrTranscriptionProvider, domain.ErrTranscriptionDisabled, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
