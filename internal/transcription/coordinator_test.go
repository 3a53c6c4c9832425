package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
)

func waitClosed(t *testing.T, ch <-chan domain.Caption) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("captions channel was not closed")
		}
	}
}

func TestStart_ReusesExistingSession(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{}, nil)
	defer c.StopAll()

	s1, created1, err := c.Start(context.Background(), "r1")
	if err != nil || !created1 {
		t.Fatalf("first start: created=%v err=%v", created1, err)
	}
	s2, created2, err := c.Start(context.Background(), "r1")
	if err != nil || created2 {
		t.Fatalf("second start: created=%v err=%v", created2, err)
	}
	if s1 != s2 {
		t.Fatalf("expected the same session handle")
	}
	if n := p.opens.Load(); n != 1 {
		t.Fatalf("provider opened %d streams, want 1", n)
	}
}

func TestStart_ConcurrentOpensOneStream(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	c := NewCoordinator(p, Options{}, nil)
	defer c.StopAll()

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles = map[*Session]int{}
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, ok, err := c.Start(context.Background(), "r1")
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			mu.Lock()
			handles[s]++
			if ok {
				created++
			}
			mu.Unlock()
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	if p.opens.Load() != 1 || len(handles) != 1 || created != 1 {
		t.Fatalf("opens=%d handles=%d created=%d", p.opens.Load(), len(handles), created)
	}
}

func TestStop_NoSessionIsNoop(t *testing.T) {
	c := NewCoordinator(&fakeProvider{}, Options{}, nil)
	c.Stop("nothing", ReasonRequested)
	c.Stop("nothing", ReasonRequested)
	if c.IsActive("nothing") {
		t.Fatalf("no session expected")
	}
}

func TestStop_ClosesStreamAndCaptions(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{}, nil)

	s, _, err := c.Start(context.Background(), "r1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !c.IsActive("r1") {
		t.Fatalf("session must be active")
	}

	c.Stop("r1", ReasonRoomEmpty)
	c.Stop("r1", ReasonRequested)

	if c.IsActive("r1") {
		t.Fatalf("session must be inactive after stop")
	}
	if !p.last().closed.Load() {
		t.Fatalf("provider stream must be closed synchronously by Stop")
	}
	waitClosed(t, s.Captions())
	if s.Reason() != ReasonRoomEmpty || s.Err() != nil {
		t.Fatalf("reason=%q err=%v", s.Reason(), s.Err())
	}

	// после stop нужна новая сессия
	s2, created, err := c.Start(context.Background(), "r1")
	if err != nil || !created || s2 == s {
		t.Fatalf("restart: created=%v same=%v err=%v", created, s2 == s, err)
	}
	c.StopAll()
}

func TestStop_DeliversCaptionsFlushedOnClose(t *testing.T) {
	tail := domain.Caption{Text: "last words", IsFinal: true}
	p := &fakeProvider{tail: []domain.Caption{tail}}
	c := NewCoordinator(p, Options{}, nil)

	s, _, err := c.Start(context.Background(), "r1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Stop("r1", ReasonRequested)

	var got []domain.Caption
	for cp := range s.Captions() {
		got = append(got, cp)
	}
	if len(got) != 1 || got[0] != tail {
		t.Fatalf("captions after stop = %+v, want [%+v]", got, tail)
	}
	if s.Reason() != ReasonRequested || s.Err() != nil {
		t.Fatalf("reason=%q err=%v", s.Reason(), s.Err())
	}
}

func TestDetachThenFinish(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{}, nil)
	defer c.StopAll()

	s, _, _ := c.Start(context.Background(), "r1")
	if got := c.Detach("r1"); got != s {
		t.Fatalf("Detach returned %p, want %p", got, s)
	}
	if c.IsActive("r1") {
		t.Fatalf("detached session must not be active")
	}
	if p.last().closed.Load() {
		t.Fatalf("Detach must not close the stream")
	}

	// новый Start после Detach не ждёт старую сессию
	s2, created, err := c.Start(context.Background(), "r1")
	if err != nil || !created || s2 == s {
		t.Fatalf("start after detach: created=%v same=%v err=%v", created, s2 == s, err)
	}

	c.Finish(s, ReasonRoomEmpty)
	c.Finish(nil, ReasonRoomEmpty)
	waitClosed(t, s.Captions())
	if s.Reason() != ReasonRoomEmpty {
		t.Fatalf("reason = %q", s.Reason())
	}
	if !c.IsActive("r1") {
		t.Fatalf("finishing the old session must not touch the new one")
	}
}

func TestSendAudioChunk(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{}, nil)
	defer c.StopAll()

	// нет сессии: молча отбрасываем
	if err := c.SendAudioChunk("r1", []byte{1, 2}); err != nil {
		t.Fatalf("drop must not error: %v", err)
	}
	if p.opens.Load() != 0 {
		t.Fatalf("audio must not open a session")
	}

	if _, _, err := c.Start(context.Background(), "r1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = c.SendAudioChunk("r1", []byte{1, 2})
	_ = c.SendAudioChunk("r2", []byte{3})
	if got := p.last().sent(); got != 1 {
		t.Fatalf("stream got %d chunks, want 1", got)
	}
}

func TestCaptionsForwarded(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{}, nil)
	defer c.StopAll()

	s, _, _ := c.Start(context.Background(), "r1")
	st := p.last()
	st.captions <- domain.Caption{Text: "hel", IsFinal: false}
	st.captions <- domain.Caption{Text: "hello", IsFinal: true}

	for _, want := range []string{"hel", "hello"} {
		select {
		case got := <-s.Captions():
			if got.Text != want {
				t.Fatalf("caption = %q, want %q", got.Text, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("caption %q not delivered", want)
		}
	}
}

func TestProviderFailureTearsDownSession(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{}, nil)
	defer c.StopAll()

	s, _, _ := c.Start(context.Background(), "r1")
	p.last().fail(errors.New("socket reset"))

	waitClosed(t, s.Captions())
	if !errors.Is(s.Err(), domain.ErrTranscriptionProvider) {
		t.Fatalf("expected provider error, got %v", s.Err())
	}
	if s.Reason() != ReasonProviderClosed {
		t.Fatalf("reason = %q", s.Reason())
	}
	if c.IsActive("r1") {
		t.Fatalf("failed session must be removed")
	}
}

func TestStart_OpenError(t *testing.T) {
	c := NewCoordinator(&fakeProvider{openErr: errors.New("401")}, Options{}, nil)

	if _, _, err := c.Start(context.Background(), "r1"); !errors.Is(err, domain.ErrTranscriptionProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if c.IsActive("r1") {
		t.Fatalf("no session must remain after failed open")
	}
}

func TestStart_Disabled(t *testing.T) {
	c := NewCoordinator(nil, Options{}, nil)
	if _, _, err := c.Start(context.Background(), "r1"); !errors.Is(err, domain.ErrTranscriptionDisabled) {
		t.Fatalf("expected ErrTranscriptionDisabled, got %v", err)
	}
}

func TestStop_WhileOpening(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	c := NewCoordinator(p, Options{}, nil)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Start(context.Background(), "r1")
		errCh <- err
	}()
	for p.opens.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	c.Stop("r1", ReasonRoomEmpty)
	close(p.gate)

	if err := <-errCh; !errors.Is(err, domain.ErrSessionStopped) {
		t.Fatalf("expected ErrSessionStopped, got %v", err)
	}
	if !p.last().closed.Load() {
		t.Fatalf("late stream must be closed")
	}
	if c.IsActive("r1") {
		t.Fatalf("session must not be active")
	}
}

func TestIdleAudioStopsSession(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{MaxIdleAudio: 40 * time.Millisecond}, nil)
	defer c.StopAll()

	s, _, _ := c.Start(context.Background(), "r1")
	waitClosed(t, s.Captions())

	if s.Reason() != ReasonIdle {
		t.Fatalf("reason = %q, want idle", s.Reason())
	}
	if c.IsActive("r1") {
		t.Fatalf("idle session must be removed")
	}
}

func TestStopAll(t *testing.T) {
	p := &fakeProvider{}
	c := NewCoordinator(p, Options{}, nil)

	a, _, _ := c.Start(context.Background(), "a")
	b, _, _ := c.Start(context.Background(), "b")
	c.StopAll()

	waitClosed(t, a.Captions())
	waitClosed(t, b.Captions())
	if c.IsActive("a") || c.IsActive("b") {
		t.Fatalf("all sessions must be stopped")
	}
	if a.Reason() != ReasonShutdown {
		t.Fatalf("reason = %q", a.Reason())
	}
}
