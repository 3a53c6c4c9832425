// Package relay реализует машину состояний сигналинга: аутентифицированные соединения,
// членство в комнатах, ретрансляция переговоров/чата и управление субтитрами.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telecare/signaling-service/internal/captionlog"
	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/registry"
	"github.com/telecare/signaling-service/internal/transcription"

	"github.com/google/uuid"
)

// Sender: исходящая сторона соединения. Send не должен блокироваться надолго.
type Sender interface {
	Send(ev Event) error
}

type ChatSaver interface {
	Save(ctx context.Context, roomID string, sender domain.Identity, senderName, content string) (*domain.ChatMessage, error)
}

type TranscriptAppender interface {
	AppendFinal(ctx context.Context, roomID, text string) error
}

type Status int

const (
	StatusUnauthenticated Status = iota
	StatusAuthenticated
	StatusInRoom
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusInRoom:
		return "in-room"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unauthenticated"
	}
}

// Conn: соединение, прошедшее проверку токена. room и status защищены State.mu.
type Conn struct {
	id       string
	identity domain.Identity
	out      Sender

	room   string
	status Status
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Identity() domain.Identity { return c.identity }

type Deps struct {
	Coordinator *transcription.Coordinator
	Chat        ChatSaver
	Transcripts TranscriptAppender
	Captions    captionlog.Log // nil: без истории субтитров
	Logger      *slog.Logger

	PersistTimeout time.Duration
	StartTimeout   time.Duration
}

// State: всё изменяемое состояние релея; глобальных map нет.
type State struct {
	mu    sync.Mutex
	conns map[string]*Conn
	rooms *registry.Registry

	coord       *transcription.Coordinator
	chat        ChatSaver
	transcripts TranscriptAppender
	captions    captionlog.Log
	log         *slog.Logger

	persistTimeout time.Duration
	startTimeout   time.Duration

	requesters map[string][]*Conn // sessionID -> запросившие start-transcription, под mu
	pumps      sync.WaitGroup
}

func New(d Deps) *State {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Coordinator == nil {
		d.Coordinator = transcription.NewCoordinator(nil, transcription.Options{}, d.Logger)
	}
	if d.PersistTimeout <= 0 {
		d.PersistTimeout = 5 * time.Second
	}
	if d.StartTimeout <= 0 {
		d.StartTimeout = 15 * time.Second
	}

	return &State{
		conns:          make(map[string]*Conn),
		rooms:          registry.New(),
		coord:          d.Coordinator,
		chat:           d.Chat,
		transcripts:    d.Transcripts,
		captions:       d.Captions,
		log:            d.Logger.With("component", "relay"),
		persistTimeout: d.PersistTimeout,
		startTimeout:   d.StartTimeout,
		requesters:     make(map[string][]*Conn),
	}
}

// Connect регистрирует соединение после успешной проверки identity.
func (s *State) Connect(id domain.Identity, out Sender) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		identity: id,
		out:      out,
		status:   StatusAuthenticated,
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.log.Info("connected", "conn_id", c.id, "subject_id", id.SubjectID, "role", id.Role)
	return c
}

// Disconnect: обрыв транспорта из любого состояния; для InRoom равносилен leave-room.
func (s *State) Disconnect(c *Conn) {
	s.mu.Lock()
	if c.status == StatusDisconnected {
		s.mu.Unlock()
		return
	}
	left := s.leaveLocked(c)
	c.status = StatusDisconnected
	delete(s.conns, c.id)
	s.mu.Unlock()

	s.afterLeave(c, left)
	s.log.Info("disconnected", "conn_id", c.id, "subject_id", c.identity.SubjectID)
}

func (s *State) Status(c *Conn) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.status
}

func (s *State) CurrentRoom(c *Conn) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.room
}

func (s *State) Snapshot(roomID string) (RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rooms.IsEmpty(roomID) {
		return RoomSnapshot{}, false
	}
	return s.snapshotLocked(roomID), true
}

func (s *State) Rooms() []RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.rooms.Rooms()
	out := make([]RoomSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, RoomSummary{
			RoomID:              id,
			Members:             len(s.rooms.MembersOf(id)),
			TranscriptionActive: s.coord.IsActive(id),
		})
	}
	return out
}

// Shutdown останавливает все сессии распознавания и ждёт, пока допишутся субтитры.
func (s *State) Shutdown(ctx context.Context) error {
	s.coord.StopAll()

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- внутреннее, вызывается под s.mu ---

type leaveResult struct {
	room      string
	notify    []*Conn
	emptied   bool
	wasInRoom bool
	session   *transcription.Session // вынута из координатора, закрывается в afterLeave
}

// leaveLocked снимает членство. Если комната опустела, её сессия распознавания
// отсоединяется здесь же, а закрывается уже без s.mu в afterLeave.
func (s *State) leaveLocked(c *Conn) leaveResult {
	if c.room == "" {
		return leaveResult{}
	}
	room := c.room
	remaining := s.rooms.Leave(room, c.id)
	c.room = ""
	c.status = StatusAuthenticated

	res := leaveResult{room: room, notify: s.connsLocked(remaining), wasInRoom: true}
	if len(remaining) == 0 {
		res.session = s.coord.Detach(room)
		res.emptied = true
	}
	return res
}

func (s *State) afterLeave(c *Conn, left leaveResult) {
	if !left.wasInRoom {
		return
	}
	s.fanout(left.notify, Event{Type: TypeUserLeft, Payload: userLeftPayload{
		ConnectionID: c.id,
		SubjectID:    c.identity.SubjectID,
		DisplayName:  c.identity.DisplayName,
	}})
	s.coord.Finish(left.session, transcription.ReasonRoomEmpty)
	if left.emptied && s.captions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()
		if err := s.captions.Drop(ctx, left.room); err != nil {
			s.log.Warn("caption history drop failed", "room_id", left.room, "err", err)
		}
	}
	s.log.Info("left room", "conn_id", c.id, "room_id", left.room, "room_emptied", left.emptied)
}

func (s *State) connsLocked(ids []string) []*Conn {
	out := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *State) snapshotLocked(roomID string) RoomSnapshot {
	members := s.connsLocked(s.rooms.MembersOf(roomID))
	snap := RoomSnapshot{
		RoomID:              roomID,
		Members:             make([]MemberInfo, 0, len(members)),
		TranscriptionActive: s.coord.IsActive(roomID),
	}
	for _, m := range members {
		snap.Members = append(snap.Members, memberOf(m))
	}
	return snap
}

func memberOf(c *Conn) MemberInfo {
	return MemberInfo{
		ConnectionID: c.id,
		SubjectID:    c.identity.SubjectID,
		DisplayName:  c.identity.DisplayName,
		Role:         c.identity.Role,
	}
}

// --- доставка ---

func (s *State) send(c *Conn, ev Event) {
	if err := c.out.Send(ev); err != nil {
		s.log.Debug("event dropped", "conn_id", c.id, "event", ev.Type, "err", err)
	}
}

// fanout: best-effort, в порядке вызова для каждого получателя.
func (s *State) fanout(to []*Conn, ev Event) {
	for _, c := range to {
		s.send(c, ev)
	}
}

func (s *State) reportError(c *Conn, msg string) {
	s.send(c, Event{Type: TypeError, Payload: errorPayload{Message: msg}})
}
