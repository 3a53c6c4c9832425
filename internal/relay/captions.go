package relay

import (
	"context"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/transcription"
)

// pumpCaptions живёт столько же, сколько сессия: каждое событие уходит всей комнате,
// финальные ещё и дописываются в транскрипт (по порядку прихода).
func (s *State) pumpCaptions(room string, sess *transcription.Session) {
	defer s.pumps.Done()

	for cp := range sess.Captions() {
		s.fanout(s.members(room, ""), Event{Type: TypeLiveCaption, Payload: cp})
		if cp.IsFinal {
			s.persistFinal(room, cp, isClosed(sess.Done()))
		}
	}

	to := s.takeRequesters(room, sess.ID())
	switch {
	case sess.Err() != nil:
		s.fanout(to, Event{Type: TypeTranscriptionError, Payload: transcriptionPayload{
			RoomID:    room,
			SessionID: sess.ID(),
			Message:   sess.Err().Error(),
		}})
	case sess.Reason() == transcription.ReasonIdle:
		s.fanout(to, Event{Type: TypeTranscriptionStopped, Payload: transcriptionPayload{
			RoomID:    room,
			SessionID: sess.ID(),
			Reason:    string(transcription.ReasonIdle),
		}})
	}
}

// addRequester запоминает, кто запросил сессию. После конца сессии список уже забран,
// и добавлять некуда.
func (s *State) addRequester(c *Conn, sess *transcription.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if isClosed(sess.Done()) {
		return
	}
	for _, r := range s.requesters[sess.ID()] {
		if r == c {
			return
		}
	}
	s.requesters[sess.ID()] = append(s.requesters[sess.ID()], c)
}

// takeRequesters: запросившие сессию и всё ещё сидящие в комнате; если таких нет,
// то все текущие участники комнаты.
func (s *State) takeRequesters(room, sessionID string) []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.requesters[sessionID]
	delete(s.requesters, sessionID)

	out := make([]*Conn, 0, len(all))
	for _, c := range all {
		if c.status != StatusDisconnected && c.room == room {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = s.connsLocked(s.rooms.MembersOf(room))
	}
	return out
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// persistFinal: хвост, дошедший после остановки, в историю субтитров не пишется,
// её к этому моменту уже могли сбросить.
func (s *State) persistFinal(room string, cp domain.Caption, stopped bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if s.captions != nil && !stopped {
		if err := s.captions.Append(ctx, room, cp); err != nil {
			s.log.Warn("caption history append failed", "room_id", room, "err", err)
		}
	}
	if s.transcripts == nil {
		return
	}
	if err := s.transcripts.AppendFinal(ctx, room, cp.Text); err != nil {
		s.log.Warn("transcript append failed", "room_id", room, "err", err)
	}
}
