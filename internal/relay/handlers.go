package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/transcription"
)

// Handle разбирает один входящий кадр соединения и доводит его обработку до конца.
// Кадры одного соединения обрабатываются последовательно вызывающей стороной.
func (s *State) Handle(ctx context.Context, c *Conn, data []byte) {
	if s.Status(c) == StatusDisconnected {
		return
	}

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
		s.reportError(c, "malformed event")
		return
	}

	switch in.Type {
	case TypeJoinRoom:
		s.handleJoin(ctx, c, in.Payload)
	case TypeLeaveRoom:
		s.handleLeave(c, in.Payload)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		s.handleNegotiation(c, in.Type, in.Payload)
	case TypeChatMessage:
		s.handleChat(ctx, c, in.Payload)
	case TypeStartTranscription:
		s.handleStartTranscription(ctx, c, in.Payload)
	case TypeStopTranscription:
		s.handleStopTranscription(c, in.Payload)
	case TypeAudioChunk:
		s.handleAudioChunk(c, in.Payload)
	case TypePing:
		s.send(c, Event{Type: TypePong})
	default:
		s.log.Debug("unknown event", "conn_id", c.id, "event", in.Type)
		s.reportError(c, "unknown event type: "+in.Type)
	}
}

// HandleAudio принимает бинарный кадр, то есть сырое аудио для текущей комнаты соединения.
func (s *State) HandleAudio(c *Conn, chunk []byte) {
	room := s.CurrentRoom(c)
	if room == "" {
		return
	}
	if err := s.coord.SendAudioChunk(room, chunk); err != nil {
		s.log.Warn("audio forward failed", "conn_id", c.id, "room_id", room, "err", err)
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.ErrBadPayload
	}
	return nil
}

// currentRoom проверяет, что соединение состоит в запрошенной комнате.
// Пустой roomId означает текущую комнату.
func (s *State) currentRoom(c *Conn, requested string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.room == "" || (requested != "" && requested != c.room) {
		return "", domain.ErrNotInRoom
	}
	return c.room, nil
}

func (s *State) members(roomID, except string) []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.rooms.MembersOf(roomID)
	out := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if id == except {
			continue
		}
		if c, ok := s.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *State) handleJoin(ctx context.Context, c *Conn, raw json.RawMessage) {
	var p roomPayload
	if err := decode(raw, &p); err != nil || strings.TrimSpace(p.RoomID) == "" {
		s.reportError(c, "join-room requires roomId")
		return
	}
	roomID := strings.TrimSpace(p.RoomID)

	s.mu.Lock()
	if c.status == StatusDisconnected {
		s.mu.Unlock()
		return
	}
	rejoin := c.room == roomID

	// последний join выигрывает: сначала выходим из прежней комнаты
	var left leaveResult
	if c.room != "" && !rejoin {
		left = s.leaveLocked(c)
	}

	s.rooms.Join(roomID, c.id)
	c.room = roomID
	c.status = StatusInRoom

	var others []*Conn
	if !rejoin {
		for _, m := range s.connsLocked(s.rooms.MembersOf(roomID)) {
			if m != c {
				others = append(others, m)
			}
		}
	}
	snap := s.snapshotLocked(roomID)
	s.mu.Unlock()

	s.afterLeave(c, left)
	if !rejoin {
		s.fanout(others, Event{Type: TypeUserJoined, From: c.id, Payload: memberOf(c)})
		s.log.Info("joined room", "conn_id", c.id, "room_id", roomID, "members", len(snap.Members))
	}
	s.send(c, Event{Type: TypeRoomState, Payload: snap})

	if snap.TranscriptionActive && s.captions != nil {
		s.sendCaptionHistory(ctx, c, roomID)
	}
}

func (s *State) sendCaptionHistory(ctx context.Context, c *Conn, roomID string) {
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	hist, err := s.captions.Recent(ctx, roomID)
	if err != nil {
		s.log.Warn("caption history read failed", "room_id", roomID, "err", err)
		return
	}
	if len(hist) == 0 {
		return
	}
	s.send(c, Event{Type: TypeCaptionHistory, Payload: captionHistoryPayload{RoomID: roomID, Captions: hist}})
}

func (s *State) handleLeave(c *Conn, raw json.RawMessage) {
	var p roomPayload
	if err := decode(raw, &p); err != nil {
		s.reportError(c, "malformed leave-room payload")
		return
	}
	if _, err := s.currentRoom(c, p.RoomID); err != nil {
		s.reportError(c, "not in room "+p.RoomID)
		return
	}

	s.mu.Lock()
	left := s.leaveLocked(c)
	s.mu.Unlock()

	s.afterLeave(c, left)
}

func (s *State) handleNegotiation(c *Conn, typ string, raw json.RawMessage) {
	var p negotiationPayload
	if err := decode(raw, &p); err != nil {
		s.reportError(c, "malformed "+typ+" payload")
		return
	}
	body := p.body()
	if body == nil {
		s.reportError(c, typ+" requires payload")
		return
	}
	room, err := s.currentRoom(c, p.RoomID)
	if err != nil {
		s.reportError(c, typ+": not in room "+p.RoomID)
		return
	}

	// тело не разбираем: SDP/ICE уходят как есть
	s.fanout(s.members(room, c.id), Event{Type: typ, From: c.id, Payload: body})
}

func (s *State) handleChat(ctx context.Context, c *Conn, raw json.RawMessage) {
	var p chatPayload
	if err := decode(raw, &p); err != nil || len(p.Message) == 0 {
		s.reportError(c, "chat-message requires message")
		return
	}
	var msg chatMessage
	if err := json.Unmarshal(p.Message, &msg); err != nil {
		s.reportError(c, "chat-message: malformed message")
		return
	}
	if len(msg.Content) > domain.MaxChatContent {
		s.reportError(c, fmt.Sprintf("chat-message: content exceeds %d bytes", domain.MaxChatContent))
		return
	}
	room, err := s.currentRoom(c, p.RoomID)
	if err != nil {
		s.reportError(c, "chat-message: not in room "+p.RoomID)
		return
	}

	// пустой текст ретранслируется, но не сохраняется
	if strings.TrimSpace(msg.Content) != "" {
		s.persistChat(ctx, c, room, msg)
	}

	// эхо всем, включая отправителя: подтверждение доставки
	s.fanout(s.members(room, ""), Event{Type: TypeChatMessage, From: c.id, Payload: p.Message})
}

// persistChat работает best-effort: ошибки логируются, доставка важнее сохранности.
func (s *State) persistChat(ctx context.Context, c *Conn, room string, msg chatMessage) {
	if s.chat == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	_, err := s.chat.Save(ctx, room, c.identity, msg.Sender, msg.Content)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRoomResolution):
		s.log.Warn("chat not persisted: room has no appointment", "room_id", room, "conn_id", c.id)
	default:
		s.log.Error("chat persist failed", "room_id", room, "conn_id", c.id, "err", err)
	}
}

func (s *State) handleStartTranscription(ctx context.Context, c *Conn, raw json.RawMessage) {
	var p roomPayload
	if err := decode(raw, &p); err != nil {
		s.reportError(c, "malformed start-transcription payload")
		return
	}
	room, err := s.currentRoom(c, p.RoomID)
	if err != nil {
		s.send(c, Event{Type: TypeTranscriptionError, Payload: transcriptionPayload{RoomID: p.RoomID, Message: err.Error()}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	sess, created, err := s.coord.Start(ctx, room)
	if err != nil {
		s.log.Warn("transcription start failed", "room_id", room, "conn_id", c.id, "err", err)
		s.send(c, Event{Type: TypeTranscriptionError, Payload: transcriptionPayload{RoomID: room, Message: err.Error()}})
		return
	}
	s.addRequester(c, sess)
	if created {
		s.pumps.Add(1)
		go s.pumpCaptions(room, sess)
	}

	s.send(c, Event{Type: TypeTranscriptionStarted, Payload: transcriptionPayload{RoomID: room, SessionID: sess.ID()}})
}

func (s *State) handleStopTranscription(c *Conn, raw json.RawMessage) {
	var p roomPayload
	if err := decode(raw, &p); err != nil {
		s.reportError(c, "malformed stop-transcription payload")
		return
	}
	room, err := s.currentRoom(c, p.RoomID)
	if err != nil {
		s.reportError(c, "stop-transcription: not in room "+p.RoomID)
		return
	}

	s.coord.Stop(room, transcription.ReasonRequested)
	s.send(c, Event{Type: TypeTranscriptionStopped, Payload: transcriptionPayload{RoomID: room, Reason: string(transcription.ReasonRequested)}})
}

func (s *State) handleAudioChunk(c *Conn, raw json.RawMessage) {
	var p audioPayload
	if err := decode(raw, &p); err != nil {
		s.reportError(c, "audio-chunk: audioData must be base64")
		return
	}
	room, err := s.currentRoom(c, p.RoomID)
	if err != nil {
		// аудио чужой комнаты просто отбрасываем
		s.log.Debug("audio for foreign room dropped", "conn_id", c.id, "room_id", p.RoomID)
		return
	}
	if err := s.coord.SendAudioChunk(room, p.AudioData); err != nil {
		s.log.Warn("audio forward failed", "conn_id", c.id, "room_id", room, "err", err)
	}
}
