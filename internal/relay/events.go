package relay

import (
	"encoding/json"

	"github.com/telecare/signaling-service/internal/domain"
)

// Типы событий протокола
const (
	// in
	TypeJoinRoom           = "join-room"
	TypeLeaveRoom          = "leave-room"
	TypeOffer              = "offer"
	TypeAnswer             = "answer"
	TypeICECandidate       = "ice-candidate"
	TypeChatMessage        = "chat-message" // in + out
	TypeStartTranscription = "start-transcription"
	TypeStopTranscription  = "stop-transcription"
	TypeAudioChunk         = "audio-chunk"
	TypePing               = "ping"

	// out
	TypeUserJoined           = "user-joined"
	TypeUserLeft             = "user-left"
	TypeRoomState            = "room-state"
	TypeLiveCaption          = "live-caption"
	TypeCaptionHistory       = "caption-history"
	TypeTranscriptionStarted = "transcription-started"
	TypeTranscriptionStopped = "transcription-stopped"
	TypeTranscriptionError   = "transcription-error"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Event описывает исходящий кадр. From содержит id соединения-отправителя для ретранслируемых событий.
type Event struct {
	Type    string `json:"type"`
	From    string `json:"from,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

// negotiationPayload: тело лежит в payload; offer/answer/candidate остались как старые имена полей.
type negotiationPayload struct {
	RoomID    string          `json:"roomId"`
	Payload   json.RawMessage `json:"payload"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

func (p negotiationPayload) body() json.RawMessage {
	for _, b := range []json.RawMessage{p.Payload, p.Offer, p.Answer, p.Candidate} {
		if len(b) > 0 && string(b) != "null" {
			return b
		}
	}
	return nil
}

type chatPayload struct {
	RoomID  string          `json:"roomId"`
	Message json.RawMessage `json:"message"`
}

type chatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp any    `json:"timestamp"`
}

type audioPayload struct {
	RoomID    string `json:"roomId"`
	AudioData []byte `json:"audioData"` // base64 в JSON
}

type MemberInfo struct {
	ConnectionID string      `json:"connectionId"`
	SubjectID    string      `json:"subjectId"`
	DisplayName  string      `json:"displayName,omitempty"`
	Role         domain.Role `json:"role"`
}

type userLeftPayload struct {
	ConnectionID string `json:"connectionId"`
	SubjectID    string `json:"subjectId"`
	DisplayName  string `json:"displayName,omitempty"`
}

type transcriptionPayload struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

type captionHistoryPayload struct {
	RoomID   string           `json:"roomId"`
	Captions []domain.Caption `json:"captions"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// RoomSnapshot: состояние комнаты для room-state и админских ручек.
type RoomSnapshot struct {
	RoomID              string       `json:"roomId"`
	Members             []MemberInfo `json:"members"`
	TranscriptionActive bool         `json:"transcriptionActive"`
}

type RoomSummary struct {
	RoomID              string `json:"roomId"`
	Members             int    `json:"members"`
	TranscriptionActive bool   `json:"transcriptionActive"`
}
