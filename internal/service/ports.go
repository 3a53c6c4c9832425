package service

import (
	"context"

	"github.com/telecare/signaling-service/internal/domain"
)

type AppointmentFinder interface {
	AppointmentByRoom(ctx context.Context, roomID string) (*domain.Appointment, error)
}

type ChatRepository interface {
	SaveChatMessage(ctx context.Context, m *domain.ChatMessage) error
}

type TranscriptRepository interface {
	AppendTranscript(ctx context.Context, appointmentID string, mutate func(existing *string) (string, error)) error
}

type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
