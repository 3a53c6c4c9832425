package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/telecare/signaling-service/internal/domain"
)

var ErrEmptyMessage = errors.New("empty message")

type ChatService struct {
	appointments AppointmentFinder
	chats        ChatRepository
	cipher       Cipher
}

func NewChatService(appointments AppointmentFinder, chats ChatRepository, cipher Cipher) *ChatService {
	return &ChatService{appointments: appointments, chats: chats, cipher: cipher}
}

// Save шифрует и сохраняет сообщение чата приёма, привязанного к комнате.
// Если комнате не соответствует приём: ErrRoomResolution, сообщение не сохраняется.
// Текст длиннее domain.MaxChatContent отвергается целиком: ErrMessageTooLong.
func (s *ChatService) Save(ctx context.Context, roomID string, sender domain.Identity, senderName, content string) (*domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > domain.MaxChatContent {
		return nil, fmt.Errorf("chat: %d bytes: %w", len(content), domain.ErrMessageTooLong)
	}

	apt, err := s.appointments.AppointmentByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomResolution) {
			return nil, fmt.Errorf("chat: room %q: %w", roomID, err)
		}
		return nil, fmt.Errorf("chat: resolve room: %w: %v", domain.ErrPersistence, err)
	}

	enc, err := s.cipher.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("chat: encrypt: %w", err)
	}
	if senderName == "" {
		senderName = sender.DisplayName
	}

	msg := &domain.ChatMessage{
		AppointmentID: apt.ID,
		SenderID:      sender.SubjectID,
		Sender:        senderName,
		Content:       enc,
	}
	if err := s.chats.SaveChatMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("chat: save: %w: %v", domain.ErrPersistence, err)
	}

	return msg, nil
}
