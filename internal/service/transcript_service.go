package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/telecare/signaling-service/internal/domain"
)

type TranscriptService struct {
	appointments AppointmentFinder
	transcripts  TranscriptRepository
	cipher       Cipher
	locks        *keyedMutex
}

func NewTranscriptService(appointments AppointmentFinder, transcripts TranscriptRepository, cipher Cipher) *TranscriptService {
	return &TranscriptService{
		appointments: appointments,
		transcripts:  transcripts,
		cipher:       cipher,
		locks:        newKeyedMutex(),
	}
}

// AppendFinal дописывает финальный текст в транскрипт приёма комнаты.
// Добавления по одной комнате идут строго по очереди: decrypt -> existing+"\n"+text -> encrypt.
func (s *TranscriptService) AppendFinal(ctx context.Context, roomID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	apt, err := s.appointments.AppointmentByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomResolution) {
			return fmt.Errorf("transcript: room %q: %w", roomID, err)
		}
		return fmt.Errorf("transcript: resolve room: %w: %v", domain.ErrPersistence, err)
	}

	err = s.transcripts.AppendTranscript(ctx, apt.ID, func(existing *string) (string, error) {
		if existing == nil {
			return s.cipher.Encrypt(text)
		}
		prev, err := s.cipher.Decrypt(*existing)
		if err != nil {
			return "", fmt.Errorf("decrypt existing: %w", err)
		}
		return s.cipher.Encrypt(prev + "\n" + text)
	})
	if err != nil {
		return fmt.Errorf("transcript: append: %w: %v", domain.ErrPersistence, err)
	}

	return nil
}
