// Package memstore: in-memory драйвер хранилища для dev-режима и тестов.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/google/uuid"
)

type Store struct {
	mu           sync.Mutex
	appointments map[string]domain.Appointment // roomID -> appointment
	chats        map[string][]domain.ChatMessage
	transcripts  map[string]domain.Transcript
}

func New() *Store {
	return &Store{
		appointments: make(map[string]domain.Appointment),
		chats:        make(map[string][]domain.ChatMessage),
		transcripts:  make(map[string]domain.Transcript),
	}
}

func (s *Store) AddAppointment(a domain.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.appointments[a.RoomID] = a
}

func (s *Store) AppointmentByRoom(ctx context.Context, roomID string) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[roomID]
	if !ok {
		return nil, domain.ErrRoomResolution
	}
	return &a, nil
}

func (s *Store) SaveChatMessage(ctx context.Context, m *domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()
	s.chats[m.AppointmentID] = append(s.chats[m.AppointmentID], *m)
	return nil
}

// AppendTranscript атомарен: mutate выполняется под локом стора.
func (s *Store) AppendTranscript(ctx context.Context, appointmentID string, mutate func(existing *string) (string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *string
	if t, ok := s.transcripts[appointmentID]; ok {
		c := t.Content
		existing = &c
	}
	next, err := mutate(existing)
	if err != nil {
		return err
	}
	s.transcripts[appointmentID] = domain.Transcript{
		AppointmentID: appointmentID,
		Content:       next,
		UpdatedAt:     time.Now().UTC(),
	}
	return nil
}

func (s *Store) ChatMessages(appointmentID string) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.ChatMessage(nil), s.chats[appointmentID]...)
}

func (s *Store) Transcript(appointmentID string) (domain.Transcript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcripts[appointmentID]
	return t, ok
}
