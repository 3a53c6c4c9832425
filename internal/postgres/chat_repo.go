package postgres

import (
	"context"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/google/uuid"
)

type ChatRepository struct {
	q querier
}

func NewChatRepository(q querier) *ChatRepository {
	return &ChatRepository{q: q}
}

func (r *ChatRepository) SaveChatMessage(ctx context.Context, m *domain.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	return mapPgError(r.q.QueryRow(ctx, qInsertChatMessage,
		m.ID, m.AppointmentID, m.SenderID, m.Sender, m.Content,
	).Scan(&m.CreatedAt))
}
