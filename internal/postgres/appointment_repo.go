package postgres

import (
	"context"
	"errors"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

type AppointmentRepository struct {
	q querier
}

func NewAppointmentRepository(q querier) *AppointmentRepository {
	return &AppointmentRepository{q: q}
}

// AppointmentByRoom резолвит идентификатор комнаты в запись приёма.
func (r *AppointmentRepository) AppointmentByRoom(ctx context.Context, roomID string) (*domain.Appointment, error) {
	var a domain.Appointment
	err := r.q.QueryRow(ctx, qAppointmentByRoom, roomID).Scan(&a.ID, &a.RoomID, &a.PatientID, &a.DoctorID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomResolution
		}
		return nil, mapPgError(err)
	}

	return &a, nil
}
