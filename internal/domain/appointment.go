package domain

import "time"

type Appointment struct {
	ID        string    `db:"id"`
	RoomID    string    `db:"room_id"`
	PatientID string    `db:"patient_id"`
	DoctorID  string    `db:"doctor_id"`
	CreatedAt time.Time `db:"created_at"`
}
