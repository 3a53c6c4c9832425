package postgres

const (
	// поиск строго по room_id; id записи здесь ни при чём
	qAppointmentByRoom = `
SELECT id, room_id, patient_id, doctor_id, created_at
FROM appointments
WHERE room_id = $1
LIMIT 1`

	qInsertChatMessage = `
INSERT INTO chat_messages (id, appointment_id, sender_id, sender, content)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`

	qTranscriptForUpdate = `
SELECT content
FROM transcripts
WHERE appointment_id = $1
FOR UPDATE`

	qInsertTranscript = `
INSERT INTO transcripts (appointment_id, content)
VALUES ($1, $2)
ON CONFLICT (appointment_id) DO NOTHING`

	qUpdateTranscript = `
UPDATE transcripts
SET content = $2, updated_at = now()
WHERE appointment_id = $1`

	qTableExists = `SELECT to_regclass($1) IS NOT NULL`
)
