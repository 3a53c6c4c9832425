package domain

import "time"

// MaxChatContent: предел открытого текста сообщения чата в байтах.
// Длиннее релей не пропускает вовсе, хранилище ничего не обрезает.
const MaxChatContent = 4000

// ChatMessage хранится зашифрованным, в Content лежит шифртекст.
type ChatMessage struct {
	ID            string    `db:"id"`
	AppointmentID string    `db:"appointment_id"`
	SenderID      string    `db:"sender_id"`
	Sender        string    `db:"sender"`
	Content       string    `db:"content"`
	CreatedAt     time.Time `db:"created_at"`
}

type Transcript struct {
	AppointmentID string    `db:"appointment_id"`
	Content       string    `db:"content"`
	UpdatedAt     time.Time `db:"updated_at"`
}
