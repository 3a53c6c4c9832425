package domain

import "time"

// Caption: единица вывода распознавания. Interim могут уточняться, final стабильны.
type Caption struct {
	Text         string    `json:"text"`
	IsFinal      bool      `json:"isFinal"`
	Speaker      int       `json:"speaker"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Confidence   float64   `json:"confidence,omitempty"`
}
