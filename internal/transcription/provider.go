// Package transcription держит не более одной потоковой сессии распознавания на комнату.
package transcription

import (
	"context"

	"github.com/telecare/signaling-service/internal/domain"
)

// Provider открывает поток к внешнему сервису распознавания речи.
type Provider interface {
	Open(ctx context.Context, roomID string) (Stream, error)
}

// Stream: одна открытая сессия у провайдера.
// Captions закрывается, когда поток завершён (Close или обрыв со стороны провайдера);
// после этого Err возвращает причину обрыва или nil.
type Stream interface {
	Send(chunk []byte) error
	Captions() <-chan domain.Caption
	Err() error
	Close() error
}

// Disabled: провайдер, когда ключ не настроен.
type Disabled struct{}

func (Disabled) Open(context.Context, string) (Stream, error) {
	return nil, domain.ErrTranscriptionDisabled
}
