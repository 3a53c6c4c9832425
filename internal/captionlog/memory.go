package captionlog

import (
	"context"
	"sync"

	"github.com/telecare/signaling-service/internal/domain"
)

type memoryLog struct {
	mu    sync.Mutex
	keep  int
	rooms map[string][]domain.Caption
}

func newMemoryLog(keep int) *memoryLog {
	return &memoryLog{keep: keep, rooms: make(map[string][]domain.Caption)}
}

func (l *memoryLog) Append(ctx context.Context, roomID string, c domain.Caption) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := append(l.rooms[roomID], c)
	if over := len(list) - l.keep; over > 0 {
		list = append([]domain.Caption(nil), list[over:]...)
	}
	l.rooms[roomID] = list
	return nil
}

func (l *memoryLog) Recent(ctx context.Context, roomID string) ([]domain.Caption, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]domain.Caption(nil), l.rooms[roomID]...), nil
}

func (l *memoryLog) Drop(ctx context.Context, roomID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.rooms, roomID)
	return nil
}

func (l *memoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rooms = make(map[string][]domain.Caption)
	return nil
}
