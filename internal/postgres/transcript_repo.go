package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type TranscriptRepository struct {
	db txBeginner
}

func NewTranscriptRepository(db txBeginner) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// AppendTranscript: read-modify-write под блокировкой строки.
// mutate получает текущее содержимое (nil, если записи нет) и возвращает новое.
func (r *TranscriptRepository) AppendTranscript(ctx context.Context, appointmentID string, mutate func(existing *string) (string, error)) error {
	// вторая попытка нужна, если параллельная транзакция успела вставить первую строку
	for attempt := 0; attempt < 2; attempt++ {
		err := r.appendOnce(ctx, appointmentID, mutate)
		if errors.Is(err, errUniqueViolation) {
			continue
		}
		return err
	}

	return errUniqueViolation
}

func (r *TranscriptRepository) appendOnce(ctx context.Context, appointmentID string, mutate func(existing *string) (string, error)) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var content string
	err = tx.QueryRow(ctx, qTranscriptForUpdate, appointmentID).Scan(&content)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		next, err := mutate(nil)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, qInsertTranscript, appointmentID, next)
		if err != nil {
			return mapPgError(err)
		}
		if tag.RowsAffected() == 0 {
			return errUniqueViolation
		}
	case err != nil:
		return mapPgError(err)
	default:
		next, err := mutate(&content)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, qUpdateTranscript, appointmentID, next); err != nil {
			return mapPgError(err)
		}
	}

	return tx.Commit(ctx)
}
