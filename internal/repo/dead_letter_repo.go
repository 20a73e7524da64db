package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conductor/internal/domain"
)

// DeadLetterRepo — репозиторий записей DLQ.
type DeadLetterRepo struct {
	pool *pgxpool.Pool
}

// NewDeadLetterRepo создаёт новый DeadLetterRepo.
func NewDeadLetterRepo(pool *pgxpool.Pool) *DeadLetterRepo {
	return &DeadLetterRepo{pool: pool}
}

const deadLetterColumns = `id, job, reason, attempts, retryable, failed_at, redriven_at`

// CreateDeadLetter сохраняет запись DLQ.
func (r *DeadLetterRepo) CreateDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	jobJSON, err := json.Marshal(dl.Job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, run_id, node_id, job, reason, attempts, retryable, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		dl.ID,
		dl.Job.RunID,
		dl.Job.NodeID,
		jobJSON,
		dl.Reason,
		dl.Attempts,
		dl.Retryable,
		dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// GetDeadLetter возвращает запись DLQ по ID.
func (r *DeadLetterRepo) GetDeadLetter(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	return scanDeadLetter(r.pool.QueryRow(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE id = $1
	`, id))
}

// ListDeadLetters возвращает записи DLQ, новые первыми.
func (r *DeadLetterRepo) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE ($1::uuid IS NULL OR run_id = $1)
		  AND (NOT $2 OR redriven_at IS NULL)
		ORDER BY failed_at DESC
		LIMIT $3
	`, filter.RunID, filter.Pending, defaultLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var items []domain.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *dl)
	}
	return items, rows.Err()
}

// MarkRedriven отмечает запись как отправленную повторно.
func (r *DeadLetterRepo) MarkRedriven(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE dead_letters SET redriven_at = $2
		WHERE id = $1 AND redriven_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark redriven: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetDeadLetter(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var jobJSON []byte

	err := row.Scan(&dl.ID, &jobJSON, &dl.Reason, &dl.Attempts, &dl.Retryable, &dl.FailedAt, &dl.RedrivenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	if err := json.Unmarshal(jobJSON, &dl.Job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &dl, nil
}
