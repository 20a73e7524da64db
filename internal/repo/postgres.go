package repo

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore — реализация Store и ScheduleStore поверх pgx.
type PostgresStore struct {
	*WorkflowRepo
	*RunRepo
	*StepRepo
	*DeadLetterRepo
	*ScheduleRepo

	pool *pgxpool.Pool
}

var (
	_ Store         = (*PostgresStore)(nil)
	_ ScheduleStore = (*PostgresStore)(nil)
)

// NewPostgresStore собирает хранилище из репозиториев на общем пуле.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		WorkflowRepo:   NewWorkflowRepo(pool),
		RunRepo:        NewRunRepo(pool),
		StepRepo:       NewStepRepo(pool),
		DeadLetterRepo: NewDeadLetterRepo(pool),
		ScheduleRepo:   NewScheduleRepo(pool),
		pool:           pool,
	}
}

// Close закрывает пул соединений.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
