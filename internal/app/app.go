// Package app собирает зависимости бинарников из config.Config:
// хранилище, очередь шагов и HTTP-сервер служебных эндпоинтов.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/queue"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/scheduler"
)

// ErrUnknownDriver — в конфигурации указан неизвестный драйвер очереди.
var ErrUnknownDriver = errors.New("unknown queue driver")

// Store — хранилище run-ов и schedules.
type Store interface {
	repo.Store
	repo.ScheduleStore
}

// Storage — открытое хранилище и его ресурсы.
type Storage struct {
	Store

	pg *repo.PostgresStore
}

// OpenStore подключается к Postgres и применяет схему.
// Пустой DBURL — хранилище в памяти (только для разработки).
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	if cfg.DBURL == "" {
		logger.Warn("DB_URL not set, using in-memory store")
		return &Storage{Store: repo.NewMemoryStore()}, nil
	}

	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := repo.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connected")

	pg := repo.NewPostgresStore(pool)
	return &Storage{Store: pg, pg: pg}, nil
}

// Leader возвращает блокировку лидера scheduler.
// Для хранилища в памяти лидер не нужен — nil.
func (s *Storage) Leader(key int64) scheduler.Leader {
	if s.pg == nil {
		return nil
	}
	return s.pg.Locker(key)
}

// IsMemory сообщает, что хранилище живёт в памяти процесса.
func (s *Storage) IsMemory() bool {
	return s.pg == nil
}

// Close освобождает соединения с БД.
func (s *Storage) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

// OpenQueue создаёт очередь шагов по cfg.QueueDriver.
func OpenQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.StepQueue, error) {
	switch cfg.QueueDriver {
	case config.QueueRabbitMQ:
		q, err := mq.Dial(ctx, cfg.RabbitMQURL, mq.QueueConfig{
			Prefetch: cfg.Worker.Concurrency,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		logger.Info("RabbitMQ connected")
		return q, nil

	case config.QueueRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("Redis connected", "addr", cfg.RedisAddr)
		return queue.NewRedisQueue(client, queue.WithLogger(logger)), nil

	case config.QueueMemory:
		logger.Warn("using in-memory queue, steps are not shared between processes")
		return queue.NewMemoryQueue(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.QueueDriver)
	}
}

// OpsMux — mux со служебными эндпоинтами /healthz и /metrics.
func OpsMux() *http.ServeMux {
	startTime := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve запускает HTTP-сервер и останавливает его после отмены ctx
// (graceful shutdown с таймаутом 10 секунд).
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
