package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shaiso/Conductor/internal/connector"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/queue"
	"github.com/shaiso/Conductor/internal/repo"
)

// Default configuration values.
const (
	defaultConcurrency  = 4
	defaultMaxAttempts  = 3
	defaultStepTimeout  = 60 * time.Second
	receiveErrorBackoff = time.Second
)

// Advancer продвигает run после завершения шага (orchestrator.Service).
type Advancer interface {
	Advance(ctx context.Context, runID uuid.UUID) error
}

// Worker выполняет шаги run.
//
// Worker — stateless компонент системы, который:
//   - Получает jobs из StepQueue (Concurrency горутин)
//   - Захватывает шаг через compare-and-set в хранилище
//   - Выполняет коннектор с таймаутом
//   - Повторяет retryable ошибки через Requeue с backoff
//   - Отправляет исчерпанные и окончательные ошибки в DLQ
//   - Продвигает run через Advancer
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	store    repo.Store
	queue    queue.StepQueue
	advancer Advancer
	registry *connector.Registry
	limiter  *rate.Limiter

	// Configuration
	concurrency int
	maxAttempts int
	stepTimeout time.Duration

	// Lifecycle
	logger     *slog.Logger
	now        func() time.Time
	cancelFunc context.CancelFunc
	done       chan struct{}
	started    bool
	stopped    bool
	stateMu    sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Store    repo.Store
	Queue    queue.StepQueue
	Advancer Advancer

	// Registry коннекторов (опционально; если nil — connector.DefaultRegistry())
	Registry *connector.Registry

	Concurrency int           // количество одновременно выполняемых шагов (default: 4)
	RateLimit   float64       // шагов в секунду на воркер, 0 — без ограничения
	MaxAttempts int           // попыток на шаг, если политика не задаёт (default: 3)
	StepTimeout time.Duration // таймаут вызова коннектора (default: 60s)

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = connector.DefaultRegistry()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Worker{
		store:       cfg.Store,
		queue:       cfg.Queue,
		advancer:    cfg.Advancer,
		registry:    registry,
		limiter:     limiter,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		stepTimeout: stepTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Start запускает Concurrency горутин, получающих jobs из очереди.
// Не блокирует; остановка через Stop или отмену ctx.
func (w *Worker) Start(ctx context.Context) error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel
	w.done = make(chan struct{})

	w.logger.Info("starting worker",
		"concurrency", w.concurrency,
		"max_attempts", w.maxAttempts,
		"step_timeout", w.stepTimeout,
		"connectors", w.registry.Names(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.receiveLoop(gctx)
		})
	}

	go func() {
		defer close(w.done)
		if err := g.Wait(); err != nil {
			w.logger.Error("worker stopped with error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения выполняемых шагов.
func (w *Worker) Stop() {
	w.stateMu.Lock()
	w.stopped = true
	cancel, done := w.cancelFunc, w.done
	w.stateMu.Unlock()

	w.logger.Info("stopping worker...")

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.stopped
}

// receiveLoop получает и обрабатывает доставки до отмены ctx или закрытия очереди.
func (w *Worker) receiveLoop(ctx context.Context) error {
	for {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		d, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			w.logger.Error("failed to receive job", "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		w.handleDelivery(ctx, d)
	}
}

// handleDelivery обрабатывает доставку и подтверждает её.
//
// Ошибка обработки означает сбой инфраструктуры (хранилище недоступно):
// доставка возвращается в очередь. Ошибки шага сюда не попадают.
func (w *Worker) handleDelivery(ctx context.Context, d *queue.Delivery) {
	// Подтверждение должно дойти и при остановке воркера
	settleCtx := context.WithoutCancel(ctx)

	if err := w.processJob(ctx, d.Job); err != nil {
		w.logger.Error("failed to process job",
			"run_id", d.Job.RunID,
			"node_id", d.Job.NodeID,
			"error", err,
		)
		if nackErr := d.Nack(settleCtx, true); nackErr != nil {
			w.logger.Error("failed to nack job", "node_id", d.Job.NodeID, "error", nackErr)
		}
		return
	}

	if err := d.Ack(settleCtx); err != nil {
		w.logger.Error("failed to ack job", "node_id", d.Job.NodeID, "error", err)
	}
}

// retryPolicy возвращает политику повторов узла с подставленными значениями по умолчанию.
func (w *Worker) retryPolicy(node *domain.WorkflowNode, base *domain.RetryPolicy) domain.RetryPolicy {
	var p domain.RetryPolicy
	if np := domain.NodeRetryPolicy(node, base); np != nil {
		p = *np
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = w.maxAttempts
	}
	return p
}
