package connector

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// Connector — интерфейс внешней интеграции.
//
// Execute возвращает domain.StepResult для логического результата;
// error — для инфраструктурных сбоев. Реализация обязана учитывать ctx.
type Connector interface {
	// Name возвращает имя, по которому узел ссылается на коннектор.
	Name() string

	Execute(ctx context.Context, inv *Invocation) (domain.StepResult, error)
}

// Invocation — входные данные вызова коннектора.
type Invocation struct {
	RunID  uuid.UUID
	StepID uuid.UUID
	NodeID string
	Action string

	// Payload — отрендеренный config узла.
	Payload map[string]any

	// IdempotencyKey стабилен между повторами одного шага.
	IdempotencyKey string

	// Attempt — номер попытки, начиная с 1.
	Attempt int
}

// NewInvocation строит Invocation из job.
func NewInvocation(job domain.StepJob) *Invocation {
	payload := job.Payload
	if payload == nil {
		payload = make(map[string]any)
	}

	return &Invocation{
		RunID:          job.RunID,
		StepID:         job.StepID,
		NodeID:         job.NodeID,
		Action:         job.Action,
		Payload:        payload,
		IdempotencyKey: job.IdempotencyKey,
		Attempt:        job.Attempt,
	}
}

// Invoke находит коннектор job.Connector и выполняет его.
//
// Всегда возвращает результат: неизвестный коннектор и паника дают
// permanent failure, error из Execute — failure с Retryable по IsPermanent.
func Invoke(ctx context.Context, registry *Registry, job domain.StepJob) (result domain.StepResult) {
	c, err := registry.Get(job.Connector)
	if err != nil {
		return domain.Failed(err.Error(), false)
	}

	defer func() {
		if r := recover(); r != nil {
			result = domain.Failed(fmt.Sprintf("connector %s panicked: %v", job.Connector, r), false)
		}
	}()

	res, err := c.Execute(ctx, NewInvocation(job))
	if err != nil {
		return domain.Failed(err.Error(), !IsPermanent(err))
	}

	switch res.Status {
	case domain.StepResultSucceeded:
		if res.Output == nil {
			res.Output = make(map[string]any)
		}
		return res
	case domain.StepResultFailed:
		if res.Error == nil {
			res.Error = &domain.StepError{Message: "connector reported failure", Retryable: false}
		}
		return res
	default:
		// Пустой статус — успех без output
		return domain.Succeeded(res.Output)
	}
}
