package connector

import (
	"context"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
)

// NameDelay — имя коннектора задержки.
const NameDelay = "delay"

// DelayConnector ждёт duration_sec или duration_ms.
// Отмена ctx прерывает ожидание с retryable ошибкой.
type DelayConnector struct{}

// NewDelayConnector создаёт DelayConnector.
func NewDelayConnector() *DelayConnector {
	return &DelayConnector{}
}

// Name возвращает имя коннектора.
func (c *DelayConnector) Name() string {
	return NameDelay
}

// Execute выполняет задержку.
func (c *DelayConnector) Execute(ctx context.Context, inv *Invocation) (domain.StepResult, error) {
	duration := getDuration(inv.Payload, "duration")
	if duration <= 0 {
		return domain.StepResult{}, Permanentf("%w: %s: duration_sec or duration_ms required", ErrInvalidConfig, NameDelay)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return domain.StepResult{}, ctx.Err()
	case <-timer.C:
		return domain.Succeeded(map[string]any{
			"duration_ms": duration.Milliseconds(),
		}), nil
	}
}
