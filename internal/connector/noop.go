package connector

import (
	"context"
	"maps"

	"github.com/shaiso/Conductor/internal/domain"
)

// NameNoop — имя пустого коннектора.
const NameNoop = "noop"

// NoopConnector возвращает payload как output.
//
// Ключ "fail" имитирует неудачу: "retryable" или "permanent";
// "message" задаёт текст ошибки.
type NoopConnector struct{}

// NewNoopConnector создаёт NoopConnector.
func NewNoopConnector() *NoopConnector {
	return &NoopConnector{}
}

// Name возвращает имя коннектора.
func (c *NoopConnector) Name() string {
	return NameNoop
}

// Execute возвращает payload или имитированную ошибку.
func (c *NoopConnector) Execute(ctx context.Context, inv *Invocation) (domain.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.StepResult{}, err
	}

	msg := getString(inv.Payload, "message", "noop failure")

	switch getString(inv.Payload, "fail", "") {
	case "retryable":
		return domain.Failed(msg, true), nil
	case "permanent":
		return domain.Failed(msg, false), nil
	}

	output := maps.Clone(inv.Payload)
	delete(output, "fail")
	delete(output, "message")
	return domain.Succeeded(output), nil
}
