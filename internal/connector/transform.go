package connector

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/shaiso/Conductor/internal/domain"
)

// NameTransform — имя коннектора трансформации.
const NameTransform = "transform"

// TransformConnector возвращает данные payload как output.
//
// Шаблоны в payload уже отрендерены оркестратором, поэтому
// transform — это pass-through с подстановкой данных предыдущих шагов.
//
// Если задан "mappings", output — его значения; строки, похожие на JSON,
// разбираются:
//
//	{
//	    "mappings": {
//	        "total": "{{ len .Steps.fetch.Output.body.items }}",
//	        "user":  "{{ toJSON .Steps.fetch.Output.body.user }}"
//	    }
//	}
//
// Output: {"total": 10, "user": {...}}
type TransformConnector struct{}

// NewTransformConnector создаёт TransformConnector.
func NewTransformConnector() *TransformConnector {
	return &TransformConnector{}
}

// Name возвращает имя коннектора.
func (c *TransformConnector) Name() string {
	return NameTransform
}

// Execute формирует output.
func (c *TransformConnector) Execute(ctx context.Context, inv *Invocation) (domain.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.StepResult{}, err
	}

	mappings, ok := inv.Payload["mappings"].(map[string]any)
	if !ok {
		return domain.Succeeded(maps.Clone(inv.Payload)), nil
	}

	output := make(map[string]any, len(mappings))
	for key, val := range mappings {
		if s, ok := val.(string); ok {
			output[key] = parseValue(s)
			continue
		}
		output[key] = val
	}

	return domain.Succeeded(output), nil
}

// parseValue разбирает JSON-значение; иначе возвращает строку как есть.
func parseValue(value string) any {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return value
	}

	// Целые числа оставляем int64
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}
