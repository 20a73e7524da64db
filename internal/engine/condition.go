package engine

import (
	"fmt"
)

// ConditionEvaluator вычисляет условие на ребре DAG.
//
// Формат условия определяется реализацией. Движок только передаёт
// condition ребра и контекст run (input и output завершённых шагов).
type ConditionEvaluator interface {
	Evaluate(cond map[string]any, ctx *Context) (bool, error)
}

// AlwaysTrue — вычислитель по умолчанию: любое условие выполнено.
type AlwaysTrue struct{}

// Evaluate всегда возвращает true.
func (AlwaysTrue) Evaluate(map[string]any, *Context) (bool, error) {
	return true, nil
}

// TemplateEvaluator вычисляет условие {"expr": "..."} как Go template.
//
// Пример:
//
//	{"expr": "eq .Steps.check.Output.status \"ok\""}
//
// Условие без ключа expr считается ошибкой: неизвестные форматы
// не должны молча пропускать ребро.
type TemplateEvaluator struct{}

// Evaluate рендерит expr через RenderCondition.
func (TemplateEvaluator) Evaluate(cond map[string]any, ctx *Context) (bool, error) {
	if len(cond) == 0 {
		return true, nil
	}

	raw, ok := cond["expr"]
	if !ok {
		return false, fmt.Errorf("%w: missing expr", ErrUnsupportedCondition)
	}
	expr, ok := raw.(string)
	if !ok {
		return false, fmt.Errorf("%w: expr must be a string, got %T", ErrUnsupportedCondition, raw)
	}

	if ctx == nil {
		ctx = NewContext(nil)
	}
	return RenderCondition(expr, ctx)
}

// ConditionEvaluatorFunc — адаптер функции к ConditionEvaluator.
type ConditionEvaluatorFunc func(cond map[string]any, ctx *Context) (bool, error)

// Evaluate вызывает f.
func (f ConditionEvaluatorFunc) Evaluate(cond map[string]any, ctx *Context) (bool, error) {
	return f(cond, ctx)
}
