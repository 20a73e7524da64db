package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workspace — изолированное пространство, в котором живут workflows.
type Workspace struct {
	// ID — уникальный идентификатор workspace.
	ID uuid.UUID `json:"id"`

	// Slug — короткое уникальное имя (используется в URL и запросах orchestrate).
	Slug string `json:"slug"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// Workflow — именованное определение автоматизации внутри workspace.
//
// Сам workflow не содержит DAG: граф живёт в неизменяемых версиях
// (WorkflowVersion). Каждый run закреплён ровно за одной версией.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// WorkspaceID — ссылка на workspace.
	WorkspaceID uuid.UUID `json:"workspace_id"`

	// Name — имя, уникальное в рамках workspace (например, "sync-orders").
	Name string `json:"name"`

	// IsActive — неактивные workflows нельзя запустить.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowVersion — опубликованная версия workflow.
//
// Версия неизменяема после публикации, номер растёт автоматически (1, 2, 3, ...).
type WorkflowVersion struct {
	// WorkflowID — ссылка на workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Version — номер версии.
	Version int `json:"version"`

	// Dag — граф шагов.
	Dag WorkflowDag `json:"dag"`

	// RetryPolicy — политика повторов по умолчанию для всех шагов версии.
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`

	// CreatedAt — время публикации.
	CreatedAt time.Time `json:"created_at"`
}

// NodeKind — тип узла DAG.
type NodeKind string

const (
	// NodeKindTrigger — точка входа (обычно корень графа).
	NodeKindTrigger NodeKind = "trigger"

	// NodeKindAction — вызов действия коннектора.
	NodeKindAction NodeKind = "action"

	// NodeKindCondition — узел ветвления; исходящие рёбра несут условия.
	NodeKindCondition NodeKind = "condition"
)

// IsValid возвращает true для известных типов узлов.
func (k NodeKind) IsValid() bool {
	switch k {
	case NodeKindTrigger, NodeKindAction, NodeKindCondition:
		return true
	default:
		return false
	}
}

// WorkflowDag — направленный ациклический граф шагов.
//
// Инварианты (проверяются engine.Validate):
//   - ID узлов уникальны
//   - рёбра ссылаются только на существующие узлы
//   - граф ацикличен
type WorkflowDag struct {
	// Nodes — узлы в порядке объявления. Порядок определяет порядок dispatch.
	Nodes []WorkflowNode `json:"nodes" yaml:"nodes"`

	// Edges — зависимости: To выполняется после From.
	Edges []WorkflowEdge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Node возвращает узел по ID.
func (d *WorkflowDag) Node(id string) (*WorkflowNode, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// WorkflowNode — узел DAG.
type WorkflowNode struct {
	// ID — уникальный в рамках DAG идентификатор.
	ID string `json:"id" yaml:"id"`

	// Kind — trigger, action или condition.
	Kind NodeKind `json:"kind" yaml:"kind"`

	// Connector — имя коннектора (http, delay, transform, noop, ...).
	Connector string `json:"connector,omitempty" yaml:"connector,omitempty"`

	// Action — имя действия коннектора.
	Action string `json:"action,omitempty" yaml:"action,omitempty"`

	// Config — конфигурация шага. Строковые значения могут содержать
	// Go templates: {{ .Input.x }}, {{ .Steps.n1.Output.y }}.
	// Ключ "retry" переопределяет политику повторов версии.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// WorkflowEdge — ребро DAG: узел To зависит от узла From.
type WorkflowEdge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Condition — необязательное условие прохода по ребру.
	// Интерпретируется engine.ConditionEvaluator (например, {"expr": "..."}).
	Condition map[string]any `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// NodeRetryPolicy возвращает политику для узла: config.retry поверх политики версии.
func NodeRetryPolicy(node *WorkflowNode, base *RetryPolicy) *RetryPolicy {
	var p RetryPolicy
	if base != nil {
		p = *base
	}
	raw, ok := node.Config["retry"].(map[string]any)
	if !ok {
		if base == nil {
			return nil
		}
		return &p
	}
	if v, ok := intValue(raw["max_attempts"]); ok {
		p.MaxAttempts = v
	}
	if v, ok := raw["backoff"].(string); ok {
		p.Backoff = v
	}
	if v, ok := intValue(raw["initial_delay_ms"]); ok {
		p.InitialDelayMs = v
	}
	if v, ok := intValue(raw["max_delay_ms"]); ok {
		p.MaxDelayMs = v
	}
	return &p
}

// intValue приводит число из JSON/YAML (float64, int) к int.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
