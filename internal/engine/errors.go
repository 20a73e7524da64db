package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Conductor/internal/domain"
)

// Ошибки валидации DAG.
var (
	// ErrEmptyDag — DAG не содержит узлов.
	ErrEmptyDag = errors.New("dag has no nodes")

	// ErrEmptyNodeID — узел без ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrUnknownNodeKind — неизвестный тип узла.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrDuplicateNode — несколько узлов с одинаковым ID.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrDanglingEdge — ребро ссылается на несуществующий узел.
	ErrDanglingEdge = errors.New("edge references unknown node")

	// ErrCycle — в графе есть цикл.
	ErrCycle = errors.New("dag contains a cycle")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrUnsupportedCondition — условие на ребре не распознано.
	ErrUnsupportedCondition = errors.New("unsupported edge condition")
)

// ErrInvalidDefinition — определение workflow не удалось разобрать.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// FieldError — ошибка, привязанная к полю DAG (nodes[1].id, edges[0].to).
// API отдаёт такие ошибки клиенту как структурированный список полей.
type FieldError interface {
	error
	FieldPath() string
}

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // путь к полю
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// FieldPath возвращает путь к полю.
func (e *ValidationError) FieldPath() string {
	return e.Field
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// DuplicateNodeError — узел с таким ID уже объявлен.
type DuplicateNodeError struct {
	ID    string
	Index int // индекс повторного объявления
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node ID %q", e.ID)
}

func (e *DuplicateNodeError) Unwrap() error { return ErrDuplicateNode }

func (e *DuplicateNodeError) FieldPath() string {
	return fmt.Sprintf("nodes[%d].id", e.Index)
}

// DanglingEdgeError — ребро ссылается на несуществующий узел.
type DanglingEdgeError struct {
	Edge    domain.WorkflowEdge
	Index   int
	Missing string // "from" или "to"
}

func (e *DanglingEdgeError) Error() string {
	id := e.Edge.To
	if e.Missing == "from" {
		id = e.Edge.From
	}
	return fmt.Sprintf("edge %s -> %s references unknown node %q", e.Edge.From, e.Edge.To, id)
}

func (e *DanglingEdgeError) Unwrap() error { return ErrDanglingEdge }

func (e *DanglingEdgeError) FieldPath() string {
	return fmt.Sprintf("edges[%d].%s", e.Index, e.Missing)
}

// CycleError — найден цикл; Path — узлы цикла по порядку обхода.
type CycleError struct {
	NodeID string
	Path   []string
}

func (e *CycleError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("cycle detected: %s -> %s", strings.Join(e.Path, " -> "), e.NodeID)
	}
	return fmt.Sprintf("cycle detected at node %q", e.NodeID)
}

func (e *CycleError) Unwrap() error { return ErrCycle }

func (e *CycleError) FieldPath() string {
	return "edges"
}
