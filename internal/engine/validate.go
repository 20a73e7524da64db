package engine

import (
	"fmt"

	"github.com/shaiso/Conductor/internal/domain"
)

// Validate проверяет DAG и возвращает первую найденную ошибку.
//
// Проверяет по порядку:
// - Наличие узлов
// - Непустые ID и известные типы узлов
// - Уникальность ID (*DuplicateNodeError)
// - Рёбра ссылаются на существующие узлы (*DanglingEdgeError)
// - Отсутствие циклов (*CycleError)
func Validate(dag *domain.WorkflowDag) error {
	errs := validate(dag, true)
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// ValidateAll собирает все структурные ошибки DAG.
//
// Поиск циклов выполняется только если нет висячих рёбер:
// иначе обход графа по несуществующим узлам бессмысленен.
func ValidateAll(dag *domain.WorkflowDag) []error {
	return validate(dag, false)
}

// validate — общая реализация; failFast останавливает проверку на первой ошибке.
func validate(dag *domain.WorkflowDag, failFast bool) []error {
	if dag == nil || len(dag.Nodes) == 0 {
		return []error{NewValidationError("", "nodes", "dag has no nodes", ErrEmptyDag)}
	}

	var errs []error
	add := func(err error) bool {
		errs = append(errs, err)
		return failFast
	}

	// Узлы
	seen := make(map[string]bool, len(dag.Nodes))
	for i := range dag.Nodes {
		node := &dag.Nodes[i]

		if node.ID == "" {
			if add(NewValidationError("", fmt.Sprintf("nodes[%d].id", i),
				"node has empty ID", ErrEmptyNodeID)) {
				return errs
			}
			continue
		}

		if !node.Kind.IsValid() {
			if add(NewValidationError(node.ID, fmt.Sprintf("nodes[%d].kind", i),
				fmt.Sprintf("unknown node kind: %q", node.Kind), ErrUnknownNodeKind)) {
				return errs
			}
		}

		if seen[node.ID] {
			if add(&DuplicateNodeError{ID: node.ID, Index: i}) {
				return errs
			}
			continue
		}
		seen[node.ID] = true
	}

	// Рёбра
	dangling := false
	for i, edge := range dag.Edges {
		if !seen[edge.From] {
			dangling = true
			if add(&DanglingEdgeError{Edge: edge, Index: i, Missing: "from"}) {
				return errs
			}
		}
		if !seen[edge.To] {
			dangling = true
			if add(&DanglingEdgeError{Edge: edge, Index: i, Missing: "to"}) {
				return errs
			}
		}
	}

	if !dangling {
		if err := findCycle(dag); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

// Цвета вершин для поиска в глубину.
const (
	white = iota // не посещена
	gray         // в текущем стеке обхода
	black        // полностью обработана
)

// findCycle ищет цикл трёхцветным DFS.
//
// Узлы обходятся в порядке объявления, соседи — в порядке объявления рёбер,
// поэтому для одного и того же DAG всегда возвращается один и тот же цикл.
func findCycle(dag *domain.WorkflowDag) *CycleError {
	adjacency := make(map[string][]string, len(dag.Nodes))
	for _, edge := range dag.Edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	color := make(map[string]int, len(dag.Nodes))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		color[id] = gray
		stack = append(stack, id)

		for _, next := range adjacency[id] {
			switch color[next] {
			case gray:
				// Цикл: от первого вхождения next в стеке до текущего узла
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				path := make([]string, len(stack)-start)
				copy(path, stack[start:])
				return &CycleError{NodeID: next, Path: path}
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for i := range dag.Nodes {
		id := dag.Nodes[i].ID
		if color[id] != white {
			continue
		}
		if err := visit(id); err != nil {
			return err
		}
	}

	return nil
}
