package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conductor/internal/domain"
)

func action(id string) domain.WorkflowNode {
	return domain.WorkflowNode{ID: id, Kind: domain.NodeKindAction, Connector: "noop"}
}

func edge(from, to string) domain.WorkflowEdge {
	return domain.WorkflowEdge{From: from, To: to}
}

func TestValidate_Valid(t *testing.T) {
	// n1 → n2, n1 → n3, n2 → n4, n3 → n4
	dag := &domain.WorkflowDag{
		Nodes: []domain.WorkflowNode{
			{ID: "n1", Kind: domain.NodeKindTrigger},
			action("n2"), action("n3"), action("n4"),
		},
		Edges: []domain.WorkflowEdge{
			edge("n1", "n2"), edge("n1", "n3"), edge("n2", "n4"), edge("n3", "n4"),
		},
	}

	if err := Validate(dag); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Empty(t *testing.T) {
	for _, dag := range []*domain.WorkflowDag{nil, {}} {
		if err := Validate(dag); !errors.Is(err, ErrEmptyDag) {
			t.Errorf("expected ErrEmptyDag, got %v", err)
		}
	}
}

func TestValidate_EmptyNodeID(t *testing.T) {
	dag := &domain.WorkflowDag{Nodes: []domain.WorkflowNode{action("n1"), action("")}}

	err := Validate(dag)
	if !errors.Is(err, ErrEmptyNodeID) {
		t.Fatalf("expected ErrEmptyNodeID, got %v", err)
	}

	var fe FieldError
	if !errors.As(err, &fe) || fe.FieldPath() != "nodes[1].id" {
		t.Errorf("expected field nodes[1].id, got %v", err)
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	dag := &domain.WorkflowDag{Nodes: []domain.WorkflowNode{{ID: "n1", Kind: "loop"}}}

	if err := Validate(dag); !errors.Is(err, ErrUnknownNodeKind) {
		t.Errorf("expected ErrUnknownNodeKind, got %v", err)
	}
}

func TestValidate_DuplicateNode(t *testing.T) {
	dag := &domain.WorkflowDag{
		Nodes: []domain.WorkflowNode{action("n1"), action("n1")},
	}

	err := Validate(dag)

	var dup *DuplicateNodeError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateNodeError, got %T: %v", err, err)
	}
	if dup.ID != "n1" {
		t.Errorf("expected ID n1, got %s", dup.ID)
	}
	if dup.FieldPath() != "nodes[1].id" {
		t.Errorf("expected nodes[1].id, got %s", dup.FieldPath())
	}
	if !errors.Is(err, ErrDuplicateNode) {
		t.Error("DuplicateNodeError should unwrap to ErrDuplicateNode")
	}
}

func TestValidate_DanglingEdge(t *testing.T) {
	dag := &domain.WorkflowDag{
		Nodes: []domain.WorkflowNode{action("n1")},
		Edges: []domain.WorkflowEdge{edge("n1", "ghost")},
	}

	err := Validate(dag)

	var dangling *DanglingEdgeError
	if !errors.As(err, &dangling) {
		t.Fatalf("expected *DanglingEdgeError, got %T: %v", err, err)
	}
	if dangling.Edge.To != "ghost" || dangling.Missing != "to" {
		t.Errorf("unexpected error details: %+v", dangling)
	}
	if dangling.FieldPath() != "edges[0].to" {
		t.Errorf("expected edges[0].to, got %s", dangling.FieldPath())
	}
}

func TestValidate_Cycle(t *testing.T) {
	tests := []struct {
		name   string
		edges  []domain.WorkflowEdge
		nodeID string
	}{
		{"self loop", []domain.WorkflowEdge{edge("a", "a")}, "a"},
		{"two nodes", []domain.WorkflowEdge{edge("a", "b"), edge("b", "a")}, "a"},
		{"tail into cycle", []domain.WorkflowEdge{edge("a", "b"), edge("b", "c"), edge("c", "b")}, "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag := &domain.WorkflowDag{
				Nodes: []domain.WorkflowNode{action("a"), action("b"), action("c")},
				Edges: tt.edges,
			}

			err := Validate(dag)

			var cycle *CycleError
			if !errors.As(err, &cycle) {
				t.Fatalf("expected *CycleError, got %T: %v", err, err)
			}
			if cycle.NodeID != tt.nodeID {
				t.Errorf("expected cycle at %s, got %s", tt.nodeID, cycle.NodeID)
			}
			if !errors.Is(err, ErrCycle) {
				t.Error("CycleError should unwrap to ErrCycle")
			}
		})
	}
}

func TestValidate_FailFast(t *testing.T) {
	// Дубликат объявлен раньше висячего ребра — возвращается он
	dag := &domain.WorkflowDag{
		Nodes: []domain.WorkflowNode{action("n1"), action("n1")},
		Edges: []domain.WorkflowEdge{edge("n1", "ghost")},
	}

	if err := Validate(dag); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("expected first error to be duplicate node, got %v", err)
	}
}

func TestValidateAll(t *testing.T) {
	dag := &domain.WorkflowDag{
		Nodes: []domain.WorkflowNode{action("n1"), action("n1"), {ID: "n2", Kind: "bogus"}},
		Edges: []domain.WorkflowEdge{edge("n1", "ghost"), edge("phantom", "n2")},
	}

	errs := ValidateAll(dag)
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}

	paths := make([]string, 0, len(errs))
	for _, err := range errs {
		var fe FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("error without field path: %v", err)
		}
		paths = append(paths, fe.FieldPath())
	}

	// Сначала ошибки узлов, затем рёбер
	expected := []string{"nodes[1].id", "nodes[2].kind", "edges[0].to", "edges[1].from"}
	for i, p := range expected {
		if paths[i] != p {
			t.Errorf("error %d: expected field %s, got %s", i, p, paths[i])
		}
	}
}

func TestValidateAll_CycleSkippedWithDanglingEdges(t *testing.T) {
	dag := &domain.WorkflowDag{
		Nodes: []domain.WorkflowNode{action("a"), action("b")},
		Edges: []domain.WorkflowEdge{edge("a", "b"), edge("b", "a"), edge("b", "ghost")},
	}

	for _, err := range ValidateAll(dag) {
		if errors.Is(err, ErrCycle) {
			t.Error("cycle search should not run when edges are dangling")
		}
	}
}
