package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conductor/internal/domain"
)

// Definition — файл определения workflow (JSON или YAML).
//
//	name: sync-orders
//	retry_policy:
//	  max_attempts: 3
//	  backoff: exponential
//	nodes:
//	  - id: fetch
//	    kind: action
//	    connector: http
//	    config: {url: "https://example.com/orders"}
//	edges: []
type Definition struct {
	Name        string                `json:"name,omitempty" yaml:"name,omitempty"`
	RetryPolicy *domain.RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	Nodes       []domain.WorkflowNode `json:"nodes" yaml:"nodes"`
	Edges       []domain.WorkflowEdge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Dag возвращает DAG определения.
func (d *Definition) Dag() domain.WorkflowDag {
	return domain.WorkflowDag{Nodes: d.Nodes, Edges: d.Edges}
}

// ParseDefinition разбирает определение workflow и проверяет DAG.
//
// Формат определяется по первому символу: '{' — JSON, иначе YAML.
func ParseDefinition(data []byte) (*Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
	}

	var def Definition
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
	}

	dag := def.Dag()
	if err := Validate(&dag); err != nil {
		return nil, err
	}

	return &def, nil
}
