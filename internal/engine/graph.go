package engine

import (
	"github.com/shaiso/Conductor/internal/domain"
)

// Set — множество ID узлов.
type Set map[string]struct{}

// NewSet создаёт множество из списка ID.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has проверяет наличие ID.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add добавляет ID.
func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// Graph — индекс проверенного DAG для вычисления готовности узлов.
//
// Graph неизменяем после создания и безопасен для конкурентного чтения.
type Graph struct {
	dag      *domain.WorkflowDag
	order    []string                        // порядок объявления
	nodes    map[string]*domain.WorkflowNode // id → узел
	incoming map[string][]domain.WorkflowEdge
	topo     []string // топологический порядок (стабильный)
}

// NewGraph проверяет DAG и строит индекс.
func NewGraph(dag *domain.WorkflowDag) (*Graph, error) {
	if err := Validate(dag); err != nil {
		return nil, err
	}

	g := &Graph{
		dag:      dag,
		order:    make([]string, 0, len(dag.Nodes)),
		nodes:    make(map[string]*domain.WorkflowNode, len(dag.Nodes)),
		incoming: make(map[string][]domain.WorkflowEdge, len(dag.Nodes)),
	}

	for i := range dag.Nodes {
		node := &dag.Nodes[i]
		g.order = append(g.order, node.ID)
		g.nodes[node.ID] = node
	}
	for _, edge := range dag.Edges {
		g.incoming[edge.To] = append(g.incoming[edge.To], edge)
	}

	g.topo = g.topologicalOrder()
	return g, nil
}

// topologicalOrder — алгоритм Кана; среди готовых узлов берётся
// первый по порядку объявления.
func (g *Graph) topologicalOrder() []string {
	inDegree := make(map[string]int, len(g.order))
	outgoing := make(map[string][]string, len(g.order))
	for _, edge := range g.dag.Edges {
		inDegree[edge.To]++
		outgoing[edge.From] = append(outgoing[edge.From], edge.To)
	}

	done := make(Set, len(g.order))
	result := make([]string, 0, len(g.order))
	for len(result) < len(g.order) {
		for _, id := range g.order {
			if done.Has(id) || inDegree[id] > 0 {
				continue
			}
			done.Add(id)
			result = append(result, id)
			for _, next := range outgoing[id] {
				inDegree[next]--
			}
			break
		}
	}
	return result
}

// Node возвращает узел по ID.
func (g *Graph) Node(id string) (*domain.WorkflowNode, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Nodes возвращает ID всех узлов в порядке объявления.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.order)
}

// Dependencies возвращает ID узлов, от которых зависит id.
func (g *Graph) Dependencies(id string) []string {
	edges := g.incoming[id]
	deps := make([]string, 0, len(edges))
	for _, e := range edges {
		deps = append(deps, e.From)
	}
	return deps
}

// InitialNodes возвращает узлы без входящих рёбер в порядке объявления.
// Это первая волна шагов run.
func (g *Graph) InitialNodes() []string {
	var result []string
	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			result = append(result, id)
		}
	}
	return result
}

// NextReady возвращает узлы, готовые к запуску.
//
// Узел готов, если:
//   - он ещё не отправлен (нет в dispatched)
//   - у него есть хотя бы одно входящее ребро (корни запускает InitialNodes)
//   - источник каждого входящего ребра завершён (есть в completed)
//   - условие каждого входящего ребра выполняется
//
// Ошибка вычисления условия считается невыполненным условием.
// Функция чистая: повторный вызов с теми же аргументами даёт тот же результат.
func (g *Graph) NextReady(completed, dispatched Set, eval ConditionEvaluator, ctx *Context) []string {
	if eval == nil {
		eval = AlwaysTrue{}
	}

	var ready []string
	for _, id := range g.order {
		if dispatched.Has(id) {
			continue
		}
		edges := g.incoming[id]
		if len(edges) == 0 {
			continue
		}
		if g.edgesSatisfied(edges, completed, eval, ctx) {
			ready = append(ready, id)
		}
	}
	return ready
}

// edgesSatisfied проверяет все входящие рёбра узла.
func (g *Graph) edgesSatisfied(edges []domain.WorkflowEdge, completed Set, eval ConditionEvaluator, ctx *Context) bool {
	for _, edge := range edges {
		if !completed.Has(edge.From) {
			return false
		}
		if len(edge.Condition) == 0 {
			continue
		}
		ok, err := eval.Evaluate(edge.Condition, ctx)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Blocked возвращает не отправленные узлы, которые уже никогда не станут готовыми:
// один из их (транзитивных) предков окончательно упал.
func (g *Graph) Blocked(failed, dispatched Set) []string {
	blocked := make(Set)
	for _, id := range g.topo {
		if dispatched.Has(id) {
			continue
		}
		for _, edge := range g.incoming[id] {
			if failed.Has(edge.From) || blocked.Has(edge.From) {
				blocked.Add(id)
				break
			}
		}
	}

	var result []string
	for _, id := range g.order {
		if blocked.Has(id) {
			result = append(result, id)
		}
	}
	return result
}

// IsComplete возвращает true, если все узлы завершены.
func (g *Graph) IsComplete(completed Set) bool {
	for _, id := range g.order {
		if !completed.Has(id) {
			return false
		}
	}
	return true
}
