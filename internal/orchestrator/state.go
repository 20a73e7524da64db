package orchestrator

import (
	"fmt"
	"strings"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/engine"
)

// RunState — снимок состояния run, собранный из хранилища.
//
// Состояние не кэшируется между вызовами: каждый Advance строит его заново,
// поэтому оркестратор без состояния и может работать в нескольких процессах.
type RunState struct {
	Run     *domain.AgentRun
	Version *domain.WorkflowVersion
	Graph   *engine.Graph

	// Context — input run и результаты завершённых шагов для шаблонов.
	Context *engine.Context

	// steps — шаги по ID узла в порядке создания.
	steps map[string]*domain.RunStep
	order []string
}

func newRunState(run *domain.AgentRun, version *domain.WorkflowVersion, graph *engine.Graph) *RunState {
	return &RunState{
		Run:     run,
		Version: version,
		Graph:   graph,
		Context: engine.NewContext(run.Input),
		steps:   make(map[string]*domain.RunStep),
	}
}

// track добавляет или обновляет шаг.
func (s *RunState) track(step *domain.RunStep) {
	if _, ok := s.steps[step.NodeID]; !ok {
		s.order = append(s.order, step.NodeID)
	}
	s.steps[step.NodeID] = step

	if step.Status.IsTerminal() {
		s.Context.AddStep(step.NodeID, step.Output, string(step.Status))
	}
}

// restore восстанавливает шаги из хранилища.
func (s *RunState) restore(steps []domain.RunStep) {
	for i := range steps {
		s.track(&steps[i])
	}
}

// Step возвращает шаг узла.
func (s *RunState) Step(nodeID string) (*domain.RunStep, bool) {
	step, ok := s.steps[nodeID]
	return step, ok
}

// Steps возвращает шаги в порядке создания.
func (s *RunState) Steps() []domain.RunStep {
	out := make([]domain.RunStep, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.steps[id])
	}
	return out
}

// Completed — узлы с успешно выполненным шагом.
func (s *RunState) Completed() engine.Set {
	set := make(engine.Set)
	for id, step := range s.steps {
		if step.Status == domain.StepStatusSucceeded {
			set.Add(id)
		}
	}
	return set
}

// Dispatched — узлы, для которых шаг уже создан (в любом статусе).
func (s *RunState) Dispatched() engine.Set {
	set := make(engine.Set, len(s.steps))
	for id := range s.steps {
		set.Add(id)
	}
	return set
}

// Failed — узлы, упавшие окончательно (без возможности redrive).
func (s *RunState) Failed() engine.Set {
	set := make(engine.Set)
	for id, step := range s.steps {
		if step.IsPermanentFailure() {
			set.Add(id)
		}
	}
	return set
}

// Ready возвращает узлы, которые можно отправить сейчас.
//
// Кроме NextReady сюда попадают корневые узлы без шага: они появляются,
// только если создание run прервалось до отправки первой волны.
func (s *RunState) Ready(eval engine.ConditionEvaluator) []string {
	dispatched := s.Dispatched()

	var ready []string
	for _, id := range s.Graph.InitialNodes() {
		if !dispatched.Has(id) {
			ready = append(ready, id)
		}
	}
	return append(ready, s.Graph.NextReady(s.Completed(), dispatched, eval, s.Context)...)
}

// HasInFlight — есть шаги pending/enqueued/running.
func (s *RunState) HasInFlight() bool {
	for _, step := range s.steps {
		if step.Status.IsInFlight() {
			return true
		}
	}
	return false
}

// HasDispatched — есть шаг, вышедший из pending: отправлен, выполняется
// или уже завершён.
func (s *RunState) HasDispatched() bool {
	for _, step := range s.steps {
		if step.Status != domain.StepStatusPending {
			return true
		}
	}
	return false
}

// HasExhausted — есть шаги, исчерпавшие повторы и ожидающие redrive.
func (s *RunState) HasExhausted() bool {
	for _, step := range s.steps {
		if step.Status == domain.StepStatusFailed && step.Exhausted {
			return true
		}
	}
	return false
}

// failureMessage описывает окончательно упавшие шаги для AgentRun.Error.
func (s *RunState) failureMessage() string {
	var parts []string
	for _, id := range s.order {
		if step := s.steps[id]; step.IsPermanentFailure() {
			parts = append(parts, fmt.Sprintf("%s: %s", id, step.LastError))
		}
	}
	return "steps failed: " + strings.Join(parts, "; ")
}

// Summary — сводка по шагам run.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Enqueued  int `json:"enqueued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Exhausted — упавшие шаги, которые можно отправить повторно из DLQ.
	Exhausted int `json:"exhausted"`

	// Blocked — узлы, которые уже не станут готовыми из-за упавших предков.
	Blocked int `json:"blocked"`
}

// Summary считает шаги по статусам.
func (s *RunState) Summary() Summary {
	sum := Summary{Total: s.Graph.Size()}
	for _, step := range s.steps {
		switch step.Status {
		case domain.StepStatusPending:
			sum.Pending++
		case domain.StepStatusEnqueued:
			sum.Enqueued++
		case domain.StepStatusRunning:
			sum.Running++
		case domain.StepStatusSucceeded:
			sum.Succeeded++
		case domain.StepStatusFailed:
			sum.Failed++
			if step.Exhausted {
				sum.Exhausted++
			}
		}
	}
	sum.Blocked = len(s.Graph.Blocked(s.Failed(), s.Dispatched()))
	return sum
}
