package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// MemoryStore — реализация Store и ScheduleStore в памяти процесса.
//
// Используется в тестах и при QUEUE_DRIVER=memory для локального запуска
// в одном процессе. Соблюдает те же гарантии, что и PostgresStore:
// create-if-absent и compare-and-set выполняются под одним мьютексом.
type MemoryStore struct {
	mu sync.Mutex

	workspaces  map[uuid.UUID]domain.Workspace
	workflows   map[uuid.UUID]domain.Workflow
	versions    map[uuid.UUID][]domain.WorkflowVersion
	runs        map[uuid.UUID]domain.AgentRun
	steps       map[uuid.UUID]map[string]domain.RunStep
	deadLetters map[uuid.UUID]domain.DeadLetter
	schedules   map[uuid.UUID]domain.Schedule

	// seq — порядок создания шагов (created_at может совпадать)
	seq     int
	stepSeq map[uuid.UUID]int
	now     func() time.Time
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ ScheduleStore = (*MemoryStore)(nil)
)

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces:  make(map[uuid.UUID]domain.Workspace),
		workflows:   make(map[uuid.UUID]domain.Workflow),
		versions:    make(map[uuid.UUID][]domain.WorkflowVersion),
		runs:        make(map[uuid.UUID]domain.AgentRun),
		steps:       make(map[uuid.UUID]map[string]domain.RunStep),
		deadLetters: make(map[uuid.UUID]domain.DeadLetter),
		schedules:   make(map[uuid.UUID]domain.Schedule),
		stepSeq:     make(map[uuid.UUID]int),
		now:         time.Now,
	}
}

// --- Workspace / Workflow ---

func (m *MemoryStore) CreateWorkspace(_ context.Context, ws *domain.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.workspaces {
		if existing.Slug == ws.Slug {
			return ErrAlreadyExists
		}
	}
	m.workspaces[ws.ID] = *ws
	return nil
}

func (m *MemoryStore) GetWorkspaceBySlug(_ context.Context, slug string) (*domain.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ws := range m.workspaces {
		if ws.Slug == slug {
			return &ws, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.workflows {
		if existing.WorkspaceID == wf.WorkspaceID && existing.Name == wf.Name {
			return ErrAlreadyExists
		}
	}
	m.workflows[wf.ID] = *wf
	return nil
}

func (m *MemoryStore) GetWorkflowByName(_ context.Context, workspaceID uuid.UUID, name string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, wf := range m.workflows {
		if wf.WorkspaceID == workspaceID && wf.Name == name {
			return &wf, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetWorkflowActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	wf.IsActive = active
	m.workflows[id] = wf
	return nil
}

func (m *MemoryStore) CreateVersion(_ context.Context, workflowID uuid.UUID, dag domain.WorkflowDag, policy *domain.RetryPolicy) (*domain.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[workflowID]; !ok {
		return nil, ErrNotFound
	}

	v := domain.WorkflowVersion{
		WorkflowID:  workflowID,
		Version:     len(m.versions[workflowID]) + 1,
		Dag:         dag,
		RetryPolicy: policy,
		CreatedAt:   m.now(),
	}
	m.versions[workflowID] = append(m.versions[workflowID], v)
	return &v, nil
}

func (m *MemoryStore) GetVersion(_ context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.versions[workflowID]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	v := versions[version-1]
	return &v, nil
}

func (m *MemoryStore) GetLatestVersion(_ context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.versions[workflowID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	v := versions[len(versions)-1]
	return &v, nil
}

// --- Runs ---

func (m *MemoryStore) CreateRun(_ context.Context, run *domain.AgentRun) (*domain.AgentRun, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.IdempotencyKey != "" {
		for _, existing := range m.runs {
			if existing.WorkflowID == run.WorkflowID && existing.IdempotencyKey == run.IdempotencyKey {
				out := copyRun(existing)
				return &out, false, nil
			}
		}
	}
	if _, ok := m.runs[run.ID]; ok {
		return nil, false, ErrAlreadyExists
	}

	stored := copyRun(*run)
	m.runs[run.ID] = stored
	out := copyRun(stored)
	return &out, true, nil
}

func (m *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*domain.AgentRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRun(run)
	return &out, nil
}

func (m *MemoryStore) TransitionRun(_ context.Context, id uuid.UUID, to domain.RunStatus, errMsg string) (*domain.AgentRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !run.Status.CanTransitionTo(to) {
		return nil, ErrInvalidState
	}

	run.ApplyStatus(to, errMsg, m.now())
	m.runs[id] = run
	out := copyRun(run)
	return &out, nil
}

// --- Steps ---

func (m *MemoryStore) CreateStepIfAbsent(_ context.Context, step *domain.RunStep) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byNode, ok := m.steps[step.RunID]
	if !ok {
		byNode = make(map[string]domain.RunStep)
		m.steps[step.RunID] = byNode
	}
	if _, exists := byNode[step.NodeID]; exists {
		return false, nil
	}

	byNode[step.NodeID] = copyStep(*step)
	m.seq++
	m.stepSeq[step.ID] = m.seq
	return true, nil
}

func (m *MemoryStore) GetStep(_ context.Context, runID uuid.UUID, nodeID string) (*domain.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.steps[runID][nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyStep(step)
	return &out, nil
}

func (m *MemoryStore) ListSteps(_ context.Context, runID uuid.UUID) ([]domain.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	steps := make([]domain.RunStep, 0, len(m.steps[runID]))
	for _, s := range m.steps[runID] {
		steps = append(steps, copyStep(s))
	}
	sort.Slice(steps, func(i, j int) bool {
		return m.stepSeq[steps[i].ID] < m.stepSeq[steps[j].ID]
	})
	return steps, nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, upd StepUpdate) (*domain.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.steps[upd.RunID][upd.NodeID]
	if !ok {
		return nil, ErrNotFound
	}
	if !upd.allows(step.Status) {
		return nil, ErrInvalidState
	}

	step.Status = upd.To
	switch {
	case upd.ResetAttempts:
		step.Attempts = 0
	case upd.IncAttempts:
		step.Attempts++
	}
	if upd.Output != nil {
		step.Output = copyMap(upd.Output)
	}
	step.LastError = upd.LastError
	step.Exhausted = upd.Exhausted
	step.UpdatedAt = m.now()

	m.steps[upd.RunID][upd.NodeID] = step
	out := copyStep(step)
	return &out, nil
}

func (m *MemoryStore) ListStaleSteps(_ context.Context, olderThan time.Time, limit int) ([]domain.RunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []domain.RunStep
	for runID, byNode := range m.steps {
		if m.runs[runID].Status.IsTerminal() {
			continue
		}
		for _, s := range byNode {
			if s.Status.IsInFlight() && s.UpdatedAt.Before(olderThan) {
				stale = append(stale, copyStep(s))
			}
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })

	if limit = defaultLimit(limit); len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// --- Dead letters ---

func (m *MemoryStore) CreateDeadLetter(_ context.Context, dl *domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deadLetters[dl.ID] = *dl
	return nil
}

func (m *MemoryStore) GetDeadLetter(_ context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dl, ok := m.deadLetters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &dl, nil
}

func (m *MemoryStore) ListDeadLetters(_ context.Context, filter DeadLetterFilter) ([]domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []domain.DeadLetter
	for _, dl := range m.deadLetters {
		if filter.RunID != nil && dl.Job.RunID != *filter.RunID {
			continue
		}
		if filter.Pending && dl.RedrivenAt != nil {
			continue
		}
		items = append(items, dl)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].FailedAt.After(items[j].FailedAt) })

	if limit := defaultLimit(filter.Limit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) MarkRedriven(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dl, ok := m.deadLetters[id]
	if !ok {
		return ErrNotFound
	}
	if dl.RedrivenAt != nil {
		return ErrInvalidState
	}
	dl.RedrivenAt = &at
	m.deadLetters[id] = dl
	return nil
}

// --- Schedules ---

func (m *MemoryStore) CreateSchedule(_ context.Context, s *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[s.ID]; ok {
		return ErrAlreadyExists
	}
	m.schedules[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListSchedules(_ context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []domain.Schedule
	for _, s := range m.schedules {
		if filter.Enabled != nil && s.Enabled != *filter.Enabled {
			continue
		}
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	if filter.Offset >= len(items) {
		return nil, nil
	}
	items = items[filter.Offset:]
	if limit := defaultLimit(filter.Limit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.Schedule
	for _, s := range m.schedules {
		if s.IsDue(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(*due[j].NextDueAt) })

	if limit = defaultLimit(limit); len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) UpdateSchedule(_ context.Context, s *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[s.ID]; !ok {
		return ErrNotFound
	}
	m.schedules[s.ID] = *s
	return nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

// --- Helpers ---

func copyRun(r domain.AgentRun) domain.AgentRun {
	r.Input = copyMap(r.Input)
	return r
}

func copyStep(s domain.RunStep) domain.RunStep {
	s.Output = copyMap(s.Output)
	return s
}

// copyMap — неглубокая копия; вложенные значения не изменяются движком.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
