package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

func newRun(workflowID uuid.UUID, key string) *domain.AgentRun {
	return &domain.AgentRun{
		ID:             uuid.New(),
		WorkflowID:     workflowID,
		Status:         domain.RunStatusQueued,
		Trigger:        domain.TriggerManual,
		IdempotencyKey: key,
		CreatedAt:      time.Now(),
	}
}

func TestMemoryStore_CreateRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	workflowID := uuid.New()

	first, created, err := store.CreateRun(ctx, newRun(workflowID, "key-1"))
	if err != nil || !created {
		t.Fatalf("expected created run, got created=%v err=%v", created, err)
	}

	second, created, err := store.CreateRun(ctx, newRun(workflowID, "key-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("second run with the same key should not be created")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing run %s, got %s", first.ID, second.ID)
	}

	// Без ключа — всегда новый run
	_, created, _ = store.CreateRun(ctx, newRun(workflowID, ""))
	if !created {
		t.Error("run without key should always be created")
	}
}

func TestMemoryStore_TransitionRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run, _, _ := store.CreateRun(ctx, newRun(uuid.New(), ""))

	running, err := store.TransitionRun(ctx, run.ID, domain.RunStatusRunning, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running.StartedAt == nil {
		t.Error("started_at should be set")
	}

	cancelled, err := store.TransitionRun(ctx, run.ID, domain.RunStatusCancelled, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.CompletedAt == nil {
		t.Error("completed_at should be set")
	}

	// Терминальный статус окончателен
	for _, to := range []domain.RunStatus{domain.RunStatusRunning, domain.RunStatusCompleted, domain.RunStatusFailed} {
		if _, err := store.TransitionRun(ctx, run.ID, to, ""); !errors.Is(err, ErrInvalidState) {
			t.Errorf("transition cancelled → %s: expected ErrInvalidState, got %v", to, err)
		}
	}

	if _, err := store.TransitionRun(ctx, uuid.New(), domain.RunStatusRunning, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CreateStepIfAbsent_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.CreateStepIfAbsent(ctx, &domain.RunStep{
				ID:     uuid.New(),
				RunID:  runID,
				NodeID: "n2",
				Status: domain.StepStatusPending,
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("expected exactly one creation, got %d", createdCount)
	}
	steps, _ := store.ListSteps(ctx, runID)
	if len(steps) != 1 {
		t.Errorf("expected 1 step, got %d", len(steps))
	}
}

func TestMemoryStore_UpdateStep_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()
	store.CreateStepIfAbsent(ctx, &domain.RunStep{ID: uuid.New(), RunID: runID, NodeID: "n1", Status: domain.StepStatusEnqueued})

	claim := StepUpdate{
		RunID:       runID,
		NodeID:      "n1",
		From:        []domain.StepStatus{domain.StepStatusEnqueued},
		To:          domain.StepStatusRunning,
		IncAttempts: true,
	}

	step, err := store.UpdateStep(ctx, claim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Attempts != 1 || step.Status != domain.StepStatusRunning {
		t.Errorf("unexpected step after claim: %+v", step)
	}

	// Второй claim той же доставки проигрывает
	if _, err := store.UpdateStep(ctx, claim); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	step, err = store.UpdateStep(ctx, StepUpdate{
		RunID:  runID,
		NodeID: "n1",
		From:   []domain.StepStatus{domain.StepStatusRunning},
		To:     domain.StepStatusSucceeded,
		Output: map[string]any{"ok": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Output["ok"] != true || step.Attempts != 1 {
		t.Errorf("unexpected step after success: %+v", step)
	}

	if _, err := store.UpdateStep(ctx, StepUpdate{RunID: runID, NodeID: "ghost", To: domain.StepStatusRunning}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListSteps_CreationOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()

	for _, id := range []string{"c", "a", "b"} {
		store.CreateStepIfAbsent(ctx, &domain.RunStep{ID: uuid.New(), RunID: runID, NodeID: id, Status: domain.StepStatusPending})
	}

	steps, _ := store.ListSteps(ctx, runID)
	got := []string{steps[0].NodeID, steps[1].NodeID, steps[2].NodeID}
	if got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Errorf("expected creation order [c a b], got %v", got)
	}
}

func TestMemoryStore_ListStaleSteps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	active, _, _ := store.CreateRun(ctx, newRun(uuid.New(), ""))
	store.TransitionRun(ctx, active.ID, domain.RunStatusRunning, "")
	done, _, _ := store.CreateRun(ctx, newRun(uuid.New(), ""))
	store.TransitionRun(ctx, done.ID, domain.RunStatusCancelled, "")

	for _, runID := range []uuid.UUID{active.ID, done.ID} {
		store.CreateStepIfAbsent(ctx, &domain.RunStep{ID: uuid.New(), RunID: runID, NodeID: "n1", Status: domain.StepStatusPending})
		store.UpdateStep(ctx, StepUpdate{RunID: runID, NodeID: "n1", To: domain.StepStatusEnqueued})
	}

	stale, err := store.ListStaleSteps(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 || stale[0].RunID != active.ID {
		t.Errorf("expected only the step of the running run, got %+v", stale)
	}

	if stale, _ := store.ListStaleSteps(ctx, base, 10); len(stale) != 0 {
		t.Errorf("fresh steps should not be stale, got %d", len(stale))
	}
}

func TestMemoryStore_DeadLetters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()

	older := &domain.DeadLetter{ID: uuid.New(), Job: domain.StepJob{RunID: runID, NodeID: "n1"}, FailedAt: time.Now().Add(-time.Hour)}
	newer := &domain.DeadLetter{ID: uuid.New(), Job: domain.StepJob{RunID: uuid.New(), NodeID: "n1"}, FailedAt: time.Now()}
	store.CreateDeadLetter(ctx, older)
	store.CreateDeadLetter(ctx, newer)

	items, _ := store.ListDeadLetters(ctx, DeadLetterFilter{})
	if len(items) != 2 || items[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %+v", items)
	}

	items, _ = store.ListDeadLetters(ctx, DeadLetterFilter{RunID: &runID})
	if len(items) != 1 || items[0].ID != older.ID {
		t.Errorf("expected filter by run, got %+v", items)
	}

	if err := store.MarkRedriven(ctx, older.ID, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkRedriven(ctx, older.ID, time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second redrive: expected ErrInvalidState, got %v", err)
	}

	items, _ = store.ListDeadLetters(ctx, DeadLetterFilter{Pending: true})
	if len(items) != 1 || items[0].ID != newer.ID {
		t.Errorf("expected only pending letters, got %+v", items)
	}
}

func TestMemoryStore_Versions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ws := &domain.Workspace{ID: uuid.New(), Slug: "acme"}
	if err := store.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.CreateWorkspace(ctx, &domain.Workspace{ID: uuid.New(), Slug: "acme"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	wf := &domain.Workflow{ID: uuid.New(), WorkspaceID: ws.ID, Name: "sync", IsActive: true}
	store.CreateWorkflow(ctx, wf)

	if _, err := store.GetLatestVersion(ctx, wf.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before publishing, got %v", err)
	}

	dag := domain.WorkflowDag{Nodes: []domain.WorkflowNode{{ID: "n1", Kind: domain.NodeKindAction}}}
	v1, _ := store.CreateVersion(ctx, wf.ID, dag, nil)
	v2, _ := store.CreateVersion(ctx, wf.ID, dag, &domain.RetryPolicy{MaxAttempts: 5})
	if v1.Version != 1 || v2.Version != 2 {
		t.Errorf("expected versions 1 and 2, got %d and %d", v1.Version, v2.Version)
	}

	latest, _ := store.GetLatestVersion(ctx, wf.ID)
	if latest.Version != 2 || latest.RetryPolicy.MaxAttempts != 5 {
		t.Errorf("unexpected latest version: %+v", latest)
	}

	if _, err := store.CreateVersion(ctx, uuid.New(), dag, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown workflow, got %v", err)
	}
}
