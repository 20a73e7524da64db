package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/orchestrator"
	"github.com/shaiso/Conductor/internal/queue"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/telemetry"
)

// --- Helpers ---

type testEnv struct {
	store *repo.MemoryStore
	queue *queue.MemoryQueue
	orch  *orchestrator.Service
	sched *Scheduler
	now   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := repo.NewMemoryStore()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })

	logger := telemetry.Discard()
	orch := orchestrator.New(orchestrator.Config{Store: store, Queue: q, Logger: logger})

	if _, err := orch.CreateWorkspace(ctx, "acme", ""); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if _, err := orch.CreateWorkflow(ctx, "acme", "flow"); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	dag := domain.WorkflowDag{
		Nodes: []domain.WorkflowNode{{ID: "n1", Kind: domain.NodeKindAction, Connector: "noop"}},
	}
	if _, err := orch.PublishVersion(ctx, "acme", "flow", dag, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	env := &testEnv{
		store: store,
		queue: q,
		orch:  orch,
		now:   time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	env.sched = New(Config{Schedules: store, Orchestrator: orch, Logger: logger})
	env.sched.now = func() time.Time { return env.now }
	return env
}

// addSchedule сохраняет интервальное расписание, которое уже пора запускать.
func (e *testEnv) addSchedule(t *testing.T, workflow string) *domain.Schedule {
	t.Helper()

	due := e.now.Add(-time.Second)
	sched := &domain.Schedule{
		ID:            uuid.New(),
		WorkspaceSlug: "acme",
		WorkflowName:  workflow,
		Name:          "every-minute",
		IntervalSec:   60,
		Timezone:      "UTC",
		Enabled:       true,
		NextDueAt:     &due,
		Input:         map[string]any{"source": "cron"},
		CreatedAt:     e.now,
		UpdatedAt:     e.now,
	}
	if err := e.store.CreateSchedule(context.Background(), sched); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return sched
}

func (e *testEnv) tick(t *testing.T) {
	t.Helper()
	if err := e.sched.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func (e *testEnv) schedule(t *testing.T, id uuid.UUID) *domain.Schedule {
	t.Helper()
	sched, err := e.store.GetSchedule(context.Background(), id)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	return sched
}

// fakeLeader — Leader с фиксированным ответом.
type fakeLeader struct {
	ok       bool
	err      error
	tries    int
	unlocked bool
}

func (l *fakeLeader) TryLock(context.Context) (bool, error) {
	l.tries++
	return l.ok, l.err
}

func (l *fakeLeader) Unlock(context.Context) error {
	l.unlocked = true
	return nil
}

// --- Tick Tests ---

func TestTick_CreatesRunAndAdvancesSchedule(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	env.tick(t)

	got := env.schedule(t, sched.ID)
	if got.LastRunID == nil {
		t.Fatal("expected LastRunID to be set")
	}
	if want := env.now.Add(time.Minute); !got.NextDueAt.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, got.NextDueAt)
	}

	run, err := env.store.GetRun(context.Background(), *got.LastRunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Trigger != domain.TriggerSchedule {
		t.Errorf("expected trigger schedule, got %s", run.Trigger)
	}
	if run.Input["source"] != "cron" {
		t.Errorf("expected schedule input in run, got %v", run.Input)
	}

	// Корневой шаг отправлен в очередь
	if env.queue.Len() != 1 {
		t.Errorf("expected 1 job in queue, got %d", env.queue.Len())
	}
}

func TestTick_NotDueYet(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	future := env.now.Add(time.Hour)
	sched.NextDueAt = &future
	if err := env.store.UpdateSchedule(context.Background(), sched); err != nil {
		t.Fatalf("update: %v", err)
	}

	env.tick(t)

	if got := env.schedule(t, sched.ID); got.LastRunID != nil {
		t.Error("expected no run for schedule that is not due")
	}
	if env.queue.Len() != 0 {
		t.Errorf("expected empty queue, got %d", env.queue.Len())
	}
}

func TestTick_DisabledSchedule(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	sched.Enabled = false
	if err := env.store.UpdateSchedule(context.Background(), sched); err != nil {
		t.Fatalf("update: %v", err)
	}

	env.tick(t)

	if got := env.schedule(t, sched.ID); got.LastRunID != nil {
		t.Error("expected disabled schedule to be skipped")
	}
}

func TestTick_RepeatedTickSameDueTimeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")
	due := *sched.NextDueAt

	env.tick(t)
	first := env.schedule(t, sched.ID).LastRunID

	// Сбой после создания run: next_due_at не сохранился
	restored := env.schedule(t, sched.ID)
	restored.NextDueAt = &due
	if err := env.store.UpdateSchedule(context.Background(), restored); err != nil {
		t.Fatalf("update: %v", err)
	}

	env.tick(t)
	second := env.schedule(t, sched.ID).LastRunID

	if *first != *second {
		t.Errorf("expected same run for the same due time, got %s and %s", first, second)
	}
	if env.queue.Len() != 1 {
		t.Errorf("expected single dispatch, got %d jobs", env.queue.Len())
	}
}

func TestTick_NextDueTimeCreatesNewRun(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	env.tick(t)
	first := env.schedule(t, sched.ID).LastRunID

	env.now = env.now.Add(time.Minute)
	env.tick(t)
	second := env.schedule(t, sched.ID).LastRunID

	if *first == *second {
		t.Error("expected new run for the next due time")
	}
}

func TestTick_MissingWorkflowSkipsButAdvances(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "ghost")

	env.tick(t)

	got := env.schedule(t, sched.ID)
	if got.LastRunID != nil {
		t.Error("expected no run for missing workflow")
	}
	if !got.NextDueAt.After(env.now) {
		t.Errorf("expected next due to move forward, got %v", got.NextDueAt)
	}
}

func TestTick_InvalidCronDisablesSchedule(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	sched.CronExpr = "not a cron"
	if err := env.store.UpdateSchedule(context.Background(), sched); err != nil {
		t.Fatalf("update: %v", err)
	}

	env.tick(t)

	if got := env.schedule(t, sched.ID); got.Enabled {
		t.Error("expected schedule with broken cron to be disabled")
	}
}

// --- Run Tests ---

func TestRun_FollowerSkipsTick(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	leader := &fakeLeader{ok: false}
	env.sched.leader = leader
	env.sched.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	env.sched.Run(ctx)

	if leader.tries == 0 {
		t.Error("expected leader lock attempts")
	}
	if got := env.schedule(t, sched.ID); got.LastRunID != nil {
		t.Error("expected follower not to create runs")
	}
	if leader.unlocked {
		t.Error("expected no unlock without lock")
	}
}

func TestRun_LeaderTicksAndUnlocks(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	leader := &fakeLeader{ok: true}
	env.sched.leader = leader
	env.sched.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	env.sched.Run(ctx)

	if got := env.schedule(t, sched.ID); got.LastRunID == nil {
		t.Error("expected leader to create run")
	}
	if !leader.unlocked {
		t.Error("expected lock released on stop")
	}
}

func TestRun_LockErrorSkipsTick(t *testing.T) {
	env := newTestEnv(t)
	sched := env.addSchedule(t, "flow")

	env.sched.leader = &fakeLeader{err: errors.New("db down")}
	env.sched.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	env.sched.Run(ctx)

	if got := env.schedule(t, sched.ID); got.LastRunID != nil {
		t.Error("expected no runs when lock fails")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{})

	if s.batchSize != defaultBatchSize {
		t.Errorf("expected batch size %d, got %d", defaultBatchSize, s.batchSize)
	}
	if s.interval != defaultTickInterval {
		t.Errorf("expected interval %v, got %v", defaultTickInterval, s.interval)
	}
	if s.logger == nil {
		t.Error("expected default logger")
	}
}
