package evaluator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
)

// --- Fakes ---

type fakeTargetStore struct {
	mu      sync.Mutex
	due     []domain.Target
	updated []domain.Target
}

func (s *fakeTargetStore) ListDue(_ context.Context, _ time.Time, _ int) ([]domain.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Target(nil), s.due...), nil
}

func (s *fakeTargetStore) Update(_ context.Context, target *domain.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, *target)
	return nil
}

func (s *fakeTargetStore) lastUpdate(t *testing.T) domain.Target {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updated) == 0 {
		t.Fatal("no target updates recorded")
	}
	return s.updated[len(s.updated)-1]
}

type fakeTickStore struct {
	mu        sync.Mutex
	created   []domain.Tick
	finalized []domain.Tick
}

func (s *fakeTickStore) Create(_ context.Context, tick *domain.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, *tick)
	return nil
}

func (s *fakeTickStore) Finalize(_ context.Context, tick *domain.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, *tick)
	return nil
}

func (s *fakeTickStore) lastFinalized(t *testing.T) domain.Tick {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.finalized) == 0 {
		t.Fatal("no finalized ticks recorded")
	}
	return s.finalized[len(s.finalized)-1]
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []domain.Run
	err       error

	// failAfter — сколько Submit пропустить до ошибки (при err != nil)
	failAfter int
}

func (s *fakeSubmitter) Submit(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && len(s.submitted) >= s.failAfter {
		return s.err
	}
	s.submitted = append(s.submitted, *run)
	return nil
}

func scheduleTarget(intervalSec int) *domain.Target {
	now := time.Now().UTC()
	return &domain.Target{
		ID:          uuid.New(),
		Name:        "nightly-sync",
		Kind:        domain.TargetKindSchedule,
		JobName:     "sync",
		IntervalSec: intervalSec,
		Timezone:    "UTC",
		Enabled:     true,
		NextDueAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func sensorTarget(name string) *domain.Target {
	target := scheduleTarget(60)
	target.Name = name
	target.Kind = domain.TargetKindSensor
	return target
}

func newTestEvaluator(targets *fakeTargetStore, ticks *fakeTickStore, submitter *fakeSubmitter) *Evaluator {
	return New(Config{
		Targets:   targets,
		Ticks:     ticks,
		Submitter: submitter,
	})
}

// --- Tests ---

func TestTick_ScheduleCreatesRun(t *testing.T) {
	target := scheduleTarget(60)
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{}
	e := newTestEvaluator(targets, ticks, submitter)

	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(submitter.submitted) != 1 {
		t.Fatalf("expected 1 submitted run, got %d", len(submitter.submitted))
	}
	run := submitter.submitted[0]
	if run.JobName != "sync" {
		t.Errorf("expected job sync, got %s", run.JobName)
	}
	if !run.HasTag(TagTargetName, "nightly-sync") {
		t.Error("run should carry the provenance tag with the target name")
	}
	if !run.HasTag(TagTargetKind, string(domain.TargetKindSchedule)) {
		t.Error("run should carry the provenance tag with the target kind")
	}

	tick := ticks.lastFinalized(t)
	if tick.Status != domain.TickStatusSuccess {
		t.Errorf("expected SUCCESS tick, got %s", tick.Status)
	}
	if len(tick.RunIDs) != 1 || tick.RunIDs[0] != run.ID {
		t.Error("tick should reference the created run")
	}

	updated := targets.lastUpdate(t)
	if !updated.NextDueAt.After(target.NextDueAt) {
		t.Error("next_due_at should advance after evaluation")
	}
	if updated.LastTickAt == nil {
		t.Error("last_tick_at should be recorded")
	}
}

func TestTick_SubmitErrorProducesFailureTick(t *testing.T) {
	target := scheduleTarget(60)
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{err: errors.New("store unavailable")}
	e := newTestEvaluator(targets, ticks, submitter)

	e.Tick(context.Background())

	tick := ticks.lastFinalized(t)
	if tick.Status != domain.TickStatusFailure {
		t.Fatalf("expected FAILURE tick, got %s", tick.Status)
	}
	if !strings.Contains(tick.Error, "store unavailable") {
		t.Errorf("tick error should carry the cause, got %q", tick.Error)
	}

	// next_due_at всё равно переносится — target не зацикливается
	updated := targets.lastUpdate(t)
	if !updated.NextDueAt.After(target.NextDueAt) {
		t.Error("next_due_at should advance even after a failed evaluation")
	}
}

func TestTick_FailureThenRecovery(t *testing.T) {
	target := scheduleTarget(60)
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{err: errors.New("transient")}
	e := newTestEvaluator(targets, ticks, submitter)

	// Evaluation N падает
	e.Tick(context.Background())
	if got := ticks.lastFinalized(t).Status; got != domain.TickStatusFailure {
		t.Fatalf("expected FAILURE, got %s", got)
	}

	// Evaluation N+1 идёт штатно
	submitter.err = nil
	e.Tick(context.Background())
	if got := ticks.lastFinalized(t).Status; got != domain.TickStatusSuccess {
		t.Fatalf("failed target must be evaluated again, got %s", got)
	}

	// Счётчик ошибок сброшен
	e.stateMu.Lock()
	fails := e.failures[target.ID]
	e.stateMu.Unlock()
	if fails != 0 {
		t.Errorf("failure counter should reset after success, got %d", fails)
	}
}

func TestBackoffDelay(t *testing.T) {
	target := scheduleTarget(60)
	base := time.Minute

	tests := []struct {
		fails int
		want  time.Duration
	}{
		{1, base},
		{2, 2 * base},
		{3, 4 * base},
		{4, 5 * base}, // потолок: 8x срезается до 5x
		{10, 5 * base},
	}
	for _, tt := range tests {
		if got := backoffDelay(target, tt.fails); got != tt.want {
			t.Errorf("fails=%d: expected %s, got %s", tt.fails, tt.want, got)
		}
	}
}

func TestBackoffDelay_CronUsesDefaultBase(t *testing.T) {
	target := scheduleTarget(0)
	target.CronExpr = "0 9 * * *"

	if got := backoffDelay(target, 1); got != 30*time.Second {
		t.Errorf("cron target backoff base should be 30s, got %s", got)
	}
}

func TestTick_SensorWithoutFunctionSkips(t *testing.T) {
	target := sensorTarget("unwired-sensor")
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{}
	e := newTestEvaluator(targets, ticks, submitter)

	e.Tick(context.Background())

	tick := ticks.lastFinalized(t)
	if tick.Status != domain.TickStatusSkipped {
		t.Fatalf("expected SKIPPED tick, got %s", tick.Status)
	}
	if tick.SkipReason != ErrSensorNotRegistered.Error() {
		t.Errorf("unexpected skip reason: %q", tick.SkipReason)
	}
	if len(submitter.submitted) != 0 {
		t.Error("unregistered sensor must not create runs")
	}
}

func TestTick_SensorDecidesToLaunch(t *testing.T) {
	target := sensorTarget("new-files")
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{}
	e := newTestEvaluator(targets, ticks, submitter)

	e.RegisterSensor("new-files", func(context.Context, *domain.Target) (*Decision, error) {
		return &Decision{Requests: []RunRequest{
			{Payload: map[string]any{"file": "a.csv"}},
			{Payload: map[string]any{"file": "b.csv"}, Priority: 3},
		}}, nil
	})

	e.Tick(context.Background())

	if len(submitter.submitted) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(submitter.submitted))
	}
	if submitter.submitted[1].Priority != 3 {
		t.Error("run request priority should be preserved")
	}

	tick := ticks.lastFinalized(t)
	if tick.Status != domain.TickStatusSuccess {
		t.Errorf("expected SUCCESS tick, got %s", tick.Status)
	}
	if len(tick.RunIDs) != 2 {
		t.Errorf("tick should reference both runs, got %d", len(tick.RunIDs))
	}
}

func TestTick_SensorDecidesToSkip(t *testing.T) {
	target := sensorTarget("empty-bucket")
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{}
	e := newTestEvaluator(targets, ticks, submitter)

	e.RegisterSensor("empty-bucket", func(context.Context, *domain.Target) (*Decision, error) {
		return &Decision{SkipReason: "no new files"}, nil
	})

	e.Tick(context.Background())

	tick := ticks.lastFinalized(t)
	if tick.Status != domain.TickStatusSkipped {
		t.Fatalf("expected SKIPPED tick, got %s", tick.Status)
	}
	if tick.SkipReason != "no new files" {
		t.Errorf("unexpected skip reason: %q", tick.SkipReason)
	}
}

func TestTick_SensorPartialFailureKeepsRunIDs(t *testing.T) {
	target := sensorTarget("batch-import")
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{err: errors.New("store unavailable"), failAfter: 1}
	e := newTestEvaluator(targets, ticks, submitter)

	e.RegisterSensor("batch-import", func(context.Context, *domain.Target) (*Decision, error) {
		return &Decision{Requests: []RunRequest{
			{Payload: map[string]any{"file": "a.csv"}},
			{Payload: map[string]any{"file": "b.csv"}},
		}}, nil
	})

	e.Tick(context.Background())

	if len(submitter.submitted) != 1 {
		t.Fatalf("expected 1 run before the failure, got %d", len(submitter.submitted))
	}

	tick := ticks.lastFinalized(t)
	if tick.Status != domain.TickStatusFailure {
		t.Fatalf("expected FAILURE tick, got %s", tick.Status)
	}
	// Run, созданный до ошибки, уже в системе — tick обязан его помнить
	if len(tick.RunIDs) != 1 || tick.RunIDs[0] != submitter.submitted[0].ID {
		t.Errorf("failure tick should reference the runs created before the error, got %v", tick.RunIDs)
	}
}

func TestTick_SensorPanicBecomesFailureTick(t *testing.T) {
	target := sensorTarget("flaky")
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{}
	e := newTestEvaluator(targets, ticks, submitter)

	e.RegisterSensor("flaky", func(context.Context, *domain.Target) (*Decision, error) {
		panic("nil map write")
	})

	if err := e.Tick(context.Background()); err != nil {
		t.Fatalf("panic must not escape the evaluation, got %v", err)
	}

	tick := ticks.lastFinalized(t)
	if tick.Status != domain.TickStatusFailure {
		t.Fatalf("expected FAILURE tick, got %s", tick.Status)
	}
	if !strings.Contains(tick.Error, "panic") {
		t.Errorf("tick error should mention the panic, got %q", tick.Error)
	}
}

func TestTick_InFlightGuard(t *testing.T) {
	target := scheduleTarget(60)
	e := newTestEvaluator(&fakeTargetStore{}, &fakeTickStore{}, &fakeSubmitter{})

	if !e.claim(target.ID) {
		t.Fatal("first claim should succeed")
	}
	if e.claim(target.ID) {
		t.Error("claim of an in-flight target should fail")
	}
	e.release(target.ID)
	if !e.claim(target.ID) {
		t.Error("claim should succeed after release")
	}
}

func TestTick_OpensTickBeforeEvaluation(t *testing.T) {
	target := scheduleTarget(60)
	targets := &fakeTargetStore{due: []domain.Target{*target}}
	ticks := &fakeTickStore{}
	e := newTestEvaluator(targets, ticks, &fakeSubmitter{})

	e.Tick(context.Background())

	if len(ticks.created) != 1 {
		t.Fatalf("expected 1 opened tick, got %d", len(ticks.created))
	}
	if ticks.created[0].Status != domain.TickStatusStarted {
		t.Errorf("tick must open as STARTED, got %s", ticks.created[0].Status)
	}
}

func TestTick_WorkerPool(t *testing.T) {
	var due []domain.Target
	for i := 0; i < 10; i++ {
		due = append(due, *scheduleTarget(60))
	}
	targets := &fakeTargetStore{due: due}
	ticks := &fakeTickStore{}
	submitter := &fakeSubmitter{}

	e := New(Config{
		Targets:      targets,
		Ticks:        ticks,
		Submitter:    submitter,
		SchedulePool: config.Pool{UseThreads: true, NumWorkers: 4},
	})

	e.Tick(context.Background())

	if len(submitter.submitted) != 10 {
		t.Errorf("expected 10 runs via pool, got %d", len(submitter.submitted))
	}
}
