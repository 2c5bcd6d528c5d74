package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/launcher"
	"github.com/shaiso/Conductor/internal/ledger"
	"github.com/shaiso/Conductor/internal/repo"
)

// --- Fakes ---

type memRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[uuid.UUID]*domain.Run)}
}

func (s *memRunStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *memRunStore) Update(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return repo.ErrNotFound
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *memRunStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (s *memRunStore) ListByStatus(_ context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, run := range s.runs {
		if run.Status == status && len(out) < limit {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (s *memRunStore) status(t *testing.T, id uuid.UUID) domain.RunStatus {
	t.Helper()
	run, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("run %s not found", id)
	}
	return run.Status
}

type recordingLauncher struct {
	mu         sync.Mutex
	launched   []uuid.UUID
	terminated []uuid.UUID
	failLaunch bool
}

func (l *recordingLauncher) Name() string { return "recording" }

func (l *recordingLauncher) Launch(_ context.Context, run *domain.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failLaunch {
		return &launcher.LaunchError{RunID: run.ID, Err: errors.New("backend unavailable")}
	}
	l.launched = append(l.launched, run.ID)
	return nil
}

func (l *recordingLauncher) Terminate(_ context.Context, run *domain.Run, _ launcher.Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated = append(l.terminated, run.ID)
	return nil
}

func (l *recordingLauncher) PollStatus(context.Context, uuid.UUID) (domain.RunStatus, error) {
	return "", errors.New("not tracked")
}

func (l *recordingLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func newTestCoordinator(globalLimit int, tagLimits []config.TagLimit, launch launcher.Launcher) (*Coordinator, *memRunStore) {
	store := newMemRunStore()
	c := New(Config{
		Runs:     store,
		Ledger:   ledger.New(globalLimit, tagLimits),
		Launcher: launch,
	})
	return c, store
}

// --- Tests ---

func TestSubmit_ImmediateDispatch(t *testing.T) {
	launch := &recordingLauncher{}
	c, store := newTestCoordinator(-1, nil, launch)

	run := domain.NewRun("sync", nil, 0, nil)
	if err := c.Submit(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if launch.launchCount() != 1 {
		t.Fatal("run with free capacity should dispatch immediately")
	}
	if got := store.status(t, run.ID); got != domain.RunStatusStarted {
		t.Errorf("expected STARTED, got %s", got)
	}
}

func TestSubmit_RejectsNonQueued(t *testing.T) {
	c, _ := newTestCoordinator(-1, nil, &recordingLauncher{})

	run := domain.NewRun("sync", nil, 0, nil)
	run.MarkStarted()

	if err := c.Submit(context.Background(), run); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("expected ErrNotQueued, got %v", err)
	}
}

func TestGlobalLimit_SecondRunWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	launch := &recordingLauncher{}
	c, store := newTestCoordinator(1, nil, launch)

	first := domain.NewRun("sync", nil, 0, nil)
	second := domain.NewRun("sync", nil, 0, nil)

	c.Submit(ctx, first)
	c.Submit(ctx, second)

	if launch.launchCount() != 1 {
		t.Fatalf("expected 1 launch at limit 1, got %d", launch.launchCount())
	}
	if got := store.status(t, second.ID); got != domain.RunStatusQueued {
		t.Fatalf("second run should stay QUEUED, got %s", got)
	}

	// Проход очереди до освобождения ёмкости ничего не допускает
	c.dequeuePass(ctx)
	if launch.launchCount() != 1 {
		t.Fatal("dequeue must not admit past the global limit")
	}

	// Первый run завершился → ёмкость освободилась
	if err := c.Finalize(ctx, first.ID, domain.RunStatusSuccess, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.status(t, first.ID); got != domain.RunStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", got)
	}

	c.dequeuePass(ctx)
	if launch.launchCount() != 2 {
		t.Fatal("second run should be admitted after release")
	}
	if got := store.status(t, second.ID); got != domain.RunStatusStarted {
		t.Errorf("expected STARTED, got %s", got)
	}
}

func TestDequeue_DeniedHeadDoesNotBlockQueue(t *testing.T) {
	ctx := context.Background()
	launch := &recordingLauncher{}
	c, store := newTestCoordinator(-1, []config.TagLimit{
		{Key: "database", Value: "redshift", Limit: 1},
	}, launch)

	// Первый redshift run занимает весь tag-лимит
	holder := domain.NewRun("sync", []domain.Tag{{Key: "database", Value: "redshift"}}, 0, nil)
	c.Submit(ctx, holder)

	// Голова очереди упирается в лимит, за ней — run без тегов
	head := domain.NewRun("sync", []domain.Tag{{Key: "database", Value: "redshift"}}, 5, nil)
	behind := domain.NewRun("report", nil, 0, nil)
	c.Submit(ctx, head)
	c.Submit(ctx, behind)

	c.dequeuePass(ctx)

	if got := store.status(t, behind.ID); got != domain.RunStatusStarted {
		t.Errorf("run behind a saturated head should start, got %s", got)
	}
	if got := store.status(t, head.ID); got != domain.RunStatusQueued {
		t.Errorf("denied head should stay QUEUED, got %s", got)
	}

	// Голова сохраняет своё место и уходит первой после освобождения
	c.Finalize(ctx, holder.ID, domain.RunStatusSuccess, "")
	c.dequeuePass(ctx)
	if got := store.status(t, head.ID); got != domain.RunStatusStarted {
		t.Errorf("head should start once capacity frees, got %s", got)
	}
}

func TestDispatch_LaunchFailureReleasesCapacity(t *testing.T) {
	ctx := context.Background()
	launch := &recordingLauncher{failLaunch: true}
	c, store := newTestCoordinator(1, nil, launch)

	failed := domain.NewRun("sync", nil, 0, nil)
	c.Submit(ctx, failed)

	if got := store.status(t, failed.ID); got != domain.RunStatusFailure {
		t.Fatalf("launch failure should mark run FAILURE, got %s", got)
	}

	// Ёмкость освобождена: следующий run запускается
	launch.failLaunch = false
	next := domain.NewRun("sync", nil, 0, nil)
	c.Submit(ctx, next)

	if got := store.status(t, next.ID); got != domain.RunStatusStarted {
		t.Errorf("capacity should be released after launch failure, got %s", got)
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(-1, nil, &recordingLauncher{})

	run := domain.NewRun("sync", nil, 0, nil)
	c.Submit(ctx, run)

	c.Finalize(ctx, run.ID, domain.RunStatusSuccess, "")
	// Повторная финализация (например, дубликат run.completed) — no-op
	if err := c.Finalize(ctx, run.ID, domain.RunStatusFailure, "late report"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.status(t, run.ID); got != domain.RunStatusSuccess {
		t.Errorf("terminal status must not change, got %s", got)
	}
}

func TestCancel_QueuedRun(t *testing.T) {
	ctx := context.Background()
	launch := &recordingLauncher{}
	c, store := newTestCoordinator(0, nil, launch) // лимит 0 — всё в очереди

	run := domain.NewRun("sync", nil, 0, nil)
	c.Submit(ctx, run)

	if err := c.Cancel(ctx, run.ID, launcher.PolicySafe); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.status(t, run.ID); got != domain.RunStatusCanceled {
		t.Errorf("queued run should cancel directly, got %s", got)
	}
	if len(launch.terminated) != 0 {
		t.Error("queued run cancel must not reach the backend")
	}
}

func TestCancel_StartedRun(t *testing.T) {
	ctx := context.Background()
	launch := &recordingLauncher{}
	c, store := newTestCoordinator(-1, nil, launch)

	run := domain.NewRun("sync", nil, 0, nil)
	c.Submit(ctx, run)

	if err := c.Cancel(ctx, run.ID, launcher.PolicySafe); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.status(t, run.ID); got != domain.RunStatusCanceling {
		t.Fatalf("expected CANCELING, got %s", got)
	}
	if len(launch.terminated) != 1 {
		t.Fatal("backend terminate should be called")
	}

	// Backend подтвердил завершение: даже FAILURE отчёт после
	// запрошенной отмены фиксируется как CANCELED
	c.Finalize(ctx, run.ID, domain.RunStatusFailure, "killed")
	if got := store.status(t, run.ID); got != domain.RunStatusCanceled {
		t.Errorf("expected CANCELED, got %s", got)
	}
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(-1, nil, &recordingLauncher{})

	run := domain.NewRun("sync", nil, 0, nil)
	c.Submit(ctx, run)
	c.Finalize(ctx, run.ID, domain.RunStatusSuccess, "")

	err := c.Cancel(ctx, run.ID, launcher.PolicySafe)
	if !errors.Is(err, launcher.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestPoll_FinalizesNeverLaunchedCancelingRun(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(-1, nil, &recordingLauncher{})

	// Отмена обогнала запуск: run ушёл в CANCELING из QUEUED,
	// не дойдя до backend (started_at пуст, backend его не знает)
	raced := domain.NewRun("sync", nil, 0, nil)
	raced.MarkCanceling()
	store.Create(ctx, raced)

	// Запущенный run в CANCELING ждёт подтверждения от backend
	started := domain.NewRun("sync", nil, 0, nil)
	started.MarkStarted()
	started.MarkCanceling()
	store.Create(ctx, started)

	c.poll(ctx)

	if got := store.status(t, raced.ID); got != domain.RunStatusCanceled {
		t.Errorf("never-launched canceling run should finalize as CANCELED, got %s", got)
	}
	if got := store.status(t, started.ID); got != domain.RunStatusCanceling {
		t.Errorf("launched canceling run must wait for the backend, got %s", got)
	}
}

func TestRecoverQueued(t *testing.T) {
	ctx := context.Background()
	store := newMemRunStore()

	// Runs, оставшиеся в QUEUED после рестарта
	for i := 0; i < 3; i++ {
		run := domain.NewRun("sync", nil, 0, nil)
		store.Create(ctx, run)
	}

	c := New(Config{
		Runs:     store,
		Ledger:   ledger.New(0, nil), // лимит 0: ничего не допускается
		Launcher: &recordingLauncher{},
	})

	if err := c.recoverQueued(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.QueueDepth() != 3 {
		t.Errorf("expected 3 recovered runs, got %d", c.QueueDepth())
	}

	// Повторное восстановление не создаёт дублей
	c.recoverQueued(ctx)
	if c.QueueDepth() != 3 {
		t.Errorf("recovery must be idempotent, got %d", c.QueueDepth())
	}
}

func TestDequeue_WorkerPool(t *testing.T) {
	ctx := context.Background()
	launch := &recordingLauncher{}
	store := newMemRunStore()
	c := New(Config{
		Runs:     store,
		Ledger:   ledger.New(-1, nil),
		Launcher: launch,
		Pool:     config.Pool{UseThreads: true, NumWorkers: 4},
	})

	for i := 0; i < 20; i++ {
		run := domain.NewRun("sync", nil, 0, nil)
		store.Create(ctx, run)
		c.queue.Push(run)
	}

	c.dequeuePass(ctx)

	if launch.launchCount() != 20 {
		t.Errorf("expected 20 dispatches via pool, got %d", launch.launchCount())
	}
	if c.QueueDepth() != 0 {
		t.Errorf("queue should drain, got %d", c.QueueDepth())
	}
}
