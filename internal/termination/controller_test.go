package termination

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/launcher"
)

type fakeCanceler struct {
	mu       sync.Mutex
	calls    []uuid.UUID
	policies []launcher.Policy
	errs     map[uuid.UUID]error
}

func (f *fakeCanceler) Cancel(_ context.Context, runID uuid.UUID, policy launcher.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runID)
	f.policies = append(f.policies, policy)
	if f.errs != nil {
		return f.errs[runID]
	}
	return nil
}

func TestRequest_Policy(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		req     Request
		want    launcher.Policy
		wantErr error
	}{
		{
			name: "all safe",
			req:  Request{Runs: map[uuid.UUID]bool{a: true, b: true}},
			want: launcher.PolicySafe,
		},
		{
			name:    "mixed without force",
			req:     Request{Runs: map[uuid.UUID]bool{a: true, b: false}},
			wantErr: ErrForceRequired,
		},
		{
			name: "mixed with force",
			req:  Request{Runs: map[uuid.UUID]bool{a: true, b: false}, Force: true},
			want: launcher.PolicyImmediate,
		},
		{
			name:    "empty",
			req:     Request{},
			wantErr: ErrEmptyRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Policy()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil && got != tt.want {
				t.Errorf("expected policy %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTerminate_AllRunsProcessed(t *testing.T) {
	canceler := &fakeCanceler{}
	ctrl := New(canceler, nil)

	runs := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		runs[uuid.New()] = true
	}

	progress, err := ctrl.Terminate(context.Background(), Request{Runs: runs})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if progress.Completed != 5 || progress.Total != 5 {
		t.Errorf("expected 5/5 completed, got %d/%d", progress.Completed, progress.Total)
	}
	if len(progress.Errors) != 0 {
		t.Errorf("expected no errors, got %v", progress.Errors)
	}
	if len(canceler.calls) != 5 {
		t.Errorf("expected 5 cancel calls, got %d", len(canceler.calls))
	}
	for _, policy := range canceler.policies {
		if policy != launcher.PolicySafe {
			t.Errorf("expected SAFE policy, got %s", policy)
		}
	}
}

func TestTerminate_ForceRequired(t *testing.T) {
	canceler := &fakeCanceler{}
	ctrl := New(canceler, nil)

	_, err := ctrl.Terminate(context.Background(), Request{
		Runs: map[uuid.UUID]bool{uuid.New(): false},
	})
	if !errors.Is(err, ErrForceRequired) {
		t.Fatalf("expected ErrForceRequired, got %v", err)
	}
	if len(canceler.calls) != 0 {
		t.Error("no runs should be canceled when policy resolution fails")
	}
}

func TestTerminate_ForcedBatchUsesImmediate(t *testing.T) {
	canceler := &fakeCanceler{}
	ctrl := New(canceler, nil)

	progress, err := ctrl.Terminate(context.Background(), Request{
		Runs:  map[uuid.UUID]bool{uuid.New(): true, uuid.New(): false},
		Force: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress.Completed != 2 {
		t.Errorf("expected 2 completed, got %d", progress.Completed)
	}
	for _, policy := range canceler.policies {
		if policy != launcher.PolicyImmediate {
			t.Errorf("expected IMMEDIATE policy, got %s", policy)
		}
	}
}

func TestTerminate_ErrorDoesNotStopBatch(t *testing.T) {
	broken := uuid.New()
	canceler := &fakeCanceler{
		errs: map[uuid.UUID]error{
			broken: errors.New("backend refused"),
		},
	}
	ctrl := New(canceler, nil)

	runs := map[uuid.UUID]bool{
		broken:     true,
		uuid.New(): true,
		uuid.New(): true,
	}

	progress, err := ctrl.Terminate(context.Background(), Request{Runs: runs})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if progress.Completed != 3 {
		t.Errorf("batch must run to completion, got %d/3", progress.Completed)
	}
	if len(progress.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(progress.Errors))
	}
	if progress.Errors[broken] != "backend refused" {
		t.Errorf("unexpected error text: %q", progress.Errors[broken])
	}
	if len(canceler.calls) != 3 {
		t.Errorf("expected 3 cancel calls, got %d", len(canceler.calls))
	}
}

func TestTerminate_AlreadyTerminalIsNotError(t *testing.T) {
	finished := uuid.New()
	canceler := &fakeCanceler{
		errs: map[uuid.UUID]error{
			finished: launcher.ErrAlreadyTerminal,
		},
	}
	ctrl := New(canceler, nil)

	progress, err := ctrl.Terminate(context.Background(), Request{
		Runs: map[uuid.UUID]bool{finished: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress.Completed != 1 {
		t.Errorf("already terminal run counts as completed, got %d", progress.Completed)
	}
	if len(progress.Errors) != 0 {
		t.Errorf("already terminal run is not an error, got %v", progress.Errors)
	}
}

func TestTerminate_DeterministicOrder(t *testing.T) {
	canceler := &fakeCanceler{}
	ctrl := New(canceler, nil)

	runs := make(map[uuid.UUID]bool)
	for i := 0; i < 10; i++ {
		runs[uuid.New()] = true
	}

	ctrl.Terminate(context.Background(), Request{Runs: runs})

	for i := 1; i < len(canceler.calls); i++ {
		if canceler.calls[i-1].String() >= canceler.calls[i].String() {
			t.Fatal("runs must be processed in sorted id order")
		}
	}
}

func TestTerminate_ProgressListener(t *testing.T) {
	canceler := &fakeCanceler{}
	ctrl := New(canceler, nil)

	// Буфер вмещает все снимки — ничего не теряется
	updates := make(chan Progress, 3)
	ctrl.SetListener(updates)

	runs := map[uuid.UUID]bool{
		uuid.New(): true,
		uuid.New(): true,
		uuid.New(): true,
	}
	ctrl.Terminate(context.Background(), Request{Runs: runs})

	if len(updates) != 3 {
		t.Fatalf("expected 3 progress updates, got %d", len(updates))
	}
	for want := 1; want <= 3; want++ {
		got := <-updates
		if got.Completed != want {
			t.Errorf("expected progress %d, got %d", want, got.Completed)
		}
	}
}

func TestTerminate_SlowListenerDoesNotBlock(t *testing.T) {
	canceler := &fakeCanceler{}
	ctrl := New(canceler, nil)

	// Канал без буфера и без читателя: отправки должны отбрасываться
	ctrl.SetListener(make(chan Progress))

	progress, err := ctrl.Terminate(context.Background(), Request{
		Runs: map[uuid.UUID]bool{uuid.New(): true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", progress.Completed)
	}
}
