package coordinator

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

func queuedRun(priority int, submittedAt time.Time) *domain.Run {
	run := domain.NewRun("job", nil, priority, nil)
	run.SubmittedAt = submittedAt
	return run
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := newRunQueue()
	base := time.Now()

	// Приоритеты [5,1,5] в порядке A,B,C → извлечение A,C,B
	a := queuedRun(5, base)
	b := queuedRun(1, base.Add(time.Millisecond))
	c := queuedRun(5, base.Add(2*time.Millisecond))

	q.Push(a)
	q.Push(b)
	q.Push(c)

	want := []*domain.Run{a, c, b}
	for i, expected := range want {
		item := q.popItem()
		if item == nil {
			t.Fatalf("queue empty at %d", i)
		}
		if item.run.ID != expected.ID {
			t.Errorf("position %d: expected run %s, got %s", i, expected.ID, item.run.ID)
		}
	}
}

func TestQueue_FIFOWithinPriorityBand(t *testing.T) {
	q := newRunQueue()
	base := time.Now()

	var runs []*domain.Run
	for i := 0; i < 5; i++ {
		run := queuedRun(0, base.Add(time.Duration(i)*time.Millisecond))
		runs = append(runs, run)
		q.Push(run)
	}

	for i, expected := range runs {
		item := q.popItem()
		if item.run.ID != expected.ID {
			t.Errorf("position %d: FIFO violated", i)
		}
	}
}

func TestQueue_SeqBreaksTimestampTies(t *testing.T) {
	q := newRunQueue()
	at := time.Now()

	a := queuedRun(0, at)
	b := queuedRun(0, at) // одинаковый submitted_at

	q.Push(a)
	q.Push(b)

	if q.popItem().run.ID != a.ID {
		t.Error("equal timestamps must be resolved by submission order")
	}
}

func TestQueue_PushItemPreservesOrder(t *testing.T) {
	q := newRunQueue()
	base := time.Now()

	a := queuedRun(0, base)
	b := queuedRun(0, base.Add(time.Millisecond))
	q.Push(a)
	q.Push(b)

	// Извлекаем голову и возвращаем (имитация отказа допуска)
	head := q.popItem()
	q.pushItem(head)

	if q.popItem().run.ID != a.ID {
		t.Error("denied head must keep its position")
	}
}

func TestQueue_Dedupe(t *testing.T) {
	q := newRunQueue()
	run := queuedRun(0, time.Now())

	if !q.Push(run) {
		t.Fatal("first push should succeed")
	}
	if q.Push(run) {
		t.Error("duplicate push should be rejected")
	}

	// Извлечённый, но не забытый run тоже защищён от дублей
	q.popItem()
	if q.Push(run) {
		t.Error("push of an in-flight item should be rejected")
	}

	q.forget(run.ID)
	if !q.Push(run) {
		t.Error("push should succeed after forget")
	}
}

func TestQueue_Remove(t *testing.T) {
	q := newRunQueue()
	base := time.Now()

	a := queuedRun(0, base)
	b := queuedRun(0, base.Add(time.Millisecond))
	q.Push(a)
	q.Push(b)

	if removed := q.Remove(a.ID); removed == nil || removed.ID != a.ID {
		t.Fatal("expected to remove queued run")
	}
	if q.Remove(uuid.New()) != nil {
		t.Error("removing unknown id should return nil")
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 item left, got %d", q.Len())
	}
	if q.popItem().run.ID != b.ID {
		t.Error("remaining run should be b")
	}
}
