package coordinator

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// queueItem — элемент очереди. seq фиксирует порядок приёма и
// разрешает ничьи детерминированно: ни один run не голодает
// при стабильной или растущей ёмкости.
type queueItem struct {
	run   *domain.Run
	seq   uint64
	index int // позиция в heap; -1, если элемент извлечён
}

// runHeap — heap с порядком: priority по убыванию, затем
// submitted_at по возрастанию (FIFO внутри приоритета), затем seq.
type runHeap []*queueItem

func (h runHeap) Len() int { return len(h) }

func (h runHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.run.Priority != b.run.Priority {
		return a.run.Priority > b.run.Priority
	}
	if !a.run.SubmittedAt.Equal(b.run.SubmittedAt) {
		return a.run.SubmittedAt.Before(b.run.SubmittedAt)
	}
	return a.seq < b.seq
}

func (h runHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *runHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// runQueue — потокобезопасная очередь runs с дедупликацией по id.
//
// Извлечённый popItem'ом элемент остаётся зарегистрированным
// (повторный Push того же run — no-op), пока вызывающий не вернёт
// его pushItem'ом или не снимет с учёта forget'ом. Это закрывает
// гонку между dequeue-проходом и polling recovery.
type runQueue struct {
	mu    sync.Mutex
	heap  runHeap
	items map[uuid.UUID]*queueItem
	seq   uint64
}

func newRunQueue() *runQueue {
	return &runQueue{items: make(map[uuid.UUID]*queueItem)}
}

// Push добавляет run в очередь. Возвращает false, если run уже учтён.
func (q *runQueue) Push(run *domain.Run) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[run.ID]; exists {
		return false
	}

	q.seq++
	item := &queueItem{run: run, seq: q.seq}
	q.items[run.ID] = item
	heap.Push(&q.heap, item)
	return true
}

// popItem извлекает голову очереди, оставляя run на учёте.
// Возвращает nil, если очередь пуста.
func (q *runQueue) popItem() *queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*queueItem)
}

// pushItem возвращает извлечённый элемент в очередь с исходным seq —
// порядок FIFO внутри приоритета сохраняется.
func (q *runQueue) pushItem(item *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.heap, item)
}

// forget снимает run с учёта после успешного допуска.
func (q *runQueue) forget(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
}

// Remove удаляет run из очереди (отмена ещё не запущенного run).
// Возвращает nil, если run не в очереди или уже извлечён проходом.
func (q *runQueue) Remove(id uuid.UUID) *domain.Run {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, exists := q.items[id]
	if !exists || item.index < 0 {
		return nil
	}
	heap.Remove(&q.heap, item.index)
	delete(q.items, id)
	return item.run
}

// Contains сообщает, учтён ли run в очереди.
func (q *runQueue) Contains(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.items[id]
	return exists
}

// Len возвращает число элементов в heap.
func (q *runQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
