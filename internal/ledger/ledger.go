// Package ledger — учёт занятой конкурентности.
//
// Ledger отвечает на вопрос «можно ли запустить ещё один run»,
// учитывая глобальный лимит и лимиты по тегам. Reserve и Release
// атомарны друг относительно друга: проверка всех применимых лимитов
// и инкремент счётчиков выполняются под одной блокировкой, поэтому
// другие конкурентные попытки допуска никогда не видят частично
// зарезервированное состояние.
package ledger

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/config"
	"github.com/shaiso/Conductor/internal/domain"
)

// Ledger — счётчики активных runs: глобальный и по ключам tag-лимитов.
type Ledger struct {
	mu sync.Mutex

	// globalLimit — максимум одновременных runs; -1 — без лимита.
	globalLimit int
	tagLimits   []config.TagLimit

	global int
	counts map[string]int

	// reserved — какие ключи удерживает каждый run.
	// Защищает Release от двойного освобождения.
	reserved map[uuid.UUID][]string

	onChange func(Snapshot)
}

// Snapshot — моментальный снимок занятости для observability.
type Snapshot struct {
	Global      int            `json:"global"`
	GlobalLimit int            `json:"global_limit"`
	Counts      map[string]int `json:"counts"`
	Limits      map[string]int `json:"limits"`
}

// New создаёт Ledger с заданными лимитами.
func New(globalLimit int, tagLimits []config.TagLimit) *Ledger {
	return &Ledger{
		globalLimit: globalLimit,
		tagLimits:   tagLimits,
		counts:      make(map[string]int),
		reserved:    make(map[uuid.UUID][]string),
	}
}

// SetOnChange регистрирует hook, вызываемый после каждого изменения
// (для обновления метрик). Вызывается под блокировкой — hook должен
// быть дешёвым и не обращаться к Ledger.
func (l *Ledger) SetOnChange(fn func(Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Reserve атомарно резервирует место под run.
//
// Сначала проверяются ВСЕ применимые лимиты (глобальный и по тегам),
// и только если ни один не нарушается — инкрементируются все счётчики.
// При отказе ни один счётчик не изменяется. Отказ — это не ошибка,
// а ожидаемый исход очереди (run остаётся в QUEUED).
//
// Повторный Reserve уже удерживающего место run возвращает true
// без двойного учёта.
func (l *Ledger) Reserve(run *domain.Run) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.reserved[run.ID]; held {
		return true
	}

	// Фаза проверки: ни одной мутации до решения по всем лимитам
	if l.globalLimit >= 0 && l.global+1 > l.globalLimit {
		return false
	}

	var keys []string
	for _, limit := range l.tagLimits {
		if !limit.Applicable(run) {
			continue
		}
		key := limit.CounterKey()
		if l.counts[key]+1 > limit.Limit {
			return false
		}
		keys = append(keys, key)
	}

	// Фаза фиксации
	l.global++
	for _, key := range keys {
		l.counts[key]++
	}
	l.reserved[run.ID] = keys

	l.notifyLocked()
	return true
}

// Release освобождает место, занятое run. Идемпотентна:
// повторный вызов для того же run id — no-op.
func (l *Ledger) Release(runID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, held := l.reserved[runID]
	if !held {
		return
	}
	delete(l.reserved, runID)

	l.global--
	for _, key := range keys {
		if l.counts[key]--; l.counts[key] <= 0 {
			delete(l.counts, key)
		}
	}

	l.notifyLocked()
}

// InFlight возвращает текущее число runs под глобальным лимитом.
func (l *Ledger) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.global
}

// Snapshot возвращает снимок текущей занятости и настроенных лимитов.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	counts := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	limits := make(map[string]int, len(l.tagLimits))
	for _, tl := range l.tagLimits {
		limits[tl.CounterKey()] = tl.Limit
	}
	return Snapshot{
		Global:      l.global,
		GlobalLimit: l.globalLimit,
		Counts:      counts,
		Limits:      limits,
	}
}

func (l *Ledger) notifyLocked() {
	if l.onChange != nil {
		l.onChange(l.snapshotLocked())
	}
}
