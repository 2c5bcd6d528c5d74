package domain

import (
	"time"

	"github.com/google/uuid"
)

// Target — источник автоматических запусков: schedule или sensor.
//
// Schedule запускает job по времени:
// - По cron-выражению: "0 9 * * *" (каждый день в 9:00)
// - По интервалу: каждые N секунд
//
// Sensor опрашивается с фиксированным интервалом, а решение о запуске
// принимает зарегистрированная evaluation-функция (по имени target'а).
//
// Tick Evaluator проверяет next_due_at и создаёт tick, когда время подошло.
type Target struct {
	// ID — уникальный идентификатор target.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя target. Для сенсоров по имени ищется
	// evaluation-функция.
	Name string `json:"name"`

	// Kind — SCHEDULE или SENSOR.
	Kind TargetKind `json:"kind"`

	// JobName — job, который запускается при срабатывании.
	JobName string `json:"job_name"`

	// CronExpr — cron-выражение (только для schedules).
	// Формат: "минуты часы дни месяцы дни_недели".
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между evaluations.
	// Для сенсоров это единственный режим.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для cron-вычислений. По умолчанию UTC.
	Timezone string `json:"timezone"`

	// Enabled — флаг активности. Выключенные targets не evaluate'ятся.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующей evaluation.
	NextDueAt time.Time `json:"next_due_at"`

	// LastTickAt — время последней evaluation.
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron возвращает true, если target работает по cron-выражению.
func (t *Target) IsCron() bool {
	return t.CronExpr != ""
}

// IsInterval возвращает true, если target работает по интервалу.
func (t *Target) IsInterval() bool {
	return t.IntervalSec > 0
}

// BaseInterval возвращает базовый интервал target'а — он же база
// для backoff после неудачной evaluation. Для cron-расписаний
// без явного интервала берётся 30 секунд.
func (t *Target) BaseInterval() time.Duration {
	if t.IntervalSec > 0 {
		return time.Duration(t.IntervalSec) * time.Second
	}
	return 30 * time.Second
}

// RecordTick фиксирует факт evaluation и следующее время срабатывания.
func (t *Target) RecordTick(at, nextDue time.Time) {
	t.LastTickAt = &at
	t.NextDueAt = nextDue
	t.UpdatedAt = time.Now().UTC()
}
