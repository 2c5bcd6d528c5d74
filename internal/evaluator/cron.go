package evaluator

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conductor/internal/domain"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время evaluation для target.
// Для интервалов просто добавляет IntervalSec к текущему времени.
// Учитывает timezone target'а.
func CalculateNextDue(target *domain.Target, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(target.Timezone)
	if err != nil {
		// Fallback на UTC если timezone невалидный
		loc = time.UTC
	}

	fromInTz := from.In(loc)

	if target.IsCron() {
		return calculateNextCron(target.CronExpr, fromInTz)
	}

	if target.IsInterval() {
		return calculateNextInterval(target.IntervalSec, fromInTz), nil
	}

	return time.Time{}, fmt.Errorf("target has neither cron_expr nor interval_sec")
}

// calculateNextCron вычисляет следующее время по cron-выражению.
func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	next := schedule.Next(from)
	return next.UTC(), nil // возвращаем в UTC для хранения в БД
}

// calculateNextInterval вычисляет следующее время по интервалу.
func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	next := from.Add(time.Duration(intervalSec) * time.Second)
	return next.UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// CalculateInitialNextDue вычисляет первое время evaluation для нового
// target. Используется при создании target через API.
func CalculateInitialNextDue(target *domain.Target) (time.Time, error) {
	return CalculateNextDue(target, time.Now())
}
