// Package domain содержит основные сущности Conductor:
// runs, ticks, targets (schedules и sensors) и их статусы.
//
// Типы domain не зависят от хранилища и транспорта —
// это общий словарь для всех остальных пакетов.
package domain
