// Package termination — массовая остановка runs.
//
// Controller принимает batch из id runs с флагами поддержки
// безопасной остановки, выбирает единую policy для всего batch
// и последовательно отменяет каждый run. Ошибка одного run не
// прерывает обработку остальных.
package termination
