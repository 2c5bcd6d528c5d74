// Package coordinator — центр принятия решений о запуске runs.
//
// Coordinator отвечает за:
//   - Приём runs (от API и от Tick Evaluator)
//   - Допуск через Concurrency Ledger (check-then-commit)
//   - Очередь с порядком priority desc / FIFO внутри приоритета
//   - Передачу допущенных runs launcher'у
//   - Финализацию завершённых runs и освобождение ёмкости
//
// Отказ допуска — штатный исход, не ошибка: run ждёт в очереди,
// пока фоновый dequeue-цикл не найдёт для него ёмкость.
package coordinator
