// Package sweeper — удаление старых ticks по порогам retention.
//
// Sweeper периодически проходит по комбинациям вид × статус и удаляет
// финализированные ticks старше порога. Порог -1 означает «хранить
// вечно»; STARTED ticks не удаляются никогда.
package sweeper
