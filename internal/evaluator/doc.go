// Package evaluator — evaluation schedules и sensors.
//
// Evaluator по тикам находит due targets и выполняет их evaluation:
// schedule всегда порождает run, sensor решает сам через
// зарегистрированную evaluation-функцию. Каждая evaluation
// фиксируется tick'ом: STARTED при открытии, SUCCESS/SKIPPED/FAILURE
// при финализации. Неудачная evaluation отодвигает следующую
// с экспоненциальным backoff.
package evaluator
