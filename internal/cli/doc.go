// Package cli — команды conductor-cli.
//
// CLI общается с control plane только через HTTP API и не
// импортирует internal/api: response-типы дублируются локально,
// чтобы бинарник CLI не тянул за собой серверные зависимости.
package cli
