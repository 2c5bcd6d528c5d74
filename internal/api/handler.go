package api

import (
	"log/slog"

	"github.com/shaiso/Conductor/internal/ledger"
	"github.com/shaiso/Conductor/internal/mq"
	"github.com/shaiso/Conductor/internal/repo"
	"github.com/shaiso/Conductor/internal/termination"
)

// LedgerSnapshotter — источник снимка ledger для /api/v1/ledger.
type LedgerSnapshotter interface {
	Snapshot() ledger.Snapshot
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runRepo    *repo.RunRepo
	tickRepo   *repo.TickRepo
	targetRepo *repo.TargetRepo
	publisher  *mq.Publisher
	ledger     LedgerSnapshotter
	terminator *termination.Controller
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	RunRepo    *repo.RunRepo
	TickRepo   *repo.TickRepo
	TargetRepo *repo.TargetRepo

	// Publisher — события runs.submitted/runs.terminate; nil допустим,
	// тогда runs подхватываются координатором через polling.
	Publisher *mq.Publisher

	// Ledger — снимок лимитов; nil убирает маршрут /api/v1/ledger.
	Ledger LedgerSnapshotter

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		runRepo:    cfg.RunRepo,
		tickRepo:   cfg.TickRepo,
		targetRepo: cfg.TargetRepo,
		publisher:  cfg.Publisher,
		ledger:     cfg.Ledger,
		logger:     logger,
	}
	h.terminator = termination.New(&storeCanceler{h}, logger)
	return h
}
