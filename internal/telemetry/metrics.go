package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики control plane. Регистрируются в default registry;
// каждый бинарник отдаёт их через promhttp на /metrics.
var (
	// QueueDepth — текущая глубина очереди координатора.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_queue_depth",
		Help: "Number of runs waiting in the coordinator queue.",
	})

	// LedgerGlobal — текущее число runs под глобальным лимитом.
	LedgerGlobal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_ledger_global_in_flight",
		Help: "Number of runs currently holding global capacity.",
	})

	// LedgerOccupancy — занятость по ключам tag-лимитов.
	LedgerOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conductor_ledger_tag_in_flight",
		Help: "Number of runs currently holding capacity per tag limit key.",
	}, []string{"limit_key"})

	// RunsLaunched — успешно запущенные runs.
	RunsLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_runs_launched_total",
		Help: "Total runs handed to the launcher successfully.",
	})

	// LaunchFailures — отказы backend при запуске.
	LaunchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conductor_launch_failures_total",
		Help: "Total runs that failed to launch.",
	})

	// RunsFinished — завершённые runs по финальному статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_runs_finished_total",
		Help: "Total runs reaching a terminal status.",
	}, []string{"status"})

	// Ticks — финализированные ticks по виду target и статусу.
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_ticks_total",
		Help: "Total ticks finalized, by target kind and status.",
	}, []string{"kind", "status"})

	// TicksPurged — удалённые retention sweeper'ом ticks.
	TicksPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_ticks_purged_total",
		Help: "Total ticks deleted by the retention sweeper.",
	}, []string{"kind"})

	// Terminations — результаты terminate по исходу.
	Terminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_terminations_total",
		Help: "Total run terminations, by outcome.",
	}, []string{"outcome"})
)
