package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/shaiso/Conductor/internal/domain"
)

// ProcessLauncher исполняет run как локальный подпроцесс.
//
// Команда берётся из payload["command"] (массив строк); если её нет,
// исполняемым считается JobName без аргументов. Статусы отслеживаются
// в памяти, о завершении процесса сообщает callback onExit.
type ProcessLauncher struct {
	logger *slog.Logger
	onExit func(runID uuid.UUID, runErr error)

	mu       sync.Mutex
	procs    map[uuid.UUID]*exec.Cmd
	statuses map[uuid.UUID]domain.RunStatus
}

// NewProcessLauncher создаёт process backend.
// onExit может быть nil, если завершения отслеживаются снаружи.
func NewProcessLauncher(logger *slog.Logger, onExit func(uuid.UUID, error)) *ProcessLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessLauncher{
		logger:   logger,
		onExit:   onExit,
		procs:    make(map[uuid.UUID]*exec.Cmd),
		statuses: make(map[uuid.UUID]domain.RunStatus),
	}
}

// Name возвращает имя backend.
func (p *ProcessLauncher) Name() string { return "process" }

// Launch запускает подпроцесс run'а.
func (p *ProcessLauncher) Launch(ctx context.Context, run *domain.Run) error {
	argv, err := commandArgv(run)
	if err != nil {
		return &LaunchError{RunID: run.ID, Err: err}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	// Собственная process group: run может породить целое дерево
	// процессов, и сигналы остановки должны дойти до всего дерева
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return &LaunchError{RunID: run.ID, Err: err}
	}

	p.mu.Lock()
	p.procs[run.ID] = cmd
	p.statuses[run.ID] = domain.RunStatusStarted
	p.mu.Unlock()

	p.logger.Info("process started",
		"run_id", run.ID,
		"pid", cmd.Process.Pid,
		"job", run.JobName,
	)

	go p.wait(run.ID, cmd)

	return nil
}

// wait дожидается завершения подпроцесса и фиксирует исход.
func (p *ProcessLauncher) wait(runID uuid.UUID, cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	delete(p.procs, runID)
	if err != nil {
		p.statuses[runID] = domain.RunStatusFailure
	} else {
		p.statuses[runID] = domain.RunStatusSuccess
	}
	p.mu.Unlock()

	p.logger.Info("process exited", "run_id", runID, "error", err)

	if p.onExit != nil {
		p.onExit(runID, err)

		// Завершение доставлено — запись о статусе больше не нужна
		p.mu.Lock()
		delete(p.statuses, runID)
		p.mu.Unlock()
	}
}

// Terminate останавливает process group run'а.
//
// SAFE доставляет SIGTERM всей группе и возвращается, не дожидаясь
// выхода — процессы выполняют собственный cleanup. IMMEDIATE убивает
// группу SIGKILL'ом: окружение уничтожается целиком, но ресурсы,
// созданные run'ом вне процессов, могут остаться.
func (p *ProcessLauncher) Terminate(ctx context.Context, run *domain.Run, policy Policy) error {
	p.mu.Lock()
	cmd, running := p.procs[run.ID]
	status, known := p.statuses[run.ID]
	p.mu.Unlock()

	if !running {
		if known && status.IsTerminal() {
			return ErrAlreadyTerminal
		}
		return &TerminationError{RunID: run.ID, Err: fmt.Errorf("process not found")}
	}

	// Setpgid при запуске: pgid группы равен pid лидера
	sig := syscall.SIGTERM
	if policy == PolicyImmediate {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return &TerminationError{RunID: run.ID, Err: err}
	}

	p.logger.Info("termination signal delivered",
		"run_id", run.ID,
		"policy", policy,
	)
	return nil
}

// PollStatus возвращает статус run по данным backend.
// Финальный статус отдаётся один раз: запись о завершённом run
// удаляется, иначе карта статусов растёт без ограничений.
func (p *ProcessLauncher) PollStatus(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[runID]
	if !ok {
		return "", fmt.Errorf("run %s unknown to process backend", runID)
	}
	if status.IsTerminal() {
		delete(p.statuses, runID)
	}
	return status, nil
}

// commandArgv извлекает argv подпроцесса из run.
func commandArgv(run *domain.Run) ([]string, error) {
	raw, ok := run.Payload["command"]
	if !ok {
		if run.JobName == "" {
			return nil, fmt.Errorf("run has neither command payload nor job name")
		}
		return []string{run.JobName}, nil
	}

	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("payload command must be a non-empty string array")
	}

	argv := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("payload command element %d is not a string", i)
		}
		argv[i] = s
	}
	return argv, nil
}
