package scan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

// Executor turns a job into an engine invocation.
type Executor struct {
	engine   Engine
	settings Settings
	logger   *slog.Logger
}

func NewExecutor(engine Engine, settings Settings, logger *slog.Logger) *Executor {
	return &Executor{
		engine:   engine,
		settings: settings,
		logger:   logger,
	}
}

// ConfigFor derives the engine input for job.
func (e *Executor) ConfigFor(job *domain.Job) Config {
	return Config{
		Sockets:             []string{net.JoinHostPort(job.Target, strconv.Itoa(job.Port))},
		FingerprintDatabase: e.settings.FingerprintDatabase,
		Policy:              e.settings.Policy,
		Timeout:             e.settings.Timeout,
	}
}

// Execute runs the engine for job. Any engine failure, including a panic,
// comes back as domain.ErrJob.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) (domain.ScanResult, error) {
	e.logger.Info("started job", "job_id", job.UUID)
	start := time.Now()

	result, err := e.run(ctx, e.ConfigFor(job))
	if err != nil {
		e.logger.Warn("job failed",
			"job_id", job.UUID,
			"duration", time.Since(start).String(),
			"err", err,
		)
		return nil, domain.ErrJob{JobID: job.UUID, Err: err}
	}

	e.logger.Info("completed job",
		"job_id", job.UUID,
		"duration", time.Since(start).String(),
	)
	return result, nil
}

func (e *Executor) run(ctx context.Context, cfg Config) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("scan engine panic: %v", r)
		}
	}()
	return e.engine.Scan(ctx, cfg)
}
