// Package worker runs the poll, scan, report loop against the coordinator.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

// Poller fetches the next envelope for this worker.
type Poller interface {
	Poll(ctx context.Context, workerID string) (domain.Envelope, error)
}

// Executor runs one job. Failures are returned as domain.ErrJob.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) (domain.ScanResult, error)
}

// Reporter posts a job result.
type Reporter interface {
	Report(ctx context.Context, workerID, jobID string, result any) error
}

// Options are the loop timings.
type Options struct {
	// PollInterval is slept after an empty or error envelope.
	PollInterval time.Duration

	// PollRestoreInterval is slept after the coordinator was unreachable.
	PollRestoreInterval time.Duration

	// CoordinatorAddr is host:port, used in log messages only.
	CoordinatorAddr string
}

// Worker is a single sequential puller. At most one job is in flight.
type Worker struct {
	id string

	poller   Poller
	executor Executor
	reporter Reporter

	opts   Options
	logger *slog.Logger
	status *Status

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a worker with a fresh random identity.
func New(poller Poller, executor Executor, reporter Reporter, opts Options, logger *slog.Logger) *Worker {
	id := uuid.New().String()
	return &Worker{
		id:       id,
		poller:   poller,
		executor: executor,
		reporter: reporter,
		opts:     opts,
		logger:   logger.With("worker_id", id),
		status:   newStatus(id),
		sleep:    sleepContext,
	}
}

// ID returns the worker identity sent to the coordinator.
func (w *Worker) ID() string {
	return w.id
}

// Status exposes loop progress for the status server.
func (w *Worker) Status() *Status {
	return w.status
}

// Run polls until ctx is cancelled. Recoverable failures never end the
// loop, so the returned error is always nil.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"coordinator", w.opts.CoordinatorAddr,
		"poll_interval", w.opts.PollInterval.String(),
		"poll_restore_interval", w.opts.PollRestoreInterval.String(),
	)
	defer func() {
		w.status.setState(StateStopped)
		w.logger.Info("worker stopped")
	}()

	for ctx.Err() == nil {
		wait := w.iterate(ctx)
		if wait <= 0 {
			continue
		}
		if err := w.sleep(ctx, wait); err != nil {
			break
		}
	}
	return nil
}

// iterate performs one poll and, if a job came back, runs and reports it.
// It returns how long to wait before the next poll.
func (w *Worker) iterate(ctx context.Context) time.Duration {
	w.status.setState(StatePolling)

	env, err := w.poller.Poll(ctx, w.id)
	w.status.polled()
	if err != nil {
		return w.classify(ctx, "poll", err)
	}

	switch env.Kind {
	case domain.EnvelopeJob:
		return w.work(ctx, env.Job)
	case domain.EnvelopeError:
		w.status.setState(StateIdle)
		w.logger.Info("Error from coordinator",
			"error", env.Message,
			"retry_in", w.opts.PollInterval.String(),
		)
		return w.opts.PollInterval
	default:
		w.status.setState(StateIdle)
		w.logger.Info("No jobs available",
			"coordinator", w.opts.CoordinatorAddr,
			"retry_in", w.opts.PollInterval.String(),
		)
		return w.opts.PollInterval
	}
}

// work executes job and always reports: a failed job, or one whose result
// cannot be encoded, is reported as a domain.JobFailure so the coordinator
// can reschedule it.
func (w *Worker) work(ctx context.Context, job *domain.Job) time.Duration {
	w.status.startJob(job.UUID)

	result, jobErr := w.executor.Execute(ctx, job)
	if jobErr != nil {
		if ctx.Err() != nil {
			w.status.finishJob(jobErr)
			return 0
		}
		result = domain.NewJobFailure(job.UUID, jobErr)
	}

	err := w.reporter.Report(ctx, w.id, job.UUID, result)
	var encErr domain.ErrResultEncoding
	if errors.As(err, &encErr) {
		w.logger.Error("cannot encode job result", "job_id", job.UUID, "err", err)
		jobErr = err
		err = w.reporter.Report(ctx, w.id, job.UUID, domain.NewJobFailure(job.UUID, err))
	}
	w.status.finishJob(jobErr)
	if err != nil {
		return w.classify(ctx, "report", err)
	}

	w.logger.Info("posted job", "job_id", job.UUID, "failed", jobErr != nil)
	return 0
}

// classify maps a coordinator failure to the wait before the next poll.
func (w *Worker) classify(ctx context.Context, stage string, err error) time.Duration {
	if ctx.Err() != nil {
		return 0
	}

	var unreachable domain.ErrUnreachable
	if errors.As(err, &unreachable) {
		w.status.markUnreachable(err)
		w.logger.Error("Cannot reach API endpoint",
			"stage", stage,
			"coordinator", w.opts.CoordinatorAddr,
			"retry_in", w.opts.PollRestoreInterval.String(),
			"err", err,
		)
		return w.opts.PollRestoreInterval
	}

	w.status.fail(err)
	w.logger.Error("coordinator request failed", "stage", stage, "err", err)
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
