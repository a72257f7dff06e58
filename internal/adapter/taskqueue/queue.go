// Package taskqueue is the delivery infrastructure the pipeline runs on: a
// Postgres-backed queue with at-least-once, single-concurrent-delivery
// semantics per task. Claiming uses FOR UPDATE SKIP LOCKED so horizontally
// scaled consumers never contend on the same message, and a claim lease lets
// another consumer reclaim a task whose worker died mid-delivery. Retry
// backoff math lives here and only here.
package taskqueue

import (
	"context"
	"errors"
	"time"

	"clementine/internal/infra"
	"clementine/internal/sqlinline"
)

// Task is one delivery of a queued transform job.
type Task struct {
	ID          string
	JobID       string
	Attempt     int
	MaxAttempts int
}

// Handler processes one delivery. A nil return acknowledges the task; an
// error requests re-delivery (the handler is expected to have already
// finalized non-retryable outcomes itself).
type Handler func(ctx context.Context, task Task) error

// GiveUpFunc runs once when a task exhausts its attempt budget, before the
// task is buried.
type GiveUpFunc func(ctx context.Context, task Task, cause error)

// Options tunes the consumer. Lease bounds how long a claimed task may sit
// in running before another consumer treats its owner as dead and reclaims
// it; it must exceed the longest handler run (the video timeout ceiling).
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	Lease        time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 10 * time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 5 * time.Minute
	}
	if o.Lease <= 0 {
		o.Lease = 10 * time.Minute
	}
	return o
}

var errNoTaskAvailable = errors.New("no task available")

// Queue enqueues and consumes transform tasks.
type Queue struct {
	runner infra.SQLExecutor
	logger infra.Logger
	opts   Options
}

// New builds a queue over the shared SQL runner.
func New(runner infra.SQLExecutor, logger infra.Logger, opts Options) *Queue {
	return &Queue{runner: runner, logger: logger, opts: opts.withDefaults()}
}

// Enqueue schedules a job for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	_, err := q.runner.Exec(ctx, sqlinline.QEnqueueTask, jobID, q.opts.MaxAttempts)
	return err
}

// Consume claims and processes tasks until the context is cancelled. Each
// claimed task is handled to completion before the next claim; concurrency
// comes from running more consumer processes.
func (q *Queue) Consume(ctx context.Context, handler Handler, giveUp GiveUpFunc) error {
	q.logger.Info().Dur("poll_interval", q.opts.PollInterval).Dur("lease", q.opts.Lease).Msg("taskqueue: consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, err := q.claim(ctx)
		if err != nil {
			if !errors.Is(err, errNoTaskAvailable) {
				q.logger.Error().Err(err).Msg("taskqueue: claim failed")
			}
			if !sleepCtx(ctx, q.opts.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		q.deliver(ctx, task, handler, giveUp)
	}
}

// claim takes the oldest deliverable task: queued rows whose backoff delay
// elapsed, or running rows whose lease expired (their consumer crashed).
// The claim itself persists the incremented attempt counter.
func (q *Queue) claim(ctx context.Context) (Task, error) {
	row := q.runner.QueryRow(ctx, sqlinline.QClaimTask, int(q.opts.Lease.Seconds()))
	var t Task
	if err := row.Scan(&t.ID, &t.JobID, &t.Attempt, &t.MaxAttempts); err != nil {
		if infra.IsNoRows(err) {
			return Task{}, errNoTaskAvailable
		}
		return Task{}, err
	}
	return t, nil
}

func (q *Queue) deliver(ctx context.Context, task Task, handler Handler, giveUp GiveUpFunc) {
	log := q.logger.With().Str("task_id", task.ID).Str("job_id", task.JobID).Int("attempt", task.Attempt).Logger()
	log.Info().Msg("taskqueue: delivering task")

	err := handler(ctx, task)
	if err == nil {
		if _, execErr := q.runner.Exec(ctx, sqlinline.QCompleteTask, task.ID); execErr != nil {
			log.Error().Err(execErr).Msg("taskqueue: complete failed")
		}
		return
	}

	if task.Attempt >= task.MaxAttempts {
		log.Error().Err(err).Msg("taskqueue: attempts exhausted, burying task")
		if giveUp != nil {
			giveUp(ctx, task, err)
		}
		if _, execErr := q.runner.Exec(ctx, sqlinline.QBuryTask, task.ID); execErr != nil {
			log.Error().Err(execErr).Msg("taskqueue: bury failed")
		}
		return
	}

	delay := BackoffFor(task.Attempt, q.opts.BackoffBase, q.opts.BackoffCap)
	log.Warn().Err(err).Dur("retry_in", delay).Msg("taskqueue: scheduling retry")
	if _, execErr := q.runner.Exec(ctx, sqlinline.QRetryTask, task.ID, int(delay.Seconds())); execErr != nil {
		log.Error().Err(execErr).Msg("taskqueue: retry scheduling failed")
	}
}

// BackoffFor returns the exponential re-delivery delay after the given
// attempt: base doubled per prior attempt, capped.
func BackoffFor(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
