package worker

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"mailgauge/internal/models"
	"mailgauge/internal/queue"
	"mailgauge/internal/store"
	"mailgauge/internal/throttle"
	"mailgauge/internal/validator"
)

// Runner drains the batch queue: one task in, one verdict persisted.
type Runner struct {
	queue   *queue.Queue
	store   *store.Store
	engine  *validator.Engine
	limiter *throttle.Limiter
	log     zerolog.Logger

	// TaskTimeout bounds one validation, politeness wait included.
	TaskTimeout time.Duration
}

func New(q *queue.Queue, st *store.Store, eng *validator.Engine, limiter *throttle.Limiter, log zerolog.Logger) *Runner {
	return &Runner{
		queue:       q,
		store:       st,
		engine:      eng,
		limiter:     limiter,
		log:         log.With().Str("component", "worker").Logger(),
		TaskTimeout: 60 * time.Second,
	}
}

// Run blocks, processing tasks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info().Msg("worker started, waiting for tasks")

	for {
		task, err := r.queue.Dequeue(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info().Msg("worker stopping")
				return
			}
			r.log.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		r.process(ctx, task)
	}
}

func (r *Runner) process(ctx context.Context, task queue.Task) {
	defer func() {
		if rec := recover(); rec != nil {
			sentry.CurrentHub().Recover(rec)
			r.log.Error().Interface("panic", rec).Str("email", task.Email).Msg("task panicked")
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, r.TaskTimeout)
	defer cancel()

	// Space probes against the same receiving domain; batches are
	// usually clustered on a handful of providers.
	if domain := domainOf(task.Email); domain != "" && r.limiter != nil {
		if err := r.limiter.Wait(taskCtx, domain); err != nil {
			r.log.Warn().Err(err).Str("email", task.Email).Msg("politeness wait cut short")
		}
	}

	verdict, err := r.engine.Validate(taskCtx, models.ValidationRequest{
		Email:          task.Email,
		AggressiveMode: task.Aggressive,
	})
	if err != nil {
		// Record the failure so the job's progress still advances.
		r.log.Error().Err(err).Str("email", task.Email).Msg("validation errored")
		verdict = models.ValidationVerdict{
			Email:     task.Email,
			Result:    models.ResultUnknown,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
	}

	// The save uses the runner's context: a task deadline that expired
	// mid-probe must not also lose the row.
	if err := r.store.SaveVerdict(ctx, task.JobID, verdict); err != nil {
		r.log.Error().Err(err).Str("email", task.Email).Str("job_id", task.JobID).Msg("save failed")
		return
	}

	r.log.Info().Str("email", task.Email).Str("result", string(verdict.Result)).
		Int("confidence", verdict.Confidence).Msg("task processed")
}

// domainOf extracts the lowercased domain for the politeness gate.
func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return strings.ToLower(email[i+1:])
	}
	return ""
}
