package worker

import (
	"context"
	"errors"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

const (
	// readErrorBackoff is the pause after a failed stream read.
	readErrorBackoff = 2 * time.Second

	// DefaultPromoteInterval is how often delayed retries are moved onto their streams.
	DefaultPromoteInterval = 5 * time.Second
)

// Reader reads and acknowledges stage tasks.
type Reader interface {
	Initialize(ctx context.Context) error
	Read(ctx context.Context) ([]*queue.ConsumedTask, error)
	Acknowledge(ctx context.Context, task *queue.ConsumedTask) error
}

// Promoter moves delayed tasks whose time has come onto their streams.
type Promoter interface {
	PromoteDue(ctx context.Context) (int, error)
}

// Runner feeds tasks from the stage streams into the pool. A task is acknowledged once its
// handler returns without error; otherwise it stays pending and is reclaimed later.
type Runner struct {
	reader          Reader
	pool            *Pool
	promoter        Promoter
	promoteInterval time.Duration
	log             infralogger.Logger
}

// NewRunner creates a runner. promoter may be nil.
func NewRunner(reader Reader, pool *Pool, promoter Promoter, log infralogger.Logger) *Runner {
	return &Runner{
		reader:          reader,
		pool:            pool,
		promoter:        promoter,
		promoteInterval: DefaultPromoteInterval,
		log:             log,
	}
}

// Run consumes until ctx is cancelled, then drains the pool.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.reader.Initialize(ctx); err != nil {
		return err
	}
	if err := r.pool.Start(); err != nil {
		return err
	}

	if r.promoter != nil {
		go r.promoteLoop(ctx)
	}

	r.log.Info("Task runner started", infralogger.Int("pool_size", r.pool.Size()))

	for ctx.Err() == nil {
		tasks, err := r.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.log.Warn("Failed to read tasks", infralogger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		for _, task := range tasks {
			if submitErr := r.pool.Submit(ctx, task, r.ackFunc(ctx, task)); submitErr != nil {
				if errors.Is(submitErr, ErrPoolStopping) || ctx.Err() != nil {
					break
				}
				r.log.Error("Failed to submit task",
					infralogger.String("task", task.Task.Key()),
					infralogger.Error(submitErr),
				)
			}
		}
	}

	r.log.Info("Task runner draining")
	return r.pool.Stop(context.WithoutCancel(ctx))
}

func (r *Runner) ackFunc(ctx context.Context, task *queue.ConsumedTask) func(error) {
	return func(handleErr error) {
		if handleErr != nil {
			return
		}
		if err := r.reader.Acknowledge(context.WithoutCancel(ctx), task); err != nil {
			r.log.Warn("Failed to acknowledge task",
				infralogger.String("message_id", task.MessageID),
				infralogger.String("task", task.Task.Key()),
				infralogger.Error(err),
			)
		}
	}
}

func (r *Runner) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(r.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.promoter.PromoteDue(ctx)
			if err != nil {
				r.log.Warn("Failed to promote delayed tasks", infralogger.Error(err))
				continue
			}
			if n > 0 {
				r.log.Debug("Promoted delayed tasks", infralogger.Int("count", n))
			}
		}
	}
}
