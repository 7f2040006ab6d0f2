// Package worker binds the broker to the job executor: it pulls jobs off the
// stream, honours the concurrency limit, settles each delivery (ack, retry,
// or requeue), and drains in-flight jobs on shutdown.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mediaqueue/internal/archive"
	"mediaqueue/internal/executor"
	"mediaqueue/internal/media"
	"mediaqueue/internal/queue"
)

// JobRunner executes one job attempt; satisfied by executor.Executor.
type JobRunner interface {
	Execute(ctx context.Context, job media.Job) (executor.Outcome, error)
}

// Config wires a Host.
type Config struct {
	Jobs        *queue.Queue
	Cleanup     *queue.Queue
	Runner      JobRunner
	Archive     archive.Archive
	Concurrency int
	MaxAttempts int
	Logger      *slog.Logger
}

const (
	defaultMaxAttempts = 3
	settleTimeout      = 5 * time.Second
)

// Host runs the consume loop.
type Host struct {
	jobs        *queue.Queue
	cleanup     *queue.Queue
	runner      JobRunner
	archive     archive.Archive
	concurrency int64
	maxAttempts int
	logger      *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New builds a Host.
func New(cfg Config) (*Host, error) {
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Archive == nil {
		cfg.Archive = archive.NoopArchive{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		jobs:        cfg.Jobs,
		cleanup:     cfg.Cleanup,
		runner:      cfg.Runner,
		archive:     cfg.Archive,
		concurrency: int64(cfg.Concurrency),
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
	}, nil
}

// Run consumes jobs until the context is cancelled, then waits for in-flight
// jobs to settle.
func (h *Host) Run(ctx context.Context) error {
	sub := h.jobs.Subscribe()
	defer sub.Close()

	if h.cleanup != nil {
		cleanupSub := h.cleanup.Subscribe()
		defer cleanupSub.Close()
		go h.runCleanup(ctx, cleanupSub)
	}

	h.logger.Info("worker started", "concurrency", h.concurrency)
	for {
		select {
		case <-ctx.Done():
			h.drain()
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				h.drain()
				return nil
			}
			if err := h.sem.Acquire(ctx, 1); err != nil {
				settleCtx, cancel := settleContext()
				h.jobs.Requeue(settleCtx, msg)
				cancel()
				h.drain()
				return nil
			}
			h.wg.Add(1)
			go func(msg queue.Message) {
				defer h.wg.Done()
				defer h.sem.Release(1)
				h.handle(ctx, msg)
			}(msg)
		}
	}
}

func (h *Host) drain() {
	h.logger.Info("worker draining")
	h.wg.Wait()
	h.logger.Info("worker stopped")
}

func (h *Host) handle(ctx context.Context, msg queue.Message) {
	var job media.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		h.logger.Error("drop malformed job payload", "delivery_id", msg.ID, "error", err)
		settleCtx, cancel := settleContext()
		defer cancel()
		h.jobs.Ack(settleCtx, msg.ID)
		return
	}
	job.Attempt = msg.Attempt

	outcome, err := h.runner.Execute(ctx, job)

	// The settle context starts after the job finishes; it only bounds the
	// queue writes below.
	settleCtx, cancel := settleContext()
	defer cancel()
	switch {
	case err == nil:
		h.jobs.Ack(settleCtx, msg.ID)
		h.archive.Record(settleCtx, archive.Entry{
			PostID:  job.PostID,
			UserID:  job.UserID,
			Attempt: job.Attempt,
			Status:  outcome.Status,
			Results: outcome.MediaResults,
		})
	case ctx.Err() != nil:
		// Shutdown or broker cancellation: give the job back untouched.
		h.jobs.Requeue(settleCtx, msg)
		h.logger.Info("job returned to queue", "post_id", job.PostID, "attempt", job.Attempt)
	case msg.Attempt >= h.maxAttempts:
		h.jobs.Ack(settleCtx, msg.ID)
		h.archive.Record(settleCtx, archive.Entry{
			PostID:  job.PostID,
			UserID:  job.UserID,
			Attempt: job.Attempt,
			Status:  "failed",
			Error:   err.Error(),
		})
		h.logger.Error("job failed permanently", "post_id", job.PostID, "attempt", job.Attempt, "error", err)
	default:
		if retryErr := h.jobs.Retry(settleCtx, msg); retryErr != nil {
			h.logger.Error("job retry publish failed", "post_id", job.PostID, "error", retryErr)
		}
		h.logger.Warn("job attempt failed", "post_id", job.PostID, "attempt", job.Attempt, "error", err)
	}
}

// runCleanup serves the cleanup stream at single concurrency. Deletion of
// original keys is intentionally disabled; the consumer enumerates and logs
// what a deletion pass would touch, then acknowledges.
func (h *Host) runCleanup(ctx context.Context, sub *queue.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			h.handleCleanup(msg)
		}
	}
}

func (h *Host) handleCleanup(msg queue.Message) {
	settleCtx, cancel := settleContext()
	defer cancel()
	defer h.cleanup.Ack(settleCtx, msg.ID)

	var job media.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		h.logger.Error("drop malformed cleanup payload", "delivery_id", msg.ID, "error", err)
		return
	}
	for _, item := range job.Media {
		key := job.S3Key + "original/" + item.Filename()
		h.logger.Info("cleanup requested for original", "post_id", job.PostID, "key", key)
	}
	h.logger.Info("cleaned up failed media", "post_id", job.PostID, "media", len(job.Media))
}

// settleContext bounds post-processing queue writes so shutdown can never
// hang on a dead broker.
func settleContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), settleTimeout)
}
