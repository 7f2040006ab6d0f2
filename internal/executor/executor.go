// Package executor orchestrates one job: per-item download, transcode,
// upload, progress accounting that never regresses across attempts,
// completion memoisation, scratch hygiene, and the exactly-once terminal
// callback.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"mediaqueue/internal/media"
	"mediaqueue/internal/notify"
	"mediaqueue/internal/pipeline"
	"mediaqueue/internal/progress"
)

// BlobClient is the slice of the blob client the executor uses directly.
type BlobClient interface {
	SignedReadURL(key string, ttl time.Duration) (string, error)
	DownloadToFile(ctx context.Context, url, localPath string) error
}

// Pipelines is the per-item processing capability.
type Pipelines interface {
	ProcessImage(ctx context.Context, item media.ImageItem, inputPath, outDir, destPrefix string) (media.ImageResult, error)
	ProcessVideo(ctx context.Context, item media.VideoItem, inputPath, outDir, destPrefix string, onProgress pipeline.EncodeProgress) (media.VideoResult, error)
}

// Outcome is the terminal object returned to the broker on success.
type Outcome struct {
	PostID         string
	MediaResults   []media.Result
	TotalProcessed int
	Status         string
}

// Config wires an Executor.
type Config struct {
	Store         progress.Store
	Blobs         BlobClient
	Pipelines     Pipelines
	Notifier      notify.Notifier
	OutputRoot    string
	DownloadRoot  string
	SignedReadTTL time.Duration
	Logger        *slog.Logger
}

// Executor runs jobs. One Executor serves many jobs; per-job state lives on
// the stack of Execute.
type Executor struct {
	store         progress.Store
	blobs         BlobClient
	pipelines     Pipelines
	notifier      notify.Notifier
	outputRoot    string
	downloadRoot  string
	signedReadTTL time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New builds an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("progress store is required")
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("blob client is required")
	}
	if cfg.Pipelines == nil {
		return nil, fmt.Errorf("pipelines are required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if cfg.OutputRoot == "" || cfg.DownloadRoot == "" {
		return nil, fmt.Errorf("scratch roots are required")
	}
	if cfg.SignedReadTTL <= 0 {
		cfg.SignedReadTTL = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:         cfg.Store,
		blobs:         cfg.Blobs,
		pipelines:     cfg.Pipelines,
		notifier:      cfg.Notifier,
		outputRoot:    cfg.OutputRoot,
		downloadRoot:  cfg.DownloadRoot,
		signedReadTTL: cfg.SignedReadTTL,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// runState is the progress ledger of one attempt. The executor reserves the
// [30,100] band and splits 70 points evenly across items; each item's band
// is subdivided into download, encode, and completion shares.
type runState struct {
	job          media.Job
	perItem      float64
	itemProgress []float64
	results      []media.Result
	final        bool
	lastSnapshot time.Time
}

func (s *runState) calculated() float64 {
	if s.final {
		return 100
	}
	total := 30.0
	for _, p := range s.itemProgress {
		total += p
	}
	if total > 95 {
		total = 95
	}
	return total
}

const (
	downloadShare   = 0.1
	encodeShare     = 0.7
	successStatus   = "success"
	processingState = "processing"
	failedState     = "failed"

	// snapshotInterval rate-limits store snapshots the same way the
	// notifier rate-limits callbacks.
	snapshotInterval = 250 * time.Millisecond
)

// Execute runs one job attempt to its terminal state. Items already recorded
// as completed for the post are skipped and their cached results reused.
// On failure the terminal failure callback fires and the error is returned
// for the broker's retry policy; on cancellation no terminal callback fires.
func (e *Executor) Execute(ctx context.Context, job media.Job) (Outcome, error) {
	if err := job.Validate(); err != nil {
		return Outcome{}, err
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	logger := e.logger.With("post_id", job.PostID, "attempt", job.Attempt)

	n := len(job.Media)
	state := &runState{
		job:          job,
		perItem:      70.0 / float64(n),
		itemProgress: make([]float64, n),
		results:      make([]media.Result, n),
	}

	// The first report goes out before resume seeding, so a retried post
	// begins at the stored max rather than jumping mid-band.
	e.report(ctx, state, "Starting media processing", 0, true)

	// Resume: seed completed items with their full band and cached result.
	completed := make(map[string]struct{})
	for _, id := range e.store.Completed(ctx, job.PostID) {
		completed[id] = struct{}{}
	}
	for idx, item := range job.Media {
		if _, done := completed[item.ID()]; !done {
			continue
		}
		cached := e.store.Result(ctx, job.PostID, item.ID())
		if cached == nil {
			// Marked complete but the result cache is gone: redo the item.
			delete(completed, item.ID())
			continue
		}
		state.itemProgress[idx] = state.perItem
		state.results[idx] = cached
	}

	scratch := newScratch(e.outputRoot, e.downloadRoot, job.PostID, logger)
	logger.Info("job started", "media", n, "resumed", len(completed))

	for idx, item := range job.Media {
		message := fmt.Sprintf("Processing %d/%d: %s", idx+1, n, item.Filename())
		if _, done := completed[item.ID()]; done {
			// Zero-delta ping keeps observers alive without redoing work.
			e.report(ctx, state, message, idx+1, true)
			continue
		}
		if err := e.processItem(ctx, state, scratch, idx, message); err != nil {
			return Outcome{}, e.fail(ctx, state, scratch, logger, idx+1, err)
		}
	}

	e.report(ctx, state, "Uploading processed files...", n, true)
	scratch.purge()
	state.final = true
	e.report(ctx, state, "Finalizing...", n, true)

	results := make([]media.Result, 0, n)
	for _, result := range state.results {
		if result != nil {
			results = append(results, result)
		}
	}
	if job.CallbackURL != "" && len(results) > 0 {
		e.notifier.Success(ctx, notify.SuccessReport{
			PostID:      job.PostID,
			CallbackURL: job.CallbackURL,
			Results:     results,
			Attempt:     job.Attempt,
		})
	}
	logger.Info("job completed", "processed", len(results))
	return Outcome{
		PostID:         job.PostID,
		MediaResults:   results,
		TotalProcessed: len(results),
		Status:         successStatus,
	}, nil
}

func (e *Executor) processItem(ctx context.Context, state *runState, scratch *scratch, idx int, message string) error {
	item := state.job.Media[idx]
	e.report(ctx, state, message, idx+1, true)

	outDir, dlDir, err := scratch.itemDirs(item.ID())
	if err != nil {
		return err
	}

	key := state.job.S3Key + "original/" + item.Filename()
	signed, err := e.blobs.SignedReadURL(key, e.signedReadTTL)
	if err != nil {
		return fmt.Errorf("sign read %s: %w", key, err)
	}
	inputPath := filepath.Join(dlDir, item.Filename())
	if err := e.blobs.DownloadToFile(ctx, signed, inputPath); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	state.itemProgress[idx] = downloadShare * state.perItem
	e.report(ctx, state, message, idx+1, false)

	destPrefix := state.job.S3Key + "processed/"
	var result media.Result
	switch it := item.(type) {
	case media.VideoItem:
		bridge := func(completedRenditions, totalRenditions int, pct float64) {
			if totalRenditions <= 0 {
				return
			}
			fraction := (float64(completedRenditions) + pct/100) / float64(totalRenditions)
			if fraction > 1 {
				fraction = 1
			}
			state.itemProgress[idx] = state.perItem * (downloadShare + encodeShare*fraction)
			e.report(ctx, state, message, idx+1, false)
		}
		encoded, err := e.pipelines.ProcessVideo(ctx, it, inputPath, outDir, destPrefix, bridge)
		if err != nil {
			return err
		}
		result = encoded
	case media.ImageItem:
		processed, err := e.pipelines.ProcessImage(ctx, it, inputPath, outDir, destPrefix)
		if err != nil {
			return err
		}
		result = processed
	default:
		return fmt.Errorf("media %s: unsupported item type %T", item.ID(), item)
	}

	e.store.MarkCompleted(ctx, state.job.PostID, item.ID())
	e.store.SetResult(ctx, state.job.PostID, item.ID(), result)
	state.results[idx] = result
	state.itemProgress[idx] = state.perItem
	e.report(ctx, state, message, idx+1, true)
	return nil
}

// report applies the monotone write-guard and fans the value out to the
// callback and the progress snapshot. The reported value is the larger of
// the calculated percentage and the stored max, so observers never see
// progress move backwards, even across attempts.
func (e *Executor) report(ctx context.Context, state *runState, message string, current int, force bool) float64 {
	calculated := state.calculated()
	stored := e.store.MaxProgress(ctx, state.job.PostID)
	reported := stored
	if calculated > stored {
		e.store.SetMaxProgress(ctx, state.job.PostID, calculated)
		reported = calculated
	}
	e.notifier.Progress(ctx, notify.ProgressUpdate{
		PostID:       state.job.PostID,
		CallbackURL:  state.job.CallbackURL,
		Progress:     reported,
		Message:      message,
		Attempt:      state.job.Attempt,
		CurrentMedia: current,
		TotalMedia:   len(state.job.Media),
		Force:        force,
	})
	now := e.now()
	if force || calculated >= 100 || now.Sub(state.lastSnapshot) >= snapshotInterval {
		state.lastSnapshot = now
		e.store.SnapshotProgress(ctx, state.job.PostID, progress.Snapshot{
			Percentage:   reported,
			Message:      message,
			Status:       processingState,
			CurrentMedia: current,
			TotalMedia:   len(state.job.Media),
			UpdatedAt:    now.UTC(),
		})
	}
	return reported
}

// fail settles a failed attempt: snapshot at the unchanged max, purge
// scratch, emit the terminal failure callback, and hand the cause back for
// the broker's retry policy. Cancellation purges scratch but emits nothing:
// the job reverts to the broker's redelivery semantics.
func (e *Executor) fail(ctx context.Context, state *runState, scratch *scratch, logger *slog.Logger, current int, cause error) error {
	scratch.purge()
	if ctx.Err() != nil {
		logger.Info("job cancelled", "error", cause)
		return cause
	}
	maxPct := e.store.MaxProgress(ctx, state.job.PostID)
	e.store.SnapshotProgress(ctx, state.job.PostID, progress.Snapshot{
		Percentage:   maxPct,
		Message:      cause.Error(),
		Status:       failedState,
		CurrentMedia: current,
		TotalMedia:   len(state.job.Media),
		UpdatedAt:    e.now().UTC(),
	})
	e.notifier.Failure(ctx, notify.FailureReport{
		PostID:      state.job.PostID,
		CallbackURL: state.job.CallbackURL,
		Err:         cause.Error(),
		Message:     "Media processing failed",
		Progress:    maxPct,
		Attempt:     state.job.Attempt,
	})
	logger.Error("job failed", "error", cause)
	return cause
}
