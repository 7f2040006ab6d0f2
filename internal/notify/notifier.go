// Package notify posts job progress and terminal callbacks to the
// caller-supplied HTTP endpoint. A failing callback is logged and dropped:
// by the time a terminal callback fires, the job's outcome is already
// decided.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaqueue/internal/media"
)

const (
	userAgent          = "MediaQueue/1.0"
	defaultTimeout     = 10 * time.Second
	defaultMinInterval = 250 * time.Millisecond
)

// ProgressUpdate is one observer notification. Force bypasses coalescing for
// milestone messages; the final 100% always goes out regardless.
type ProgressUpdate struct {
	PostID       string
	CallbackURL  string
	Progress     float64
	Message      string
	Attempt      int
	CurrentMedia int
	TotalMedia   int
	Force        bool
}

// SuccessReport is the terminal success callback payload.
type SuccessReport struct {
	PostID      string
	CallbackURL string
	Results     []media.Result
	Attempt     int
}

// FailureReport is the terminal failure callback payload. Progress carries
// the post's max progress, never a regressed or inflated value.
type FailureReport struct {
	PostID      string
	CallbackURL string
	Err         string
	Message     string
	Progress    float64
	Attempt     int
}

// Notifier is the executor's capability for talking to the caller.
type Notifier interface {
	Progress(ctx context.Context, update ProgressUpdate)
	Success(ctx context.Context, report SuccessReport)
	Failure(ctx context.Context, report FailureReport)
}

// HTTPNotifier posts JSON callbacks, rate-limiting progress notifications
// per post so encoder status lines cannot flood the receiver.
type HTTPNotifier struct {
	client      *http.Client
	logger      *slog.Logger
	minInterval time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewHTTPNotifier builds a notifier with the given callback timeout.
func NewHTTPNotifier(timeout time.Duration, logger *slog.Logger) *HTTPNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPNotifier{
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		minInterval: defaultMinInterval,
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
	}
}

func (n *HTTPNotifier) Progress(ctx context.Context, update ProgressUpdate) {
	if strings.TrimSpace(update.CallbackURL) == "" {
		return
	}
	if !n.shouldSend(update) {
		return
	}
	payload := map[string]any{
		"postId":       update.PostID,
		"progress":     roundPct(update.Progress),
		"message":      update.Message,
		"attempt":      update.Attempt,
		"status":       "processing",
		"type":         "progress",
		"currentMedia": update.CurrentMedia,
		"totalMedia":   update.TotalMedia,
	}
	n.post(ctx, update.CallbackURL, update.PostID, payload)
}

func (n *HTTPNotifier) Success(ctx context.Context, report SuccessReport) {
	defer n.forget(report.PostID)
	if strings.TrimSpace(report.CallbackURL) == "" {
		return
	}
	results := report.Results
	if results == nil {
		results = []media.Result{}
	}
	payload := map[string]any{
		"postId":         report.PostID,
		"mediaResults":   results,
		"totalProcessed": len(results),
		"attempt":        report.Attempt,
		"status":         "success",
		"progress":       100,
		"message":        "Media processing completed successfully",
	}
	n.post(ctx, report.CallbackURL, report.PostID, payload)
}

func (n *HTTPNotifier) Failure(ctx context.Context, report FailureReport) {
	defer n.forget(report.PostID)
	if strings.TrimSpace(report.CallbackURL) == "" {
		return
	}
	message := report.Message
	if message == "" {
		message = "Media processing failed"
	}
	payload := map[string]any{
		"postId":   report.PostID,
		"error":    report.Err,
		"attempt":  report.Attempt,
		"status":   "failed",
		"progress": roundPct(report.Progress),
		"message":  message,
	}
	n.post(ctx, report.CallbackURL, report.PostID, payload)
}

// shouldSend applies the per-post rate limit. Forced updates and the final
// 100% always pass.
func (n *HTTPNotifier) shouldSend(update ProgressUpdate) bool {
	if update.Force || update.Progress >= 100 {
		n.touch(update.PostID)
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.lastSent[update.PostID]; ok && now.Sub(last) < n.minInterval {
		return false
	}
	n.lastSent[update.PostID] = now
	return true
}

func (n *HTTPNotifier) touch(postID string) {
	n.mu.Lock()
	n.lastSent[postID] = n.now()
	n.mu.Unlock()
}

func (n *HTTPNotifier) forget(postID string) {
	n.mu.Lock()
	delete(n.lastSent, postID)
	n.mu.Unlock()
}

func (n *HTTPNotifier) post(ctx context.Context, url, postID string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("encode callback payload failed", "post_id", postID, "error", err)
		return
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("create callback request failed", "post_id", postID, "error", err)
		return
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("X-Delivery-Id", uuid.NewString())

	response, err := n.client.Do(request)
	if err != nil {
		n.logger.Warn("callback delivery failed", "post_id", postID, "url", url, "error", err)
		return
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		n.logger.Warn("callback rejected", "post_id", postID, "url", url, "status", response.StatusCode)
	}
}

func roundPct(value float64) float64 {
	return math.Round(value*100) / 100
}
