package progress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"mediaqueue/internal/media"
)

// DefaultMaxProgress is reported for posts with no stored record: the band
// below it belongs to the caller's own pre-processing stages.
const DefaultMaxProgress = 30

// RecordTTL bounds every key; it slides forward on each write so records
// survive as long as a post keeps being retried.
const RecordTTL = 24 * time.Hour

// Snapshot is the last-written progress state, kept for observers only.
type Snapshot struct {
	Percentage   float64   `json:"percentage"`
	Message      string    `json:"message"`
	Status       string    `json:"status"`
	CurrentMedia int       `json:"currentMedia"`
	TotalMedia   int       `json:"totalMedia"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store is the per-post resume log. It is a hint cache, not a source of
// truth: every read degrades to a safe default and every write failure is
// logged and dropped, because re-execution must converge regardless.
type Store interface {
	MaxProgress(ctx context.Context, postID string) float64
	SetMaxProgress(ctx context.Context, postID string, value float64)
	Completed(ctx context.Context, postID string) []string
	MarkCompleted(ctx context.Context, postID, mediaID string)
	SetResult(ctx context.Context, postID, mediaID string, result media.Result)
	Result(ctx context.Context, postID, mediaID string) media.Result
	AllResults(ctx context.Context, postID string) []media.Result
	SnapshotProgress(ctx context.Context, postID string, snapshot Snapshot)
}

// RedisStore keeps progress records in Redis string keys with sliding TTLs.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore over the provided client.
func NewRedisStore(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger, ttl: RecordTTL}
}

func maxProgressKey(postID string) string { return "maxProgress:" + postID }
func progressKey(postID string) string    { return "progress:" + postID }
func completedKey(postID string) string   { return "completed:" + postID }
func resultKey(postID, mediaID string) string {
	return "mediaResult:" + postID + ":" + mediaID
}

func (s *RedisStore) MaxProgress(ctx context.Context, postID string) float64 {
	raw, err := s.client.Get(ctx, maxProgressKey(postID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("progress store read failed", "key", maxProgressKey(postID), "error", err)
		}
		return DefaultMaxProgress
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Warn("progress store holds malformed max", "post_id", postID, "value", raw)
		return DefaultMaxProgress
	}
	return value
}

func (s *RedisStore) SetMaxProgress(ctx context.Context, postID string, value float64) {
	raw := strconv.FormatFloat(value, 'f', -1, 64)
	if err := s.client.Set(ctx, maxProgressKey(postID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("progress store write failed", "key", maxProgressKey(postID), "error", err)
	}
}

func (s *RedisStore) Completed(ctx context.Context, postID string) []string {
	raw, err := s.client.Get(ctx, completedKey(postID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("progress store read failed", "key", completedKey(postID), "error", err)
		}
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Warn("progress store holds malformed completed set", "post_id", postID, "error", err)
		return nil
	}
	return ids
}

func (s *RedisStore) MarkCompleted(ctx context.Context, postID, mediaID string) {
	ids := s.Completed(ctx, postID)
	for _, id := range ids {
		if id == mediaID {
			s.refresh(ctx, completedKey(postID))
			return
		}
	}
	ids = append(ids, mediaID)
	raw, err := json.Marshal(ids)
	if err != nil {
		s.logger.Warn("encode completed set failed", "post_id", postID, "error", err)
		return
	}
	if err := s.client.Set(ctx, completedKey(postID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("progress store write failed", "key", completedKey(postID), "error", err)
	}
}

func (s *RedisStore) SetResult(ctx context.Context, postID, mediaID string, result media.Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("encode media result failed", "post_id", postID, "media_id", mediaID, "error", err)
		return
	}
	if err := s.client.Set(ctx, resultKey(postID, mediaID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("progress store write failed", "key", resultKey(postID, mediaID), "error", err)
	}
}

func (s *RedisStore) Result(ctx context.Context, postID, mediaID string) media.Result {
	raw, err := s.client.Get(ctx, resultKey(postID, mediaID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("progress store read failed", "key", resultKey(postID, mediaID), "error", err)
		}
		return nil
	}
	result, err := media.DecodeResult([]byte(raw))
	if err != nil {
		s.logger.Warn("progress store holds malformed result", "post_id", postID, "media_id", mediaID, "error", err)
		return nil
	}
	return result
}

// AllResults returns cached results ordered by completion.
func (s *RedisStore) AllResults(ctx context.Context, postID string) []media.Result {
	ids := s.Completed(ctx, postID)
	results := make([]media.Result, 0, len(ids))
	for _, id := range ids {
		if result := s.Result(ctx, postID, id); result != nil {
			results = append(results, result)
		}
	}
	return results
}

func (s *RedisStore) SnapshotProgress(ctx context.Context, postID string, snapshot Snapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn("encode progress snapshot failed", "post_id", postID, "error", err)
		return
	}
	if err := s.client.Set(ctx, progressKey(postID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("progress store write failed", "key", progressKey(postID), "error", err)
	}
}

func (s *RedisStore) refresh(ctx context.Context, key string) {
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Warn("progress store ttl refresh failed", "key", key, "error", err)
	}
}
