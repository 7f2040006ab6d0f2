// Package queue is the worker's broker transport: Redis Streams with
// consumer groups. Messages stay pending until the worker acknowledges them,
// so a crashed worker leaves its jobs in the group's pending list; this
// package never reclaims pending entries itself. Retries are re-published
// with an incremented attempt ordinal.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Stream names consumed by the worker.
const (
	StreamMediaProcessing = "media-processing"
	StreamCleanup         = "cleanup-failed-media"

	GroupMediaWorkers   = "media-workers"
	GroupCleanupWorkers = "cleanup-workers"
)

// Message is one delivery from the stream. Attempt is 1-based and grows each
// time the worker re-publishes the payload after a failure.
type Message struct {
	ID      string
	Attempt int
	Payload []byte
}

// Config tunes one stream consumer.
type Config struct {
	Stream       string
	Group        string
	Logger       *slog.Logger
	BlockTimeout time.Duration
	Buffer       int
}

// Queue publishes to and consumes from one stream.
type Queue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	blockTimeout time.Duration
	logger       *slog.Logger
	buffer       int

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

// New binds a Queue to an existing Redis client.
func New(client redis.UniversalClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		return nil, errors.New("group name is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		client:       client,
		stream:       stream,
		group:        group,
		blockTimeout: cfg.BlockTimeout,
		logger:       logger,
		buffer:       cfg.Buffer,
	}, nil
}

// Publish appends a first-attempt payload to the stream.
func (q *Queue) Publish(ctx context.Context, payload []byte) error {
	return q.publish(ctx, payload, 1)
}

func (q *Queue) publish(ctx context.Context, payload []byte, attempt int) error {
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	if attempt < 1 {
		attempt = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	_, err := q.client.Do(ctx, "XADD", q.stream, "*",
		"payload", string(payload),
		"attempt", strconv.Itoa(attempt),
	).Result()
	return err
}

// Ack removes a delivery from the pending set.
func (q *Queue) Ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := q.client.Do(ctx, "XACK", q.stream, q.group, id).Result(); err != nil {
		q.logger.Warn("queue ack failed", "stream", q.stream, "id", id, "error", err)
	}
}

// Retry acknowledges the delivery and re-publishes its payload with the next
// attempt ordinal.
func (q *Queue) Retry(ctx context.Context, msg Message) error {
	q.Ack(ctx, msg.ID)
	return q.publish(ctx, msg.Payload, msg.Attempt+1)
}

// Requeue acknowledges the delivery and re-publishes it with the same
// attempt ordinal; used when a job was cancelled rather than failed.
func (q *Queue) Requeue(ctx context.Context, msg Message) {
	q.Ack(ctx, msg.ID)
	if err := q.publish(ctx, msg.Payload, msg.Attempt); err != nil {
		q.logger.Warn("queue requeue failed", "stream", q.stream, "id", msg.ID, "error", err)
	}
}

// Depth reports stream length and the group's pending count, for the health
// endpoint.
func (q *Queue) Depth(ctx context.Context) (length int64, pending int64, err error) {
	if err := q.ensureGroup(ctx); err != nil {
		return 0, 0, err
	}
	lengthReply, err := q.client.Do(ctx, "XLEN", q.stream).Result()
	if err != nil {
		return 0, 0, err
	}
	length, err = asInt(lengthReply)
	if err != nil {
		return 0, 0, err
	}
	pendingReply, err := q.client.Do(ctx, "XPENDING", q.stream, q.group).Result()
	if err != nil {
		if isNilReply(err) {
			return length, 0, nil
		}
		return length, 0, err
	}
	if parts, ok := pendingReply.([]interface{}); ok && len(parts) > 0 {
		if value, err := asInt(parts[0]); err == nil {
			pending = value
		}
	}
	return length, pending, nil
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	_, err := q.client.Do(ctx, "XGROUP", "CREATE", q.stream, q.group, "$", "MKSTREAM").Result()
	if err != nil {
		if isBusyGroup(err) {
			q.groupReady.Store(true)
			return nil
		}
		return err
	}
	q.groupReady.Store(true)
	return nil
}

// Subscription delivers stream messages to a channel until closed. Messages
// are NOT acknowledged on delivery; the consumer settles each one with Ack,
// Retry, or Requeue once processing finishes.
type Subscription struct {
	queue    *Queue
	consumer string
	cancel   context.CancelFunc

	once sync.Once
	ch   chan Message
}

// Subscribe starts a consumer-group reader with a unique consumer ID.
func (q *Queue) Subscribe() *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		queue:    q,
		consumer: "worker-" + uuid.NewString(),
		cancel:   cancel,
		ch:       make(chan Message, q.buffer),
	}
	go sub.run(ctx)
	return sub
}

// Messages returns the delivery channel. It is closed when the subscription
// stops.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Close stops the reader and closes the delivery channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.ch)
	})
}

func (s *Subscription) run(ctx context.Context) {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.queue.ensureGroup(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.queue.logger.Warn("queue group ensure failed", "stream", s.queue.stream, "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		entries, err := s.read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.queue.logger.Warn("queue read failed", "stream", s.queue.stream, "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, entry := range entries {
			select {
			case s.ch <- entry:
			case <-ctx.Done():
				// Undelivered entries stay in the group's pending list; reads
				// use ">" and do not serve them again.
				return
			}
		}
	}
}

func (s *Subscription) read(ctx context.Context) ([]Message, error) {
	blockMs := int(math.Max(float64(s.queue.blockTimeout.Milliseconds()), 1))
	reply, err := s.queue.client.Do(
		ctx,
		"XREADGROUP",
		"GROUP",
		s.queue.group,
		s.consumer,
		"COUNT",
		"8",
		"BLOCK",
		strconv.Itoa(blockMs),
		"STREAMS",
		s.queue.stream,
		">",
	).Result()
	if err != nil {
		if isNilReply(err) {
			return nil, nil
		}
		return nil, err
	}
	streams, ok := reply.([]interface{})
	if !ok || len(streams) == 0 {
		return nil, nil
	}
	var messages []Message
	for _, stream := range streams {
		parts, ok := stream.([]interface{})
		if !ok || len(parts) != 2 {
			continue
		}
		records, _ := parts[1].([]interface{})
		for _, record := range records {
			tuple, ok := record.([]interface{})
			if !ok || len(tuple) != 2 {
				continue
			}
			id, _ := asString(tuple[0])
			fields, _ := tuple[1].([]interface{})
			msg := decodeFields(fields)
			if id == "" || len(msg.Payload) == 0 {
				continue
			}
			msg.ID = id
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func decodeFields(fields []interface{}) Message {
	msg := Message{Attempt: 1}
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := asString(fields[i])
		value, _ := asString(fields[i+1])
		switch strings.ToLower(key) {
		case "payload":
			msg.Payload = []byte(value)
		case "attempt":
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				msg.Attempt = parsed
			}
		}
	}
	return msg
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func asInt(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	case nil:
		return 0, errors.New("nil reply")
	default:
		return 0, fmt.Errorf("unexpected redis reply type %T", v)
	}
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "busygroup")
}

func isNilReply(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nil reply") || strings.Contains(msg, "timeout")
}
