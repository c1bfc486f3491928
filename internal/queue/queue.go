// Package queue is a durable at-least-once job queue on Redis Streams.
// Jobs are JSON envelopes on a stream consumed through a consumer group;
// failed jobs go to a retry sorted set with exponential backoff and, once
// attempts are exhausted, to a dead-letter stream for inspection.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// processTimeout bounds one job's handler plus outcome recording, so a
// detached job cannot hold up shutdown forever.
const processTimeout = 5 * time.Minute

// Envelope is the unit of work persisted on the broker.
type Envelope struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   int64           `json:"created_at"`
}

// Handler processes one delivered job. A nil return acknowledges the job;
// an error sends it through the retry policy.
type Handler func(ctx context.Context, job Envelope) error

// Config connects the queue to its Redis broker.
type Config struct {
	Addr        string
	DB          int
	Stream      string
	Group       string
	MaxAttempts int
}

// streamBroker is the slice of the Redis API the queue uses after startup.
// *redis.Client satisfies it; tests substitute a fake.
type streamBroker interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
}

// Queue wraps a Redis client with stream, retry-set and DLQ key layout.
// Safe for concurrent use; Enqueue and Consume share the same connection pool.
type Queue struct {
	client      *redis.Client
	broker      streamBroker
	stream      string
	group       string
	retrySet    string
	dlqStream   string
	maxAttempts int
}

// New connects to Redis and ensures the consumer group exists.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	if err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "$").Err(); err != nil && !isBusyGroup(err) {
		client.Close()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	base := strings.TrimSuffix(cfg.Stream, ":stream")
	return &Queue{
		client:      client,
		broker:      client,
		stream:      cfg.Stream,
		group:       cfg.Group,
		retrySet:    base + ":retry",
		dlqStream:   base + ":dlq",
		maxAttempts: maxAttempts,
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func (q *Queue) Close() error { return q.client.Close() }

// Enqueue persists a job wrapping the given payload and returns its id.
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage) (string, error) {
	env := Envelope{
		ID:          uuid.NewString(),
		Payload:     payload,
		Attempt:     0,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   time.Now().Unix(),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal job envelope: %w", err)
	}

	if err := q.broker.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"job": string(raw)},
	}).Err(); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	return env.ID, nil
}

// Consume runs concurrency consumer goroutines plus the retry manager until
// ctx is cancelled. Cancellation stops the blocking reads only; jobs already
// pulled off the stream finish their handler and outcome recording before
// Consume returns (graceful drain).
func (q *Queue) Consume(ctx context.Context, consumerName string, concurrency int, h Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < concurrency; i++ {
		name := fmt.Sprintf("%s-%d", consumerName, i)
		g.Go(func() error {
			return q.consumeLoop(gctx, name, h)
		})
	}
	g.Go(func() error {
		return q.runRetryManager(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (q *Queue) consumeLoop(ctx context.Context, consumer string, h Handler) error {
	slog.Info("queue consumer started", "consumer", consumer, "stream", q.stream)

	for {
		if ctx.Err() != nil {
			slog.Info("queue consumer stopping", "consumer", consumer)
			return ctx.Err()
		}

		entries, err := q.broker.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Block:    5 * time.Second,
			Count:    1,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue // block timeout, nothing pending
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("queue read failed", "consumer", consumer, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range entries {
			for _, msg := range stream.Messages {
				q.processMessage(ctx, consumer, msg, h)
			}
		}
	}
}

// processMessage runs the handler and records the outcome. The stream entry
// is always acked; redelivery happens through the retry set and the stale
// pending-entry sweep, not through in-band reclaim.
//
// A job pulled off the stream is processed to completion even when ctx is
// already cancelled: shutdown stops the blocking reads, not in-flight work,
// so the handler and the ack/retry/DLQ bookkeeping run detached from the
// consumer's cancellation, bounded by their own deadline.
func (q *Queue) processMessage(ctx context.Context, consumer string, msg redis.XMessage, h Handler) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	defer func() {
		if err := q.broker.XAck(jobCtx, q.stream, q.group, msg.ID).Err(); err != nil {
			slog.Error("queue ack failed", "consumer", consumer, "message_id", msg.ID, "error", err)
		}
	}()

	raw, ok := msg.Values["job"].(string)
	if !ok {
		slog.Warn("queue message missing job field", "consumer", consumer, "message_id", msg.ID)
		return
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		slog.Warn("queue message has invalid envelope", "consumer", consumer, "message_id", msg.ID, "error", err)
		return
	}

	err := h(jobCtx, env)
	if err == nil {
		slog.Debug("job completed", "job_id", env.ID, "attempt", env.Attempt)
		return
	}

	env.Attempt++
	if env.Attempt < env.MaxAttempts {
		delay := RetryDelay(time.Second, env.Attempt)
		if rerr := q.scheduleRetry(jobCtx, env, delay); rerr != nil {
			slog.Error("job retry scheduling failed", "job_id", env.ID, "error", rerr)
			return
		}
		slog.Warn("job failed, retry scheduled",
			"job_id", env.ID, "attempt", env.Attempt, "max_attempts", env.MaxAttempts,
			"delay", delay, "error", err)
		return
	}

	if derr := q.deadLetter(jobCtx, env); derr != nil {
		slog.Error("job dead-letter failed", "job_id", env.ID, "error", derr)
		return
	}
	slog.Error("job failed permanently, moved to DLQ",
		"job_id", env.ID, "attempts", env.Attempt, "error", err)
}

func (q *Queue) scheduleRetry(ctx context.Context, env Envelope, delay time.Duration) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}
	return q.broker.ZAdd(ctx, q.retrySet, redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: string(raw),
	}).Err()
}

func (q *Queue) deadLetter(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal DLQ envelope: %w", err)
	}
	return q.broker.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqStream,
		Values: map[string]interface{}{"job": string(raw)},
	}).Err()
}
