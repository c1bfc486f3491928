package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// reclaimMinIdle is how long a pending entry may sit unacked before the
// sweep assumes its consumer crashed and re-enqueues the job.
const reclaimMinIdle = 5 * time.Minute

const reclaimInterval = 30 * time.Second

// RetryDelay returns the exponential backoff delay for the given attempt,
// with up to one base interval of jitter.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	delay := base * (1 << attempt)
	if base > 0 {
		delay += time.Duration(rand.Int63n(int64(base)))
	}
	return delay
}

// runRetryManager moves due jobs from the retry set back onto the stream and
// periodically sweeps the consumer group's pending entries for jobs orphaned
// by a crashed consumer. Only one instance needs to run per process;
// duplicates are harmless since ZRem and XAutoClaim decide which mover wins.
func (q *Queue) runRetryManager(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	reclaim := time.NewTicker(reclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaim.C:
			q.reclaimPending(ctx)
		case <-ticker.C:
			if err := q.moveDueRetries(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("retry manager scan failed", "error", err)
			}
		}
	}
}

func (q *Queue) moveDueRetries(ctx context.Context) error {
	now := time.Now().Unix()
	due, err := q.broker.ZRangeByScore(ctx, q.retrySet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprint(now),
		Count: 10,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for _, raw := range due {
		// Claim the member first so concurrent managers don't double-enqueue.
		removed, err := q.broker.ZRem(ctx, q.retrySet, raw).Result()
		if err != nil || removed == 0 {
			continue
		}

		if err := q.broker.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]interface{}{"job": raw},
		}).Err(); err != nil {
			slog.Error("retry re-enqueue failed", "error", err)
			// Put it back so the job is not lost.
			_ = q.broker.ZAdd(ctx, q.retrySet, redis.Z{
				Score:  float64(now),
				Member: raw,
			}).Err()
			continue
		}

		slog.Info("job re-enqueued for retry")
	}
	return nil
}

// reclaimPending claims entries that have sat in the pending-entries list
// longer than reclaimMinIdle (their consumer died between read and ack) and
// puts them back on the stream for normal delivery. An entry whose re-add
// fails stays claimed and is retried on the next sweep.
func (q *Queue) reclaimPending(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := q.broker.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: "reclaimer",
			MinIdle:  reclaimMinIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("pending-entry sweep failed", "error", err)
			}
			return
		}

		for _, msg := range msgs {
			raw, ok := msg.Values["job"].(string)
			if ok {
				if err := q.broker.XAdd(ctx, &redis.XAddArgs{
					Stream: q.stream,
					Values: map[string]interface{}{"job": raw},
				}).Err(); err != nil {
					slog.Error("stale job re-enqueue failed", "message_id", msg.ID, "error", err)
					continue
				}
			}
			if err := q.broker.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil {
				slog.Error("stale job ack failed", "message_id", msg.ID, "error", err)
				continue
			}
			slog.Warn("stale pending job reclaimed and re-enqueued", "message_id", msg.ID)
		}

		if len(msgs) == 0 || next == "0-0" {
			return
		}
		start = next
	}
}
