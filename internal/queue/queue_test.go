package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeBroker records every stream/zset command so tests can assert on the
// queue's failure routing without a live Redis.
type fakeBroker struct {
	adds    []*redis.XAddArgs
	acks    []string
	zadds   []redis.Z
	zaddKey string
	due     []string
	claimed []redis.XMessage

	addErr   error
	ackErr   error
	claimErr error
}

func (f *fakeBroker) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.adds = append(f.adds, a)
	return redis.NewStringResult("1-1", f.addErr)
}

func (f *fakeBroker) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.acks = append(f.acks, ids...)
	return redis.NewIntResult(int64(len(ids)), f.ackErr)
}

func (f *fakeBroker) XReadGroup(_ context.Context, _ *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
}

func (f *fakeBroker) XAutoClaim(ctx context.Context, _ *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	cmd := redis.NewXAutoClaimCmd(ctx)
	if f.claimErr != nil {
		cmd.SetErr(f.claimErr)
		return cmd
	}
	msgs := f.claimed
	f.claimed = nil
	cmd.SetVal(msgs, "0-0")
	return cmd
}

func (f *fakeBroker) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.zaddKey = key
	f.zadds = append(f.zadds, members...)
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeBroker) ZRem(_ context.Context, _ string, members ...interface{}) *redis.IntCmd {
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeBroker) ZRangeByScore(_ context.Context, _ string, _ *redis.ZRangeBy) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(f.due, nil)
}

func newTestQueue(b *fakeBroker) *Queue {
	return &Queue{
		broker:      b,
		stream:      "jobs:stream",
		group:       "jobs:cg",
		retrySet:    "jobs:retry",
		dlqStream:   "jobs:dlq",
		maxAttempts: 3,
	}
}

func streamMessage(t *testing.T, env Envelope) redis.XMessage {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return redis.XMessage{ID: "1-1", Values: map[string]interface{}{"job": string(raw)}}
}

func TestProcessMessage_SuccessOnlyAcks(t *testing.T) {
	b := &fakeBroker{}
	q := newTestQueue(b)
	msg := streamMessage(t, Envelope{ID: "j1", Payload: []byte(`{}`), MaxAttempts: 3})

	q.processMessage(context.Background(), "c1", msg, func(context.Context, Envelope) error {
		return nil
	})

	if len(b.acks) != 1 || b.acks[0] != "1-1" {
		t.Errorf("acks = %v, want the stream entry acked once", b.acks)
	}
	if len(b.zadds) != 0 || len(b.adds) != 0 {
		t.Errorf("success must not touch retry set or DLQ: zadds=%v adds=%v", b.zadds, b.adds)
	}
}

func TestProcessMessage_HandlerErrorSchedulesRetry(t *testing.T) {
	b := &fakeBroker{}
	q := newTestQueue(b)
	msg := streamMessage(t, Envelope{ID: "j1", Payload: []byte(`{}`), Attempt: 0, MaxAttempts: 3})

	q.processMessage(context.Background(), "c1", msg, func(context.Context, Envelope) error {
		return errors.New("resolver down")
	})

	if len(b.zadds) != 1 {
		t.Fatalf("zadds = %d, want one retry member", len(b.zadds))
	}
	if b.zaddKey != "jobs:retry" {
		t.Errorf("retry key = %q", b.zaddKey)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(b.zadds[0].Member.(string)), &env); err != nil {
		t.Fatal(err)
	}
	if env.Attempt != 1 {
		t.Errorf("attempt = %d, want incremented to 1", env.Attempt)
	}
	if got := time.Unix(int64(b.zadds[0].Score), 0); got.Before(time.Now()) {
		t.Errorf("retry scored at %v, want a future ready-time", got)
	}
	if len(b.adds) != 0 {
		t.Errorf("attempts remain, nothing should reach the DLQ: %v", b.adds)
	}
	if len(b.acks) != 1 {
		t.Errorf("acks = %v, entry must still be acked", b.acks)
	}
}

func TestProcessMessage_ExhaustedAttemptsDeadLetter(t *testing.T) {
	b := &fakeBroker{}
	q := newTestQueue(b)
	msg := streamMessage(t, Envelope{ID: "j1", Payload: []byte(`{}`), Attempt: 2, MaxAttempts: 3})

	q.processMessage(context.Background(), "c1", msg, func(context.Context, Envelope) error {
		return errors.New("still failing")
	})

	if len(b.adds) != 1 || b.adds[0].Stream != "jobs:dlq" {
		t.Fatalf("adds = %+v, want one XAdd to the DLQ stream", b.adds)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(b.adds[0].Values.(map[string]interface{})["job"].(string)), &env); err != nil {
		t.Fatal(err)
	}
	if env.Attempt != 3 {
		t.Errorf("DLQ envelope attempt = %d, want 3", env.Attempt)
	}
	if len(b.zadds) != 0 {
		t.Errorf("exhausted job must not be rescheduled: %v", b.zadds)
	}
	if len(b.acks) != 1 {
		t.Errorf("acks = %v, entry must still be acked", b.acks)
	}
}

// A job already pulled off the stream finishes even when shutdown has
// cancelled the consumer's context: the handler runs under a live context
// and the outcome (retry scheduling, ack) is still recorded.
func TestProcessMessage_FinishesAfterShutdownSignal(t *testing.T) {
	b := &fakeBroker{}
	q := newTestQueue(b)
	msg := streamMessage(t, Envelope{ID: "j1", Payload: []byte(`{}`), Attempt: 0, MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the shutdown moment: signal arrived mid-job

	handlerCtxErr := errors.New("not called")
	q.processMessage(ctx, "c1", msg, func(jobCtx context.Context, _ Envelope) error {
		handlerCtxErr = jobCtx.Err()
		return errors.New("transient failure")
	})

	if handlerCtxErr != nil {
		t.Errorf("handler context err = %v, in-flight work must not run under the cancelled context", handlerCtxErr)
	}
	if len(b.zadds) != 1 {
		t.Errorf("zadds = %d, failure outcome must still be recorded during drain", len(b.zadds))
	}
	if len(b.acks) != 1 {
		t.Errorf("acks = %v, entry must still be acked during drain", b.acks)
	}
}

func TestReclaimPending_ReEnqueuesStaleEntries(t *testing.T) {
	raw, _ := json.Marshal(Envelope{ID: "j9", Payload: []byte(`{}`), MaxAttempts: 3})
	b := &fakeBroker{claimed: []redis.XMessage{
		{ID: "7-0", Values: map[string]interface{}{"job": string(raw)}},
	}}
	q := newTestQueue(b)

	q.reclaimPending(context.Background())

	if len(b.adds) != 1 || b.adds[0].Stream != "jobs:stream" {
		t.Fatalf("adds = %+v, want the stale job back on the main stream", b.adds)
	}
	if got := b.adds[0].Values.(map[string]interface{})["job"]; got != string(raw) {
		t.Errorf("re-enqueued job = %v, want the original envelope", got)
	}
	if len(b.acks) != 1 || b.acks[0] != "7-0" {
		t.Errorf("acks = %v, claimed entry must be acked after re-enqueue", b.acks)
	}
}

func TestReclaimPending_KeepsEntryWhenReAddFails(t *testing.T) {
	raw, _ := json.Marshal(Envelope{ID: "j9", MaxAttempts: 3})
	b := &fakeBroker{
		claimed: []redis.XMessage{{ID: "7-0", Values: map[string]interface{}{"job": string(raw)}}},
		addErr:  errors.New("redis down"),
	}
	q := newTestQueue(b)

	q.reclaimPending(context.Background())

	if len(b.acks) != 0 {
		t.Errorf("acks = %v, entry must stay pending when re-enqueue fails", b.acks)
	}
}

func TestRetryDelay(t *testing.T) {
	base := time.Second

	for attempt := 1; attempt <= 4; attempt++ {
		d := RetryDelay(base, attempt)
		min := base * (1 << attempt)
		max := min + base
		if d < min || d > max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, min, max)
		}
	}

	// Backoff grows: the floor of attempt n+1 exceeds the ceiling of attempt n.
	for attempt := 1; attempt < 4; attempt++ {
		ceil := base*(1<<attempt) + base
		floor := base * (1 << (attempt + 1))
		if floor < ceil {
			t.Errorf("attempt %d: backoff floor %v below previous ceiling %v", attempt+1, floor, ceil)
		}
	}

	if d := RetryDelay(0, 2); d != 0 {
		t.Errorf("zero base delay = %v, want 0 without panicking", d)
	}
}

func TestEnvelopePayloadIsOpaque(t *testing.T) {
	payload := json.RawMessage(`{"event":"messages.upsert","data":{"nested":{"deep":true}}}`)
	env := Envelope{ID: "j1", Payload: payload, MaxAttempts: 5, CreatedAt: 1700000000}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	var back Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if string(back.Payload) != string(payload) {
		t.Errorf("payload altered in transit: %s", back.Payload)
	}
	if back.MaxAttempts != 5 || back.ID != "j1" {
		t.Errorf("envelope fields lost: %+v", back)
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("BUSYGROUP error should be tolerated")
	}
	if isBusyGroup(errors.New("connection refused")) {
		t.Error("other errors are not BUSYGROUP")
	}
	if isBusyGroup(nil) {
		t.Error("nil is not BUSYGROUP")
	}
}
