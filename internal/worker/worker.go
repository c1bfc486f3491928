// Package worker consumes webhook jobs and runs each one through the
// message pipeline: unwrap, filter, resolve the sender, invoke the agent,
// deliver the reply.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/protrackhq/protrack/internal/queue"
	"github.com/protrackhq/protrack/internal/store"
)

// UserResolver maps a canonical phone address to a registered user.
type UserResolver interface {
	ResolveByPhone(ctx context.Context, phone string) (*store.User, error)
}

// AgentInvoker produces a reply for one inbound message.
type AgentInvoker interface {
	Handle(ctx context.Context, userID, text string) (string, error)
}

// ReplySender dispatches a text reply to the originating channel.
type ReplySender interface {
	Send(ctx context.Context, number, text string) error
}

// Worker processes webhook jobs. All collaborators are injected; the worker
// holds no per-job state, so redelivered jobs classify identically.
type Worker struct {
	resolver UserResolver
	agent    AgentInvoker
	sender   ReplySender
}

func New(resolver UserResolver, agent AgentInvoker, sender ReplySender) *Worker {
	return &Worker{resolver: resolver, agent: agent, sender: sender}
}

// Process handles one delivered job. A nil return acknowledges the job; an
// error sends it through the queue's retry policy. Events with nothing
// actionable (wrong kind, missing sender or text, unregistered sender) are
// deliberate no-op successes, never retried.
func (w *Worker) Process(ctx context.Context, job queue.Envelope) error {
	log := slog.With("job_id", job.ID, "attempt", job.Attempt)

	event, err := ParseEvent(job.Payload)
	if err != nil {
		// Malformed payloads never become parseable; retrying is pointless.
		log.Warn("dropping unparseable webhook payload", "error", err)
		return nil
	}

	if event.Kind != EventMessagesUpsert {
		log.Debug("ignoring event", "kind", event.Kind)
		return nil
	}

	if event.RemoteJID == "" {
		log.Warn("message event has no remote jid, dropping")
		return nil
	}
	number := NormalizeChannelID(event.RemoteJID)
	log = log.With("number", number)

	user, err := w.resolver.ResolveByPhone(ctx, number)
	if errors.Is(err, store.ErrUserNotFound) {
		// Unregistered sender: acknowledge so the queue doesn't retry forever,
		// but keep it visible for operators watching for directory gaps.
		log.Warn("message from unregistered number, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	log = log.With("user_id", user.ID)

	if event.Text == "" {
		log.Debug("message has no text body, ignoring")
		return nil
	}

	reply, err := w.agent.Handle(ctx, user.ID, event.Text)
	if err != nil {
		return fmt.Errorf("invoke agent: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Warn("agent produced empty reply, nothing to deliver")
		return nil
	}

	// The agent's work (records written, reply computed) is already done.
	// Failing the job here would re-invoke the agent on retry, so a delivery
	// failure is logged with full context and the job still succeeds.
	if err := w.sender.Send(ctx, number, reply); err != nil {
		log.Error("reply delivery failed", "error", err)
		return nil
	}

	log.Info("message processed and reply delivered")
	return nil
}
