// Package agent runs the nutrition assistant conversation loop: one
// provider round trip per iteration, dispatching requested tool calls
// against the entry store until the model produces a final reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/protrackhq/protrack/internal/providers"
	"github.com/protrackhq/protrack/internal/store"
)

const defaultMaxToolIterations = 10

// Agent answers one user message, using tools to read and write the
// user's consumption history.
type Agent struct {
	provider          providers.Provider
	users             store.UserStore
	entries           store.EntryStore
	registry          *Registry
	model             string
	maxTokens         int
	maxToolIterations int
	now               func() time.Time
}

// Options tune the agent loop.
type Options struct {
	Model             string
	MaxTokens         int
	MaxToolIterations int
}

// New creates an agent with the standard nutrition tool set registered.
func New(provider providers.Provider, users store.UserStore, entries store.EntryStore, opts Options) *Agent {
	registry := NewRegistry()
	registry.Register(NewRecordProteinTool(entries))
	registry.Register(NewQueryProgressTool(entries))
	registry.Register(NewDeleteEntryTool(entries))

	maxIter := opts.MaxToolIterations
	if maxIter <= 0 {
		maxIter = defaultMaxToolIterations
	}

	return &Agent{
		provider:          provider,
		users:             users,
		entries:           entries,
		registry:          registry,
		model:             opts.Model,
		maxTokens:         opts.MaxTokens,
		maxToolIterations: maxIter,
		now:               time.Now,
	}
}

// Handle processes one inbound message for userID and returns the reply text.
func (a *Agent) Handle(ctx context.Context, userID, text string) (string, error) {
	user, err := a.users.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("agent: load user: %w", err)
	}

	system, err := a.buildSystemPrompt(ctx, user)
	if err != nil {
		return "", err
	}

	messages := []providers.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	}

	for iteration := 0; iteration < a.maxToolIterations; iteration++ {
		slog.Debug("agent iteration", "user", userID, "iteration", iteration, "messages", len(messages))

		resp, err := a.provider.Chat(ctx, providers.ChatRequest{
			Messages:  messages,
			Tools:     a.registry.Definitions(),
			Model:     a.model,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("agent: provider call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Content), nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call", "user", userID, "tool", tc.Name, "args_len", len(argsJSON))

			result := a.executeTool(ctx, user.ID, tc)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", fmt.Errorf("agent: tool iteration limit reached (%d)", a.maxToolIterations)
}

func (a *Agent) executeTool(ctx context.Context, userID string, tc providers.ToolCall) string {
	tool, ok := a.registry.Get(tc.Name)
	if !ok {
		slog.Warn("unknown tool requested", "tool", tc.Name)
		return fmt.Sprintf("error: unknown tool %q", tc.Name)
	}

	result, err := tool.Execute(ctx, userID, tc.Arguments)
	if err != nil {
		slog.Warn("tool error", "tool", tc.Name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return result
}

func (a *Agent) buildSystemPrompt(ctx context.Context, user *store.User) (string, error) {
	now := a.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	consumed, err := a.entries.SumGramsSince(ctx, user.ID, startOfDay)
	if err != nil {
		return "", fmt.Errorf("agent: load today's total: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a personal nutrition assistant focused on protein intake tracking.\n")
	b.WriteString("Interpret the user's meal descriptions, estimate protein content when not stated, ")
	b.WriteString("and keep their log accurate with the available tools.\n")
	b.WriteString("Reply in the language the user writes in. Keep replies short; this is a chat conversation.\n\n")

	fmt.Fprintf(&b, "User: %s\n", user.Name)
	if user.WeightKg != nil {
		fmt.Fprintf(&b, "Body weight: %.1f kg\n", *user.WeightKg)
	}
	if user.DailyTargetGrams != nil {
		fmt.Fprintf(&b, "Daily protein target: %.0f g\n", *user.DailyTargetGrams)
	}
	fmt.Fprintf(&b, "Consumed so far today: %.1f g\n", consumed)
	fmt.Fprintf(&b, "Current time: %s\n", now.Format(time.RFC3339))

	return b.String(), nil
}
