package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/protrackhq/protrack/internal/providers"
	"github.com/protrackhq/protrack/internal/store"
)

// Tool is one capability the agent can invoke during a conversation.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, userID string, args map[string]interface{}) (string, error)
}

// Registry holds the tools available to the agent loop.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns provider tool schemas in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// RecordProteinTool records a consumption entry for the current user.
type RecordProteinTool struct {
	entries store.EntryStore
}

func NewRecordProteinTool(entries store.EntryStore) *RecordProteinTool {
	return &RecordProteinTool{entries: entries}
}

func (t *RecordProteinTool) Name() string { return "record_protein" }
func (t *RecordProteinTool) Description() string {
	return "Record a protein consumption entry for the user, in grams"
}
func (t *RecordProteinTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"grams": map[string]interface{}{
				"type":        "number",
				"description": "Amount of protein consumed, in grams",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Short description of the food (e.g. 'grilled chicken breast')",
			},
		},
		"required": []string{"grams"},
	}
}

func (t *RecordProteinTool) Execute(ctx context.Context, userID string, args map[string]interface{}) (string, error) {
	grams, ok := args["grams"].(float64)
	if !ok || grams <= 0 {
		return "", fmt.Errorf("record_protein: grams must be a positive number")
	}
	description, _ := args["description"].(string)

	entry := &store.ProteinEntry{
		UserID:      userID,
		Grams:       grams,
		Description: description,
		ConsumedAt:  time.Now(),
	}
	if err := t.entries.Create(ctx, entry); err != nil {
		return "", fmt.Errorf("record_protein: %w", err)
	}

	return fmt.Sprintf(`{"entry_id":%q,"grams":%g}`, entry.ID, grams), nil
}

// QueryProgressTool reports the user's consumption since the start of today.
type QueryProgressTool struct {
	entries store.EntryStore
	now     func() time.Time
}

func NewQueryProgressTool(entries store.EntryStore) *QueryProgressTool {
	return &QueryProgressTool{entries: entries, now: time.Now}
}

func (t *QueryProgressTool) Name() string { return "query_progress" }
func (t *QueryProgressTool) Description() string {
	return "List today's protein entries and the running total in grams"
}
func (t *QueryProgressTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *QueryProgressTool) Execute(ctx context.Context, userID string, _ map[string]interface{}) (string, error) {
	now := t.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	entries, err := t.entries.ListSince(ctx, userID, startOfDay)
	if err != nil {
		return "", fmt.Errorf("query_progress: %w", err)
	}

	total := 0.0
	type entryView struct {
		ID          string  `json:"id"`
		Grams       float64 `json:"grams"`
		Description string  `json:"description,omitempty"`
		ConsumedAt  string  `json:"consumed_at"`
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		total += e.Grams
		views = append(views, entryView{
			ID:          e.ID,
			Grams:       e.Grams,
			Description: e.Description,
			ConsumedAt:  e.ConsumedAt.Format(time.RFC3339),
		})
	}

	out, err := json.Marshal(map[string]interface{}{
		"total_grams": total,
		"entries":     views,
	})
	if err != nil {
		return "", fmt.Errorf("query_progress: marshal: %w", err)
	}
	return string(out), nil
}

// DeleteEntryTool removes one of the user's own entries.
type DeleteEntryTool struct {
	entries store.EntryStore
}

func NewDeleteEntryTool(entries store.EntryStore) *DeleteEntryTool {
	return &DeleteEntryTool{entries: entries}
}

func (t *DeleteEntryTool) Name() string { return "delete_entry" }
func (t *DeleteEntryTool) Description() string {
	return "Delete one of the user's protein entries by id"
}
func (t *DeleteEntryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"entry_id": map[string]interface{}{
				"type":        "string",
				"description": "ID of the entry to delete (from query_progress)",
			},
		},
		"required": []string{"entry_id"},
	}
}

func (t *DeleteEntryTool) Execute(ctx context.Context, userID string, args map[string]interface{}) (string, error) {
	entryID, _ := args["entry_id"].(string)
	if entryID == "" {
		return "", fmt.Errorf("delete_entry: entry_id is required")
	}
	if err := t.entries.Delete(ctx, userID, entryID); err != nil {
		return "", fmt.Errorf("delete_entry: %w", err)
	}
	return `{"deleted":true}`, nil
}
