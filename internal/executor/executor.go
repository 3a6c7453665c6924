package executor

import (
	"context"
	"encoding/json"

	"conductor/internal/models"
)

// TaskExecutor is the external collaborator contract: one unit of domain
// work. Implementations must be safe to call concurrently from multiple
// workers; the core passes inputs explicitly and shares nothing else with
// them. Executors are unaware of concurrency, retries and persistence.
type TaskExecutor interface {
	Execute(ctx context.Context, task models.TaskInput) (json.RawMessage, error)
}

// Func adapts a plain function to the TaskExecutor interface.
type Func func(ctx context.Context, task models.TaskInput) (json.RawMessage, error)

func (f Func) Execute(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
	return f(ctx, task)
}

// Verdict is the normalized result an LLM-backed executor extracts from the
// model reply.
type Verdict struct {
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues,omitempty"`
	Summary string   `json:"summary,omitempty"`
}

// DefaultPromptTemplate is used when no template is configured. {{ID}} and
// {{PAYLOAD}} are replaced with the task's fields.
const DefaultPromptTemplate = `You are a content validation assistant.
Review the following item and reply with a single JSON object of the form
{"valid": bool, "issues": [string...], "summary": string} and nothing else.

Item ID: {{ID}}
Item payload:
{{PAYLOAD}}`
