package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"conductor/internal/models"
)

// ChatCompleter is the minimal OpenAI client surface the executor needs.
// Kept small so tests can supply a mock.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIExecutor validates task payloads through an OpenAI chat completion.
type OpenAIExecutor struct {
	client         ChatCompleter
	model          string
	promptTemplate string
}

// NewOpenAIExecutor creates an OpenAI-backed executor. A missing API key is a
// construction error: jobs submitted without a working collaborator must fail
// before any task runs.
func NewOpenAIExecutor(apiKey, model, promptTemplate string) (*OpenAIExecutor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided (set provider.openai_api_key or OPENAI_API_KEY)")
	}
	if promptTemplate == "" {
		promptTemplate = DefaultPromptTemplate
	}

	log.Infof("OpenAI executor initialized with model %s", model)
	return &OpenAIExecutor{
		client:         openai.NewClient(apiKey),
		model:          model,
		promptTemplate: promptTemplate,
	}, nil
}

// NewOpenAIExecutorWithClient builds an executor around an existing client.
func NewOpenAIExecutorWithClient(client ChatCompleter, model, promptTemplate string) *OpenAIExecutor {
	if promptTemplate == "" {
		promptTemplate = DefaultPromptTemplate
	}
	return &OpenAIExecutor{client: client, model: model, promptTemplate: promptTemplate}
}

func (e *OpenAIExecutor) Execute(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
	if e.client == nil {
		return nil, fmt.Errorf("OpenAI executor is not initialized")
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: renderPrompt(e.promptTemplate, task),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

// renderPrompt substitutes the task fields into the prompt template.
func renderPrompt(template string, task models.TaskInput) string {
	prompt := strings.ReplaceAll(template, "{{ID}}", task.ID)
	prompt = strings.ReplaceAll(prompt, "{{PAYLOAD}}", string(task.Payload))
	return prompt
}

// parseVerdict checks that the model reply is a well-formed verdict and
// returns it in normalized form. A reply that does not parse is a task-fatal
// error: retrying won't make malformed JSON well-formed.
func parseVerdict(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var verdict Verdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse model response as JSON: %w\nResponse content: %s", err, content)
	}
	normalized, err := json.Marshal(verdict)
	if err != nil {
		return nil, fmt.Errorf("re-encode verdict: %w", err)
	}
	return normalized, nil
}

var _ TaskExecutor = (*OpenAIExecutor)(nil)
