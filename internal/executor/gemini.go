package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"conductor/internal/models"
)

// GeminiExecutor validates task payloads through the Google Gemini API.
type GeminiExecutor struct {
	client         *genai.Client
	model          string
	promptTemplate string
}

// NewGeminiExecutor creates a Gemini-backed executor. As with the OpenAI
// variant, a missing API key or client failure is a construction error.
func NewGeminiExecutor(ctx context.Context, apiKey, model, promptTemplate string) (*GeminiExecutor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key not provided (set provider.google_api_key or GEMINI_API_KEY)")
	}
	if promptTemplate == "" {
		promptTemplate = DefaultPromptTemplate
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	log.Infof("Gemini executor initialized with model %s", model)
	return &GeminiExecutor{
		client:         client,
		model:          model,
		promptTemplate: promptTemplate,
	}, nil
}

func (e *GeminiExecutor) Execute(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
	if e.client == nil {
		return nil, fmt.Errorf("Gemini executor is not initialized")
	}

	m := e.client.GenerativeModel(e.model)
	resp, err := m.GenerateContent(ctx, genai.Text(renderPrompt(e.promptTemplate, task)))
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("Gemini API returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return parseVerdict(sb.String())
}

// Close releases the underlying API client.
func (e *GeminiExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

var _ TaskExecutor = (*GeminiExecutor)(nil)
