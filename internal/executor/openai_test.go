package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/models"
)

// mockChatCompleter records the last request and returns a canned response.
type mockChatCompleter struct {
	lastRequest openai.ChatCompletionRequest
	content     string
	err         error
}

func (m *mockChatCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.lastRequest = req
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func sampleTask() models.TaskInput {
	return models.TaskInput{
		ID:      "item-42",
		Payload: json.RawMessage(`{"title":"hello"}`),
	}
}

func TestOpenAIExecutorParsesVerdict(t *testing.T) {
	mock := &mockChatCompleter{content: `{"valid": true, "summary": "looks fine"}`}
	e := NewOpenAIExecutorWithClient(mock, "gpt-4o-mini", "")

	payload, err := e.Execute(context.Background(), sampleTask())
	require.NoError(t, err)

	var verdict Verdict
	require.NoError(t, json.Unmarshal(payload, &verdict))
	assert.True(t, verdict.Valid)
	assert.Equal(t, "looks fine", verdict.Summary)

	assert.Equal(t, "gpt-4o-mini", mock.lastRequest.Model)
}

func TestOpenAIExecutorStripsCodeFences(t *testing.T) {
	mock := &mockChatCompleter{content: "```json\n{\"valid\": false, \"issues\": [\"missing title\"]}\n```"}
	e := NewOpenAIExecutorWithClient(mock, "gpt-4o-mini", "")

	payload, err := e.Execute(context.Background(), sampleTask())
	require.NoError(t, err)

	var verdict Verdict
	require.NoError(t, json.Unmarshal(payload, &verdict))
	assert.False(t, verdict.Valid)
	assert.Equal(t, []string{"missing title"}, verdict.Issues)
}

func TestOpenAIExecutorRejectsMalformedReply(t *testing.T) {
	mock := &mockChatCompleter{content: "I think the item looks valid to me!"}
	e := NewOpenAIExecutorWithClient(mock, "gpt-4o-mini", "")

	_, err := e.Execute(context.Background(), sampleTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse model response as JSON")
}

func TestOpenAIExecutorPropagatesAPIError(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
	mock := &mockChatCompleter{err: apiErr}
	e := NewOpenAIExecutorWithClient(mock, "gpt-4o-mini", "")

	_, err := e.Execute(context.Background(), sampleTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai chat completion failed")

	var got *openai.APIError
	assert.ErrorAs(t, err, &got, "status code must survive wrapping for retry classification")
}

func TestOpenAIExecutorNoChoices(t *testing.T) {
	e := NewOpenAIExecutorWithClient(noChoicesCompleter{}, "gpt-4o-mini", "")

	_, err := e.Execute(context.Background(), sampleTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

type noChoicesCompleter struct{}

func (noChoicesCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

func TestOpenAIExecutorRendersPromptTemplate(t *testing.T) {
	mock := &mockChatCompleter{content: `{"valid": true}`}
	e := NewOpenAIExecutorWithClient(mock, "gpt-4o-mini", "Check {{ID}}: {{PAYLOAD}}")

	_, err := e.Execute(context.Background(), sampleTask())
	require.NoError(t, err)

	require.Len(t, mock.lastRequest.Messages, 1)
	assert.Equal(t, `Check item-42: {"title":"hello"}`, mock.lastRequest.Messages[0].Content)
}

func TestNewOpenAIExecutorRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewOpenAIExecutor("", "gpt-4o-mini", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
