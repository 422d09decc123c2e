package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestOpenAIGenerate_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("  Hello World \n")}
	client := &OpenAIClient{chat: mock, model: "test-model", logger: nopLogger()}
	out, err := client.Generate(context.Background(), Request{Prompt: "user prompt", Temperature: 0.4, JSON: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params) != 1 {
		t.Fatalf("expected one call, got %d", len(mock.params))
	}
	p := mock.params[0]
	if string(p.Model) != "test-model" {
		t.Errorf("model = %q", p.Model)
	}
	if p.ResponseFormat.OfJSONObject == nil {
		t.Error("expected JSON response format")
	}
	if len(p.Messages) != 1 {
		t.Errorf("expected a single user message, got %d", len(p.Messages))
	}
}

func TestOpenAIGenerate_ServiceError(t *testing.T) {
	client := &OpenAIClient{chat: &mockChatService{err: errors.New("service failure")}, logger: nopLogger()}
	_, err := client.Generate(context.Background(), Request{Prompt: "usr"})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestOpenAIGenerate_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &OpenAIClient{chat: &mockChatService{resp: mockResp}, logger: nopLogger()}
	_, err := client.Generate(context.Background(), Request{Prompt: "usr"})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestOpenAIGenerate_EmptyContent(t *testing.T) {
	client := &OpenAIClient{chat: &mockChatService{resp: completion("   ")}, logger: nopLogger()}
	_, err := client.Generate(context.Background(), Request{Prompt: "usr"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}
}

func TestNewOpenAIClient_NoKey(t *testing.T) {
	_, err := NewOpenAIClient()
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewOpenAIClient_WithKey(t *testing.T) {
	cli, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL("http://localhost:9999/v1"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Fatal("expected client instance, got nil")
	}
	if cli.model != DefaultOpenAIModel {
		t.Errorf("expected default model, got %q", cli.model)
	}
}
