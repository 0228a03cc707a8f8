package ai

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"
)

type mockCompleter struct {
	mu        sync.Mutex
	responses []openai.ChatCompletionResponse
	errors    []error
	calls     []openai.ChatCompletionRequest
}

func (m *mockCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.calls)
	m.calls = append(m.calls, req)
	if idx >= len(m.responses) {
		return openai.ChatCompletionResponse{}, nil
	}
	return m.responses[idx], m.errors[idx]
}

func (m *mockCompleter) add(content string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = append(m.responses, openai.ChatCompletionResponse{
		Model: "mock-model",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	})
	m.errors = append(m.errors, err)
}
