package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisionExtractor_JSONReply(t *testing.T) {
	mock := &mockCompleter{}
	mock.add("```json\n{\"text\": \"x = 42\", \"confidence\": 0.93}\n```", nil)

	ex := NewVisionExtractor(mock, "vision-model")
	out, err := ex.Extract(context.Background(), ExtractRequest{Role: "subject", Format: "png", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "x = 42", out.Text)
	assert.InDelta(t, 0.93, out.Confidence, 1e-9)
	assert.Equal(t, "mock-model", out.Model)

	require.Len(t, mock.calls, 1)
	call := mock.calls[0]
	assert.Equal(t, "vision-model", call.Model)
	parts := call.Messages[1].MultiContent
	require.Len(t, parts, 2)
	require.NotNil(t, parts[1].ImageURL)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestVisionExtractor_PlainReply(t *testing.T) {
	mock := &mockCompleter{}
	mock.add("The derivative is 2x", nil)

	out, err := NewVisionExtractor(mock, "m").Extract(context.Background(), ExtractRequest{Format: "jpeg", Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "The derivative is 2x", out.Text)
	assert.Zero(t, out.Confidence)
}

func TestVisionExtractor_Errors(t *testing.T) {
	upstream := errors.New("boom")

	mock := &mockCompleter{}
	mock.add("", upstream)
	_, err := NewVisionExtractor(mock, "m").Extract(context.Background(), ExtractRequest{Format: "png", Data: []byte{1}})
	assert.ErrorIs(t, err, upstream)

	mock = &mockCompleter{}
	mock.add(`{"text": "  ", "confidence": 1}`, nil)
	_, err = NewVisionExtractor(mock, "m").Extract(context.Background(), ExtractRequest{Format: "png", Data: []byte{1}})
	assert.ErrorIs(t, err, ErrNoText)

	_, err = NewVisionExtractor(&mockCompleter{}, "m").Extract(context.Background(), ExtractRequest{Format: "png"})
	assert.Error(t, err)
}

func TestRubricScorer(t *testing.T) {
	mock := &mockCompleter{}
	mock.add(`{"score": 7.5, "feedbackSummary": "mostly right", "suggestedMessage": "Nice work",
		"rubric": [{"criterion": "method", "pointsAwarded": 5, "pointsPossible": 5, "justification": "ok"}],
		"confidence": 1.7}`, nil)

	out, err := NewRubricScorer(mock, "grader").Score(context.Background(), ScoreRequest{
		SubjectText: "a", ReferenceText: "b", MaxScore: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 7.5, out.Score)
	assert.Equal(t, float64(10), out.MaxScore)
	assert.Equal(t, "mostly right", out.FeedbackSummary)
	assert.Equal(t, "Nice work", out.SuggestedMessage)
	require.Len(t, out.Rubric, 1)
	assert.Equal(t, "method", out.Rubric[0].Criterion)
	assert.Equal(t, float64(1), out.Confidence)

	require.Len(t, mock.calls, 1)
	require.NotNil(t, mock.calls[0].ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, mock.calls[0].ResponseFormat.Type)
	assert.Contains(t, mock.calls[0].Messages[1].Content, "Student answer:\na")
}

func TestRubricScorer_MalformedReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "no json", reply: "great answer"},
		{name: "no score", reply: `{"feedbackSummary": "x"}`},
		{name: "broken json", reply: `{"score": }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockCompleter{}
			mock.add(tt.reply, nil)
			_, err := NewRubricScorer(mock, "m").Score(context.Background(), ScoreRequest{MaxScore: 10})
			assert.Error(t, err)
		})
	}
}

func TestClientWaitsOnLimiter(t *testing.T) {
	mock := &mockCompleter{}
	mock.add("a", nil)
	mock.add("b", nil)
	client := newClient(mock, 1, 1)

	_, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{})
	assert.Error(t, err)
}
