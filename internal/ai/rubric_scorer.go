package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"gradeflow/internal/model"
)

const scoringPrompt = `You grade a student's answer against the reference answer.
Score from 0 to %g. Reply with a JSON object:
{"score": <number>, "feedbackSummary": "<string>", "suggestedMessage": "<message addressed to the student>",
 "rubric": [{"criterion": "<string>", "pointsAwarded": <number>, "pointsPossible": <number>, "justification": "<string>"}],
 "confidence": <0.0-1.0>}`

type ScoreRequest struct {
	SubjectText   string
	ReferenceText string
	MaxScore      float64
}

type ScoreResult struct {
	Score            float64
	MaxScore         float64
	FeedbackSummary  string
	SuggestedMessage string
	Rubric           []model.RubricItem
	Confidence       float64
	Model            string
}

// RubricScorer compares two transcriptions with a chat model.
type RubricScorer struct {
	client ChatCompleter
	model  string
}

func NewRubricScorer(client ChatCompleter, model string) *RubricScorer {
	return &RubricScorer{client: client, model: model}
}

func (s *RubricScorer) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	user := fmt.Sprintf("Reference answer:\n%s\n\nStudent answer:\n%s",
		strings.TrimSpace(req.ReferenceText), strings.TrimSpace(req.SubjectText))

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(scoringPrompt, req.MaxScore)},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("score answer failed: %w", err)
	}
	content, err := firstContent(resp)
	if err != nil {
		return nil, fmt.Errorf("score answer failed: %w", err)
	}

	var reply struct {
		Score            *float64           `json:"score"`
		FeedbackSummary  string             `json:"feedbackSummary"`
		SuggestedMessage string             `json:"suggestedMessage"`
		Rubric           []model.RubricItem `json:"rubric"`
		Confidence       float64            `json:"confidence"`
	}
	if err := decodeReply(content, &reply); err != nil {
		return nil, fmt.Errorf("score answer failed: %w", err)
	}
	if reply.Score == nil {
		return nil, fmt.Errorf("score answer failed: reply has no score")
	}

	return &ScoreResult{
		Score:            *reply.Score,
		MaxScore:         req.MaxScore,
		FeedbackSummary:  strings.TrimSpace(reply.FeedbackSummary),
		SuggestedMessage: strings.TrimSpace(reply.SuggestedMessage),
		Rubric:           reply.Rubric,
		Confidence:       clamp01(reply.Confidence),
		Model:            modelName(resp.Model, s.model),
	}, nil
}
