package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var ErrNoText = errors.New("no text found in image")

const extractionPrompt = `Transcribe all handwritten or printed text in the image exactly as written, including math notation.
Reply with a JSON object: {"text": "<transcription>", "confidence": <0.0-1.0>}.`

type ExtractRequest struct {
	// Role is passed to the model as context only.
	Role   string
	Format string
	Data   []byte
}

type Extraction struct {
	Text       string
	Confidence float64
	Model      string
}

// VisionExtractor transcribes answer screenshots with a vision-capable chat
// model.
type VisionExtractor struct {
	client ChatCompleter
	model  string
}

func NewVisionExtractor(client ChatCompleter, model string) *VisionExtractor {
	return &VisionExtractor{client: client, model: model}
}

func (e *VisionExtractor) Extract(ctx context.Context, req ExtractRequest) (*Extraction, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("extract text failed: empty image")
	}
	dataURL := fmt.Sprintf("data:image/%s;base64,%s", req.Format, base64.StdEncoding.EncodeToString(req.Data))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "This is the " + req.Role + " answer."},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract text failed: %w", err)
	}
	content, err := firstContent(resp)
	if err != nil {
		return nil, fmt.Errorf("extract text failed: %w", err)
	}

	out := &Extraction{Model: modelName(resp.Model, e.model)}
	var reply struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	switch err := decodeReply(content, &reply); {
	case err == nil:
		out.Text = strings.TrimSpace(reply.Text)
		out.Confidence = clamp01(reply.Confidence)
	case errors.Is(err, errNoJSONObject):
		// Plain transcription without the envelope.
		out.Text = content
	default:
		return nil, fmt.Errorf("extract text failed: %w", err)
	}
	if out.Text == "" {
		return nil, ErrNoText
	}
	return out, nil
}

func modelName(reported, requested string) string {
	if reported != "" {
		return reported
	}
	return requested
}
