package model

import "time"

type PhaseStatus string

const (
	PhaseProcessing PhaseStatus = "processing"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

const (
	StepSessionCreated     = "session_created"
	StepScreenshotReceived = "screenshot_received"
	StepOCRComplete        = "ocr_complete"
	StepOCRFailed          = "ocr_failed"
	StepGradingStarted     = "grading_started"
	StepGradingComplete    = "grading_complete"
	StepGradingFailed      = "grading_failed"
	StepSessionExpired     = "session_expired"
)

// ProcessingStep is one append-only audit entry.
type ProcessingStep struct {
	Name        string         `json:"name"`
	PhaseStatus PhaseStatus    `json:"phaseStatus"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
}

func CompletedStep(name string, startedAt, completedAt time.Time, detail map[string]any) ProcessingStep {
	return ProcessingStep{
		Name:        name,
		PhaseStatus: PhaseCompleted,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		Detail:      detail,
	}
}

func FailedStep(name string, startedAt, completedAt time.Time, err error, detail map[string]any) ProcessingStep {
	step := ProcessingStep{
		Name:        name,
		PhaseStatus: PhaseFailed,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		Detail:      detail,
	}
	if err != nil {
		step.Error = err.Error()
	}
	return step
}

func (p ProcessingStep) clone() ProcessingStep {
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		p.CompletedAt = &at
	}
	if p.Detail != nil {
		detail := make(map[string]any, len(p.Detail))
		for k, v := range p.Detail {
			detail[k] = v
		}
		p.Detail = detail
	}
	return p
}
