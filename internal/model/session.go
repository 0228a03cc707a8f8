package model

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	StatusInitialized         SessionStatus = "initialized"
	StatusAwaitingScreenshots SessionStatus = "awaiting_screenshots"
	StatusProcessingOCR       SessionStatus = "processing_ocr"
	StatusOCRComplete         SessionStatus = "ocr_complete"
	StatusProcessingGrading   SessionStatus = "processing_grading"
	StatusGradingComplete     SessionStatus = "grading_complete"
	StatusExpired             SessionStatus = "expired"
	StatusError               SessionStatus = "error"
)

// IsTerminal reports whether no further legitimate transition is expected.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusGradingComplete, StatusExpired, StatusError:
		return true
	}
	return false
}

// ClientInfo is the caller metadata supplied at session creation.
type ClientInfo struct {
	UserAgent     string `json:"userAgent"`
	ClientVersion string `json:"clientVersion"`
	Platform      string `json:"platform,omitempty"`
}

// Session is the canonical record of one grading transaction. The store owns
// it; every component works on a copy and writes back through the store.
type Session struct {
	ID            string           `json:"id"`
	Status        SessionStatus    `json:"status"`
	Client        ClientInfo       `json:"client"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	Screenshots   []Screenshot     `json:"screenshots"`
	OCRResults    []OCRResult      `json:"ocrResults"`
	GradingResult *GradingResult   `json:"gradingResult,omitempty"`
	History       []ProcessingStep `json:"history"`
}

func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Transition moves the session to next, enforcing the state table. Staying in
// the same state is allowed and only bumps UpdatedAt.
func (s *Session) Transition(next SessionStatus, now time.Time) error {
	if s.Status != next && !CanTransition(s.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}

func (s *Session) AppendStep(step ProcessingStep) {
	s.History = append(s.History, step)
}

func (s *Session) LastStep() *ProcessingStep {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

func (s *Session) Screenshot(id string) *Screenshot {
	for i := range s.Screenshots {
		if s.Screenshots[i].ID == id {
			return &s.Screenshots[i]
		}
	}
	return nil
}

// LatestOCRResult returns the most recently recorded successful extraction for
// role, or nil when none exists.
func (s *Session) LatestOCRResult(role AnswerRole) *OCRResult {
	for i := len(s.OCRResults) - 1; i >= 0; i-- {
		shot := s.Screenshot(s.OCRResults[i].ScreenshotID)
		if shot != nil && shot.Role == role {
			return &s.OCRResults[i]
		}
	}
	return nil
}

// ReadyForGrading is derived from the persisted results, never cached.
func (s *Session) ReadyForGrading() bool {
	return s.LatestOCRResult(RoleSubject) != nil && s.LatestOCRResult(RoleReference) != nil
}

// PendingExtractions counts screenshots that have neither an OCR result nor a
// recorded extraction failure.
func (s *Session) PendingExtractions() int {
	settled := make(map[string]bool, len(s.Screenshots))
	for _, r := range s.OCRResults {
		settled[r.ScreenshotID] = true
	}
	for _, step := range s.History {
		if step.Name != StepOCRFailed {
			continue
		}
		if id, ok := step.Detail["screenshotId"].(string); ok {
			settled[id] = true
		}
	}
	pending := 0
	for _, shot := range s.Screenshots {
		if !settled[shot.ID] {
			pending++
		}
	}
	return pending
}

func (s *Session) HasStep(name string) bool {
	for _, step := range s.History {
		if step.Name == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share slices with the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Screenshots = make([]Screenshot, len(s.Screenshots))
	for i, shot := range s.Screenshots {
		shot.Data = append([]byte(nil), shot.Data...)
		out.Screenshots[i] = shot
	}
	out.OCRResults = append([]OCRResult(nil), s.OCRResults...)
	if s.GradingResult != nil {
		gr := *s.GradingResult
		gr.RubricBreakdown = append([]RubricItem(nil), s.GradingResult.RubricBreakdown...)
		out.GradingResult = &gr
	}
	out.History = make([]ProcessingStep, len(s.History))
	for i, step := range s.History {
		out.History[i] = step.clone()
	}
	return &out
}
