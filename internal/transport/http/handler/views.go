package handler

import (
	"time"

	"gradeflow/internal/model"
)

type stepSummary struct {
	Name        string            `json:"name"`
	PhaseStatus model.PhaseStatus `json:"phaseStatus"`
}

type statusView struct {
	SessionID        string                 `json:"sessionId"`
	Status           model.SessionStatus    `json:"status"`
	ReadyForGrading  bool                   `json:"readyForGrading"`
	LastStep         *stepSummary           `json:"lastStep"`
	HasGradingResult bool                   `json:"hasGradingResult"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	ExpiresAt        time.Time              `json:"expiresAt"`
	History          []model.ProcessingStep `json:"history"`
}

type screenshotView struct {
	ID         string            `json:"id"`
	Role       model.AnswerRole  `json:"role"`
	Format     model.ImageFormat `json:"format"`
	SizeBytes  int               `json:"sizeBytes"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Checksum   string            `json:"checksum"`
	UploadedAt time.Time         `json:"uploadedAt"`
}

type sessionView struct {
	SessionID       string                 `json:"sessionId"`
	Status          model.SessionStatus    `json:"status"`
	Client          model.ClientInfo       `json:"client"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	ExpiresAt       time.Time              `json:"expiresAt"`
	ReadyForGrading bool                   `json:"readyForGrading"`
	Screenshots     []screenshotView       `json:"screenshots"`
	OCRResults      []model.OCRResult      `json:"ocrResults"`
	GradingResult   *model.GradingResult   `json:"gradingResult"`
	History         []model.ProcessingStep `json:"history"`
}

type resultsView struct {
	SessionID     string               `json:"sessionId"`
	Status        model.SessionStatus  `json:"status"`
	GradingResult *model.GradingResult `json:"gradingResult"`
}

func newStatusView(s *model.Session) statusView {
	view := statusView{
		SessionID:        s.ID,
		Status:           s.Status,
		ReadyForGrading:  s.Status == model.StatusOCRComplete,
		HasGradingResult: s.GradingResult != nil,
		UpdatedAt:        s.UpdatedAt,
		ExpiresAt:        s.ExpiresAt,
		History:          s.History,
	}
	if last := s.LastStep(); last != nil {
		view.LastStep = &stepSummary{Name: last.Name, PhaseStatus: last.PhaseStatus}
	}
	if view.History == nil {
		view.History = []model.ProcessingStep{}
	}
	return view
}

func newSessionView(s *model.Session) sessionView {
	shots := make([]screenshotView, 0, len(s.Screenshots))
	for _, shot := range s.Screenshots {
		shots = append(shots, screenshotView{
			ID:         shot.ID,
			Role:       shot.Role,
			Format:     shot.Format,
			SizeBytes:  shot.SizeBytes,
			Width:      shot.Width,
			Height:     shot.Height,
			Checksum:   shot.Checksum,
			UploadedAt: shot.UploadedAt,
		})
	}
	ocr := s.OCRResults
	if ocr == nil {
		ocr = []model.OCRResult{}
	}
	return sessionView{
		SessionID:       s.ID,
		Status:          s.Status,
		Client:          s.Client,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		ExpiresAt:       s.ExpiresAt,
		ReadyForGrading: s.Status == model.StatusOCRComplete,
		Screenshots:     shots,
		OCRResults:      ocr,
		GradingResult:   s.GradingResult,
		History:         s.History,
	}
}
