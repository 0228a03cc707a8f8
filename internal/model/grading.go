package model

import "time"

// ManualOverrideRef stands in for an OCR result id when the caller supplied
// the text directly.
const ManualOverrideRef = "manual_override"

type RubricItem struct {
	Criterion      string  `json:"criterion"`
	PointsAwarded  float64 `json:"pointsAwarded"`
	PointsPossible float64 `json:"pointsPossible"`
	Justification  string  `json:"justification"`
}

type GradingResult struct {
	ID                   string       `json:"id"`
	SessionID            string       `json:"sessionId"`
	SubjectOCRResultID   string       `json:"subjectOcrResultId"`
	ReferenceOCRResultID string       `json:"referenceOcrResultId"`
	Score                float64      `json:"score"`
	MaxScore             float64      `json:"maxScore"`
	FeedbackSummary      string       `json:"feedbackSummary"`
	SuggestedMessage     string       `json:"suggestedMessage"`
	RubricBreakdown      []RubricItem `json:"rubricBreakdown"`
	Confidence           float64      `json:"confidence"`
	ProcessingTimeMs     int64        `json:"processingTimeMs"`
	ModelIdentifier      string       `json:"modelIdentifier"`
	GradedAt             time.Time    `json:"gradedAt"`
}

// GradingJob is what the lifecycle manager hands to the orchestrator. It is
// also the queue message body when jobs go through RabbitMQ.
type GradingJob struct {
	SessionID     string    `json:"sessionId"`
	SubjectText   string    `json:"subjectText"`
	ReferenceText string    `json:"referenceText"`
	SubjectRef    string    `json:"subjectRef"`
	ReferenceRef  string    `json:"referenceRef"`
	MaxScore      float64   `json:"maxScore"`
	RequestedAt   time.Time `json:"requestedAt"`
}
