package model

import "time"

// AnswerRole tells which of the two answers an image or text represents.
type AnswerRole string

const (
	RoleSubject   AnswerRole = "subject"
	RoleReference AnswerRole = "reference"
)

func (r AnswerRole) Valid() bool {
	return r == RoleSubject || r == RoleReference
}

type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
)

type Screenshot struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	Role       AnswerRole  `json:"role"`
	Data       []byte      `json:"data"`
	Format     ImageFormat `json:"format"`
	SizeBytes  int         `json:"sizeBytes"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Checksum   string      `json:"checksum"`
	UploadedAt time.Time   `json:"uploadedAt"`
}

type OCRResult struct {
	ID               string    `json:"id"`
	ScreenshotID     string    `json:"screenshotId"`
	SessionID        string    `json:"sessionId"`
	ExtractedText    string    `json:"extractedText"`
	Confidence       float64   `json:"confidence"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	ModelIdentifier  string    `json:"modelIdentifier"`
	ProcessedAt      time.Time `json:"processedAt"`
}
