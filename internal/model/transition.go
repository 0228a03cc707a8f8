package model

import "errors"

var ErrIllegalTransition = errors.New("illegal session transition")

var transitions = map[SessionStatus][]SessionStatus{
	StatusInitialized:         {StatusAwaitingScreenshots, StatusProcessingOCR, StatusExpired, StatusError},
	StatusAwaitingScreenshots: {StatusProcessingOCR, StatusExpired, StatusError},
	StatusProcessingOCR:       {StatusAwaitingScreenshots, StatusOCRComplete, StatusExpired, StatusError},
	StatusOCRComplete:         {StatusProcessingOCR, StatusProcessingGrading, StatusExpired, StatusError},
	StatusProcessingGrading:   {StatusGradingComplete, StatusExpired, StatusError},
	// Re-upload after a failed extraction; the service only allows it when
	// grading never started.
	StatusError: {StatusProcessingOCR},
}

func CanTransition(from, to SessionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
