package app

import "errors"

var (
	ErrValidation              = errors.New("validation failed")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionExpired          = errors.New("session expired")
	ErrInvalidState            = errors.New("operation not allowed in current session state")
	ErrInsufficientScreenshots = errors.New("both answers must be extracted before grading")
	ErrMissingText             = errors.New("no text available for answer")
	ErrImageTooLarge           = errors.New("image exceeds size limit")
	ErrInvalidFormat           = errors.New("unrecognized image encoding")
	ErrUpstream                = errors.New("upstream service failed")
	ErrGradingDispatch         = errors.New("grading could not be started")
)

// errSkipWrite aborts a store update without writing and without surfacing
// an error to the caller.
var errSkipWrite = errors.New("skip write")
