package reminder

import "errors"

var (
	ErrValidation        = errors.New("invalid input")
	ErrScheduling        = errors.New("scheduling failed")
	ErrStore             = errors.New("store failure")
	ErrSpeech            = errors.New("speech failed")
	ErrNotFound          = errors.New("reminder not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)
