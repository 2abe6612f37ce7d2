package transcription

import "errors"

var (
	ErrBackendUnavailable  = errors.New("transcription backend unavailable")
	ErrBackendStartFailed  = errors.New("transcription backend failed to start")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrStreamClosed        = errors.New("transcription stream closed")
	ErrUnknownSession      = errors.New("unknown transcription session")
)
