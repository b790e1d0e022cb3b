package models

import "errors"

var (
	// ErrInvalidSession unknown or missing workspace
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidPath filename escapes the session directory
	ErrInvalidPath = errors.New("invalid path")

	// ErrResourceExhausted soft memory ceiling breached
	ErrResourceExhausted = errors.New("resource exhausted")

	ErrExtractorUnavailable = errors.New("extractor not available")
	ErrExtractorFailed      = errors.New("extractor failed")

	// ErrImageTooLarge rendered bounding box exceeds the pixel ceiling
	ErrImageTooLarge = errors.New("image too large")

	// ErrInvalidRequest malformed caller input
	ErrInvalidRequest = errors.New("invalid request")

	ErrAICallFailed     = errors.New("ai call failed")
	ErrArtifactNotReady = errors.New("artifact not ready")
)
