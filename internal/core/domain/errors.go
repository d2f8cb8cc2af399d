package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates a payload or request references invalid or missing data
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState indicates an operation was attempted on a job or entity
	// that is not in the expected state
	ErrInvalidState = errors.New("invalid state")

	// ErrNotReady indicates the template version has not reached READY
	ErrNotReady = errors.New("template version not ready")

	// ErrInvalidSection indicates a regeneration targeted a section that is not dynamic
	ErrInvalidSection = errors.New("section is not dynamic")

	// ErrParse indicates the structural parser rejected the source document
	ErrParse = errors.New("parse failed")

	// ErrClassify indicates section classification failed
	ErrClassify = errors.New("classification failed")

	// ErrGeneration indicates content generation or assembly failed
	ErrGeneration = errors.New("generation failed")

	// ErrNoVersion indicates the document has no generated version yet
	ErrNoVersion = errors.New("document has no generated version")

	// ErrVersionMismatch indicates the document is bound to a different template version
	ErrVersionMismatch = errors.New("template version mismatch")
)
