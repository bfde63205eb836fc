package types

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateContent is returned when a non-failed document already holds the same content.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrUnsupportedFormat is returned when neither media type nor extension maps to a known format.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrPayloadTooLarge is returned for uploads over the configured size limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmbeddingUnavailable is returned once the embedding model failed to load.
	ErrEmbeddingUnavailable = errors.New("embedding model unavailable")

	// ErrQueueUnavailable is returned when a processing job could not be published.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrAlreadyTerminal is returned when a transition targets a COMPLETED or FAILED document.
	ErrAlreadyTerminal = errors.New("document already in terminal state")
)

// Failure reasons recorded on FAILED documents.
const (
	ReasonTextTooShort     = "TEXT_TOO_SHORT"
	ReasonExcessiveNoise   = "EXCESSIVE_NOISE"
	ReasonInternalError    = "INTERNAL_ERROR"
	ReasonRetriesExhausted = "retries exhausted"
)

const WarningHighNoise = "HIGH_NOISE"

// Codes the extraction worker reports in error callbacks.
const (
	WorkerPasswordProtected = "PASSWORD_PROTECTED"
	WorkerCorruptFile       = "CORRUPT_FILE"
	WorkerUnsupportedFormat = "UNSUPPORTED_FORMAT"
	WorkerOCRFailed         = "OCR_FAILED"
	WorkerTimeout           = "TIMEOUT"
	WorkerInternalError     = "INTERNAL_ERROR"
)

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: http.StatusUnprocessableEntity,
		Errors: errors,
	}
}

func (e ValidationError) Error() string {
	return "validation failed"
}

// ProcessingError reports a failure that was recorded on a document after it was created.
type ProcessingError struct {
	Reason   string
	Detail   string
	Document *Document
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("processing failed: %s", e.Reason)
	}
	return fmt.Sprintf("processing failed: %s: %s", e.Reason, e.Detail)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
