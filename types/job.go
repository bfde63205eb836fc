package types

import "github.com/google/uuid"

type OCRMode string

const (
	OCRAuto  OCRMode = "auto"
	OCRForce OCRMode = "force"
	OCRNever OCRMode = "never"
)

type ExtractionConfig struct {
	OCRMode        OCRMode  `json:"ocrMode" yaml:"ocr_mode"`
	OCRLanguages   []string `json:"ocrLanguages,omitempty" yaml:"ocr_languages"`
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeout_seconds"`
	PageCountHint  int      `json:"pageCountHint,omitempty" yaml:"-"`
}

// ProcessingJob is the message handed to the extraction worker for deferred-lane documents.
type ProcessingJob struct {
	DocumentID         uuid.UUID        `json:"documentId"`
	RawContentLocation string           `json:"rawContentLocation"`
	Format             Format           `json:"format"`
	ExtractionConfig   ExtractionConfig `json:"extractionConfig"`
	AttemptCount       int              `json:"attemptCount"`
}

// CallbackPayload is what the extraction worker posts back. Exactly one of
// Result and Error is set, and which one must agree with Success.
type CallbackPayload struct {
	DocumentID string          `json:"documentId" validate:"required,uuid"`
	Success    *bool           `json:"success" validate:"required"`
	Result     *CallbackResult `json:"result,omitempty"`
	Error      *CallbackError  `json:"error,omitempty"`
}

type CallbackResult struct {
	Markdown         string     `json:"markdown"`
	PageCount        int        `json:"pageCount" validate:"min=0"`
	OCRApplied       bool       `json:"ocrApplied"`
	ProcessingTimeMs int64      `json:"processingTimeMs" validate:"min=0"`
	Pages            []PageText `json:"pages,omitempty" validate:"dive"`
}

// PageText carries the extracted text of one page so chunks can be attributed to pages.
type PageText struct {
	Page int    `json:"page" validate:"min=1"`
	Text string `json:"text"`
}

type CallbackError struct {
	Code    string `json:"code" validate:"required"`
	Message string `json:"message"`
}

func (p *CallbackPayload) Validate() map[string]string {
	errs := validateStruct(p)
	if errs == nil {
		errs = make(map[string]string)
	}
	if p.Success != nil {
		switch {
		case *p.Success && p.Result == nil:
			errs["result"] = "required when success is true"
		case *p.Success && p.Error != nil:
			errs["error"] = "must be absent when success is true"
		case !*p.Success && p.Error == nil:
			errs["error"] = "required when success is false"
		case !*p.Success && p.Result != nil:
			errs["result"] = "must be absent when success is false"
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ID returns the parsed document id. Only meaningful after Validate passed.
func (p *CallbackPayload) ID() uuid.UUID {
	id, _ := uuid.Parse(p.DocumentID)
	return id
}
