package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"ragbase/types"
)

// ErrorHandler turns handler errors into JSON responses. Domain errors are
// matched through any wrapping, so handlers can return them unchanged.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		apiErr  Error
		valErr  types.ValidationError
		procErr *types.ProcessingError
		fibErr  *fiber.Error
	)
	switch {
	case errors.As(err, &apiErr):
		return c.Status(apiErr.Code).JSON(apiErr)
	case errors.As(err, &valErr):
		return c.Status(valErr.Status).JSON(valErr)
	case errors.As(err, &procErr):
		return c.Status(processingStatus(procErr)).JSON(newProcessingFailure(procErr))
	case errors.As(err, &fibErr):
		return c.Status(fibErr.Code).JSON(NewError(fibErr.Code, fibErr.Message))
	}

	code := statusOf(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		slog.Default().Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		msg = "internal server error"
	}
	return c.Status(code).JSON(NewError(code, msg))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, types.ErrDuplicateContent):
		return fiber.StatusConflict
	case errors.Is(err, types.ErrPayloadTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrUnsupportedFormat):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, types.ErrEmbeddingUnavailable), errors.Is(err, types.ErrQueueUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func processingStatus(err *types.ProcessingError) int {
	switch {
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		return fiber.StatusServiceUnavailable
	case err.Reason == types.ReasonInternalError:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusUnprocessableEntity
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

// ProcessingFailure is the body for an upload that was accepted but failed inline.
type ProcessingFailure struct {
	Code     int                    `json:"code"`
	Message  string                 `json:"error"`
	Reason   string                 `json:"reason"`
	Detail   string                 `json:"detail,omitempty"`
	Document *types.DocumentSummary `json:"document,omitempty"`
}

func newProcessingFailure(err *types.ProcessingError) ProcessingFailure {
	out := ProcessingFailure{
		Code:    processingStatus(err),
		Message: "document processing failed",
		Reason:  err.Reason,
		Detail:  err.Detail,
	}
	if err.Document != nil {
		summary := err.Document.Summary()
		out.Document = &summary
	}
	return out
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrMissingFile() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: `multipart field "file" is required`,
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
