package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"coachdocs/internal/http/middleware"
	"coachdocs/internal/repository"
	"coachdocs/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_RECORD", "NOT_FOUND")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: middleware.RequestIDFrom(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps domain errors onto the error envelope.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repository.ErrInvalidRecord):
		return writeError(c, fiber.StatusBadRequest, "INVALID_RECORD", invalidRecordMessage(err))
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "id is required")
	case errors.Is(err, service.ErrOwnerRequired):
		return writeError(c, fiber.StatusBadRequest, "COACHEE_REQUIRED", "coachee id is required")
	case errors.Is(err, service.ErrTypeRequired):
		return writeError(c, fiber.StatusBadRequest, "TYPE_REQUIRED", "type query parameter is required")
	case errors.Is(err, service.ErrHandleRequired):
		return writeError(c, fiber.StatusBadRequest, "HANDLE_REQUIRED", "handle is required")
	case errors.Is(err, repository.ErrDuplicateKey):
		return writeError(c, fiber.StatusConflict, "DUPLICATE_KEY", "a document with this id already exists")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, service.ErrHandleNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "handle not found")
	case errors.Is(err, service.ErrPreviewDisabled):
		return writeError(c, fiber.StatusNotImplemented, "PREVIEW_DISABLED", "previews are not configured")
	case errors.Is(err, repository.ErrStoreUnavailable):
		return writeError(c, fiber.StatusServiceUnavailable, "STORE_UNAVAILABLE", "document store unavailable")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// invalidRecordMessage lists the missing fields reported by repository.Validate.
func invalidRecordMessage(err error) string {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return "invalid document"
	}
	var parts []string
	for _, e := range joined.Unwrap() {
		if e != repository.ErrInvalidRecord {
			parts = append(parts, e.Error())
		}
	}
	if len(parts) == 0 {
		return "invalid document"
	}
	return strings.Join(parts, "; ")
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
