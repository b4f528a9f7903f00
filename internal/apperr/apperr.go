// Package apperr defines the type:surface error taxonomy returned by the HTTP API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"llm_chat/internal/utils"
)

// Type classifies what went wrong
type Type string

const (
	BadRequest          Type = "bad_request"
	Unauthorized        Type = "unauthorized"
	Forbidden           Type = "forbidden"
	NotFound            Type = "not_found"
	RateLimit           Type = "rate_limit"
	FileTooLarge        Type = "file_too_large"
	UnsupportedFileType Type = "unsupported_file_type"
	UploadFailed        Type = "upload_failed"
	ModelNotFound       Type = "model_not_found"
	APIKeyMissing       Type = "api_key_missing"
	InternalServerError Type = "internal_server_error"
)

// Surface names the part of the system the error came from
type Surface string

const (
	SurfaceAuth       Surface = "auth"
	SurfaceAPI        Surface = "api"
	SurfaceChat       Surface = "chat"
	SurfaceStream     Surface = "stream"
	SurfaceDatabase   Surface = "database"
	SurfaceFiles      Surface = "files"
	SurfaceModels     Surface = "models"
	SurfaceThread     Surface = "thread"
	SurfaceAttachment Surface = "attachment"
)

const genericMessage = "Something went wrong. Please try again later."

var statusByType = map[Type]int{
	BadRequest:          http.StatusBadRequest,
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	RateLimit:           http.StatusTooManyRequests,
	FileTooLarge:        http.StatusRequestEntityTooLarge,
	UnsupportedFileType: http.StatusUnsupportedMediaType,
	UploadFailed:        http.StatusServiceUnavailable,
	ModelNotFound:       http.StatusNotFound,
	APIKeyMissing:       http.StatusUnprocessableEntity,
	InternalServerError: http.StatusInternalServerError,
}

var defaultMessages = map[Type]string{
	BadRequest:          "The request couldn't be processed. Please check your input and try again.",
	Unauthorized:        "You need to sign in before continuing.",
	Forbidden:           "You don't have access to this resource.",
	NotFound:            "The requested resource was not found.",
	RateLimit:           "You have exceeded the request limit. Please try again later.",
	FileTooLarge:        "The file is too large.",
	UnsupportedFileType: "This file type is not supported.",
	UploadFailed:        "The file could not be uploaded. Please try again.",
	ModelNotFound:       "The selected model is not available.",
	APIKeyMissing:       "Add an API key for this provider to use the selected model.",
	InternalServerError: genericMessage,
}

// Error is an application error carrying its taxonomy, a user-facing message and an optional cause.
type Error struct {
	Type    Type
	Surface Surface
	Message string
	Cause   error
}

// New creates an error with the default message for its type
func New(t Type, s Surface) *Error {
	return &Error{Type: t, Surface: s, Message: defaultMessages[t]}
}

// Newf creates an error with a custom message
func Newf(t Type, s Surface, format string, args ...interface{}) *Error {
	return &Error{Type: t, Surface: s, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error with the default message
func Wrap(t Type, s Surface, cause error) *Error {
	e := New(t, s)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code(), e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on type and surface
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Surface == t.Surface
}

// Code returns the "type:surface" code
func (e *Error) Code() string {
	return string(e.Type) + ":" + string(e.Surface)
}

// StatusCode returns the HTTP status for the error type
func (e *Error) StatusCode() int {
	if code, ok := statusByType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Body is the JSON payload rendered for an error
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// Response converts the error into its wire body. Database errors never leak detail.
func (e *Error) Response() Body {
	if e.Surface == SurfaceDatabase {
		return Body{Code: e.Code(), Message: genericMessage}
	}
	body := Body{Code: e.Code(), Message: e.Message}
	if e.Cause != nil {
		body.Cause = e.Cause.Error()
	}
	return body
}

// As converts any error into an *Error; unknown errors become internal_server_error on the given surface.
func As(err error, fallback Surface) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(InternalServerError, fallback, err)
}

var logger = utils.NewLogger("apperr")

// Write logs the error and renders it as JSON with the mapped status.
// Causes of internal errors are logged but not returned.
func Write(w http.ResponseWriter, err error, fallback Surface) {
	appErr := As(err, fallback)
	status := appErr.StatusCode()

	if status >= http.StatusInternalServerError || appErr.Surface == SurfaceDatabase {
		logger.Error("request failed", "code", appErr.Code(), "error", appErr.Cause)
	} else {
		logger.Debug("request rejected", "code", appErr.Code(), "message", appErr.Message)
	}

	body := appErr.Response()
	if appErr.Type == InternalServerError {
		body.Cause = ""
	}
	utils.RespondWithJSON(w, status, body)
}
