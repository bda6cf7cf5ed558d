package shared

import (
	"errors"
	"net/http"
)

// AppError carries an HTTP status and a user-facing message alongside the
// wrapped cause. Handlers return these and the fiber error handler unwraps
// them into the standard response envelope.
type AppError struct {
	StatusCode int         `json:"code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	Err        error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(statusCode int, err error, message string) *AppError {
	return &AppError{StatusCode: statusCode, Message: message, Err: err}
}

func NewBadRequestError(err error, message string) *AppError {
	return NewAppError(http.StatusBadRequest, err, message)
}

func NewUnauthorizedError(err error, message string) *AppError {
	return NewAppError(http.StatusUnauthorized, err, message)
}

func NewNotFoundError(err error, message string) *AppError {
	return NewAppError(http.StatusNotFound, err, message)
}

func NewConflictError(err error, message string) *AppError {
	return NewAppError(http.StatusConflict, err, message)
}

func NewInternalError(err error, message string) *AppError {
	return NewAppError(http.StatusInternalServerError, err, message)
}

// NewConfigurationError covers invalid durations, unknown enforcement
// context names and similar caller mistakes. Rejected synchronously, no
// state change.
func NewConfigurationError(err error, message string) *AppError {
	return NewAppError(http.StatusUnprocessableEntity, err, message)
}

// NewHardModeError rejects pause requests while a hard-mode session runs.
func NewHardModeError() *AppError {
	return NewAppError(http.StatusForbidden, ErrNotAllowedInHardMode, "Pausing is not allowed in hard mode")
}

func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Sentinel errors for in-core flows. Services wrap these into AppErrors at
// the HTTP boundary.
var (
	ErrUnknownContext       = errors.New("unknown enforcement context")
	ErrNotAllowedInHardMode = errors.New("not allowed in hard mode")
	ErrNoLiveSession        = errors.New("no live session")
	ErrSessionAlreadyLive   = errors.New("a session is already live")
	ErrSessionNotPaused     = errors.New("session is not paused")
	ErrInvalidDuration      = errors.New("invalid duration")
	ErrSyncUnavailable      = errors.New("sync backend unavailable")
)
