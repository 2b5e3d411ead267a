package routes

import (
	"errors"
	"fmt"
	"net/http"

	"gitlab.com/ranfdev/pollvote/internal/models"
)

// AppError is an error that knows how it must be shown to the client.
type AppError interface {
	error
	Status() int
	ErrorCode() string
	PublicMessage() string
}

type ErrInternal struct {
	Code    string
	Message string
	Cause   error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %s: %v", e.PublicMessage(), e.Cause)
}
func (e *ErrInternal) Unwrap() error { return e.Cause }
func (e *ErrInternal) Status() int   { return http.StatusInternalServerError }
func (e *ErrInternal) ErrorCode() string {
	if e.Code == "" {
		return "Internal"
	}
	return e.Code
}
func (e *ErrInternal) PublicMessage() string {
	if e.Message == "" {
		return "Internal server error"
	}
	return e.Message
}

type ErrNotFound struct {
	Code  string
	Thing string
	Cause error
}

func (e *ErrNotFound) Error() string         { return fmt.Sprintf("%s not found: %v", e.Thing, e.Cause) }
func (e *ErrNotFound) Unwrap() error         { return e.Cause }
func (e *ErrNotFound) Status() int           { return http.StatusNotFound }
func (e *ErrNotFound) ErrorCode() string     { return e.Code }
func (e *ErrNotFound) PublicMessage() string { return fmt.Sprintf("The %s doesn't exist", e.Thing) }

type ErrBadRequest struct {
	Message string
	Cause   error
}

func (e *ErrBadRequest) Error() string         { return fmt.Sprintf("bad request: %s: %v", e.Message, e.Cause) }
func (e *ErrBadRequest) Unwrap() error         { return e.Cause }
func (e *ErrBadRequest) Status() int           { return http.StatusBadRequest }
func (e *ErrBadRequest) ErrorCode() string     { return "BadRequest" }
func (e *ErrBadRequest) PublicMessage() string { return e.Message }

type ErrUnauthorized struct{}

func (e *ErrUnauthorized) Error() string         { return "missing user identity" }
func (e *ErrUnauthorized) Status() int           { return http.StatusUnauthorized }
func (e *ErrUnauthorized) ErrorCode() string     { return "Unauthorized" }
func (e *ErrUnauthorized) PublicMessage() string { return "You must be logged in" }

type ErrConflict struct {
	Code    string
	Message string
	Cause   error
}

func (e *ErrConflict) Error() string         { return fmt.Sprintf("conflict: %s: %v", e.Message, e.Cause) }
func (e *ErrConflict) Unwrap() error         { return e.Cause }
func (e *ErrConflict) Status() int           { return http.StatusConflict }
func (e *ErrConflict) ErrorCode() string     { return e.Code }
func (e *ErrConflict) PublicMessage() string { return e.Message }

type ErrUnavailable struct {
	Cause error
}

func (e *ErrUnavailable) Error() string         { return fmt.Sprintf("unavailable: %v", e.Cause) }
func (e *ErrUnavailable) Unwrap() error         { return e.Cause }
func (e *ErrUnavailable) Status() int           { return http.StatusServiceUnavailable }
func (e *ErrUnavailable) ErrorCode() string     { return "StoreUnavailable" }
func (e *ErrUnavailable) PublicMessage() string { return "The vote store is unavailable, try again" }

type ErrTooManyRequests struct{}

func (e *ErrTooManyRequests) Error() string         { return "rate limited" }
func (e *ErrTooManyRequests) Status() int           { return http.StatusTooManyRequests }
func (e *ErrTooManyRequests) ErrorCode() string     { return "RateLimited" }
func (e *ErrTooManyRequests) PublicMessage() string { return "Too many votes, slow down" }

// toAppError maps the voting errors to their HTTP representation.
func toAppError(err error) AppError {
	switch {
	case errors.Is(err, models.ErrSwitchPartiallyFailed):
		return &ErrConflict{
			Code:    "SwitchPartiallyFailed",
			Message: "Your previous vote was removed but the new one could not be saved",
			Cause:   err,
		}
	case errors.Is(err, models.ErrOptionNotFound):
		return &ErrNotFound{Code: "OptionNotFound", Thing: "option", Cause: err}
	case errors.Is(err, models.ErrPollNotFound):
		return &ErrNotFound{Code: "PollNotFound", Thing: "poll", Cause: err}
	case errors.Is(err, models.ErrUnknownPollType):
		return &ErrInternal{Code: "InvalidPollMetadata", Message: "The poll has no valid type", Cause: err}
	case errors.Is(err, models.ErrStoreUnavailable):
		return &ErrUnavailable{Cause: err}
	}
	return &ErrInternal{Cause: err}
}
