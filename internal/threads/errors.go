package threads

import (
	"errors"

	"llm_chat/internal/apperr"
	"llm_chat/internal/storage"
)

var (
	// ErrThreadNotFound is returned for missing threads and for private
	// threads read by someone other than the owner
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound is returned when a message is missing or belongs to another thread
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotOwner is returned when a non-owner tries to mutate a thread
	ErrNotOwner = errors.New("not the thread owner")

	// ErrShareNotFound is returned for unknown, expired or revoked partial shares
	ErrShareNotFound = errors.New("share not found")

	// ErrInvalidVisibility is returned for visibilities other than private and public
	ErrInvalidVisibility = errors.New("invalid visibility")

	// ErrInvalidRole is returned for message roles outside user, assistant, system and data
	ErrInvalidRole = errors.New("invalid message role")

	// ErrMissingUser is returned when an operation needs a signed-in user
	ErrMissingUser = errors.New("user id is required")
)

// fromStorage maps repository sentinels onto service sentinels
func fromStorage(err error) error {
	switch {
	case errors.Is(err, storage.ErrThreadNotFound):
		return ErrThreadNotFound
	case errors.Is(err, storage.ErrMessageNotFound), errors.Is(err, storage.ErrMessageThreadMismatch):
		return ErrMessageNotFound
	}
	return err
}

// ToAppError converts a service error into the API error taxonomy
func ToAppError(err error) *apperr.Error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, ErrThreadNotFound):
		return apperr.Wrap(apperr.NotFound, apperr.SurfaceThread, err)
	case errors.Is(err, ErrMessageNotFound):
		return apperr.Newf(apperr.NotFound, apperr.SurfaceThread, "The message was not found.")
	case errors.Is(err, ErrShareNotFound):
		return apperr.Newf(apperr.NotFound, apperr.SurfaceThread, "This share link is invalid or has expired.")
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrMissingUser):
		return apperr.Wrap(apperr.Unauthorized, apperr.SurfaceThread, err)
	case errors.Is(err, ErrInvalidVisibility), errors.Is(err, ErrInvalidRole), errors.Is(err, storage.ErrThreadExists):
		return apperr.Wrap(apperr.BadRequest, apperr.SurfaceThread, err)
	}
	return apperr.Wrap(apperr.InternalServerError, apperr.SurfaceDatabase, err)
}
