package storage

import "errors"

var (
	// ErrThreadNotFound is returned when a thread is not found
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound is returned when a message is not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrThreadExists is returned when creating a thread whose id is taken
	ErrThreadExists = errors.New("thread already exists")

	// ErrMessageThreadMismatch is returned when a message id is reused in another thread
	ErrMessageThreadMismatch = errors.New("message belongs to another thread")
)
