package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Pipeline errors
	ErrSplitFailed       = errors.New("source PDF could not be split")
	ErrPartialFailure    = errors.New("too many pages failed permanently")
	ErrConsistency       = errors.New("page with no terminal task found during assembly")
	ErrLeaseLost         = errors.New("task lease no longer held by this worker")
	ErrJobCanceled       = errors.New("job was canceled")
	ErrInvalidTransition = errors.New("illegal job status transition")
)
