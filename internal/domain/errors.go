package domain

import "errors"

var (
	ErrFileTooLarge          = errors.New("file too large")
	ErrMemoryExceeded        = errors.New("memory limit exceeded")
	ErrTransferRejected      = errors.New("transfer rejected")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrFinalizationFailed    = errors.New("finalization failed")
	ErrUnknownControlMessage = errors.New("unknown control message")

	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskNotCancellable = errors.New("task not cancellable")
	ErrCancelled          = errors.New("cancelled")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrManagerStopped     = errors.New("upload manager stopped")
)

// TransferError carries the message the remote side gave for a failed upload.
type TransferError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	return e.Message
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
