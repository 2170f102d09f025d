package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalid                = errors.New("invalid")
	ErrConflict               = errors.New("conflict")
	ErrTooMany                = errors.New("too many requests")
	ErrInternal               = errors.New("internal")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrFileTooLarge           = errors.New("file too large")
	ErrConnectionClosed       = errors.New("connection closed")
)

// IndexError aborts one file's indexing run. The file stays un-indexed and
// the whole run may be retried.
type IndexError struct {
	FileID string
	Cause  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index file %s: %v", e.FileID, e.Cause)
}

func (e *IndexError) Unwrap() error {
	return e.Cause
}

type RetrievalError struct {
	Cause error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval: %v", e.Cause)
}

func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// TransportError is terminal for a connection only.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, ErrConnectionClosed)
}
