package media

import "errors"

// Error kinds. Match them with errors.Is.
var (
	ErrValidation = errors.New("validation failure")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")
)

// Codes reported to clients alongside the message.
const (
	CodeValidation = 40030
	CodeNotFound   = 40430
	CodeStorage    = 50030
)

// Error is the only error type returned by Uploader operations. Message is safe to show
// to end users; the underlying cause is logged, never carried.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Code returns the client-facing error code for the kind.
func (e *Error) Code() int {
	switch e.Kind {
	case ErrValidation:
		return CodeValidation
	case ErrNotFound:
		return CodeNotFound
	default:
		return CodeStorage
	}
}

func validationError(msg string) error { return &Error{Kind: ErrValidation, Message: msg} }

func notFoundError(msg string) error { return &Error{Kind: ErrNotFound, Message: msg} }

func storageError(msg string) error { return &Error{Kind: ErrStorage, Message: msg} }

// AsError extracts an *Error, treating anything else as a storage failure with a generic message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ErrStorage, Message: msgSaveFailed}
}
