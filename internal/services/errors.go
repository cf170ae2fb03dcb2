package services

import "errors"

// Error kinds. Handlers map them to HTTP status codes with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found or expired")
	ErrSessionExpired  = errors.New("upload session expired")
	ErrForbidden       = errors.New("forbidden")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidIndex    = errors.New("invalid chunk index")
	ErrIncomplete      = errors.New("upload incomplete")
	ErrMissingChunk    = errors.New("missing chunk")
)

// Error carries a caller-facing message for one of the error kinds
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}
