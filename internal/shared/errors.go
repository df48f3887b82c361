package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a request that fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFound returns a sentinel that matches ErrNotFound through errors.Is
// while keeping its own message.
func NotFound(msg string) error {
	return &kindError{msg: msg, kind: ErrNotFound}
}

// Invalid returns a sentinel that matches ErrInvalidInput through errors.Is.
func Invalid(msg string) error {
	return &kindError{msg: msg, kind: ErrInvalidInput}
}

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }
