package engine

import (
	"errors"

	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrSessionNotFound reports that an operation required a live session and
// none exists for the key. Surfaced distinctly from validation failures so
// callers can tell "no session" from "bad request".
var ErrSessionNotFound = xerrors.New("session not found")

// ValidationError reports a missing or malformed client input field. Never
// retried automatically.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "missing or invalid field: " + e.Field
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
