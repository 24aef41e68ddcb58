package types

import "errors"

// Expected business outcomes are modelled as sentinel errors so the
// response layer can map them without string matching. Anything not
// wrapping one of these is treated as an internal error.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err represents invalid input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether err represents a conflicting operation,
// such as a reconciliation pass already in flight.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
