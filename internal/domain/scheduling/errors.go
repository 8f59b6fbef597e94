package scheduling

import "errors"

// Errors returned by the scheduling service. Callers match with errors.Is;
// the returned errors carry context around these.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("slot no longer available")
	ErrInvalidInput = errors.New("invalid input")
)
