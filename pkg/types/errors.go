package types

import "errors"

// Record-related errors
var (
	// ErrFieldCount is returned when a record does not carry one value per column
	ErrFieldCount = errors.New("unexpected field count")
)
