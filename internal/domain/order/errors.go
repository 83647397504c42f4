package order

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when an order id does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrNotReady is returned when a care plan is exported before the order completed.
	ErrNotReady = errors.New("care plan not ready")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError lists the create-order fields that were missing or blank,
// and those that were longer than allowed.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "fields exceed maximum length: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}
