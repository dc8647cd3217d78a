package adjustments

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the adjustment does not exist.
	ErrNotFound = fmt.Errorf("adjustment: %w", httpx.ErrNotFound)
	// ErrNotApprover is returned when the actor lacks approval authority.
	ErrNotApprover = fmt.Errorf("adjustment: actor is not an approver: %w", httpx.ErrForbidden)
	// ErrInvalidStatus is returned when a transition starts from a non-pending record.
	ErrInvalidStatus = fmt.Errorf("adjustment: record is not pending: %w", httpx.ErrConflict)
	// ErrNotReversible marks originals that are not approved or are reversals themselves.
	ErrNotReversible = fmt.Errorf("adjustment: only approved adjustments can be reversed: %w", httpx.ErrConflict)
	// ErrAlreadyReversed marks originals with an open or approved reversal.
	ErrAlreadyReversed = fmt.Errorf("adjustment: reversal already exists: %w", httpx.ErrConflict)
	// ErrConcurrentUpdate is returned when another transaction won the row.
	ErrConcurrentUpdate = fmt.Errorf("adjustment: concurrent update, retry: %w", httpx.ErrConflict)
)

// ValidationError lists every rejected field with a message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "adjustment: validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match httpx.ErrValidation.
func (e *ValidationError) Unwrap() error {
	return httpx.ErrValidation
}

type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
