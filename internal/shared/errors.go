package shared

import (
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = fmt.Errorf("shared: %w", httpx.ErrNotFound)
	// ErrActorMissing indicates the request carries no acting user.
	ErrActorMissing = fmt.Errorf("actor not identified: %w", httpx.ErrUnauthorized)
	// ErrLockNotObtained occurs when another worker holds the critical section.
	ErrLockNotObtained = fmt.Errorf("resource busy, retry later: %w", httpx.ErrConflict)
)
