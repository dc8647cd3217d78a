package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "BACKOFFICE_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether the binaries should skip connecting to
// PostgreSQL and Redis. The flag is read once and cached.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode rereads the flag after environment changes.
func RefreshTestMode() bool {
	enabled, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(&enabled)
	return enabled
}
