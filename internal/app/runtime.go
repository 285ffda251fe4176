package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv, when truthy, makes binaries return before touching Postgres or Redis.
const TestModeEnv = "STOCKLEDGER_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(func() { testMode.Store(readTestMode()) })
	return testMode.Load()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	testModeOnce.Do(func() {})
	on := readTestMode()
	testMode.Store(on)
	return on
}
