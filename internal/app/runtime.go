package app

import (
	"os"
	"sync"
)

const testModeEnv = "RBAC_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether binaries should skip runtime side effects. The flag is read once.
func InTestMode() bool {
	return testMode()
}
