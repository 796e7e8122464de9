// Package testing flips the service into test mode for any test binary that imports it.
package testing

import (
	"os"
	stdtesting "testing"
)

// TestModeEnv mirrors the flag read by app.InTestMode.
const TestModeEnv = "RBAC_TEST_MODE"

func init() {
	_ = os.Setenv(TestModeEnv, "1")
}

// TestMain can be delegated to from a package's own TestMain.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
