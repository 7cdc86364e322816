package app

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/computergrid/internal/hcl"
	"github.com/vk/computergrid/internal/testutil"
)

// SetupAppTest writes the given HCL files to a temporary directory and
// builds an in-memory app from them. The app is closed when the test ends.
func SetupAppTest(t *testing.T, files map[string]string, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()

	root := testutil.WriteFiles(t, files)
	cfg, err := NewConfig(Config{
		ConfigPaths: []string{root},
		LogLevel:    "debug",
		LogFormat:   "text",
	})
	require.NoError(t, err)

	logBuffer := &testutil.SafeBuffer{}
	testApp, err := NewApp(logBuffer, cfg, hcl.NewLoader(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testApp.Close(testApp.Context())
		if os.Getenv("CGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
