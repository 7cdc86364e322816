package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertLogged checks that the captured log output contains every fragment,
// e.g. a message plus one of its key=value attributes.
func AssertLogged(t *testing.T, logs *SafeBuffer, fragments ...string) {
	t.Helper()

	out := logs.String()
	for _, fragment := range fragments {
		require.True(t,
			strings.Contains(out, fragment),
			"expected log output to contain %q, got:\n%s", fragment, out,
		)
	}
}
