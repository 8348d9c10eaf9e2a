package commonutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func helperThatReportsItsCaller() CallSite { return Caller(1) }

func TestCaller(t *testing.T) {
	here := Caller(0)
	require.Equal(t, "utils_test.go", here.File)
	require.True(t, strings.HasSuffix(here.Function, "TestCaller"))
	require.Positive(t, here.GID)

	up := helperThatReportsItsCaller()
	require.True(t, strings.HasSuffix(up.Function, "TestCaller"), up.Function)
	require.Contains(t, up.String(), "utils_test.go:")

	require.Equal(t, "unknown caller", CallSite{}.String())
}
