package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePythonAcceptsPlainCode(t *testing.T) {
	ok, violation := ValidatePython("print('hello world')")
	require.True(t, ok)
	require.Empty(t, violation)
}

func TestValidatePythonRejectsImport(t *testing.T) {
	ok, _ := ValidatePython("import os\nos.system('rm -rf /')")
	require.False(t, ok)
}

func TestValidatePythonRejectsFromImport(t *testing.T) {
	ok, _ := ValidatePython("from os import system")
	require.False(t, ok)
}

func TestValidatePythonRejectsForbiddenCalls(t *testing.T) {
	for _, code := range []string{"open('/etc/passwd')", "eval('1+1')", "exec('pass')", "compile('1', '<s>', 'eval')", "__import__('os')"} {
		ok, _ := ValidatePython(code)
		require.Falsef(t, ok, "expected %q to be rejected", code)
	}
}
