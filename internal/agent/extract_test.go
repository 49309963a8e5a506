package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

func TestExtractCodeFromFence(t *testing.T) {
	raw := "Here is the code:\n```python\nprint('hi')\n```\nDone."
	require.Equal(t, "print('hi')", ExtractCode(raw, domain.LangPython))
}

func TestExtractCodeFirstFenceWins(t *testing.T) {
	raw := "```python\nprint(1)\n```\n```python\nprint(2)\n```"
	require.Equal(t, "print(1)", ExtractCode(raw, domain.LangPython))
}

func TestExtractCodeNoFenceUsesWholeText(t *testing.T) {
	raw := "  print('no fence')  "
	require.Equal(t, "print('no fence')", ExtractCode(raw, domain.LangPython))
}
