package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewThreadIdLength(t *testing.T) {
	id := NewThreadId()
	require.Len(t, string(id), 8)
}

func TestNewThreadIdRandom(t *testing.T) {
	a := NewThreadId()
	b := NewThreadId()
	require.NotEqual(t, a, b)
}

func TestAgentStatusIsTerminal(t *testing.T) {
	cases := []struct {
		phase    string
		terminal bool
	}{
		{AgentStatusStarting, false},
		{AgentStatusWorking, false},
		{AgentStatusIdle, false},
		{AgentStatusCompleted, true},
		{AgentStatusFailed, true},
		{AgentStatusCancelled, true},
	}
	for _, c := range cases {
		status := AgentStatus{Phase: c.phase}
		require.Equal(t, c.terminal, status.IsTerminal(), c.phase)
	}
}

func TestIsReadOnlyTool(t *testing.T) {
	require.True(t, IsReadOnlyTool("shell"))
	require.True(t, IsReadOnlyTool("read_file"))
	require.True(t, IsReadOnlyTool("list_dir"))
	require.True(t, IsReadOnlyTool("grep_files"))
	require.False(t, IsReadOnlyTool("apply_patch"))
	require.False(t, IsReadOnlyTool("unknown_tool"))
}

func TestContentBlockConstructors(t *testing.T) {
	tb := NewTextBlock("hi")
	require.Equal(t, BlockTypeText, tb.Type)
	require.Equal(t, "hi", tb.Text)

	tu := NewToolUseBlock("t1", "read_file", map[string]any{"file_path": "a.go"})
	require.Equal(t, BlockTypeToolUse, tu.Type)
	require.Equal(t, "t1", tu.ID)
	require.Equal(t, "read_file", tu.Name)

	tr := NewToolResultBlock("t1", "contents", false)
	require.Equal(t, BlockTypeToolResult, tr.Type)
	require.Equal(t, "t1", tr.ToolUseID)
	require.False(t, tr.IsError)
}
