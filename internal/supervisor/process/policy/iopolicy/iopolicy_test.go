package iopolicy

import (
	"testing"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalLine_MatchesLooseApprovalPrompts(t *testing.T) {
	assert.True(t, approvalLine.MatchString("allow running `rm -rf build`?"))
	assert.True(t, approvalLine.MatchString("Apply this patch to main.go?"))
	assert.False(t, approvalLine.MatchString("just some ordinary log output"))
}

func TestDecodeLine_ThreadStartedIsInit(t *testing.T) {
	ev, err := decodeLine([]byte(`{"type":"thread.started","thread_id":"abc-123"}`))
	require.NoError(t, err)
	assert.Equal(t, event.KindInit, ev.Kind)
	assert.Equal(t, "abc-123", ev.SessionID)
}

func TestDecodeLine_AgentMessageAndCommandExecution(t *testing.T) {
	msg, err := decodeLine([]byte(`{"type":"item.completed","item":{"id":"i1","type":"agent_message","text":"done"}}`))
	require.NoError(t, err)
	assert.Equal(t, event.StreamTextDelta, msg.Stream.Kind)
	assert.Equal(t, "done", msg.Stream.Text)

	start, err := decodeLine([]byte(`{"type":"item.started","item":{"id":"i2","type":"command_execution"}}`))
	require.NoError(t, err)
	assert.Equal(t, event.StreamToolUseStart, start.Stream.Kind)

	stop, err := decodeLine([]byte(`{"type":"item.completed","item":{"id":"i2","type":"command_execution"}}`))
	require.NoError(t, err)
	assert.Equal(t, event.StreamToolUseStop, stop.Stream.Kind)
}

func TestDecodeLine_TurnCompletedIsResult(t *testing.T) {
	ev, err := decodeLine([]byte(`{"type":"turn.completed"}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Result)
	assert.Equal(t, event.ResultSuccess, ev.Result.Status)
}

func TestBuildArgv_ResumeSubcommand(t *testing.T) {
	argv := buildArgv(process.SpawnParams{ResumeSessionID: "thread-1"})
	assert.Contains(t, argv, "resume")
	assert.Contains(t, argv, "thread-1")
}
