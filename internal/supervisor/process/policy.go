// Package process defines the Process Supervisor's contract: the
// SpawnPolicy interface that per-agent-family strategies implement, and the
// Process handle those strategies hand back. Concrete policies live under
// policy/bridgepolicy and policy/iopolicy.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/approval"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
)

// SpawnParams is the full bundle of agent parameters, rendered into argv
// (and stdin, for the initial prompt) by a SpawnPolicy. It is stored
// verbatim on the Session for faithful resume.
type SpawnParams struct {
	Prompt            string
	WorkingDirectory  string
	Model             string
	PermissionMode    string
	AllowedTools      []string
	DisallowedTools   []string
	MaxTurns          int
	MaxBudget         float64
	SystemPrompt      string
	Images            []string
	SkipGitCheck      bool
	BypassApprovals   bool
	ResumeSessionID   string // non-empty ⇒ resume directive + Prompt is the follow-up message
}

// ExitInfo describes how a spawned process ended.
type ExitInfo struct {
	Code   int
	Signal os.Signal
	Err    error
}

// ApprovalRequest is an approval arriving over either side channel named in
// §4.6. SessionID may be the sentinel "" when the side channel cannot yet
// name the session it belongs to (e.g. it fires before the Init event).
type ApprovalRequest struct {
	SessionID string
	RequestID string
	ToolName  string
	ToolID    string // correlates to the tool_use id a ToolUseStart event carried, when the side channel can supply one
	ToolInput json.RawMessage
	Prompt    string
}

// ApprovalSink registers an approval request and returns a channel the side
// channel itself should block on — the value it receives is the translated
// response to deliver back to the agent.
type ApprovalSink func(ApprovalRequest) <-chan approval.Response

// Sinks are the caller-supplied callbacks a SpawnPolicy feeds as it
// observes the spawned process.
type Sinks struct {
	Event    func(event.Event)
	Approval ApprovalSink
	Exit     func(ExitInfo)
}

// ErrLiveStdinUnsupported is returned by Stdin when the agent family is
// one-process-per-turn and does not support a follow-up written to a live
// process.
var ErrLiveStdinUnsupported = errors.New("process: agent family does not support live stdin")

// Process is a handle to one spawned agent CLI process.
type Process interface {
	// Stdin writes one line to the process's stdin, for families that
	// support a live follow-up. Returns ErrLiveStdinUnsupported otherwise.
	Stdin(line []byte) error
	// Interrupt delivers SIGINT.
	Interrupt() error
	// Kill delivers SIGKILL, used to escalate after a grace period.
	Kill() error
	// Wait blocks until the process has exited or ctx is done.
	Wait(ctx context.Context) error
}

// SpawnPolicy is the per-agent-family strategy bundle: argv rendering, the
// event decoder, the approval side-channel mode, live-stdin capability, and
// the on-disk session index location.
type SpawnPolicy interface {
	// Name identifies the agent family, e.g. "bridge-agent", "io-agent".
	Name() string
	// SupportsLiveStdin reports whether Process.Stdin can deliver a
	// follow-up to a running process, vs. requiring a fresh spawn (resume).
	SupportsLiveStdin() bool
	// IndexPaths returns the on-disk session index location(s) this family
	// records under workingDirectory, for the list operation.
	IndexPaths(workingDirectory string) []string
	// Spawn launches the agent CLI rendered from params, wiring sinks to
	// the process's stdout/approval channel/exit. A spawn-time failure
	// (missing executable, permission denied) is returned as an error, not
	// reported through sinks.
	Spawn(ctx context.Context, params SpawnParams, sinks Sinks) (Process, error)
}
