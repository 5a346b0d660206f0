// Package bridgepolicy implements the SpawnPolicy for agent families that
// use the callback-bridge approval side channel (§4.6 mechanism (a)):
// approvals never appear on this process's own stdio. They arrive
// out-of-band over the loopback HTTP bridge (internal/supervisor/bridge)
// instead, so this policy only ever wires the Event and Exit sinks — not
// Approval.
//
// Grounded on the teacher's internal/worker/driver/claude package: a
// headless spawn in a stream-json-shaped output mode, piped through a
// scanning goroutine, with the prompt delivered once via stdin at launch.
package bridgepolicy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process/procutil"
)

const agentName = "bridge-agent"

// Policy spawns an agent CLI family whose approval hook program POSTs to a
// shared loopback bridge. CLIPath and BridgeURL are bound once at
// construction (§6, EnvConfig).
type Policy struct {
	CLIPath   string
	BridgeURL string
	Log       *slog.Logger
}

// New returns a Policy. bridgeURL is the base URL of the supervisor's
// approval-callback listener (e.g. "http://127.0.0.1:38123"), injected into
// the spawned process's environment so its own approval hook program knows
// where to POST.
func New(cliPath, bridgeURL string, log *slog.Logger) *Policy {
	return &Policy{CLIPath: cliPath, BridgeURL: bridgeURL, Log: log.With("policy", agentName)}
}

func (p *Policy) Name() string            { return agentName }
func (p *Policy) SupportsLiveStdin() bool { return false }

// IndexPaths follows the single-append-only-JSONL-file layout named in §6.
func (p *Policy) IndexPaths(workingDirectory string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".agent-supervisor", "bridge-agent", "sessions.jsonl")}
}

// Spawn launches the agent headless, in its structured streaming output
// mode, rendering argv from params via the omit-when-unset rule.
func (p *Policy) Spawn(ctx context.Context, params process.SpawnParams, sinks process.Sinks) (process.Process, error) {
	agentSessionID := params.ResumeSessionID
	if agentSessionID == "" {
		agentSessionID = uuid.New().String()
	}

	argv := buildArgv(params, agentSessionID, p.BridgeURL != "")
	cmd := exec.CommandContext(ctx, p.CLIPath, argv...)
	if params.WorkingDirectory != "" {
		cmd.Dir = params.WorkingDirectory
	}
	if params.Prompt != "" {
		cmd.Stdin = strings.NewReader(params.Prompt)
	}
	cmd.Env = process.BuildEnv(map[string]string{
		"AGENT_SUPERVISOR_BRIDGE_URL": p.BridgeURL,
		"AGENT_SUPERVISOR_SESSION_ID": agentSessionID,
	})
	procutil.Prepare(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridgepolicy: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("bridgepolicy: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridgepolicy: start %s: %w", p.CLIPath, err)
	}

	proc := &liveProcess{cmd: cmd, done: make(chan struct{})}

	go func() {
		if err := event.Run(stdout, decodeLine, p.Log, sinks.Event); err != nil {
			p.Log.Warn("agent stdout closed with error", "error", err)
		}
	}()
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			p.Log.Debug("agent stderr", "line", sc.Text())
		}
	}()
	go func() {
		defer close(proc.done)
		waitErr := cmd.Wait()
		sinks.Exit(exitInfoFrom(waitErr))
	}()

	return proc, nil
}

func exitInfoFrom(waitErr error) process.ExitInfo {
	if waitErr == nil {
		return process.ExitInfo{Code: 0}
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return process.ExitInfo{Err: waitErr}
	}
	info := process.ExitInfo{Code: exitErr.ExitCode()}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		info.Signal = ws.Signal()
	}
	return info
}

// buildArgv renders flags from params. Mandatory flags are always present;
// optional ones are omitted when unset so the agent's own default applies.
func buildArgv(params process.SpawnParams, agentSessionID string, bridgeEnabled bool) []string {
	var argv []string

	if params.Model != "" {
		argv = append(argv, "--model", params.Model)
	}
	if params.SystemPrompt != "" {
		argv = append(argv, "--system-prompt", params.SystemPrompt)
	}
	if len(params.AllowedTools) > 0 {
		argv = append(argv, "--allowed-tools", strings.Join(params.AllowedTools, ","))
	}
	if len(params.DisallowedTools) > 0 {
		argv = append(argv, "--disallowed-tools", strings.Join(params.DisallowedTools, ","))
	}
	if params.MaxTurns > 0 {
		argv = append(argv, "--max-turns", strconv.Itoa(params.MaxTurns))
	}
	if params.MaxBudget > 0 {
		argv = append(argv, "--max-budget", strconv.FormatFloat(params.MaxBudget, 'f', -1, 64))
	}
	if params.SkipGitCheck {
		argv = append(argv, "--skip-git-repo-check")
	}

	argv = append(argv, "--output-format", "stream-json")

	if params.BypassApprovals {
		argv = append(argv, "--dangerously-skip-permissions")
	} else if bridgeEnabled {
		argv = append(argv, "--permission-prompt-tool", "supervisor-bridge")
	}

	if params.ResumeSessionID != "" {
		argv = append(argv, "--resume", params.ResumeSessionID)
	} else {
		argv = append(argv, "--session-id", agentSessionID)
	}
	if params.WorkingDirectory != "" {
		argv = append(argv, "--add-dir", params.WorkingDirectory)
	}

	return argv
}

// liveProcess is bridgepolicy's Process handle. This family keeps no
// persistent stdin: the prompt is delivered once at spawn and follow-ups
// always take the resume path (a fresh Spawn), matching the teacher's own
// claude driver, which never reuses a process across turns either.
type liveProcess struct {
	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *liveProcess) Stdin([]byte) error {
	return process.ErrLiveStdinUnsupported
}

func (p *liveProcess) Interrupt() error {
	return procutil.Interrupt(p.cmd)
}

func (p *liveProcess) Kill() error {
	return procutil.Kill(p.cmd)
}

func (p *liveProcess) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wire types for the agent's structured streaming output. The shape below
// follows the three top-level message kinds this family's headless mode
// emits: "system" (carries the real session id once, on init), "assistant"
// (content blocks — text or tool-use), and "result" (turn-terminal).
type wireMessage struct {
	Type      string      `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Message   *wireInner  `json:"message,omitempty"`
	Result    string      `json:"result,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
}

type wireInner struct {
	Content []wireContentBlock `json:"content,omitempty"`
}

type wireContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
	ID        string `json:"id,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
}

func decodeLine(line []byte) (event.Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return event.Event{}, err
	}
	line = append([]byte(nil), line...) // Raw must not alias the scanner's buffer
	now := time.Now()

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" && msg.SessionID != "" {
			return event.Event{Kind: event.KindInit, Timestamp: now, SessionID: msg.SessionID, Raw: line}, nil
		}
		return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil

	case "assistant":
		if msg.Message != nil {
			for _, block := range msg.Message.Content {
				switch block.Type {
				case "text":
					return event.Event{Kind: event.KindStream, Timestamp: now,
						Stream: &event.Stream{Kind: event.StreamTextDelta, Text: block.Text}, Raw: line}, nil
				case "tool_use":
					return event.Event{Kind: event.KindStream, Timestamp: now,
						Stream: &event.Stream{Kind: event.StreamToolUseStart, ToolName: block.Name, ToolID: block.ID}, Raw: line}, nil
				}
			}
		}
		return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil

	case "user":
		if msg.Message != nil {
			for _, block := range msg.Message.Content {
				if block.Type == "tool_result" {
					return event.Event{Kind: event.KindStream, Timestamp: now,
						Stream: &event.Stream{Kind: event.StreamToolUseStop, ToolID: block.ToolUseID}, Raw: line}, nil
				}
			}
		}
		return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil

	case "result":
		status := event.ResultSuccess
		if msg.IsError {
			status = event.ResultError
		}
		return event.Event{Kind: event.KindResult, Timestamp: now,
			Result: &event.Result{Status: status, Text: msg.Result}, Raw: line}, nil

	default:
		return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil
	}
}
