// Package iopolicy implements the SpawnPolicy for agent families that use
// the inline-I/O approval side channel (§4.6 mechanism (b)): the agent
// writes an approval prompt to stderr and blocks on stdin; this policy
// detects that line with a loose pattern and replies with a short token.
//
// This family is one-process-per-turn: follow-ups are never sent over
// stdin, only the y/n approval token is. Grounded on the teacher's
// internal/worker/driver/codex package (the item.started/item.completed
// JSONL dispatch) plus spec.md §9's open question about whether the
// production CLI really puts approval prompts on stderr — unconfirmed, so
// this implementation is built to the spec's description rather than a
// verified wire trace.
package iopolicy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process/procutil"
)

const agentName = "io-agent"

// approvalLine loosely matches an agent's inline approval prompt: one of a
// handful of verbs, followed eventually by a question mark. Per spec.md
// §4.6(b): "words like 'allow', 'approve', 'apply', 'permit' followed by
// '?'".
var approvalLine = regexp.MustCompile(`(?i)(allow|approve|apply|permit).*\?`)

// Policy spawns a one-process-per-turn agent family whose approval prompts
// are inline on stderr/stdin rather than over a side-channel bridge.
type Policy struct {
	CLIPath string
	Log     *slog.Logger
}

func New(cliPath string, log *slog.Logger) *Policy {
	return &Policy{CLIPath: cliPath, Log: log.With("policy", agentName)}
}

func (p *Policy) Name() string            { return agentName }
func (p *Policy) SupportsLiveStdin() bool { return false }

func (p *Policy) IndexPaths(workingDirectory string) []string {
	return []string{workingDirectory + "/.io-agent/sessions"}
}

func (p *Policy) Spawn(ctx context.Context, params process.SpawnParams, sinks process.Sinks) (process.Process, error) {
	argv := buildArgv(params)
	cmd := exec.CommandContext(ctx, p.CLIPath, argv...)
	if params.WorkingDirectory != "" {
		cmd.Dir = params.WorkingDirectory
	}
	cmd.Env = process.BuildEnv(nil)
	procutil.Prepare(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("iopolicy: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("iopolicy: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("iopolicy: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("iopolicy: start %s: %w", p.CLIPath, err)
	}

	proc := &turnProcess{cmd: cmd, done: make(chan struct{})}

	if params.Prompt != "" {
		_, _ = io.WriteString(stdin, params.Prompt+"\n")
	}

	go func() {
		if err := event.Run(stdout, decodeLine, p.Log, sinks.Event); err != nil {
			p.Log.Warn("agent stdout closed with error", "error", err)
		}
	}()
	go watchStderr(stderr, stdin, &proc.stdinMu, sinks.Approval, p.Log)
	go func() {
		defer close(proc.done)
		sinks.Exit(exitInfoFrom(cmd.Wait()))
	}()

	return proc, nil
}

// watchStderr scans for an inline approval prompt; on a match it routes the
// request through sinks.Approval and writes the translated decision back as
// a short token on stdin.
func watchStderr(stderr io.Reader, stdin io.Writer, stdinMu *sync.Mutex, approve process.ApprovalSink, log *slog.Logger) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		line := sc.Text()
		if !approvalLine.MatchString(line) {
			log.Debug("agent stderr", "line", line)
			continue
		}
		resp := <-approve(process.ApprovalRequest{Prompt: line})
		token := "n\n"
		if resp.Approved != nil && *resp.Approved {
			token = "y\n"
		} else if resp.Behavior == "allow" {
			token = "y\n"
		}
		stdinMu.Lock()
		_, _ = io.WriteString(stdin, token)
		stdinMu.Unlock()
	}
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

func buildArgv(params process.SpawnParams) []string {
	var argv []string
	if params.Model != "" {
		argv = append(argv, "--model", params.Model)
	}
	if params.SkipGitCheck {
		argv = append(argv, "--skip-git-repo-check")
	}
	if params.BypassApprovals {
		argv = append(argv, "--full-auto")
	}
	argv = append(argv, "exec", "--json")
	if params.ResumeSessionID != "" {
		argv = append(argv, "resume", params.ResumeSessionID)
	}
	return argv
}

type turnProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	stdinMu sync.Mutex
}

func (p *turnProcess) Stdin([]byte) error {
	return process.ErrLiveStdinUnsupported
}

func (p *turnProcess) Interrupt() error {
	return procutil.Interrupt(p.cmd)
}

func (p *turnProcess) Kill() error {
	return procutil.Kill(p.cmd)
}

func (p *turnProcess) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wire types for the agent's exec --json output: one JSON object per line,
// a top-level "type" plus a nested "item" whose own "type" distinguishes
// agent text, reasoning, and command execution.
type wireEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id,omitempty"`
	Item     *wireItem  `json:"item,omitempty"`
}

type wireItem struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

func decodeLine(line []byte) (event.Event, error) {
	var evt wireEvent
	if err := json.Unmarshal(line, &evt); err != nil {
		return event.Event{}, err
	}
	line = append([]byte(nil), line...) // Raw must not alias the scanner's buffer
	now := time.Now()

	switch evt.Type {
	case "thread.started":
		return event.Event{Kind: event.KindInit, Timestamp: now, SessionID: evt.ThreadID, Raw: line}, nil

	case "turn.completed":
		return event.Event{Kind: event.KindResult, Timestamp: now,
			Result: &event.Result{Status: event.ResultSuccess}, Raw: line}, nil

	case "item.started":
		if evt.Item != nil && evt.Item.Type == "command_execution" {
			return event.Event{Kind: event.KindStream, Timestamp: now,
				Stream: &event.Stream{Kind: event.StreamToolUseStart, ToolName: "command_execution", ToolID: evt.Item.ID}, Raw: line}, nil
		}
		return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil

	case "item.completed":
		if evt.Item == nil {
			return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil
		}
		switch evt.Item.Type {
		case "agent_message":
			return event.Event{Kind: event.KindStream, Timestamp: now,
				Stream: &event.Stream{Kind: event.StreamTextDelta, Text: evt.Item.Text}, Raw: line}, nil
		case "command_execution":
			return event.Event{Kind: event.KindStream, Timestamp: now,
				Stream: &event.Stream{Kind: event.StreamToolUseStop, ToolID: evt.Item.ID}, Raw: line}, nil
		}
		return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil

	case "error":
		return event.Event{Kind: event.KindResult, Timestamp: now,
			Result: &event.Result{Status: event.ResultError, Text: strings.TrimSpace(string(line))}, Raw: line}, nil

	default:
		return event.Event{Kind: event.KindUnknown, Timestamp: now, Raw: line}, nil
	}
}
