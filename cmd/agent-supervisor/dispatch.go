package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/manager"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
)

const defaultShutdownGrace = 5 * time.Second

// serveLoop reads one request envelope per line from r, dispatches it, and
// writes one response envelope per line to w. It returns once r is
// exhausted or ctx is done.
func serveLoop(ctx context.Context, m *manager.Manager, r io.Reader, w io.Writer, log *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(response{OK: false, Error: &errorPayload{Kind: "bad-request", Message: err.Error()}})
			continue
		}

		result, err := dispatch(ctx, m, req)
		if err != nil {
			_ = enc.Encode(response{OK: false, Error: errorPayloadFrom(err)})
			continue
		}

		payload, err := json.Marshal(result)
		if err != nil {
			_ = enc.Encode(response{OK: false, Error: &errorPayload{Kind: "encode-failed", Message: err.Error()}})
			continue
		}
		_ = enc.Encode(response{OK: true, Result: payload})
	}

	if err := scanner.Err(); err != nil {
		log.Warn("stdin scan error", "error", err)
	}
}

func errorPayloadFrom(err error) *errorPayload {
	var merr *manager.Error
	if errors.As(err, &merr) {
		return &errorPayload{Kind: string(merr.Kind), Message: merr.Message}
	}
	return &errorPayload{Kind: "internal", Message: err.Error()}
}

// dispatch decodes req.Params for req.Op and invokes the matching Manager
// operation, per spec.md §6's parameter table.
func dispatch(ctx context.Context, m *manager.Manager, req request) (any, error) {
	switch req.Op {
	case "start":
		var p startParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.Start(ctx, p.AgentFamily, toSpawnParams(p))

	case "say":
		var p sayParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		var overlay *process.SpawnParams
		if p.ApprovalPolicy != "" {
			overlay = &process.SpawnParams{PermissionMode: p.ApprovalPolicy, Images: p.Images}
		}
		return m.Say(ctx, p.SessionID, p.Message, overlay)

	case "status":
		var p statusParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.Status(p.SessionID, p.OutputLines)

	case "respond":
		var p respondParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.Respond(p.SessionID, p.QuestionID, p.Answers)

	case "interrupt":
		var p interruptParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.Interrupt(p.SessionID)

	case "list":
		var p listParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return m.List(p.FilterDir, p.Limit), nil

	default:
		return nil, errors.New("dispatch: unknown op " + req.Op)
	}
}

func toSpawnParams(p startParams) process.SpawnParams {
	return process.SpawnParams{
		Prompt:           p.Prompt,
		WorkingDirectory: p.WorkingDirectory,
		Model:            p.Model,
		PermissionMode:   p.PermissionMode,
		AllowedTools:     p.AllowedTools,
		DisallowedTools:  p.DisallowedTools,
		MaxTurns:         p.MaxTurns,
		MaxBudget:        p.MaxBudget,
		SystemPrompt:     p.SystemPrompt,
		Images:           p.Images,
		SkipGitCheck:     p.SkipGitCheck,
		BypassApprovals:  p.BypassApprovals,
	}
}
