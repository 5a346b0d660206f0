// Package manager implements the Session Manager (C8): the six tool
// operations plus the internal event, exit, and approval handlers. It is
// the one component that touches every other C1–C7 package, and the only
// one with an opinion on the state machine in spec.md §4.8.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/approval"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/config"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/history"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/index"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/question"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/store"
)

// Manager is the Session Manager. It is safe for concurrent use: every
// Session it touches carries its own serialization guarantee, and the
// underlying Store is concurrency-safe on its own.
type Manager struct {
	log           *slog.Logger
	cfg           config.EnvConfig
	store         *store.Store
	questions     *question.Registry
	idx           *index.Reader
	policies      map[string]process.SpawnPolicy
	defaultPolicy string
	now           func() time.Time
}

// New constructs a Manager. policies maps an agent-family name (matching
// SpawnPolicy.Name()) to its strategy; defaultPolicy names the family used
// when start's caller does not pick one explicitly.
func New(log *slog.Logger, cfg config.EnvConfig, policies map[string]process.SpawnPolicy, defaultPolicy string) *Manager {
	return &Manager{
		log:           log,
		cfg:           cfg,
		store:         store.New(cfg.MaxSessions),
		questions:     question.New(),
		idx:           index.New(),
		policies:      policies,
		defaultPolicy: defaultPolicy,
		now:           time.Now,
	}
}

// Shutdown signals every live process and cancels every pending question
// timer. The Process interface only exposes SIGINT/SIGKILL, not a separate
// SIGTERM — Interrupt is used as the closest available graceful signal.
func (m *Manager) Shutdown() {
	m.store.ForEach(func(sess *store.Session) {
		sess.Lock()
		proc := sess.Process
		sess.Unlock()
		if proc != nil {
			_ = proc.Interrupt()
		}
	})
	m.questions.Cleanup()
}

// SetPolicies wires the agent-family strategies after construction — used
// because a bridgepolicy typically needs the bridge's own URL, and the
// bridge itself needs HandleApproval, which requires a constructed Manager.
func (m *Manager) SetPolicies(policies map[string]process.SpawnPolicy, defaultPolicy string) {
	m.policies = policies
	m.defaultPolicy = defaultPolicy
}

func (m *Manager) sinksFor(sess *store.Session) process.Sinks {
	return process.Sinks{
		Event: func(ev event.Event) { m.handleEvent(sess, ev) },
		Exit:  func(info process.ExitInfo) { m.handleExit(sess, info) },
		Approval: func(req process.ApprovalRequest) <-chan approval.Response {
			// A side channel that cannot name its session (inline I/O) is
			// still bound to this one; label the request with its current id.
			if req.SessionID == "" {
				sess.Lock()
				req.SessionID = sess.ID
				sess.Unlock()
			}
			return m.HandleApproval(req)
		},
	}
}

func (m *Manager) resolvePolicy(name string) (process.SpawnPolicy, error) {
	if name == "" {
		name = m.defaultPolicy
	}
	policy, ok := m.policies[name]
	if !ok {
		return nil, fmt.Errorf("manager: unknown agent family %q", name)
	}
	return policy, nil
}

// Start implements §4.8.1. policyName selects the agent family; "" picks
// the configured default.
func (m *Manager) Start(ctx context.Context, policyName string, params process.SpawnParams) (OpResult, error) {
	policy, err := m.resolvePolicy(policyName)
	if err != nil {
		return OpResult{}, newError(ErrSpawnFailed, "start: %v", err)
	}

	tempID := store.NewTempID()
	sess := &store.Session{
		ID:               tempID,
		Status:           store.StatusActive,
		CreatedAt:        m.now(),
		WorkingDirectory: params.WorkingDirectory,
		SpawnParams:      params,
		Policy:           policy,
		History:          history.New(m.cfg.EventBufferSize),
	}

	if err := m.store.InsertIfCapacity(sess); err != nil {
		return OpResult{}, newError(ErrCapacityExceeded, "start: %v", err)
	}

	proc, err := policy.Spawn(ctx, params, m.sinksFor(sess))
	if err != nil {
		m.store.Remove(tempID)
		return OpResult{}, newError(ErrSpawnFailed, "start: %v", err)
	}

	sess.Lock()
	sess.Process = proc
	sess.Unlock()

	deadline := m.now().Add(10 * time.Second)
	for m.now().Before(deadline) {
		sess.Lock()
		id := sess.ID
		sess.Unlock()
		if id != tempID {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	sess.Lock()
	result := OpResult{SessionID: sess.ID, Status: sess.Status}
	sess.Unlock()
	return result, nil
}

// Say implements §4.8.2.
func (m *Manager) Say(ctx context.Context, sessionID, message string, newParams *process.SpawnParams) (OpResult, error) {
	sess, ok := m.store.Get(sessionID)
	if !ok {
		sess = &store.Session{
			ID:        sessionID,
			Status:    store.StatusDone,
			CreatedAt: m.now(),
			History:   history.New(m.cfg.EventBufferSize),
		}
		if err := m.store.InsertIfCapacity(sess); err != nil {
			return OpResult{}, newError(ErrCapacityExceeded, "say: %v", err)
		}
	}

	sess.Lock()
	status := sess.Status
	proc := sess.Process
	policy := sess.Policy
	params := sess.SpawnParams
	sess.Unlock()

	respawnRequested := newParams != nil && requiresRespawn(*newParams)

	switch {
	case proc != nil && status == store.StatusActive && !respawnRequested && policy != nil && policy.SupportsLiveStdin():
		if err := proc.Stdin(liveFollowUp(sess.ID, message)); err != nil {
			return OpResult{}, newError(ErrBusy, "say: write live stdin: %v", err)
		}
		return OpResult{SessionID: sess.ID, Status: store.StatusActive}, nil

	case proc != nil && respawnRequested:
		if err := m.interruptAndWait(ctx, proc, 5*time.Second); err != nil {
			return OpResult{}, newError(ErrBusy, "say: %v", err)
		}
		params = mergeParams(params, newParams)

	case proc != nil:
		return OpResult{}, newError(ErrBusy, "say: session %s has an active process", sess.ID)

	default:
		params = mergeParams(params, newParams)
	}

	if err := m.store.CheckCapacity(); err != nil {
		return OpResult{}, newError(ErrCapacityExceeded, "say: %v", err)
	}
	if policy == nil {
		var perr error
		policy, perr = m.resolvePolicy("")
		if perr != nil {
			return OpResult{}, newError(ErrSpawnFailed, "say: %v", perr)
		}
	}

	params.ResumeSessionID = sess.ID
	params.Prompt = message

	proc, err := policy.Spawn(ctx, params, m.sinksFor(sess))
	if err != nil {
		return OpResult{}, newError(ErrSpawnFailed, "say: resume: %v", err)
	}

	sess.Lock()
	sess.Process = proc
	sess.Status = store.StatusActive
	sess.SpawnParams = params
	sess.Policy = policy
	sess.SetTerminalByResult(false)
	sess.Unlock()

	return OpResult{SessionID: sess.ID, Status: store.StatusActive}, nil
}

func (m *Manager) interruptAndWait(ctx context.Context, proc process.Process, grace time.Duration) error {
	if err := proc.Interrupt(); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := proc.Wait(waitCtx); err != nil {
		return proc.Kill()
	}
	return nil
}

// requiresRespawn reports whether newParams changes something that can only
// take effect in a fresh process — e.g. an approval-policy override.
func requiresRespawn(p process.SpawnParams) bool {
	return p.PermissionMode != ""
}

// mergeParams overlays every set field of overlay onto base, leaving base's
// value wherever overlay leaves a field at its zero value.
func mergeParams(base process.SpawnParams, overlay *process.SpawnParams) process.SpawnParams {
	if overlay == nil {
		return base
	}
	merged := base
	if overlay.PermissionMode != "" {
		merged.PermissionMode = overlay.PermissionMode
	}
	if len(overlay.Images) > 0 {
		merged.Images = overlay.Images
	}
	if overlay.Model != "" {
		merged.Model = overlay.Model
	}
	if overlay.SystemPrompt != "" {
		merged.SystemPrompt = overlay.SystemPrompt
	}
	if len(overlay.AllowedTools) > 0 {
		merged.AllowedTools = overlay.AllowedTools
	}
	if len(overlay.DisallowedTools) > 0 {
		merged.DisallowedTools = overlay.DisallowedTools
	}
	if overlay.MaxTurns > 0 {
		merged.MaxTurns = overlay.MaxTurns
	}
	if overlay.MaxBudget > 0 {
		merged.MaxBudget = overlay.MaxBudget
	}
	if overlay.BypassApprovals {
		merged.BypassApprovals = true
	}
	return merged
}

func liveFollowUp(sessionID, message string) []byte {
	payload := map[string]string{"role": "user", "content": message, "session_id": sessionID}
	out, err := json.Marshal(payload)
	if err != nil {
		return []byte(message)
	}
	return append(out, '\n')
}
