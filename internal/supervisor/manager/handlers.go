package manager

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/approval"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/store"
)

// handleEvent implements §4.8.7. It is invoked on the session's own
// stdout-reading goroutine, so it is the only writer of sess's fields at
// this particular moment — but still takes sess's lock, since status and
// status-derived reads (respond, interrupt, status) can race it from other
// goroutines.
func (m *Manager) handleEvent(sess *store.Session, ev event.Event) {
	if sess.History != nil {
		sess.History.Append(ev)
	}

	switch ev.Kind {
	case event.KindInit:
		m.handleInit(sess, ev)

	case event.KindStream:
		m.handleStream(sess, ev)

	case event.KindResult:
		m.handleResult(sess, ev)
	}
}

func (m *Manager) handleInit(sess *store.Session, ev event.Event) {
	sess.Lock()
	oldID := sess.ID
	sess.Unlock()

	if !store.IsTempID(oldID) || ev.SessionID == "" || ev.SessionID == oldID {
		return
	}
	// Rekey is called with sess.mu released: Rekey takes the session's lock
	// itself to mutate ID, so holding it here would deadlock.
	if err := m.storeRekey(oldID, ev.SessionID); err != nil {
		m.log.Warn("rekey on init event failed", "old_id", oldID, "new_id", ev.SessionID, "error", err)
	}
}

func (m *Manager) storeRekey(oldID, newID string) error {
	return m.store.Rekey(oldID, newID)
}

func (m *Manager) handleStream(sess *store.Session, ev event.Event) {
	if ev.Stream == nil {
		return
	}
	switch ev.Stream.Kind {
	case event.StreamToolUseStart:
		sess.Lock()
		sess.ToolUses = append(sess.ToolUses, store.ToolUse{
			Name:   ev.Stream.ToolName,
			ID:     ev.Stream.ToolID,
			Status: "running",
		})
		sess.Unlock()

	case event.StreamToolUseStop:
		sess.Lock()
		for i := len(sess.ToolUses) - 1; i >= 0; i-- {
			if sess.ToolUses[i].Status != "running" {
				continue
			}
			if ev.Stream.ToolID != "" && sess.ToolUses[i].ID != ev.Stream.ToolID {
				continue
			}
			sess.ToolUses[i].Status = "completed"
			break
		}
		sess.Unlock()
	}
}

func (m *Manager) handleResult(sess *store.Session, ev event.Event) {
	if ev.Result == nil {
		return
	}
	sess.Lock()
	defer sess.Unlock()

	switch ev.Result.Status {
	case event.ResultSuccess:
		sess.Status = store.StatusDone
		sess.Result = ev.Result.Text
		if ev.Result.Metrics != nil {
			sess.Metrics = ev.Result.Metrics
		}
	case event.ResultInterrupted:
		sess.Status = store.StatusInterrupted
	case event.ResultError:
		sess.Status = store.StatusError
		sess.Error = ev.Result.Text
	}
	sess.SetTerminalByResult(true)
}

// handleExit implements §4.8.8: a Result event's status takes precedence
// over whatever the bare exit code/signal would otherwise imply.
func (m *Manager) handleExit(sess *store.Session, info process.ExitInfo) {
	sess.Lock()
	defer sess.Unlock()

	sess.Process = nil
	if sess.TerminalByResult() {
		return
	}

	switch {
	case info.Signal == os.Interrupt:
		sess.Status = store.StatusInterrupted
	case info.Code == 0 && info.Err == nil:
		sess.Status = store.StatusDone
	default:
		sess.Status = store.StatusError
		sess.Error = fmt.Sprintf("process exited with code %d", info.Code)
	}
}

// HandleApproval implements §4.8.9. It is exported so the HTTP
// approval-callback bridge (internal/supervisor/bridge) can feed it
// requests it accepts on the loopback listener, exactly like a policy's own
// Sinks.Approval would.
func (m *Manager) HandleApproval(req process.ApprovalRequest) <-chan approval.Response {
	out := make(chan approval.Response, 1)

	sess, ok := m.store.ResolveApprovalSession(req.SessionID)
	if !ok {
		out <- approval.Response{Behavior: "deny", Message: "no session to attach this approval request to"}
		close(out)
		return out
	}

	question := approval.Classify(approval.Request{
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		Prompt:    req.Prompt,
	})

	questionID := req.RequestID
	if questionID == "" {
		questionID = uuid.New().String()
	}

	sess.Lock()
	sess.PendingQuestion = &store.PendingQuestion{
		ID:            questionID,
		Kind:          question.Kind,
		Prompt:        question.Prompt,
		Options:       question.Options,
		SubQuestions:  question.SubQuestions,
		OriginalInput: question.Original,
	}
	sess.Status = store.StatusAwaitingInput
	sess.Unlock()

	deliver := func(v any) {
		var resp approval.Response
		switch value := v.(type) {
		case []string:
			resp = approval.Translate(question, value)
		case approval.Response:
			resp = value
		default:
			resp = approval.Response{Behavior: "deny", Message: "internal error translating answer"}
		}

		if isDenied(resp) {
			markToolUseDenied(sess, req.ToolID, req.ToolName)
		}

		sess.Lock()
		sess.PendingQuestion = nil
		sess.Status = store.StatusActive
		sess.Unlock()

		out <- resp
		close(out)
	}

	onTimeout := func() any {
		return approval.Translate(question, []string{"deny: timed out waiting for operator response"})
	}

	m.questions.Register(questionID, m.cfg.ApprovalTimeout(), deliver, onTimeout)

	return out
}

// isDenied reports whether a translated approval response amounts to a
// rejection, across both the callback-bridge and inline-I/O reply shapes.
func isDenied(resp approval.Response) bool {
	if resp.Behavior == "deny" {
		return true
	}
	return resp.Approved != nil && !*resp.Approved
}

// markToolUseDenied finds the matching in-flight ToolUse (by id when the
// side channel could supply one, else the most recently started entry
// still "running" whose name matches toolName, or any name when toolName
// is empty) and marks it "denied" — otherwise a denied call's
// ToolUse entry would be stuck at "running" forever in the status view.
func markToolUseDenied(sess *store.Session, toolID, toolName string) {
	sess.Lock()
	defer sess.Unlock()
	for i := len(sess.ToolUses) - 1; i >= 0; i-- {
		if sess.ToolUses[i].Status != "running" {
			continue
		}
		if toolID != "" && sess.ToolUses[i].ID != toolID {
			continue
		}
		if toolID == "" && toolName != "" && sess.ToolUses[i].Name != toolName {
			continue
		}
		sess.ToolUses[i].Status = "denied"
		return
	}
}
