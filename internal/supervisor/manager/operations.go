package manager

import (
	"sort"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/store"
)

// Status implements §4.8.3.
func (m *Manager) Status(sessionID string, n int) (StatusView, error) {
	sess, ok := m.store.Get(sessionID)
	if !ok {
		return StatusView{}, newError(ErrUnknownSession, "status: unknown session %s", sessionID)
	}
	if n <= 0 {
		n = 50
	}

	sess.Lock()
	defer sess.Unlock()

	view := StatusView{
		SessionID: sess.ID,
		Status:    sess.Status,
		Result:    sess.Result,
		Metrics:   sess.Metrics,
	}
	if sess.History != nil {
		view.RecentOutput = sess.History.Extract(n, extractTextDelta)
	}
	if sess.Status == store.StatusAwaitingInput && sess.PendingQuestion != nil {
		view.PendingQuestion = renderPendingQuestion(sess.PendingQuestion)
	}
	for _, tu := range sess.ToolUses {
		view.ToolUseEvents = append(view.ToolUseEvents, ToolUseView{Name: tu.Name, ID: tu.ID, Status: tu.Status})
	}
	return view, nil
}

func extractTextDelta(ev event.Event) (string, bool) {
	if ev.Kind != event.KindStream || ev.Stream == nil || ev.Stream.Kind != event.StreamTextDelta {
		return "", false
	}
	return ev.Stream.Text, true
}

func renderPendingQuestion(pq *store.PendingQuestion) *PendingQuestionView {
	view := &PendingQuestionView{ID: pq.ID, Kind: string(pq.Kind)}
	if len(pq.SubQuestions) > 0 {
		for _, sq := range pq.SubQuestions {
			view.Questions = append(view.Questions, QuestionView{Prompt: sq.Question, Options: sq.Options})
		}
		return view
	}
	view.Questions = []QuestionView{{Prompt: pq.Prompt, Options: pq.Options}}
	return view
}

// Respond implements §4.8.4.
func (m *Manager) Respond(sessionID, questionID string, answers []string) (OpResult, error) {
	sess, ok := m.store.Get(sessionID)
	if !ok {
		return OpResult{}, newError(ErrUnknownSession, "respond: unknown session %s", sessionID)
	}

	sess.Lock()
	pq := sess.PendingQuestion
	sess.Unlock()

	if pq == nil {
		return OpResult{}, newError(ErrNoPendingQuestion, "respond: session %s has no pending question", sessionID)
	}
	if pq.ID != questionID {
		return OpResult{}, newError(ErrIDMismatch, "respond: question id %s does not match pending %s", questionID, pq.ID)
	}

	if !m.questions.Resolve(questionID, answers) {
		return OpResult{}, newError(ErrNoPendingQuestion, "respond: question %s already resolved", questionID)
	}

	sess.Lock()
	result := OpResult{SessionID: sess.ID, Status: sess.Status}
	sess.Unlock()
	return result, nil
}

// Interrupt implements §4.8.5.
func (m *Manager) Interrupt(sessionID string) (OpResult, error) {
	sess, ok := m.store.Get(sessionID)
	if !ok {
		return OpResult{}, newError(ErrUnknownSession, "interrupt: unknown session %s", sessionID)
	}

	sess.Lock()
	proc := sess.Process
	sess.Unlock()
	if proc == nil {
		return OpResult{}, newError(ErrNoActiveProcess, "interrupt: session %s has no active process", sessionID)
	}

	if err := proc.Interrupt(); err != nil {
		return OpResult{}, newError(ErrNoActiveProcess, "interrupt: %v", err)
	}

	sess.Lock()
	if pq := sess.PendingQuestion; pq != nil {
		// Forget the question without delivering it — otherwise its timer
		// (or a racing Respond) would fire deliver() later and flip the
		// session back to ACTIVE, contradicting the state diagram's only
		// INTERRUPTED->ACTIVE path (say/resume).
		m.questions.Clear(pq.ID)
		sess.PendingQuestion = nil
	}
	sess.Status = store.StatusInterrupted
	sess.Unlock()

	return OpResult{SessionID: sess.ID, Status: store.StatusInterrupted}, nil
}

// List implements §4.8.6.
func (m *Manager) List(filterDir string, limit int) ListResult {
	if limit <= 0 {
		limit = 50
	}

	seen := make(map[string]bool)
	var entries []ListEntry

	m.store.ForEach(func(sess *store.Session) {
		sess.Lock()
		id := sess.ID
		wd := sess.WorkingDirectory
		status := sess.Status
		createdAt := sess.CreatedAt
		sess.Unlock()

		if store.IsTempID(id) {
			return
		}
		if filterDir != "" && wd != filterDir {
			return
		}
		seen[id] = true
		entries = append(entries, ListEntry{
			SessionID: id,
			Project:   wd,
			IsActive:  true,
			Status:    status,
			Timestamp: createdAt,
		})
	})

	dirs := map[string]bool{"": true}
	if filterDir != "" {
		dirs[filterDir] = true
	}
	m.store.ForEach(func(sess *store.Session) {
		sess.Lock()
		wd := sess.WorkingDirectory
		sess.Unlock()
		if wd != "" {
			dirs[wd] = true
		}
	})

	readPaths := make(map[string]bool)
	for _, policy := range m.policies {
		for dir := range dirs {
			for _, path := range policy.IndexPaths(dir) {
				if readPaths[path] {
					continue
				}
				readPaths[path] = true
				for _, e := range m.idx.Read(path) {
					if seen[e.SessionID] {
						continue
					}
					if filterDir != "" && e.Project != filterDir {
						continue
					}
					seen[e.SessionID] = true
					entries = append(entries, ListEntry{
						SessionID: e.SessionID,
						Project:   e.Project,
						Display:   e.Display,
						Timestamp: e.Timestamp,
					})
				}
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return ListResult{Sessions: entries}
}
