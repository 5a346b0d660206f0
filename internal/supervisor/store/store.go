// Package store implements the Session Store: a concurrent id → Session
// mapping that enforces the configured concurrency cap and supports the
// atomic temp-id-then-rekey pattern used while an agent's real session id is
// still unknown.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/approval"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/history"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
)

// TempIDPrefix marks an id as a supervisor-generated placeholder, not yet
// rekeyed to the agent's real session id.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh temp id.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id looks like a temp id.
func IsTempID(id string) bool {
	return len(id) >= len(TempIDPrefix) && id[:len(TempIDPrefix)] == TempIDPrefix
}

// Status is a session's place in the state machine.
type Status string

const (
	StatusActive        Status = "active"
	StatusAwaitingInput Status = "awaiting_input"
	StatusDone          Status = "done"
	StatusError         Status = "error"
	StatusInterrupted   Status = "interrupted"
)

// ToolUse records one observed tool invocation within a session.
type ToolUse struct {
	Name   string
	ID     string
	Status string // "running", "completed", "denied"
}

// PendingQuestion is the at-most-one outstanding approval question on a
// session. It carries everything status needs to render it, and the
// original tool input retained for answer translation.
type PendingQuestion struct {
	ID            string
	Kind          approval.Kind
	Prompt        string
	Options       []string
	SubQuestions  []approval.SubQuestion
	OriginalInput []byte
}

// Session is the central entity described by the data model: a session's
// mutable fields are only ever touched under mu, per the per-session
// serialization guarantee.
type Session struct {
	mu sync.Mutex

	ID               string
	Status           Status
	Process          process.Process
	CreatedAt        time.Time
	WorkingDirectory string
	SpawnParams      process.SpawnParams
	Policy           process.SpawnPolicy
	History          *history.Ring
	PendingQuestion  *PendingQuestion
	ToolUses         []ToolUse
	Result           string
	Error            string
	Metrics          map[string]any

	// terminalByResult is set once a Result event has fixed a terminal
	// status; the exit handler must not override it (§4.8.8).
	terminalByResult bool
}

// Lock/Unlock expose the per-session guard to package manager, which owns
// the state-machine transitions. Exported so manager can serialize a
// multi-field mutation without store needing to know its shape.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) TerminalByResult() bool     { return s.terminalByResult }
func (s *Session) SetTerminalByResult(v bool) { s.terminalByResult = v }

var (
	ErrUnknownSession   = errors.New("store: unknown session")
	ErrCapacityExceeded = errors.New("store: max_sessions would be exceeded")
)

// Store is a concurrent session map, safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// New returns an empty Store capped at maxSessions concurrently live
// processes.
func New(maxSessions int) *Store {
	return &Store{sessions: make(map[string]*Session), maxSessions: maxSessions}
}

// InsertIfCapacity inserts sess under sess.ID, but only if doing so would not
// push the number of sessions with a live process beyond max_sessions.
func (s *Store) InsertIfCapacity(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countActiveLocked() >= s.maxSessions {
		return ErrCapacityExceeded
	}
	s.sessions[sess.ID] = sess
	return nil
}

// CheckCapacity reports ErrCapacityExceeded if spawning one more live
// process would exceed max_sessions. Used before resuming an existing
// session into a fresh process.
func (s *Store) CheckCapacity() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.countActiveLocked() >= s.maxSessions {
		return ErrCapacityExceeded
	}
	return nil
}

func (s *Store) countActiveLocked() int {
	n := 0
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if sess.Process != nil {
			n++
		}
		sess.mu.Unlock()
	}
	return n
}

// CountActive reports the number of sessions with a live process.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked()
}

// Get looks up a session by exact id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Rekey atomically moves sess from oldID to newID, updating sess.ID in
// place. Returns ErrUnknownSession if oldID is not present.
func (s *Store) Rekey(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[oldID]
	if !ok {
		return ErrUnknownSession
	}
	delete(s.sessions, oldID)
	sess.mu.Lock()
	sess.ID = newID
	sess.mu.Unlock()
	s.sessions[newID] = sess
	return nil
}

// Remove deletes id from the store, if present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ForEach calls fn for every session currently tracked. fn must not call
// back into Store.
func (s *Store) ForEach(fn func(*Session)) {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		fn(sess)
	}
}

// ResolveApprovalSession implements the lookup-fallback heuristic used when
// an approval side channel labels its request with a session id that may
// not exactly match any known session: exact match; else, if label is the
// "not yet initialized" sentinel (empty string), the most recently inserted
// session still on a temp id; else, the most recently created session whose
// status is ACTIVE or AWAITING_INPUT.
func (s *Store) ResolveApprovalSession(label string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if label != "" {
		if sess, ok := s.sessions[label]; ok {
			return sess, true
		}
	}

	var best *Session
	for _, sess := range s.sessions {
		sess.mu.Lock()
		match := false
		if label == "" {
			match = IsTempID(sess.ID)
		} else {
			match = sess.Status == StatusActive || sess.Status == StatusAwaitingInput
		}
		createdAt := sess.CreatedAt
		sess.mu.Unlock()

		if !match {
			continue
		}
		if best == nil {
			best = sess
			continue
		}
		best.mu.Lock()
		bestCreated := best.CreatedAt
		best.mu.Unlock()
		if createdAt.After(bestCreated) {
			best = sess
		}
	}
	return best, best != nil
}
