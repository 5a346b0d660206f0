package manager

import (
	"time"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/store"
)

// OpResult is the uniform {session_id, status} shape returned by start,
// say, respond, and interrupt.
type OpResult struct {
	SessionID string
	Status    store.Status
}

// PendingQuestionView is the operator-facing rendering of a
// store.PendingQuestion — it never exposes the resolver or the raw tool
// input (§4.8.3).
type PendingQuestionView struct {
	ID        string
	Kind      string
	Questions []QuestionView
}

// QuestionView renders one sub-question (or, for kinds with a single
// top-level prompt, the only entry).
type QuestionView struct {
	Prompt  string
	Options []string
}

// ToolUseView mirrors store.ToolUse for external consumption.
type ToolUseView struct {
	Name   string
	ID     string
	Status string
}

// StatusView is the snapshot returned by the status operation.
type StatusView struct {
	SessionID       string
	Status          store.Status
	Result          string
	RecentOutput    []string
	PendingQuestion *PendingQuestionView
	ToolUseEvents   []ToolUseView
	Metrics         map[string]any
}

// ListEntry is one row of the list operation's response: either a live
// in-supervisor session or an on-disk index row, merged and annotated.
type ListEntry struct {
	SessionID string
	Project   string
	Display   string
	IsActive  bool
	Status    store.Status
	Timestamp time.Time
}

// ListResult is the response of the list operation.
type ListResult struct {
	Sessions []ListEntry
}
