// Package bridge implements the callback-bridge approval side channel
// (§4.6 mechanism (a), §6.2): a loopback HTTP listener that an agent's own
// approval-hook program POSTs to, blocking until the Session Manager's
// translated response comes back. Grounded on a chi-based internal/server
// package from the example pack — a plain router with chi's RequestID
// middleware plus a local JSON-body panic recoverer, sized down to the
// single endpoint this bridge actually needs.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/approval"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
)

// Handler answers one approval request and returns the channel the caller
// should block on. *manager.Manager satisfies this via HandleApproval.
type Handler func(process.ApprovalRequest) <-chan approval.Response

// permissionRequest is the wire shape POSTed by the agent's approval hook.
type permissionRequest struct {
	SessionID string          `json:"sessionId"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput"`
	RequestID string          `json:"requestId"`
	ToolUseID string          `json:"toolUseId,omitempty"`
}

// permissionResponse is the wire shape returned to the hook. Fields are
// omitted when empty so the hook program can distinguish "not set" from
// an explicit empty string.
type permissionResponse struct {
	Behavior     string          `json:"behavior"`
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
}

// Bridge owns the loopback listener. The zero value is not usable; use New.
type Bridge struct {
	log     *slog.Logger
	handler Handler
	srv     *http.Server
	ln      net.Listener
}

// New builds a Bridge bound to handler but does not yet start listening.
func New(log *slog.Logger, handler Handler) *Bridge {
	b := &Bridge{log: log, handler: handler}

	r := chi.NewRouter()
	r.Use(b.recoverJSON)
	r.Use(middleware.RequestID)
	r.Post("/permission", b.handlePermission)
	b.srv = &http.Server{Handler: r}
	return b
}

// recoverJSON is chi's stock Recoverer adapted to this bridge's JSON error
// shape: a handler panic still returns 500 with a JSON body ("handler
// exceptions return 500 with a JSON error body"), not chi's default empty
// response.
func (b *Bridge) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				b.log.Error("permission handler panic", "panic", rec)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start binds an ephemeral loopback port and begins serving in the
// background. Returns the bridge's base URL (e.g. "http://127.0.0.1:38123"),
// which callers inject into a spawned agent's environment.
func (b *Bridge) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("bridge: listen: %w", err)
	}
	b.ln = ln

	go func() {
		if err := b.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.log.Error("approval bridge serve error", "error", err)
		}
	}()

	return fmt.Sprintf("http://%s", ln.Addr().String()), nil
}

// Shutdown closes the listener and drains in-flight requests.
func (b *Bridge) Shutdown(ctx context.Context) error {
	return b.srv.Shutdown(ctx)
}

func (b *Bridge) handlePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ch := b.handler(process.ApprovalRequest{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		ToolName:  req.ToolName,
		ToolID:    req.ToolUseID,
		ToolInput: req.ToolInput,
	})

	select {
	case resp := <-ch:
		writeJSON(w, http.StatusOK, permissionResponse{
			Behavior:     resp.Behavior,
			Message:      resp.Message,
			UpdatedInput: resp.UpdatedInput,
		})
	case <-r.Context().Done():
		b.log.Warn("permission request cancelled by client", "session_id", req.SessionID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
