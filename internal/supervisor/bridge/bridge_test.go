package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/approval"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlePermission_DecodesAndReturnsTranslatedResponse(t *testing.T) {
	var captured process.ApprovalRequest
	b := New(testLogger(), func(req process.ApprovalRequest) <-chan approval.Response {
		captured = req
		ch := make(chan approval.Response, 1)
		ch <- approval.Response{Behavior: "allow"}
		close(ch)
		return ch
	})

	body, _ := json.Marshal(map[string]any{
		"sessionId": "sess-1",
		"toolName":  "Edit",
		"toolInput": map[string]string{"file_path": "test.ts"},
		"requestId": "req-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/permission", bytes.NewReader(body))
	w := httptest.NewRecorder()

	b.handlePermission(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-1", captured.SessionID)
	assert.Equal(t, "req-1", captured.RequestID)

	var resp permissionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "allow", resp.Behavior)
}

func TestHandlePermission_InvalidBodyIsBadRequest(t *testing.T) {
	b := New(testLogger(), func(process.ApprovalRequest) <-chan approval.Response {
		t.Fatal("handler should not be invoked for an invalid body")
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/permission", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()

	b.handlePermission(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePermission_PanicRecoversWithJSONBody(t *testing.T) {
	b := New(testLogger(), func(process.ApprovalRequest) <-chan approval.Response {
		panic("boom")
	})

	url, err := b.Start()
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	body, _ := json.Marshal(map[string]any{"sessionId": "s1", "toolName": "Bash"})
	resp, err := http.Post(url+"/permission", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.NotEmpty(t, payload["error"])
}

func TestStartAndShutdown_BindsLoopbackPort(t *testing.T) {
	b := New(testLogger(), func(req process.ApprovalRequest) <-chan approval.Response {
		ch := make(chan approval.Response, 1)
		ch <- approval.Response{Behavior: "deny"}
		close(ch)
		return ch
	})

	url, err := b.Start()
	require.NoError(t, err)
	assert.Contains(t, url, "127.0.0.1")

	body, _ := json.Marshal(map[string]any{"sessionId": "s1", "toolName": "Bash"})
	resp, err := http.Post(url+"/permission", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, b.Shutdown(context.Background()))
}
