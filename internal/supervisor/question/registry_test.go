package question_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/question"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ManualResolveBeforeTimeout(t *testing.T) {
	r := question.New()
	var got any
	done := make(chan struct{})
	r.Register("q1", time.Hour, func(v any) {
		got = v
		close(done)
	}, func() any { return "timed-out" })

	assert.True(t, r.Resolve("q1", "manual"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliver not called")
	}
	assert.Equal(t, "manual", got)
	assert.False(t, r.Pending("q1"))
}

func TestRegistry_TimeoutFiresExactlyOnce(t *testing.T) {
	r := question.New()
	var calls int32
	done := make(chan struct{})
	r.Register("q1", 10*time.Millisecond, func(v any) {
		atomic.AddInt32(&calls, 1)
		close(done)
	}, func() any { return "auto-deny" })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// A late manual resolve after the timeout must not deliver again.
	require.False(t, r.Resolve("q1", "too-late"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistry_ResolveUnknownID(t *testing.T) {
	r := question.New()
	assert.False(t, r.Resolve("missing", "x"))
}

func TestRegistry_Cleanup(t *testing.T) {
	r := question.New()
	delivered := false
	r.Register("q1", time.Hour, func(v any) { delivered = true }, func() any { return nil })
	r.Cleanup()
	assert.False(t, r.Pending("q1"))
	assert.False(t, delivered)
	assert.False(t, r.Resolve("q1", "x"))
}
