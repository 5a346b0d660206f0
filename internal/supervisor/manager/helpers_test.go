package manager

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/config"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/event"
	"github.com/sebastianm/agent-supervisor/internal/supervisor/process"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.EnvConfig {
	cfg := config.Default()
	cfg.MaxSessions = 5
	return cfg
}

// fakePolicy is a test double for process.SpawnPolicy: Spawn returns a
// preconfigured fakeProcess and immediately (synchronously) fires an Init
// event through sinks, mimicking the real policies' stdout-decode goroutine
// racing the caller.
type fakePolicy struct {
	mu          sync.Mutex
	name        string
	liveStdin   bool
	spawnErr    error
	nextSession string // ev.SessionID to emit on spawn, "" to suppress the Init event
	spawned     []process.SpawnParams
}

func newFakePolicy(name string) *fakePolicy {
	return &fakePolicy{name: name}
}

func (p *fakePolicy) Name() string                                      { return p.name }
func (p *fakePolicy) SupportsLiveStdin() bool                            { return p.liveStdin }
func (p *fakePolicy) IndexPaths(workingDirectory string) []string        { return nil }

func (p *fakePolicy) Spawn(_ context.Context, params process.SpawnParams, sinks process.Sinks) (process.Process, error) {
	p.mu.Lock()
	p.spawned = append(p.spawned, params)
	spawnErr := p.spawnErr
	sessionID := p.nextSession
	p.mu.Unlock()

	if spawnErr != nil {
		return nil, spawnErr
	}

	proc := &fakeProcess{}
	if sessionID != "" {
		sinks.Event(event.Event{Kind: event.KindInit, SessionID: sessionID})
	}
	return proc, nil
}

type fakeProcess struct {
	mu          sync.Mutex
	interrupted bool
	killed      bool
	stdinLines  [][]byte
	stdinErr    error
}

func (p *fakeProcess) Stdin(line []byte) error {
	if p.stdinErr != nil {
		return p.stdinErr
	}
	p.mu.Lock()
	p.stdinLines = append(p.stdinLines, line)
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Interrupt() error {
	p.mu.Lock()
	p.interrupted = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
