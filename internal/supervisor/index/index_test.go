package index_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebastianm/agent-supervisor/internal/supervisor/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_MissingRootReturnsNil(t *testing.T) {
	r := index.New()
	assert.Nil(t, r.Read(filepath.Join(t.TempDir(), "nope")))
}

func TestRead_SingleJSONLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.jsonl")
	content := `{"session_id":"a1","timestamp":"2026-07-30T10:00:00Z","project":"/tmp/demo","display":"fix bug"}
{"not even json`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries := index.New().Read(path)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].SessionID)
	assert.Equal(t, "/tmp/demo", entries[0].Project)
	assert.Equal(t, "fix bug", entries[0].Display)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRead_PartitionedTree(t *testing.T) {
	root := t.TempDir()
	day := filepath.Join(root, "2026", "07", "30")
	require.NoError(t, os.MkdirAll(day, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(day, "sess-1.jsonl"),
		[]byte(`{"session_id":"sess-1","project":"/tmp/a"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(day, "sess-2.jsonl"),
		[]byte(`{"session_id":"sess-2","project":"/tmp/b"}`+"\n"), 0o644))

	entries := index.New().Read(root)
	require.Len(t, entries, 2)
	ids := []string{entries[0].SessionID, entries[1].SessionID}
	assert.ElementsMatch(t, []string{"sess-1", "sess-2"}, ids)
}

func TestRead_MissingSessionIDIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"project":"/tmp/x"}`+"\n"), 0o644))
	assert.Empty(t, index.New().Read(path))
}
