// Package index reads the agent CLI's on-disk session discovery index,
// externally owned data the supervisor only ever reads (§6). Both layouts
// named in the spec are supported: a single append-only JSONL file, and a
// date-partitioned directory tree whose first line per file is an
// init-like entry. Parsing is defensive throughout — malformed lines are
// skipped, never fatal — using gjson, which is already a transitive
// dependency across the retrieved example pack for exactly this kind of
// pull-a-few-known-fields-and-never-fail job.
package index

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Entry is one row of the discovery index.
type Entry struct {
	Timestamp time.Time
	Project   string
	Display   string
	SessionID string
}

// Reader reads session index files or directories.
type Reader struct{}

// New returns a Reader.
func New() *Reader { return &Reader{} }

// Read returns every entry found at root, or nil if root is absent or
// unreadable. root may be a single JSONL file or a date-partitioned
// directory tree (YYYY/MM/DD/<id>.jsonl).
func (r *Reader) Read(root string) []Entry {
	info, err := os.Stat(root)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return r.readPartitioned(root)
	}
	return r.readJSONL(root)
}

func (r *Reader) readJSONL(path string) []Entry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if e, ok := parseEntry(line); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func (r *Reader) readPartitioned(root string) []Entry {
	var entries []Entry
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		first, _, _ := bytes.Cut(data, []byte("\n"))
		if e, ok := parseEntry(bytes.TrimSpace(first)); ok {
			entries = append(entries, e)
		}
		return nil
	})
	return entries
}

func parseEntry(line []byte) (Entry, bool) {
	if !gjson.ValidBytes(line) {
		return Entry{}, false
	}
	id := gjson.GetBytes(line, "session_id").String()
	if id == "" {
		return Entry{}, false
	}
	var ts time.Time
	if raw := gjson.GetBytes(line, "timestamp"); raw.Exists() {
		if parsed, err := time.Parse(time.RFC3339, raw.String()); err == nil {
			ts = parsed
		}
	}
	return Entry{
		Timestamp: ts,
		Project:   gjson.GetBytes(line, "project").String(),
		Display:   gjson.GetBytes(line, "display").String(),
		SessionID: id,
	}, true
}
