package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTranscript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestWalk_ParsesRecordsAndSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "session1.jsonl", strings.Join([]string{
		`{"uuid":"u1","sessionId":"s1","type":"user","timestamp":"2026-01-01T00:00:00Z","cwd":"/home/u/projA","message":{"role":"user","content":"hello"}}`,
		`not json`,
		`{"uuid":"u2","sessionId":"s1","type":"assistant","timestamp":"2026-01-01T00:00:01Z","cwd":"/home/u/projA","message":{"role":"assistant","content":"hi"}}`,
		``,
	}, "\n"))

	var records []Record
	var lineErrs []LineError
	err := Walk(dir, func(r Record) error {
		records = append(records, r)
		return nil
	}, nil, func(le LineError) {
		lineErrs = append(lineErrs, le)
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if len(lineErrs) != 1 {
		t.Fatalf("got %d line errors, want 1", len(lineErrs))
	}
	if records[0].SessionID != "s1" || records[1].SessionID != "s1" {
		t.Fatalf("unexpected session ids: %+v", records)
	}
}

func TestWalk_SkipsDirectoryNamedJSONLWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "ok.jsonl", `{"uuid":"u1","sessionId":"s1","type":"user","timestamp":"2026-01-01T00:00:00Z","cwd":"/home/u/projA","message":{"role":"user","content":"hello"}}`)

	badDir := filepath.Join(dir, "bad.jsonl")
	if err := os.Mkdir(badDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var records []Record
	err := Walk(dir, func(r Record) error {
		records = append(records, r)
		return nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (directory named *.jsonl should not break the walk)", len(records))
	}
}

func TestModifiedAfter_FiltersByPredicate(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "old.jsonl", `{"uuid":"u1","sessionId":"s1","type":"user","timestamp":"2026-01-01T00:00:00Z","cwd":"/home/u/projA","message":{"role":"user","content":"old"}}`)
	writeTranscript(t, dir, "new.jsonl", `{"uuid":"u2","sessionId":"s2","type":"user","timestamp":"2026-01-01T00:00:00Z","cwd":"/home/u/projA","message":{"role":"user","content":"new"}}`)

	var seen []string
	err := ModifiedAfter(dir, func(path string) bool {
		return filepath.Base(path) == "new.jsonl"
	}, func(r Record) error {
		seen = append(seen, r.SessionID)
		return nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("ModifiedAfter: %v", err)
	}
	if len(seen) != 1 || seen[0] != "s2" {
		t.Fatalf("got %+v, want only s2", seen)
	}
}
