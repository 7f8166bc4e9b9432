package transcript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIdleWatcher_ReportsSessionsAfterIdleWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1.jsonl")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	iw, err := NewIdleWatcher(dir)
	if err != nil {
		t.Fatalf("NewIdleWatcher: %v", err)
	}

	base := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	iw.now = func() time.Time { return base }
	iw.lastWrite[path] = base

	if got := iw.IdleSessions(10 * time.Minute); len(got) != 0 {
		t.Fatalf("expected no idle sessions yet, got %v", got)
	}

	iw.now = func() time.Time { return base.Add(11 * time.Minute) }
	got := iw.IdleSessions(10 * time.Minute)
	if len(got) != 1 || got[0] != "s1" {
		t.Fatalf("got %v, want [s1]", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	iw.Run(ctx) // must return promptly and close the watcher without panicking
}
