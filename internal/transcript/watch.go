package transcript

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"claudeindex/internal/logging"
)

// IdleWatcher implements the "session file has not been modified for N
// minutes" completion heuristic (spec.md §4.6) by watching projects_root for
// write activity instead of polling mtimes on a timer. The orchestrator asks
// IdleSessions which session files have gone quiet long enough to hand to
// C6's back-fill pass.
type IdleWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	now     func() time.Time

	mu        sync.Mutex
	lastWrite map[string]time.Time // absolute file path -> last observed write
}

// NewIdleWatcher starts watching every directory under root for write
// activity. The caller must run Run in its own goroutine to drain events.
func NewIdleWatcher(root string) (*IdleWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	iw := &IdleWatcher{
		watcher:   w,
		root:      root,
		now:       time.Now,
		lastWrite: make(map[string]time.Time),
	}

	if err := iw.addRecursive(root); err != nil {
		w.Close()
		return nil, err
	}
	return iw, nil
}

// addRecursive registers every directory under root with fsnotify, which
// (unlike a polling walk) only watches one level deep per call.
func (iw *IdleWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := iw.watcher.Add(path); addErr != nil {
			logging.TranscriptWarn("idle watcher: cannot watch %s: %v", path, addErr)
		}
		return nil
	})
}

// Run drains fsnotify events until ctx is canceled, recording a write
// timestamp for every *.jsonl file that changes. It closes the underlying
// watcher on return.
func (iw *IdleWatcher) Run(ctx context.Context) {
	defer iw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".jsonl") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			iw.mu.Lock()
			iw.lastWrite[ev.Name] = iw.now()
			iw.mu.Unlock()
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			logging.TranscriptWarn("idle watcher: %v", err)
		}
	}
}

// IdleSessions returns the session id (derived from each watched file's
// basename, matching the "{session_id}.jsonl" naming convention C3 assumes)
// for every file whose last observed write is at least idleWindow in the
// past. A file fsnotify has never seen a write for is not reported - the
// orchestrator's own scan already covers never-touched-since-watch-started
// files through its normal walk.
func (iw *IdleWatcher) IdleSessions(idleWindow time.Duration) []string {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	now := iw.now()
	var sessions []string
	for path, last := range iw.lastWrite {
		if now.Sub(last) < idleWindow {
			continue
		}
		base := filepath.Base(path)
		sessions = append(sessions, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return sessions
}

// Close stops the watcher without waiting for Run's goroutine to notice;
// callers that also run Run should prefer canceling its context.
func (iw *IdleWatcher) Close() error {
	return iw.watcher.Close()
}
