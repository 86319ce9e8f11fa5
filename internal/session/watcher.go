package session

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"grip/internal/logging"
)

// waitVerdict classifies how a completion wait ended.
type waitVerdict int

const (
	verdictCompleted waitVerdict = iota
	verdictTimeout
	verdictCancelled
	verdictProcessDied
	verdictClosed
)

// completionWatcher observes a session's IPC directory for exit-code files.
// Filesystem events carry the fast path; a short ticker re-stats the file as
// the fallback, so a lost event costs one poll interval, never a hang. When
// inotify is unavailable the watcher degrades to polling alone.
type completionWatcher struct {
	fsw  *fsnotify.Watcher
	dir  string
	poll time.Duration
}

func newCompletionWatcher(dir string, poll time.Duration) *completionWatcher {
	w := &completionWatcher{dir: dir, poll: poll}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.SessionWarn("fsnotify unavailable, polling only: %v", err)
		return w
	}
	if err := fsw.Add(dir); err != nil {
		logging.SessionWarn("cannot watch %s, polling only: %v", dir, err)
		fsw.Close()
		return w
	}
	w.fsw = fsw
	return w
}

func (w *completionWatcher) Close() {
	if w.fsw != nil {
		w.fsw.Close()
	}
}

// drain discards events queued up since the previous wait so a stale
// notification for an earlier command cannot trigger a premature stat.
func (w *completionWatcher) drain() {
	if w.fsw == nil {
		return
	}
	for {
		select {
		case <-w.fsw.Events:
		case <-w.fsw.Errors:
		default:
			return
		}
	}
}

// await blocks until the exit-code file at exitPath becomes non-empty, the
// timeout elapses, ctx is cancelled, the backing process dies, or the
// session is closed.
func (w *completionWatcher) await(ctx context.Context, exitPath string, timeout time.Duration, procDead, closed <-chan struct{}) waitVerdict {
	w.drain()
	if fileNonEmpty(exitPath) {
		return verdictCompleted
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if w.fsw != nil {
		events = w.fsw.Events
		errs = w.fsw.Errors
	}

	for {
		select {
		case ev := <-events:
			if ev.Name == exitPath && fileNonEmpty(exitPath) {
				return verdictCompleted
			}
		case err := <-errs:
			logging.SessionDebug("watch error on %s: %v", w.dir, err)
		case <-ticker.C:
			if fileNonEmpty(exitPath) {
				return verdictCompleted
			}
		case <-timer.C:
			return verdictTimeout
		case <-ctx.Done():
			return verdictCancelled
		case <-procDead:
			return verdictProcessDied
		case <-closed:
			return verdictClosed
		}
	}
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
