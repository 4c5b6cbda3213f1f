// Package inbox watches a drop directory and registers every file placed in it.
package inbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/mioring/internal/ring"
)

// DefaultDebounce is how long a file must stay quiet before it is registered.
const DefaultDebounce = 500 * time.Millisecond

// Registrar admits files into the ring. Moved files are removed from the
// inbox once admitted.
type Registrar interface {
	RegisterFiles(ctx context.Context, paths []string, move bool) ([]ring.MioID, error)
}

// Callback is invoked after each successful registration.
type Callback func(path string, id ring.MioID)

// Watch registers files already present in dir, then follows fsnotify events
// until ctx is cancelled. A burst of writes to the same file is coalesced by
// the debounce timer so half-written files are not picked up.
func Watch(ctx context.Context, reg Registrar, dir string, debounce time.Duration, logger *slog.Logger, cb Callback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("inbox: started", slog.String("dir", dir))

	admit(ctx, reg, scan(dir, logger), logger, cb)

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case <-flushCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			admit(ctx, reg, paths, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !candidate(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// scan lists regular files in dir with a registrable extension.
func scan(dir string, logger *slog.Logger) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("inbox: scan failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && candidate(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

// candidate skips hidden and temporary files and unknown extensions.
func candidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	_, err := ring.ExtFromPath(path)
	return err == nil
}

// admit registers each path on its own so one bad file does not hold back the rest.
func admit(ctx context.Context, reg Registrar, paths []string, logger *slog.Logger, cb Callback) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		ids, err := reg.RegisterFiles(ctx, []string{p}, true)
		if err != nil {
			logger.Warn("inbox: register failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		for _, id := range ids {
			logger.Debug("inbox: registered", slog.String("path", p), slog.String("id", id.Stem()))
			if cb != nil {
				cb(p, id)
			}
		}
	}
}
