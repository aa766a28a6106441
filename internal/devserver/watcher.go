package devserver

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scanasha/internal/logging"
)

// Change is one settled filesystem change.
type Change struct {
	Type ChangeType
	Path string
}

// Watcher reports add, change and unlink events below a directory tree.
// Events for a path are held until no new event arrived for the debounce
// window so half-written files are not reported; unchanged content is
// suppressed by comparing hashes.
type Watcher struct {
	root     string
	debounce time.Duration
	hashes   *Hashes
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher prepares a watcher for root. Existing files are hashed so the
// first write to them is reported as a change.
func NewWatcher(root string, debounce time.Duration, hashes *Hashes) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if hashes == nil {
		hashes = NewHashes()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		debounce: debounce,
		hashes:   hashes,
		fsw:      fsw,
		pending:  make(map[string]time.Time),
	}
	if _, err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches every directory below dir and hashes the files it finds.
// It returns the files that were not known before.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var added []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		known := w.hashes.Known(path)
		if _, err := w.hashes.Update(path); err != nil {
			logging.DevServerWarn("hash %s: %v", path, err)
			return nil
		}
		if !known {
			added = append(added, path)
		}
		return nil
	})
	return added, err
}

// Root is the watched directory.
func (w *Watcher) Root() string { return w.root }

// Run delivers settled changes to emit until ctx is cancelled, then closes
// the underlying watcher.
func (w *Watcher) Run(ctx context.Context, emit func(Change)) error {
	defer w.fsw.Close()

	ticker := time.NewTicker(max(w.debounce/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryDevServer).Error("watcher error: %v", err)

		case <-ticker.C:
			for _, path := range w.settled() {
				for _, c := range w.resolve(path) {
					emit(c)
				}
			}
		}
	}
}

func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	var out []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

// resolve turns a settled path into changes by looking at what is on disk.
func (w *Watcher) resolve(path string) []Change {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.DevServerWarn("stat %s: %v", path, err)
			return nil
		}
		return w.removed(path)
	}

	if info.IsDir() {
		added, err := w.addTree(path)
		if err != nil {
			logging.DevServerWarn("watch %s: %v", path, err)
		}
		changes := make([]Change, 0, len(added))
		for _, p := range added {
			changes = append(changes, Change{Type: ChangeAdd, Path: p})
		}
		return changes
	}

	known := w.hashes.Known(path)
	changed, err := w.hashes.Update(path)
	if err != nil {
		logging.DevServerWarn("hash %s: %v", path, err)
		return nil
	}
	switch {
	case !known:
		return []Change{{Type: ChangeAdd, Path: path}}
	case changed:
		return []Change{{Type: ChangeChange, Path: path}}
	default:
		logging.DevServerDebug("%s rewritten with identical content", path)
		return nil
	}
}

// removed reports unlinks for path, or for every known file below it when a
// directory went away.
func (w *Watcher) removed(path string) []Change {
	if w.hashes.Known(path) {
		w.hashes.Forget(path)
		return []Change{{Type: ChangeUnlink, Path: path}}
	}
	var changes []Change
	prefix := path + string(filepath.Separator)
	for _, p := range w.hashes.Paths() {
		if strings.HasPrefix(p, prefix) {
			w.hashes.Forget(p)
			changes = append(changes, Change{Type: ChangeUnlink, Path: p})
		}
	}
	return changes
}
