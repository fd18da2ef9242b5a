package reload

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/ethan/streamcore/internal/ctxid"
)

// Watcher watches a config file path for changes and triggers Dispatcher.Apply
// with a freshly generated correlation id, using fsnotify the same way
// the teacher's azure/blob-sidecar submodule watched a recording
// directory — repurposed here from "detect a new recording file" to
// "detect an edited config file".
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	load     func(path string) (Tree, error)
	dispatch *Dispatcher
	logger   *slog.Logger
}

// NewWatcher constructs a Watcher for path; load converts the file's raw
// contents into a Tree (config grammar parsing is out of scope per spec
// §1, so load is supplied by the caller).
func NewWatcher(path string, load func(string) (Tree, error), dispatch *Dispatcher, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, path: path, load: load, dispatch: dispatch, logger: logger}, nil
}

// Run processes fsnotify events until stop is closed or the watcher's
// event channel closes. Each Write/Create event triggers a reload Apply.
func (w *Watcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	corr := ctxid.New()
	tree, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("config reload: load failed, retaining previous config", "path", w.path, "correlation_id", corr, "error", err)
		return
	}
	if err := w.dispatch.Apply(tree, corr); err != nil {
		w.logger.Warn("config reload: apply failed", "correlation_id", corr, "error", err)
	}
}
