package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

type watchStartParams struct {
	Path string `json:"path"`
}

type watchStopParams struct {
	ID string `json:"id"`
}

// watchDebounce coalesces a burst of filesystem events into one
// notification (spec §4.9 "debounced (100 ms) watch/event notifications").
const watchDebounce = 100 * time.Millisecond

// watchEvent is the payload of a watch/event notification (spec §4.9:
// "{path, kind ∈ {create, modify, delete, rename}}").
type watchEvent struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// activeWatch tracks one live watch/start subscription so watch/stop can
// tear it down by id.
type activeWatch struct {
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// watchRegistry holds every live watch for this agent process, keyed by
// the id watch/start handed back to the caller.
type watchRegistry struct {
	mu     sync.Mutex
	active map[string]*activeWatch
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{active: make(map[string]*activeWatch)}
}

func (r *watchRegistry) add(id string, w *activeWatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = w
}

func (r *watchRegistry) remove(id string) *activeWatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.active[id]
	delete(r.active, id)
	return w
}

func registerWatchMethods(s *server) {
	watches := newWatchRegistry()

	s.register("watch/start", func(p json.RawMessage) (any, *rpcError) {
		var params watchStartParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		id := uuid.NewString()
		if runtime.GOOS != "linux" {
			// inotify is Linux-only; other platforms accept the
			// subscription but never emit (spec §4.9 "non-Linux no-op").
			watches.add(id, &activeWatch{stopCh: make(chan struct{})})
			return map[string]any{"watching": false, "id": id}, nil
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, errIO(err)
		}
		if err := addRecursive(watcher, params.Path); err != nil {
			watcher.Close()
			return nil, errIO(err)
		}

		w := &activeWatch{watcher: watcher, stopCh: make(chan struct{})}
		watches.add(id, w)
		go debounceWatch(s, w)
		return map[string]any{"watching": true, "id": id}, nil
	})

	s.register("watch/stop", func(p json.RawMessage) (any, *rpcError) {
		var params watchStopParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		w := watches.remove(params.ID)
		if w == nil {
			return nil, errNotFound("no such watch: " + params.ID)
		}
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
		return map[string]bool{"stopped": true}, nil
	})
}

// addRecursive registers root and every subdirectory under it with
// watcher, giving watch/start the recursive subdirectory tracking spec
// §4.9 requires (fsnotify itself only watches the directories it is
// explicitly told about, not their descendants).
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func debounceWatch(s *server, w *activeWatch) {
	watcher := w.watcher
	pending := make(map[string]string)
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = addRecursive(watcher, ev.Name)
				}
			}
			kind, ok := watchKind(ev.Op)
			if !ok {
				// Chmod-only events carry no content change; spec §4.9's
				// kind enum has no slot for them, so they're dropped.
				continue
			}
			pending[ev.Name] = kind
			timer.Reset(watchDebounce)

		case <-timer.C:
			for path, kind := range pending {
				s.notify("watch/event", watchEvent{Path: path, Kind: kind})
			}
			pending = make(map[string]string)

		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// watchKind maps an fsnotify op to spec §4.9's four-value event kind
// enum. Reports ok=false for ops (Chmod) with no corresponding kind.
func watchKind(op fsnotify.Op) (string, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return "create", true
	case op&fsnotify.Remove != 0:
		return "delete", true
	case op&fsnotify.Rename != 0:
		return "rename", true
	case op&fsnotify.Write != 0:
		return "modify", true
	default:
		return "", false
	}
}
