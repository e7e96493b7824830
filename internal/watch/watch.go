// Package watch reports debounced changes to Dafny source files under a set
// of directories.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change observed for a file.
type Op int

const (
	OpWrite Op = iota
	OpCreate
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Change is one file after debouncing. Several raw events on the same path
// collapse to the last one.
type Change struct {
	Path string
	Op   Op
}

// Handler receives each debounced batch, sorted by path.
type Handler func([]Change)

type Options struct {
	// Debounce is how long to wait for more events before flushing.
	// Default: 700ms
	Debounce time.Duration

	// Extensions selects which files are reported. Default: [".dfy"]
	Extensions []string

	// Ignore lists directory names that are never descended into.
	Ignore []string
}

func DefaultOptions() Options {
	return Options{
		Debounce:   700 * time.Millisecond,
		Extensions: []string{".dfy"},
		Ignore:     []string{".git", "node_modules", "bin", "obj"},
	}
}

// Watcher wraps an fsnotify watcher over one or more directory trees.
type Watcher struct {
	fs      *fsnotify.Watcher
	handler Handler
	opts    Options
}

// New watches every directory below roots.
func New(roots []string, handler Handler, opts *Options) (*Watcher, error) {
	o := DefaultOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			o.Debounce = opts.Debounce
		}
		if len(opts.Extensions) > 0 {
			o.Extensions = opts.Extensions
		}
		if opts.Ignore != nil {
			o.Ignore = opts.Ignore
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{fs: fw, handler: handler, opts: o}
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) ignored(name string) bool {
	for _, ig := range w.opts.Ignore {
		if name == ig {
			return true
		}
	}
	return false
}

func (w *Watcher) relevant(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Run delivers batches until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	pending := make(map[string]Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		timer, timerC = nil, nil
		if len(pending) == 0 {
			return
		}
		batch := make([]Change, 0, len(pending))
		for p, op := range pending {
			batch = append(batch, Change{Path: p, Op: op})
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
		clear(pending)
		if w.handler != nil {
			w.handler(batch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.ignored(info.Name()) {
					if err := w.addRecursive(ev.Name); err != nil {
						slog.Debug("watch new directory", slog.String("path", ev.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}
			if !w.relevant(ev.Name) {
				continue
			}
			op, ok := convertOp(ev.Op)
			if !ok {
				continue
			}
			pending[ev.Name] = op
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timerC:
			flush()
		}
	}
}

func convertOp(op fsnotify.Op) (Op, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpRemove, true
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpWrite, true
	}
	return 0, false
}
