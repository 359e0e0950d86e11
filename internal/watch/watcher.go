// Package watch adapts raw fsnotify notifications into the engine's
// internal event type. It is the external collaborator boundary toward
// the filesystem: the engine only ever sees normalized events.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/callscribe/callscribe/internal/engine"
	xlog "github.com/callscribe/callscribe/internal/log"
)

// Watcher observes the recording spool directory tree and forwards
// create/write events. Subdirectories are watched as they appear, since
// the VoIP platform spools recordings into per-day directories.
type Watcher struct {
	root   string
	events chan<- engine.Event
	logger zerolog.Logger
}

// New creates a Watcher rooted at root feeding the engine's channel.
// A missing root is created rather than treated as an error.
func New(root string, events chan<- engine.Event) (*Watcher, error) {
	if root == "" {
		return nil, fmt.Errorf("watch root is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create watch root %s: %w", root, err)
	}
	return &Watcher{
		root:   root,
		events: events,
		logger: xlog.WithComponent("watcher"),
	}, nil
}

// Run watches until ctx is cancelled. Watcher construction failure and
// an unreadable root are fatal; individual notification errors are
// logged and the loop continues.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}

	w.logger.Info().
		Str(xlog.FieldPath, w.root).
		Msg("watching recording spool")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			w.handle(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	var op engine.Op
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		op = engine.OpCreate
	case ev.Op&fsnotify.Write == fsnotify.Write:
		op = engine.OpWrite
	default:
		// Rename/Remove/Chmod never advance a session.
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		// Gone already; a short-lived temp file, skip.
		return
	}
	if info.IsDir() {
		if op == engine.OpCreate {
			if err := fsw.Add(ev.Name); err != nil {
				w.logger.Warn().Err(err).
					Str(xlog.FieldPath, ev.Name).
					Msg("failed to watch new directory")
			}
		}
		return
	}

	select {
	case w.events <- engine.Event{Path: ev.Name, Op: op, At: time.Now(), Size: info.Size()}:
	case <-ctx.Done():
	}
}

// addTree registers the root and all existing subdirectories.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch directory %s: %w", path, err)
		}
		return nil
	})
}
