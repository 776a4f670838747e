package guildcfg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watched is a cache of a settings file.
type Watched interface {
	Path() string
	Invalidate()
}

// Watch invalidates stores whenever their files change on disk, e.g. when an
// operator edits them by hand. It watches the directories containing the
// files rather than the files themselves, since writers replace files by
// renaming. Watch blocks until ctx is canceled.
func Watch(ctx context.Context, stores ...Watched) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("couldn't watch settings files: %w", err)
	}
	defer w.Close()
	byPath := make(map[string][]Watched, len(stores))
	dirs := make(map[string]bool)
	for _, s := range stores {
		p := filepath.Clean(s.Path())
		byPath[p] = append(byPath[p], s)
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		// Stores create their directory on first write, which may be after
		// we start watching.
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("couldn't create settings directory %s: %w", dir, err)
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("couldn't watch settings directory %s: %w", dir, err)
		}
		slog.DebugContext(ctx, "watching settings", slog.String("dir", dir))
	}
	const changed = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(changed) {
				continue
			}
			for _, s := range byPath[filepath.Clean(ev.Name)] {
				slog.DebugContext(ctx, "settings changed", slog.String("file", ev.Name), slog.String("op", ev.Op.String()))
				s.Invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "settings watcher error", slog.Any("err", err))
		}
	}
}
