// Package config loads treatment plan files and keeps them in sync with disk.
package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path every time it is written or replaced and hands the
// resolved result to onChange. Parse errors are logged and the previous
// config stays in force. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, flags Flags, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer w.Close()

	// Editors often save by rename, so watch the directory.
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				log.Printf("config reload: %v", err)
				continue
			}
			cfg.Resolve(flags)
			log.Printf("config reloaded from %s", target)
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("config watcher: %v", err)
		}
	}
}
