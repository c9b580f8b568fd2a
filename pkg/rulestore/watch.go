package rulestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/macropower/rulebook/pkg/log"
)

// Watch reloads the store whenever the file at [Store.Location] is written
// by another process, calling onChange (if non-nil) after each successful
// reload. It blocks until ctx is canceled. A reload that fails is logged
// and the previous state is kept.
func (s *Store) Watch(ctx context.Context, onChange func(Metadata)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	defer func() {
		err := watcher.Close()
		if err != nil {
			slog.Error("close watcher", slog.Any("err", err))
		}
	}()

	target, err := filepath.Abs(s.Location())
	if err != nil {
		return fmt.Errorf("resolve store path: %w", err)
	}

	// Watch the directory: atomic renames replace the file's inode.
	err = watcher.Add(filepath.Dir(target))
	if err != nil {
		return fmt.Errorf("add path to watcher: %w", err)
	}

	log.WithContext(ctx).DebugContext(ctx, "watching rule store", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(evt.Name) != target {
				continue
			}

			// Ignore events that are not related to file content changes.
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}

			err := s.Reload(ctx)
			if errors.Is(err, ErrNoSnapshot) {
				continue
			}
			if err != nil {
				log.WithContext(ctx).ErrorContext(ctx, "reload rule store",
					slog.String("event", evt.String()),
					slog.Any("err", err),
				)

				continue
			}

			if onChange != nil {
				onChange(s.Metadata())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			log.WithContext(ctx).ErrorContext(ctx, "watch rule store", slog.Any("err", err))
		}
	}
}
