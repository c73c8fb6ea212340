package hosts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatcher reports changes made to the hosts file by anyone, including us.
type FileWatcher struct {
	path   string
	logger zerolog.Logger
}

func NewFileWatcher(path string, logger zerolog.Logger) *FileWatcher {
	return &FileWatcher{
		path:   path,
		logger: logger.With().Str("component", "hosts-watcher").Str("path", path).Logger(),
	}
}

// Watch returns a channel that receives a signal after the hosts file was
// written, created, removed or renamed. Signals are coalesced. The channel is
// closed when ctx is cancelled.
func (fw *FileWatcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	target, err := filepath.Abs(fw.path)
	if err != nil {
		return nil, fmt.Errorf("resolve hosts file path: %w", err)
	}

	// Watch the directory: every commit replaces the file's inode.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("unable to watch [%s]: %w", filepath.Dir(target), err)
	}

	kicks := make(chan struct{}, 1)
	go func() {
		defer close(kicks)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				fw.logger.Debug().Str("op", event.Op.String()).Msg("Hosts file changed on disk")
				select {
				case kicks <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fw.logger.Error().Err(err).Msg("Error watching hosts file")
			}
		}
	}()

	return kicks, nil
}
