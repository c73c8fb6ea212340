package hosts

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const defaultFileMode os.FileMode = 0o644

// AtomicWriter commits hosts file content by writing a temporary file in the
// target directory and renaming it over the target, so readers only ever see
// a complete file.
type AtomicWriter struct {
	fs     afero.Fs
	path   string
	logger zerolog.Logger
}

func NewAtomicWriter(fsys afero.Fs, path string, logger zerolog.Logger) *AtomicWriter {
	return &AtomicWriter{
		fs:     fsys,
		path:   filepath.Clean(path),
		logger: logger.With().Str("component", "hosts-writer").Str("path", path).Logger(),
	}
}

func (w *AtomicWriter) Path() string {
	return w.path
}

// Read returns the current file content. A missing file reads as empty.
func (w *AtomicWriter) Read() ([]byte, error) {
	data, err := afero.ReadFile(w.fs, w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}
	return data, nil
}

// Write replaces the file with content unless it already holds exactly that
// content. It reports whether the file was changed.
func (w *AtomicWriter) Write(content []byte) (bool, error) {
	mode := defaultFileMode
	info, err := w.fs.Stat(w.path)
	switch {
	case err == nil:
		mode = info.Mode().Perm()
		current, err := afero.ReadFile(w.fs, w.path)
		if err != nil {
			return false, fmt.Errorf("read hosts file: %w", err)
		}
		if bytes.Equal(current, content) {
			w.logger.Debug().Msg("Hosts file unchanged, skipping write")
			return false, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("stat hosts file: %w", err)
	}

	tmp, err := afero.TempFile(w.fs, filepath.Dir(w.path), "."+filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := w.fs.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			w.logger.Warn().Err(rmErr).Str("temp", tmpName).Msg("Failed to remove temp file")
		}
	}

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return false, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return false, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return false, fmt.Errorf("close temp file: %w", err)
	}
	if err := w.fs.Chmod(tmpName, mode); err != nil {
		cleanup()
		return false, fmt.Errorf("chmod temp file: %w", err)
	}

	// Atomic rename
	if err := w.fs.Rename(tmpName, w.path); err != nil {
		cleanup()
		return false, fmt.Errorf("rename temp file: %w", err)
	}

	w.logger.Info().Int("bytes", len(content)).Msg("Wrote hosts file")
	return true, nil
}

// CheckWritable verifies that temp files can be created next to the target.
func (w *AtomicWriter) CheckWritable() error {
	tmp, err := afero.TempFile(w.fs, filepath.Dir(w.path), "."+filepath.Base(w.path)+".check-*")
	if err != nil {
		return fmt.Errorf("hosts file directory not writable: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	if err := w.fs.Remove(name); err != nil {
		return fmt.Errorf("remove writability check file: %w", err)
	}
	return nil
}
