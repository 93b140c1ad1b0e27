package jobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/clincite/clincite/internal/job"
)

// FileTier persists one JSON file per job under a directory
// (~/.clincite/jobs by default). This is the tier that carries state across
// process restarts on a single host.
type FileTier struct {
	dir string
}

// NewFileTier creates the directory if needed.
func NewFileTier(dir string) (*FileTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	return &FileTier{dir: dir}, nil
}

func (f *FileTier) Name() string { return "file" }

func (f *FileTier) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Write replaces the record file atomically via a temp file and rename, so a
// crashed write never leaves a truncated record behind.
func (f *FileTier) Write(_ context.Context, rec *job.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, rec.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp record file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close record file: %w", err)
	}
	if err := os.Rename(tmpName, f.path(rec.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace record file: %w", err)
	}
	return nil
}

func (f *FileTier) Read(_ context.Context, id string) (*job.Record, error) {
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	return decode(data)
}
