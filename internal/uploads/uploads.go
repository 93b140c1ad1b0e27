// Package uploads persists raw upload bytes so a resumed worker can restart
// the pipeline from the original document.
package uploads

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("upload not found")

// Store keeps one artifact per job under a directory. The key embeds the
// original extension so the extraction gate can route by file type.
type Store struct {
	dir string
}

// NewStore creates the uploads directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the upload bytes and returns the storage key.
func (s *Store) Save(jobID, filename string, data []byte) (string, error) {
	key := Key(jobID, filename)
	path := filepath.Join(s.dir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to persist upload: %w", err)
	}
	return key, nil
}

// Read returns the artifact bytes for a key.
func (s *Store) Read(key string) ([]byte, error) {
	// Keys are generated by Key(); reject anything path-like.
	if strings.ContainsAny(key, "/\\") {
		return nil, fmt.Errorf("invalid upload key %q", key)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// Key derives the artifact key for a job id and original filename.
func Key(jobID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	return jobID + ext
}
