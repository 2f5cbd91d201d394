package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"payflow/models"

	"gopkg.in/yaml.v2"
)

// FileStore keeps the session in a small YAML document on disk
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path is the location of the session document
func (f *FileStore) Path() string {
	return f.path
}

// Load returns an empty session when the file does not exist yet
func (f *FileStore) Load(ctx context.Context) (models.Session, error) {
	s := models.Session{}
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read session file %v: %w", f.path, err)
	}
	err = yaml.Unmarshal(b, &s)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to parse session file %v: %w", f.path, err)
	}
	return s, nil
}

// Save replaces the document atomically: write a temp file next to it, then
// rename over the old one.
func (f *FileStore) Save(ctx context.Context, s models.Session) error {
	dir := filepath.Dir(f.path)
	err := os.MkdirAll(dir, 0o700)
	if err != nil {
		return fmt.Errorf("failed to create session dir %v: %w", dir, err)
	}

	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	_, err = tmp.Write(b)
	if err == nil {
		err = tmp.Chmod(0o600)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	err = os.Rename(tmpName, f.path)
	if err != nil {
		return fmt.Errorf("failed to replace session file %v: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file %v: %w", f.path, err)
	}
	return nil
}
