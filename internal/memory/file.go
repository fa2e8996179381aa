package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists memory as a single JSON document, replaced atomically
// on every save.
type FileStore struct {
	path string
}

var _ Persister = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

// LoadMemory returns an empty state when the file does not exist yet.
func (f *FileStore) LoadMemory(ctx context.Context) (*State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &State{Version: StateVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading memory file: %w", err)
	}

	state, _, err := DecodeState(data)
	if err != nil {
		return nil, fmt.Errorf("decoding memory file %s: %w", f.path, err)
	}
	return state, nil
}

func (f *FileStore) SaveMemory(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding memory: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating memory directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memory-*.json")
	if err != nil {
		return fmt.Errorf("creating temp memory file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing memory file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing memory file: %w", err)
	}
	return nil
}

func (f *FileStore) Reset(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing memory file: %w", err)
	}
	return nil
}
