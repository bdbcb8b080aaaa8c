package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"optiontrader/internal/model"
)

// FileRepository stores the state as an indented JSON file.
type FileRepository struct {
	path string
}

// NewFileRepository returns a repository writing to path, creating its parent
// directory if needed.
func NewFileRepository(path string) (*FileRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("state dir: %w", err)
		}
	}
	return &FileRepository{path: path}, nil
}

// Path returns the state file location.
func (r *FileRepository) Path() string { return r.path }

// Save writes to a temp file, syncs it and renames it over the state file.
func (r *FileRepository) Save(st *TradeState) error {
	bs, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(bs); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return err
	}
	if d, err := os.Open(filepath.Dir(r.path)); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

func (r *FileRepository) Load() (*TradeState, error) {
	bs, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(bs)
}

func (r *FileRepository) Close() error { return nil }

func decode(bs []byte) (*TradeState, error) {
	if len(bs) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCorruptState)
	}
	var st TradeState
	if err := json.Unmarshal(bs, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if st.OpenPositions == nil {
		st.OpenPositions = make(map[string]model.Position)
	}
	for sym, p := range st.OpenPositions {
		if p.Symbol != sym || p.Quantity <= 0 {
			return nil, fmt.Errorf("%w: bad position entry %q", ErrCorruptState, sym)
		}
	}
	return &st, nil
}
