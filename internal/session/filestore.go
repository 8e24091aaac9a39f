package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps a session on disk between CLI invocations. With a
// passphrase the file is encrypted; without one it is plain JSON readable
// only by the owner.
type FileStore struct {
	Path       string
	Passphrase string
}

func (f FileStore) Save(s *Session) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if f.Passphrase != "" {
		if data, err = seal(data, f.Passphrase); err != nil {
			return fmt.Errorf("encrypt session: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

// Load restores the saved session into s. A missing file is not an error.
func (f FileStore) Load(s *Session) error {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if f.Passphrase != "" {
		if data, err = open(data, f.Passphrase); err != nil {
			return fmt.Errorf("decrypt session: %w", err)
		}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	s.Restore(snap)
	return nil
}

func (f FileStore) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
