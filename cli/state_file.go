package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cppla/livewell/liveness"
)

// LoadState reads the local state file. ok is false when the file does not exist yet.
func LoadState(path string) (s liveness.State, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return liveness.State{}, false, nil
	}
	if err != nil {
		return liveness.State{}, false, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return liveness.State{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.UserID == "" {
		return liveness.State{}, false, fmt.Errorf("%s has no userId", path)
	}
	return s, true, nil
}

// SaveState replaces the state file atomically.
func SaveState(path string, s liveness.State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), 0o600)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
