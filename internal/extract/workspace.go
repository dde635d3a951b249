package extract

import (
	"fmt"
	"os"
	"path/filepath"
)

// workspace is a scratch directory for format libraries that only read from
// the file system. The directory is created on first write.
type workspace struct {
	base string
	dir  string
}

func newWorkspace(base string) *workspace {
	return &workspace{base: base}
}

func (w *workspace) writeFile(name string, data []byte) (string, error) {
	if w.dir == "" {
		dir, err := os.MkdirTemp(w.base, "rfi-extract-*")
		if err != nil {
			return "", fmt.Errorf("create extraction workspace failed: %w", err)
		}
		w.dir = dir
	}
	path := filepath.Join(w.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write extraction payload failed: %w", err)
	}
	return path, nil
}

func (w *workspace) cleanup() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.dir = ""
	return err
}
