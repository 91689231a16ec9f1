package editor

import (
	"fmt"
	"os"
	"path/filepath"
)

// workspace holds the intermediate files of one edit. It is removed when
// the edit returns.
type workspace struct {
	dir string
}

func newWorkspace(base string) (*workspace, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "filmy-edit-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &workspace{dir: dir}, nil
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w *workspace) release() error {
	return os.RemoveAll(w.dir)
}
