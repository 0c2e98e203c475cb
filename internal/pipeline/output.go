package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// atomicWriter writes into a temp file beside the destination and renames
// it into place on Commit. A stage that fails mid-write leaves no output
// file behind, only the temp file cleanup in Discard.
type atomicWriter struct {
	f    *os.File
	path string
	done bool
}

func newAtomicWriter(path string) (*atomicWriter, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &atomicWriter{f: f, path: path}, nil
}

func (a *atomicWriter) Write(p []byte) (int, error) {
	return a.f.Write(p)
}

// Commit closes the temp file and moves it to its final path.
func (a *atomicWriter) Commit() error {
	if err := a.f.Close(); err != nil {
		os.Remove(a.f.Name())
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(a.f.Name(), a.path); err != nil {
		os.Remove(a.f.Name())
		return fmt.Errorf("finalize output: %w", err)
	}
	a.done = true
	return nil
}

// Discard removes the temp file when Commit never ran. Safe to defer
// unconditionally.
func (a *atomicWriter) Discard() {
	if a.done {
		return
	}
	a.f.Close()
	os.Remove(a.f.Name())
}
