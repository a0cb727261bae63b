package wizard

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File references a user-selected presentation on local disk.
type File struct {
	Path string
	Name string
	Size int64
}

// FileFromPath stats path and returns a File for it. No content check is made.
func FileFromPath(path string) (File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return File{}, fmt.Errorf("abs path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{Path: abs, Name: filepath.Base(abs), Size: info.Size()}, nil
}

// Open opens the file for reading.
func (f File) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// SizeMB renders the size the way the wizard displays it.
func (f File) SizeMB() string {
	return fmt.Sprintf("%.2f MB", float64(f.Size)/1024/1024)
}
