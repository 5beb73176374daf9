// Package archive packages batch downloads into a single zip file.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
)

// ManifestName is the manifest entry inside every archive.
const ManifestName = "manifest.txt"

// Writer streams entries into a zip file on disk.
type Writer struct {
	path string
	file *os.File
	zw   *zip.Writer
}

// Create opens a new archive at path, creating parent directories.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	return &Writer{path: path, file: f, zw: zip.NewWriter(f)}, nil
}

// Path is where the archive is being written.
func (w *Writer) Path() string {
	return w.path
}

// AddFile copies the file at src into the archive as name.
func (w *Writer) AddFile(src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", src, err)
	}
	header.Name = name
	// video containers are already compressed
	header.Method = zip.Store

	dst, err := w.zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// AddBytes writes an in-memory entry, deflated.
func (w *Writer) AddBytes(name string, data []byte) error {
	dst, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := dst.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close finalises the central directory and closes the file.
func (w *Writer) Close() error {
	zerr := w.zw.Close()
	ferr := w.file.Close()
	if zerr != nil {
		return fmt.Errorf("finalise archive: %w", zerr)
	}
	if ferr != nil {
		return fmt.Errorf("close archive: %w", ferr)
	}
	return nil
}

// Abort closes and removes a partially written archive.
func (w *Writer) Abort() error {
	w.zw.Close()
	w.file.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
