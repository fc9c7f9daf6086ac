// Package media stores attachment files referenced by file and nano nodes.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/checksum"
	"github.com/starford/piko/internal/models"
)

// URLPrefix is the public path attachments are served under.
const URLPrefix = "/attachments/"

// Store is a flat directory of attachments.
type Store struct {
	root string // absolute path to the media directory
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("media: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("media: mkdir root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("media: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media: root is not a directory: %s", abs)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute media directory.
func (s *Store) Root() string { return s.root }

// Stored describes a saved attachment.
type Stored struct {
	Name     string
	Size     int64
	Checksum string
	Ref      models.MediaRef
}

// Path validates that name is a plain file name (no separators, no
// traversal) and returns its absolute path under the root.
func (s *Store) Path(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: filename is required", apperr.ErrValidation)
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("%w: invalid filename %q", apperr.ErrValidation, name)
	}
	abs := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(abs, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path escapes media directory", apperr.ErrValidation)
	}
	return abs, nil
}

// Save reads r fully (at most limit bytes when limit > 0) and writes it
// atomically as name, replacing any previous file of that name.
func (s *Store) Save(name string, r io.Reader, limit int64) (Stored, error) {
	abs, err := s.Path(name)
	if err != nil {
		return Stored{}, err
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Stored{}, fmt.Errorf("media: read upload: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return Stored{}, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrValidation, limit)
	}
	if err := WriteAtomic(abs, data); err != nil {
		return Stored{}, err
	}
	base := filepath.Base(abs)
	return Stored{
		Name:     base,
		Size:     int64(len(data)),
		Checksum: checksum.Sum(data),
		Ref: models.MediaRef{
			URL:  URLPrefix + base,
			Name: base,
			Type: http.DetectContentType(data),
		},
	}, nil
}

// Open returns the file and its size. Missing files yield apperr.ErrNotFound.
func (s *Store) Open(name string) (*os.File, error) {
	abs, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media: open %s: %w", name, err)
	}
	return f, nil
}

// Delete removes an attachment.
func (s *Store) Delete(name string) error {
	abs, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("media: delete %s: %w", name, err)
	}
	return nil
}

// WriteAtomic writes content to path: tmp file → fsync → rename.
func WriteAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("media: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".piko-tmp-*")
	if err != nil {
		return fmt.Errorf("media: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("media: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("media: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("media: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("media: rename: %w", err)
	}
	success = true
	return nil
}
