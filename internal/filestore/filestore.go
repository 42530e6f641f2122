// Package filestore keeps raw uploaded files on local disk under opaque keys.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const prefix = "datasets"

var (
	// ErrInvalidKey is returned for keys this store could not have issued.
	ErrInvalidKey = errors.New("invalid file key")

	// ErrNotFound is returned when a key has no stored file.
	ErrNotFound = errors.New("file not found")
)

// Store is a directory of stored files.
type Store struct {
	root string
}

// New creates the directory tree under root if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, prefix), 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Save writes data under a fresh key derived from ext (".csv") and returns
// the key. The write goes through a temporary file, so a reader never sees
// a partial file.
func (s *Store) Save(data []byte, ext string) (string, error) {
	key := path.Join(prefix, uuid.NewString()+strings.ToLower(ext))
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("save %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("save %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("save %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("save %s: %w", key, err)
	}
	return key, nil
}

// Open returns a reader for the file stored under key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the file stored under key. A missing file is not an error.
func (s *Store) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Object describes one stored file.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// List describes every stored file.
func (s *Store) List() ([]Object, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, prefix))
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	objs := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		objs = append(objs, Object{
			Key:     path.Join(prefix, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objs, nil
}

// path maps key to a filesystem path, rejecting anything outside the
// datasets directory.
func (s *Store) path(key string) (string, error) {
	dir, name := path.Split(key)
	if dir != prefix+"/" || name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, prefix, name), nil
}
