// Package storage keeps uploaded file bytes on local disk.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when no blob exists for a key
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that would escape the storage root
var ErrInvalidKey = errors.New("invalid storage key")

// BlobStore reads and writes file contents by storage key
type BlobStore interface {
	ReadFile(key string) ([]byte, error)
	WriteFile(key string, data []byte) error
	Delete(key string) error
}

// KeyTimeLayout prefixes generated keys, and decides the dated directory a key lives in
const KeyTimeLayout = "20060102_150405"

// LocalStore lays blobs out as <root>/yyyy/MM/dd/<key>
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the directory blobs are written under
func (s *LocalStore) Root() string {
	return s.root
}

// Path resolves a key to its on-disk location
func (s *LocalStore) Path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", ErrInvalidKey
	}
	if len(key) >= len(KeyTimeLayout) {
		if t, err := time.Parse(KeyTimeLayout, key[:len(KeyTimeLayout)]); err == nil {
			return filepath.Join(s.root, t.Format("2006"), t.Format("01"), t.Format("02"), key), nil
		}
	}
	return filepath.Join(s.root, key), nil
}

func (s *LocalStore) ReadFile(key string) ([]byte, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LocalStore) WriteFile(key string, data []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *LocalStore) Delete(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Writable checks the root accepts writes, for the health checker
func (s *LocalStore) Writable() error {
	f, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
