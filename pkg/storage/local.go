package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalConfig configures filesystem-backed storage.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
	// URLPrefix is prepended to keys by GetURL so the returned path matches
	// the route the server exposes the files on.
	URLPrefix string `mapstructure:"url_prefix"`
}

// LocalStorage keeps blobs on the local filesystem. Writes go through a temp
// file and rename so readers never observe partial content.
type LocalStorage struct {
	basePath  string
	urlPrefix string
}

func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	abs, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	prefix := cfg.URLPrefix
	if prefix == "" {
		prefix = "/files"
	}
	return &LocalStorage{basePath: abs, urlPrefix: strings.TrimSuffix(prefix, "/")}, nil
}

// keyPath maps a key onto the base directory, refusing traversal outside it.
func (s *LocalStorage) keyPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

func (s *LocalStorage) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	target, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *LocalStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", key)
	}
	return f, err
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	target, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	target, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetURL returns the server-relative path the file is exposed on. expires is
// ignored; local files have no presigning.
func (s *LocalStorage) GetURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if _, err := s.keyPath(key); err != nil {
		return "", err
	}
	return s.urlPrefix + "/" + strings.TrimPrefix(key, "/"), nil
}

var _ Storage = (*LocalStorage)(nil)
