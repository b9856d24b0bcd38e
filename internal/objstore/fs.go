package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/quillcms/quillgate/internal/config"
)

// FilesystemStore writes objects under a local directory. It serves local
// development where no bucket is available; the public domain is expected to
// point at whatever serves that directory.
type FilesystemStore struct {
	root         string
	publicDomain string
}

func NewFilesystem(cfg config.FilesystemConfig) (*FilesystemStore, error) {
	root := cfg.Root
	if root == "" {
		root = "./media"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filesystem storage: create root: %w", err)
	}
	return &FilesystemStore{root: root, publicDomain: cfg.PublicDomain}, nil
}

func (s *FilesystemStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := filepath.FromSlash(key)
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("filesystem storage: invalid key %q", key)
	}
	dest := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("filesystem storage: create dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("filesystem storage: create %s: %w", key, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("filesystem storage: write %s: %w", key, err)
	}
	return PublicURL(s.publicDomain, key), nil
}

func (s *FilesystemStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("filesystem storage: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filesystem storage: %s is not a directory", s.root)
	}
	return nil
}
