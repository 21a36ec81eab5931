package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

var _ ports.DocumentSource = (*Storage)(nil)

// Storage resolves storage keys to files under a base directory. Keys that
// escape the directory are rejected.
type Storage struct {
	root *os.Root
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	root, err := os.OpenRoot(basePath)
	if err != nil {
		return nil, fmt.Errorf("open storage dir: %w", err)
	}
	return &Storage{root: root}, nil
}

func (s *Storage) Close() error {
	return s.root.Close()
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open document", errors.New("empty storage key"))
	}
	f, err := s.root.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "open document", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, domain.WrapError(domain.ErrInvalidInput, "open document", fmt.Errorf("%s is a directory", key))
	}
	return f, nil
}
