package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

func TestOpenReadsStoredDocument(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "inbox"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "inbox", "a.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	rc, err := s.Open(context.Background(), "inbox/a.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil || string(data) != "payload" {
		t.Fatalf("read = %q, %v", data, err)
	}
}

func TestOpenRejectsBadKeys(t *testing.T) {
	parent := t.TempDir()
	if err := os.WriteFile(filepath.Join(parent, "secret"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	base := filepath.Join(parent, "storage")
	s, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()
	if err := os.Mkdir(filepath.Join(base, "dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ctx := context.Background()
	for _, key := range []string{"", "missing.pdf", "dir"} {
		if _, err := s.Open(ctx, key); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Open(%q): expected ErrInvalidInput, got %v", key, err)
		}
	}
	if _, err := s.Open(ctx, "../secret"); err == nil {
		t.Fatalf("expected escaping key to be rejected")
	}
}
