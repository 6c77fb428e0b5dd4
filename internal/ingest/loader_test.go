package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLoader_CanHandle(t *testing.T) {
	loader := NewFileLoader()

	tests := []struct {
		path string
		want bool
	}{
		{"notes.txt", true},
		{"README.md", true},
		{"trace.log", true},
		{"UPPER.TXT", true},
		{"report.pdf", false},
		{"mail.eml", false},
		{"noext", false},
	}

	for _, tt := range tests {
		if got := loader.CanHandle(tt.path); got != tt.want {
			t.Errorf("CanHandle(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFileLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	content := "hello from a test document"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	loader := NewFileLoader()
	raw, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if raw.Text != content {
		t.Errorf("Text: expected %q, got %q", content, raw.Text)
	}
	if raw.Meta.Filename != "doc.txt" {
		t.Errorf("Filename: expected doc.txt, got %q", raw.Meta.Filename)
	}
	if raw.Meta.Type != "txt" {
		t.Errorf("Type: expected txt, got %q", raw.Meta.Type)
	}
	if raw.Meta.Size != int64(len(content)) {
		t.Errorf("Size: expected %d, got %d", len(content), raw.Meta.Size)
	}
	if raw.Meta.Extra["source_file"] != path {
		t.Errorf("Extra source_file: expected %q, got %q", path, raw.Meta.Extra["source_file"])
	}
}

func TestFileLoader_UnsupportedType(t *testing.T) {
	loader := NewFileLoader()

	_, err := loader.Load(context.Background(), "scan.pdf")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
}

func TestFileLoader_MissingFile(t *testing.T) {
	loader := NewFileLoader()

	_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestRegistry_For(t *testing.T) {
	registry := NewRegistry(NewFileLoader())

	if _, err := registry.For("doc.md"); err != nil {
		t.Errorf("Expected loader for doc.md, got error %v", err)
	}

	_, err := registry.For("image.png")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
}
