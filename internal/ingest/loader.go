// Package ingest defines the loader contract the coordinator consumes.
// Format-specific parsers (PDF page extraction, email parsing) live
// outside this module and plug in through the Loader interface; the
// built-in FileLoader covers plain-text formats.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType marks a document whose format no loader can handle.
// Fatal, never retried.
var ErrUnsupportedType = errors.New("unsupported file type")

// DocumentMeta is the document-level metadata a loader extracts.
type DocumentMeta struct {
	Filename string
	Path     string
	Size     int64
	Type     string
	Extra    map[string]string
}

// RawDocument is the loader output handed to the pipeline: extracted raw
// text plus document-level metadata.
type RawDocument struct {
	Text string
	Meta DocumentMeta
}

// Loader turns a file path into raw text and metadata. Implementations
// must be deterministic: identical file bytes yield identical output.
type Loader interface {
	// Load reads and extracts the document at path.
	Load(ctx context.Context, path string) (*RawDocument, error)
	// CanHandle reports whether this loader supports the file.
	CanHandle(path string) bool
}

// FileLoader reads plain-text documents from the local filesystem.
type FileLoader struct {
	extensions map[string]struct{}
}

// NewFileLoader creates a loader for plain-text formats (.txt, .md,
// .text, .log).
func NewFileLoader() *FileLoader {
	return &FileLoader{
		extensions: map[string]struct{}{
			".txt":  {},
			".md":   {},
			".text": {},
			".log":  {},
		},
	}
}

// CanHandle reports whether the file extension is a supported plain-text
// format.
func (l *FileLoader) CanHandle(path string) bool {
	_, ok := l.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads the file and returns its content with basic file metadata.
func (l *FileLoader) Load(ctx context.Context, path string) (*RawDocument, error) {
	if !l.CanHandle(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	return &RawDocument{
		Text: string(data),
		Meta: DocumentMeta{
			Filename: filepath.Base(path),
			Path:     path,
			Size:     info.Size(),
			Type:     strings.TrimPrefix(ext, "."),
			Extra: map[string]string{
				"source_file": path,
				"file_type":   strings.TrimPrefix(ext, "."),
			},
		},
	}, nil
}

// Registry resolves the loader for a path from an ordered list.
type Registry struct {
	loaders []Loader
}

// NewRegistry creates a registry; loaders are consulted in order.
func NewRegistry(loaders ...Loader) *Registry {
	return &Registry{loaders: loaders}
}

// For returns the first loader able to handle path, or
// ErrUnsupportedType.
func (r *Registry) For(path string) (Loader, error) {
	for _, l := range r.loaders {
		if l.CanHandle(path) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
}
