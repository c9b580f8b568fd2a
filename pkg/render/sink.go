package render

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/pkg/errs"
)

// Sink receives rendered artifacts.
type Sink interface {
	Write(ctx context.Context, path, text string) error
}

// DirMaker is implemented by sinks that can create directories ahead of
// writes.
type DirMaker interface {
	MkdirAll(ctx context.Context, path string) error
}

// FileSink writes artifacts to the local filesystem. Each write goes to a
// temporary file that is renamed into place.
type FileSink struct{}

func (FileSink) Write(_ context.Context, path, text string) error {
	err := api.WriteFileAtomic(path, []byte(text))
	if err != nil {
		return &errs.StorageError{Op: "write", Path: path, Err: err}
	}

	return nil
}

func (FileSink) MkdirAll(_ context.Context, path string) error {
	err := os.MkdirAll(path, 0o755)
	if err != nil {
		return &errs.StorageError{Op: "mkdir", Path: path, Err: err}
	}

	return nil
}

// MemorySink keeps artifacts in memory. It is safe for concurrent use.
type MemorySink struct {
	files map[string]string
	dirs  map[string]bool
	mu    sync.Mutex
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		files: map[string]string{},
		dirs:  map[string]bool{},
	}
}

func (s *MemorySink) Write(_ context.Context, path, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[path] = text

	return nil
}

func (s *MemorySink) MkdirAll(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirs[path] = true

	return nil
}

// File returns the text written to path.
func (s *MemorySink) File(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, ok := s.files[path]

	return text, ok
}

// Paths returns the written paths in sorted order.
func (s *MemorySink) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.files))
}

// Dirs returns the created directories in sorted order.
func (s *MemorySink) Dirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.dirs))
}

func (s *MemorySink) String() string {
	return fmt.Sprintf("memory(%d files)", len(s.Paths()))
}
