package rulestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/pkg/errs"
)

// ErrNoSnapshot is returned by [Backend.Load] when nothing has been saved
// yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Backend persists whole snapshots.
type Backend interface {
	// Load returns the saved snapshot, or [ErrNoSnapshot].
	Load(ctx context.Context) (*Snapshot, error)
	// Save replaces the saved snapshot. A failed save leaves the previous
	// snapshot intact.
	Save(ctx context.Context, s *Snapshot) error
	// Backup writes a full copy of the saved snapshot to path.
	Backup(ctx context.Context, path string) error
	// Location is the file the snapshot lives in.
	Location() string
	// Ext is the file extension used for backups, e.g. ".json".
	Ext() string
	Close() error
}

// FileBackend stores the snapshot as a JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend creates a [FileBackend] for path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "read", Path: b.path, Err: err}
	}

	s, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, &errs.StorageError{Op: "decode", Path: b.path, Err: err}
	}

	return s, nil
}

func (b *FileBackend) Save(_ context.Context, s *Snapshot) error {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return &errs.StorageError{Op: "encode", Path: b.path, Err: err}
	}

	err = api.WriteFileAtomic(b.path, data)
	if err != nil {
		return &errs.StorageError{Op: "write", Path: b.path, Err: err}
	}

	return nil
}

func (b *FileBackend) Backup(_ context.Context, path string) error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return &errs.StorageError{Op: "read", Path: b.path, Err: err}
	}

	err = api.WriteFileAtomic(path, data)
	if err != nil {
		return &errs.StorageError{Op: "backup", Path: path, Err: err}
	}

	return nil
}

func (b *FileBackend) Location() string {
	return b.path
}

func (b *FileBackend) Ext() string {
	return ".json"
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) String() string {
	return fmt.Sprintf("file(%s)", b.path)
}
