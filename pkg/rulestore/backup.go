package rulestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/log"
)

// BackupInfo describes a backup file.
type BackupInfo struct {
	Time time.Time `json:"time"`
	Path string    `json:"path"`
	Size int64     `json:"size"`
}

func (b BackupInfo) String() string {
	return fmt.Sprintf("%s (%s, %s)", b.Path, humanize.Bytes(uint64(max(b.Size, 0))), humanize.Time(b.Time))
}

func defaultBackupDir(location string) string {
	return filepath.Join(filepath.Dir(location), "backups")
}

// backupStem is the file name prefix shared by every backup of the store.
func (s *Store) backupStem() string {
	base := filepath.Base(s.backend.Location())

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Backup writes a timestamp-named copy of the snapshot to the backup
// directory and returns its path.
func (s *Store) Backup(ctx context.Context) (string, error) {
	// Held for reading so no mutation lands between the copy and the name.
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	path := filepath.Join(s.backupDir, api.BackupFileName(s.backupStem()+s.backend.Ext(), now))

	ctx, span := s.tracer.Start(ctx, OpBackup, trace.WithAttributes(
		attribute.String("path", path),
	))
	defer span.End()

	start := time.Now()

	err := s.backend.Backup(ctx, path)

	s.metrics.ObserveStoreOp(OpBackup, start, err)

	if err != nil {
		recordError(span, err)
		return "", fmt.Errorf("backup rule store: %w", err)
	}

	log.WithContext(ctx).InfoContext(ctx, "backed up rule store",
		slog.String("path", path),
		slog.Int("rules", s.snap.Len()),
	)

	return path, nil
}

// Backups lists existing backups, oldest first.
func (s *Store) Backups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "list backups", Path: s.backupDir, Err: err}
	}

	prefix := s.backupStem() + "."
	ext := s.backend.Ext()
	live := filepath.Clean(s.backend.Location())

	var out []BackupInfo

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		if filepath.Join(s.backupDir, name) == live {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, &errs.StorageError{Op: "list backups", Path: s.backupDir, Err: err}
		}

		out = append(out, BackupInfo{
			Path: filepath.Join(s.backupDir, name),
			Size: info.Size(),
			Time: info.ModTime(),
		})
	}

	// Names embed a sortable timestamp.
	slices.SortFunc(out, func(a, b BackupInfo) int {
		return strings.Compare(a.Path, b.Path)
	})

	return out, nil
}

// Prune deletes the oldest backups so at most keep remain, and returns the
// deleted paths. A keep of zero or less deletes nothing.
func (s *Store) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	backups, err := s.Backups()
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var removed []string

	for _, b := range backups[:len(backups)-keep] {
		err := os.Remove(b.Path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, &errs.StorageError{Op: "prune backup", Path: b.Path, Err: err}
		}

		removed = append(removed, b.Path)
	}

	log.WithContext(ctx).DebugContext(ctx, "pruned backups",
		slog.Int("removed", len(removed)),
		slog.Int("kept", keep),
	)

	return removed, nil
}

// BackupScheduler runs [Store.Backup] followed by [Store.Prune] on a cron
// schedule.
type BackupScheduler struct {
	store    *Store
	cron     *cron.Cron
	schedule string
	keep     int
	mu       sync.Mutex
	running  bool
}

// NewBackupScheduler validates schedule (standard five-field cron syntax or
// a descriptor such as "@daily") and returns a stopped scheduler.
func NewBackupScheduler(store *Store, schedule string, keep int) (*BackupScheduler, error) {
	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	return &BackupScheduler{
		store:    store,
		cron:     cron.New(),
		schedule: schedule,
		keep:     keep,
	}, nil
}

// Start schedules backups until ctx is canceled or [BackupScheduler.Stop]
// is called.
func (b *BackupScheduler) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	_, err := b.cron.AddFunc(b.schedule, func() {
		_ = b.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule backups: %w", err)
	}

	b.cron.Start()
	b.running = true

	log.WithContext(ctx).InfoContext(ctx, "backup scheduler started",
		slog.String("schedule", b.schedule),
		slog.Int("keep", b.keep),
	)

	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	return nil
}

// RunOnce performs one backup and prune cycle.
func (b *BackupScheduler) RunOnce(ctx context.Context) error {
	logger := log.WithContext(ctx)

	path, err := b.store.Backup(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "scheduled backup failed", slog.Any("err", err))
		return err
	}

	removed, err := b.store.Prune(ctx, b.keep)
	if err != nil {
		logger.ErrorContext(ctx, "pruning backups failed", slog.Any("err", err))
		return err
	}

	logger.DebugContext(ctx, "scheduled backup completed",
		slog.String("path", path),
		slog.Int("pruned", len(removed)),
	)

	return nil
}

// Stop stops the scheduler and waits for a running backup to finish.
func (b *BackupScheduler) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	<-b.cron.Stop().Done()
	b.running = false
}

// NextRun returns the time of the next scheduled backup, or the zero time
// if the scheduler is stopped.
func (b *BackupScheduler) NextRun() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.cron.Entries()
	if !b.running || len(entries) == 0 {
		return time.Time{}
	}

	return entries[0].Next
}
