// Package rulestore persists [rule.Rule]s as a single snapshot and provides
// CRUD, search, statistics and backups over it.
//
// A [Store] is opened on a [Backend] and is safe for concurrent use within
// one process. Every mutation is validated in full and written to the
// backend before the in-memory state changes, so a failed validation or a
// failed write leaves both the memory and the backend as they were.
package rulestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/log"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/telemetry"
)

// Store operation names, used for metrics and spans.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
	OpLoad   = "load"
	OpBackup = "backup"
)

// Store is the rule store handle.
type Store struct {
	backend   Backend
	snap      *Snapshot
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	backupDir string
	mu        sync.RWMutex
}

// Option configures a [Store].
type Option func(*Store)

// WithBackupDir sets the directory [Store.Backup] writes to. It defaults to
// a "backups" directory next to the backend location.
func WithBackupDir(dir string) Option {
	return func(s *Store) {
		s.backupDir = dir
	}
}

// WithClock replaces [time.Now] for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMetrics records store operations in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithTracer replaces the default tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = t
	}
}

// Open loads the snapshot from backend. If nothing has been saved yet, an
// empty snapshot is created and saved.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		now:     time.Now,
		tracer:  telemetry.Tracer("rulestore"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backupDir == "" {
		s.backupDir = defaultBackupDir(backend.Location())
	}

	ctx, span := s.tracer.Start(ctx, "open", trace.WithAttributes(
		attribute.String("location", backend.Location()),
	))
	defer span.End()

	start := time.Now()

	snap, err := backend.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		log.WithContext(ctx).InfoContext(ctx, "creating rule store",
			slog.String("location", backend.Location()),
		)

		snap = NewSnapshot(s.now())
		err = backend.Save(ctx, snap)
	}

	s.metrics.ObserveStoreOp(OpLoad, start, err)

	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("open rule store: %w", err)
	}

	s.snap = snap
	s.metrics.SetStoreRules(snap.Len())

	log.WithContext(ctx).DebugContext(ctx, "opened rule store",
		slog.String("location", backend.Location()),
		slog.Int("rules", snap.Len()),
	)

	return s, nil
}

// Add stores a copy of r. An id is assigned when r has none, and the
// created and lastModified timestamps are stamped. All violations are
// reported together, including DUPLICATE_ID.
func (s *Store) Add(ctx context.Context, r *rule.Rule) (*rule.Rule, error) {
	c := r.Clone()
	if c == nil {
		c = &rule.Rule{}
	}
	if c.ID == "" {
		c.ID = rule.NewID()
	}

	c.Normalize()

	ctx, span := s.tracer.Start(ctx, OpAdd, trace.WithAttributes(
		attribute.String("rule.id", c.ID),
	))
	defer span.End()

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c.Created.IsZero() {
		c.Created = now
	}

	c.LastModified = now

	vs := c.Violations()
	if _, ok := s.snap.Rules.Get(c.ID); ok {
		vs.Add("id", rule.CodeDuplicateID, "rule %q already exists", c.ID)
	}

	err := vs.Err()
	if err == nil {
		err = s.commit(ctx, func(next *Snapshot) {
			next.Rules.Set(c.ID, c.Clone())
		})
	}

	s.metrics.ObserveStoreOp(OpAdd, start, err)

	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("add rule: %w", err)
	}

	log.WithContext(ctx).DebugContext(ctx, "added rule",
		slog.String("id", c.ID),
		slog.String("title", c.Title),
	)

	return c, nil
}

// Get returns a copy of the rule with the given id.
func (s *Store) Get(id string) (*rule.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.snap.Rules.Get(id)
	if !ok {
		return nil, false
	}

	return r.Clone(), true
}

// Update merges patch into the rule with the given id and stores the
// result. The merged rule is validated in full; on any error the stored
// rule is unchanged.
func (s *Store) Update(ctx context.Context, id string, patch rule.Patch) (*rule.Rule, error) {
	ctx, span := s.tracer.Start(ctx, OpUpdate, trace.WithAttributes(
		attribute.String("rule.id", id),
	))
	defer span.End()

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		merged *rule.Rule
		err    error
	)

	existing, ok := s.snap.Rules.Get(id)
	if !ok {
		err = s.notFound(id)
	} else {
		merged = existing.Apply(patch)
		merged.LastModified = s.now()

		err = merged.Validate()
	}

	if err == nil {
		err = s.commit(ctx, func(next *Snapshot) {
			next.Rules.Set(id, merged.Clone())
		})
	}

	s.metrics.ObserveStoreOp(OpUpdate, start, err)

	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("update rule: %w", err)
	}

	log.WithContext(ctx).DebugContext(ctx, "updated rule", slog.String("id", id))

	return merged, nil
}

// Delete removes the rule with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, OpDelete, trace.WithAttributes(
		attribute.String("rule.id", id),
	))
	defer span.End()

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if _, ok := s.snap.Rules.Get(id); !ok {
		err = s.notFound(id)
	} else {
		err = s.commit(ctx, func(next *Snapshot) {
			next.Rules.Delete(id)
		})
	}

	s.metrics.ObserveStoreOp(OpDelete, start, err)

	if err != nil {
		recordError(span, err)
		return fmt.Errorf("delete rule: %w", err)
	}

	log.WithContext(ctx).DebugContext(ctx, "deleted rule", slog.String("id", id))

	return nil
}

// All returns copies of every rule in insertion order.
func (s *Store) All() []*rule.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneAll(s.snap.List())
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap.Len()
}

// Metadata returns the snapshot metadata.
func (s *Store) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap.Metadata
}

// Reload replaces the in-memory state with the backend's. A backend with no
// snapshot, or one that fails to load, leaves the current state in place.
// The load holds the store lock, so a concurrent write is either already
// saved and seen by the load, or applied on top of the reloaded state.
func (s *Store) Reload(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "reload")
	defer span.End()

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.backend.Load(ctx)

	s.metrics.ObserveStoreOp(OpLoad, start, err)

	if err != nil {
		recordError(span, err)
		return fmt.Errorf("reload rule store: %w", err)
	}

	s.snap = snap
	s.metrics.SetStoreRules(snap.Len())

	return nil
}

// Location returns where the backend keeps the snapshot.
func (s *Store) Location() string {
	return s.backend.Location()
}

// BackupDir returns the directory backups are written to.
func (s *Store) BackupDir() string {
	return s.backupDir
}

// Close releases the backend.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.Close()
	if err != nil {
		return fmt.Errorf("close rule store: %w", err)
	}

	return nil
}

// commit applies mutate to a copy of the current snapshot, saves the copy,
// and only then makes it current. Callers must hold s.mu.
func (s *Store) commit(ctx context.Context, mutate func(next *Snapshot)) error {
	next := s.snap.Clone()
	mutate(next)
	next.touch(s.now())

	err := s.backend.Save(ctx, next)
	if err != nil {
		return err
	}

	s.snap = next
	s.metrics.SetStoreRules(next.Len())

	return nil
}

// notFound builds a NotFoundError suggesting near ids and titles. Callers
// must hold s.mu.
func (s *Store) notFound(id string) error {
	candidates := make([]string, 0, 2*s.snap.Len())
	for pair := s.snap.Rules.Oldest(); pair != nil; pair = pair.Next() {
		candidates = append(candidates, pair.Key)
	}

	suggestions := errs.Suggest(id, candidates, 3)

	// Fall back to titles, suggesting the ids they belong to.
	if len(suggestions) == 0 {
		titles := make([]string, 0, s.snap.Len())
		byTitle := make(map[string]string, s.snap.Len())

		for pair := s.snap.Rules.Oldest(); pair != nil; pair = pair.Next() {
			titles = append(titles, pair.Value.Title)
			byTitle[pair.Value.Title] = pair.Key
		}

		for _, t := range errs.Suggest(id, titles, 3) {
			suggestions = append(suggestions, byTitle[t])
		}
	}

	return &errs.NotFoundError{Kind: "rule", ID: id, Suggestions: suggestions}
}

func cloneAll(rules []*rule.Rule) []*rule.Rule {
	out := make([]*rule.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Clone())
	}

	return out
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
