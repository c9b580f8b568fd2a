package rulestore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() func() time.Time {
	return func() time.Time { return fixedNow }
}

func newRule(title string, c rule.Category, u rule.Urgency, tags ...string) *rule.Rule {
	return &rule.Rule{
		Title:    title,
		Content:  title + " content",
		Category: c,
		Urgency:  u,
		Tags:     tags,
	}
}

func openFileStore(t *testing.T) (*rulestore.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.json")

	s, err := rulestore.Open(t.Context(), rulestore.NewFileBackend(path), rulestore.WithClock(clock()))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s, path
}

// flakyBackend wraps a [rulestore.Backend] and fails saves while failing is
// set.
type flakyBackend struct {
	rulestore.Backend

	mu      sync.Mutex
	failing bool
}

func (b *flakyBackend) Save(ctx context.Context, s *rulestore.Snapshot) error {
	b.mu.Lock()
	failing := b.failing
	b.mu.Unlock()

	if failing {
		return &errs.StorageError{Op: "write", Path: b.Location(), Err: errors.New("disk full")}
	}

	return b.Backend.Save(ctx, s)
}

func (b *flakyBackend) setFailing(v bool) {
	b.mu.Lock()
	b.failing = v
	b.mu.Unlock()
}

func TestOpen_CreatesEmptySnapshot(t *testing.T) {
	t.Parallel()

	s, path := openFileStore(t)

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, path, s.Location())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "backups"), s.BackupDir())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	snap, err := rulestore.UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, rulestore.SnapshotVersion, snap.Metadata.Version)
	assert.Equal(t, 0, snap.Metadata.TotalRules)
	assert.True(t, snap.Metadata.Created.Equal(fixedNow))
	assert.Equal(t, rule.Categories, snap.Categories)
	assert.Equal(t, rule.Urgencies, snap.UrgencyLevels)
}

func TestOpen_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rules": {"a": {"id": "a", "title": ""}}}`), 0o600))

	_, err := rulestore.Open(t.Context(), rulestore.NewFileBackend(path))
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrStorage)
	require.ErrorIs(t, err, errs.ErrValidation)

	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Violations.Has(rule.CodeMissingTitle))
	assert.True(t, verr.Violations.Has(rule.CodeMissingContent))
}

func TestStore_Add(t *testing.T) {
	t.Parallel()

	s, path := openFileStore(t)

	added, err := s.Add(t.Context(), newRule("Validate input", rule.CategorySecurity, rule.UrgencyHigh, "web", "web", " "))
	require.NoError(t, err)

	assert.NotEmpty(t, added.ID)
	assert.True(t, added.Created.Equal(fixedNow))
	assert.True(t, added.LastModified.Equal(fixedNow))
	assert.Equal(t, []string{"web"}, added.Tags)

	got, ok := s.Get(added.ID)
	require.True(t, ok)
	assert.Equal(t, added, got)

	// The returned rule is a copy.
	got.Title = "changed"
	again, _ := s.Get(added.ID)
	assert.Equal(t, "Validate input", again.Title)

	// Persisted.
	reopened, err := rulestore.Open(t.Context(), rulestore.NewFileBackend(path))
	require.NoError(t, err)

	persisted, ok := reopened.Get(added.ID)
	require.True(t, ok)
	assert.Equal(t, "Validate input", persisted.Title)
	assert.Equal(t, 1, reopened.Metadata().TotalRules)
}

func TestStore_Add_KeepsGivenID(t *testing.T) {
	t.Parallel()

	s, _ := openFileStore(t)

	r := newRule("Early returns", rule.CategoryCodingStandards, rule.UrgencyLow)
	r.ID = "early-returns"

	added, err := s.Add(t.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, "early-returns", added.ID)
}

func TestStore_Add_Invalid(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		r         *rule.Rule
		wantCodes []string
	}{
		"missing fields": {
			r:         &rule.Rule{Category: "NOPE", Urgency: "SOON"},
			wantCodes: []string{rule.CodeMissingTitle, rule.CodeMissingContent, rule.CodeInvalidCategory, rule.CodeInvalidUrgency},
		},
		"duplicate id": {
			r: func() *rule.Rule {
				r := newRule("Other", rule.CategoryTesting, rule.UrgencyLow)
				r.ID = "dup"

				return r
			}(),
			wantCodes: []string{rule.CodeDuplicateID},
		},
		"duplicate id and empty title": {
			r: &rule.Rule{
				ID:       "dup",
				Content:  "x",
				Category: rule.CategoryTesting,
				Urgency:  rule.UrgencyLow,
			},
			wantCodes: []string{rule.CodeMissingTitle, rule.CodeDuplicateID},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, _ := openFileStore(t)

			existing := newRule("Existing", rule.CategoryTesting, rule.UrgencyLow)
			existing.ID = "dup"
			_, err := s.Add(t.Context(), existing)
			require.NoError(t, err)

			_, err = s.Add(t.Context(), tc.r)
			require.ErrorIs(t, err, errs.ErrValidation)

			var verr *errs.ValidationError
			require.ErrorAs(t, err, &verr)

			for _, code := range tc.wantCodes {
				assert.True(t, verr.Violations.Has(code), "missing %s in %v", code, verr.Violations)
			}

			assert.Len(t, verr.Violations, len(tc.wantCodes))
			assert.Equal(t, 1, s.Len())
		})
	}
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	s, _ := openFileStore(t)

	added, err := s.Add(t.Context(), newRule("Use contexts", rule.CategoryCodingStandards, rule.UrgencyMedium))
	require.NoError(t, err)

	title := "Pass contexts"
	urgency := rule.UrgencyHigh
	tags := []string{"go", "go"}

	updated, err := s.Update(t.Context(), added.ID, rule.Patch{Title: &title, Urgency: &urgency, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "Pass contexts", updated.Title)
	assert.Equal(t, rule.UrgencyHigh, updated.Urgency)
	assert.Equal(t, []string{"go"}, updated.Tags)
	assert.Equal(t, added.Content, updated.Content)

	got, _ := s.Get(added.ID)
	assert.Equal(t, updated, got)
}

func TestStore_Update_InvalidLeavesRuleUnchanged(t *testing.T) {
	t.Parallel()

	s, path := openFileStore(t)

	added, err := s.Add(t.Context(), newRule("Use contexts", rule.CategoryCodingStandards, rule.UrgencyMedium))
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	empty := ""
	_, err = s.Update(t.Context(), added.ID, rule.Patch{Title: &empty, Content: &empty})
	require.ErrorIs(t, err, errs.ErrValidation)

	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Violations.Has(rule.CodeMissingTitle))
	assert.True(t, verr.Violations.Has(rule.CodeMissingContent))

	got, _ := s.Get(added.ID)
	assert.Equal(t, added, got)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := openFileStore(t)

	r := newRule("Validate input", rule.CategorySecurity, rule.UrgencyHigh)
	r.ID = "validate-input"
	_, err := s.Add(t.Context(), r)
	require.NoError(t, err)

	title := "x"
	_, err = s.Update(t.Context(), "validate-inpt", rule.Patch{Title: &title})
	require.ErrorIs(t, err, errs.ErrNotFound)

	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "rule", nf.Kind)
	assert.Equal(t, []string{"validate-input"}, nf.Suggestions)

	err = s.Delete(t.Context(), "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestStore_NotFound_SuggestsByTitle(t *testing.T) {
	t.Parallel()

	s, _ := openFileStore(t)

	added, err := s.Add(t.Context(), newRule("Validate input", rule.CategorySecurity, rule.UrgencyHigh))
	require.NoError(t, err)

	err = s.Delete(t.Context(), "validate")

	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{added.ID}, nf.Suggestions)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	s, path := openFileStore(t)

	a, err := s.Add(t.Context(), newRule("A", rule.CategoryTesting, rule.UrgencyLow))
	require.NoError(t, err)
	b, err := s.Add(t.Context(), newRule("B", rule.CategoryTesting, rule.UrgencyLow))
	require.NoError(t, err)

	require.NoError(t, s.Delete(t.Context(), a.ID))

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, b.ID, all[0].ID)
	assert.Equal(t, 1, s.Metadata().TotalRules)

	reopened, err := rulestore.Open(t.Context(), rulestore.NewFileBackend(path))
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
}

func TestStore_All_InsertionOrder(t *testing.T) {
	t.Parallel()

	s, path := openFileStore(t)

	titles := []string{"zeta", "alpha", "mu", "beta"}
	for _, title := range titles {
		_, err := s.Add(t.Context(), newRule(title, rule.CategoryWorkflow, rule.UrgencyInfo))
		require.NoError(t, err)
	}

	reopened, err := rulestore.Open(t.Context(), rulestore.NewFileBackend(path))
	require.NoError(t, err)

	for _, st := range []*rulestore.Store{s, reopened} {
		var got []string
		for _, r := range st.All() {
			got = append(got, r.Title)
		}

		assert.Equal(t, titles, got)
	}
}

func TestStore_FailedWriteLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.json")
	backend := &flakyBackend{Backend: rulestore.NewFileBackend(path)}

	s, err := rulestore.Open(t.Context(), backend, rulestore.WithClock(clock()))
	require.NoError(t, err)

	added, err := s.Add(t.Context(), newRule("Keep me", rule.CategoryTesting, rule.UrgencyLow))
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	backend.setFailing(true)

	_, err = s.Add(t.Context(), newRule("Lost", rule.CategoryTesting, rule.UrgencyLow))
	require.ErrorIs(t, err, errs.ErrStorage)

	title := "Changed"
	_, err = s.Update(t.Context(), added.ID, rule.Patch{Title: &title})
	require.ErrorIs(t, err, errs.ErrStorage)

	err = s.Delete(t.Context(), added.ID)
	require.ErrorIs(t, err, errs.ErrStorage)

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, added, all[0])
	assert.Equal(t, 1, s.Metadata().TotalRules)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	backend.setFailing(false)

	_, err = s.Add(t.Context(), newRule("Saved", rule.CategoryTesting, rule.UrgencyLow))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestStore_Reload(t *testing.T) {
	t.Parallel()

	s, path := openFileStore(t)

	other, err := rulestore.Open(t.Context(), rulestore.NewFileBackend(path))
	require.NoError(t, err)

	_, err = other.Add(t.Context(), newRule("From elsewhere", rule.CategoryTesting, rule.UrgencyLow))
	require.NoError(t, err)

	assert.Equal(t, 0, s.Len())
	require.NoError(t, s.Reload(t.Context()))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	require.ErrorIs(t, s.Reload(t.Context()), errs.ErrStorage)
	assert.Equal(t, 1, s.Len())
}

// gatedBackend pauses the first load after armed is set, once it has read
// the saved snapshot.
type gatedBackend struct {
	rulestore.Backend

	loading chan struct{}
	release chan struct{}
	armed   atomic.Bool
}

func (b *gatedBackend) Load(ctx context.Context) (*rulestore.Snapshot, error) {
	snap, err := b.Backend.Load(ctx)

	if b.armed.CompareAndSwap(true, false) {
		close(b.loading)
		<-b.release
	}

	return snap, err
}

func TestStore_ReloadDoesNotLoseConcurrentWrite(t *testing.T) {
	t.Parallel()

	backend := &gatedBackend{
		Backend: rulestore.NewFileBackend(filepath.Join(t.TempDir(), "rules.json")),
		loading: make(chan struct{}),
		release: make(chan struct{}),
	}

	s, err := rulestore.Open(t.Context(), backend, rulestore.WithClock(clock()))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close(context.Background()) })

	backend.armed.Store(true)

	reloaded := make(chan error, 1)
	go func() { reloaded <- s.Reload(context.Background()) }()

	<-backend.loading

	added := make(chan error, 1)
	go func() {
		_, err := s.Add(context.Background(), newRule("Written during reload", rule.CategoryTesting, rule.UrgencyLow))
		added <- err
	}()

	select {
	case <-added:
		t.Fatal("add finished while a reload was loading")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)

	require.NoError(t, <-reloaded)
	require.NoError(t, <-added)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Reload(t.Context()))
	assert.Equal(t, 1, s.Len())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s, _ := openFileStore(t)

	var wg sync.WaitGroup

	for range 4 {
		wg.Go(func() {
			for range 10 {
				_, err := s.Add(context.Background(), newRule("Concurrent", rule.CategoryTesting, rule.UrgencyLow))
				assert.NoError(t, err)
			}
		})
	}

	for range 4 {
		wg.Go(func() {
			for range 50 {
				all := s.All()
				res := s.Search(rulestore.Filter{Text: "concurrent"})
				stats := s.Statistics()

				assert.LessOrEqual(t, len(all), 40)
				assert.LessOrEqual(t, len(res.Rules), 40)
				assert.LessOrEqual(t, stats.Total, 40)
			}
		})
	}

	wg.Wait()

	assert.Equal(t, 40, s.Len())
	assert.Equal(t, 40, s.Metadata().TotalRules)
}
