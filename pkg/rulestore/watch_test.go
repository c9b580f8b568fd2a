package rulestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
)

func TestStore_Watch(t *testing.T) {
	t.Parallel()

	s, path := openFileStore(t)

	other, err := rulestore.Open(t.Context(), rulestore.NewFileBackend(path))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())

	changed := make(chan rulestore.Metadata, 16)
	done := make(chan error, 1)

	go func() {
		done <- s.Watch(ctx, func(md rulestore.Metadata) {
			select {
			case changed <- md:
			default:
			}
		})
	}()

	// The watcher starts asynchronously, so keep writing until it notices.
	require.Eventually(t, func() bool {
		_, err := other.Add(context.Background(), newRule("External", rule.CategoryWorkflow, rule.UrgencyInfo))
		if err != nil {
			return false
		}

		select {
		case <-changed:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return s.Len() == other.Len()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
