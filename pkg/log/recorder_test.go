package log_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/log"
)

func TestRecorder_Write(t *testing.T) {
	t.Parallel()

	r := log.NewRecorder(3)
	assert.Equal(t, 3, r.Cap())

	n, err := r.Write([]byte("one\ntwo\nthr"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, []string{"one", "two"}, r.Lines())

	_, err = r.Write([]byte("ee\n\nfour\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three", "four"}, r.Lines())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 1, r.Dropped())

	r.Reset()
	assert.Empty(t, r.Lines())
	assert.Zero(t, r.Dropped())
}

func TestRecorder_DefaultCapacity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, log.DefaultRecorderCapacity, log.NewRecorder(0).Cap())
	assert.Equal(t, log.DefaultRecorderCapacity, log.NewRecorder(-1).Cap())
}

func TestRecorder_Tail(t *testing.T) {
	t.Parallel()

	r := log.NewRecorder(10)
	for i := range 6 {
		fmt.Fprintf(r, "level=INFO msg=line%d store=%t\n", i, i%2 == 0)
	}

	tcs := map[string]struct {
		match string
		n     int
		want  []string
	}{
		"last two": {
			n:    2,
			want: []string{"level=INFO msg=line4 store=true", "level=INFO msg=line5 store=false"},
		},
		"filtered": {
			match: "store=true",
			want: []string{
				"level=INFO msg=line0 store=true",
				"level=INFO msg=line2 store=true",
				"level=INFO msg=line4 store=true",
			},
		},
		"filtered and limited": {
			match: "store=false",
			n:     1,
			want:  []string{"level=INFO msg=line5 store=false"},
		},
		"no match": {
			match: "ERROR",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, r.Tail(tc.n, tc.match))
		})
	}
}

func TestRecorder_Handler(t *testing.T) {
	t.Parallel()

	r := log.NewRecorder(10)

	h, err := log.CreateHandlerWithStrings(r, "info", "logfmt")
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("rule added", slog.String("id", "abc"))
	logger.Debug("hidden")

	lines := r.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `msg="rule added"`)
	assert.Contains(t, lines[0], "id=abc")

	var buf bytes.Buffer

	_, err = r.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, lines[0]+"\n", buf.String())
}

func TestRecorder_Concurrent(t *testing.T) {
	t.Parallel()

	r := log.NewRecorder(1000)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for j := range 50 {
				fmt.Fprintf(r, "worker=%d n=%d\n", i, j)
			}
		})
	}

	wg.Wait()

	assert.Equal(t, 500, r.Len())
	for _, line := range r.Lines() {
		assert.True(t, strings.HasPrefix(line, "worker="), line)
	}
}
