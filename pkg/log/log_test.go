package log_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/log"
)

func TestCreateHandlerWithStrings(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		level  string
		format string
		err    error
	}{
		"json debug":     {level: "debug", format: "json"},
		"text warning":   {level: "WARNING", format: "text"},
		"logfmt error":   {level: "error", format: "logfmt"},
		"unknown level":  {level: "loud", format: "json", err: log.ErrUnknownLogLevel},
		"unknown format": {level: "info", format: "xml", err: log.ErrUnknownLogFormat},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h, err := log.CreateHandlerWithStrings(&bytes.Buffer{}, tc.level, tc.format)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.ErrorIs(t, err, log.ErrInvalidArgument)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, h)
		})
	}
}

func TestWithContext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Default(), log.WithContext(t.Context()))

	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := log.NewContext(t.Context(), logger)

	log.WithContext(ctx).InfoContext(ctx, "hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
