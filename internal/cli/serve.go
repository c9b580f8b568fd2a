package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/macropower/rulebook/pkg/log"
	"github.com/macropower/rulebook/pkg/mcp"
	"github.com/macropower/rulebook/pkg/rulestore"
	"github.com/macropower/rulebook/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

type ServeArgs struct {
	*RootArgs

	Address    string
	TrafficLog string
	LogLines   int
	Stdio      bool
	NoWatch    bool
}

func NewServeCmd(rootArgs *RootArgs) *cobra.Command {
	sa := &ServeArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start a Model Context Protocol server exposing the rule library and
profiles as read-only tools. By default it listens for streamable HTTP on
the configured address and also serves Prometheus metrics; --stdio serves a
single client over stdin and stdout instead.

While serving, the rule library is reloaded when another process changes it,
and backups run on the configured schedule.`,
		Example: `  rulebook serve --address 127.0.0.1:9090

  # For MCP clients that launch the server themselves:
  rulebook serve --stdio`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, sa)
		},
	}

	cmd.Flags().BoolVar(&sa.Stdio, "stdio", false, "Serve over stdin and stdout")
	cmd.Flags().StringVar(&sa.Address, "address", "", "HTTP listen address (default from the config file)")
	cmd.Flags().StringVar(&sa.TrafficLog, "traffic-log", "", "Append the raw stdio traffic to this file")
	cmd.Flags().IntVar(&sa.LogLines, "log-lines", log.DefaultRecorderCapacity, "Recent log lines kept for the server_logs tool")
	cmd.Flags().BoolVar(&sa.NoWatch, "no-watch", false, "Do not reload the rule library on external changes")

	cmd.MarkFlagsMutuallyExclusive("stdio", "address")
	must(cmd.MarkFlagFilename("traffic-log"))

	return cmd
}

func runServe(cmd *cobra.Command, sa *ServeArgs) error {
	ctx := cmd.Context()

	recorder := log.NewRecorder(sa.LogLines)

	// Tee the logs into the recorder for the server_logs tool.
	handler, err := log.CreateHandlerWithStrings(io.MultiWriter(cmd.ErrOrStderr(), recorder), sa.LogLevel, sa.LogFormat)
	if err != nil {
		return fmt.Errorf("create log handler: %w", err)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	ctx = log.NewContext(ctx, logger)

	metrics := telemetry.NewMetrics()

	a, err := openApp(ctx, sa.RootArgs, metrics)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	shutdown, err := telemetry.Setup(ctx, a.settings.Telemetry)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := shutdown(sctx)
		if err != nil {
			slog.ErrorContext(ctx, "shut down tracing", slog.Any("err", err))
		}
	}()

	opts := []mcp.Option{
		mcp.WithRecorder(recorder),
		mcp.WithMetrics(metrics, a.settings.Server.MetricsPath),
	}

	if !sa.Stdio {
		addr := sa.Address
		if addr == "" {
			addr = a.settings.Server.Address
		}

		opts = append(opts, mcp.WithAddress(addr))
	}

	if sa.TrafficLog != "" {
		f, err := os.OpenFile(sa.TrafficLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open traffic log: %w", err)
		}
		defer f.Close()

		opts = append(opts, mcp.WithTrafficLog(f))
	}

	server := mcp.NewServer(a.store, a.profiles, a.renderer, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if schedule := a.settings.Backups.Schedule; schedule != "" {
		scheduler, err := rulestore.NewBackupScheduler(a.store, schedule, a.settings.Backups.GetKeep())
		if err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}

		err = scheduler.Start(ctx)
		if err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}
		defer scheduler.Stop()
	}

	if !sa.NoWatch {
		g.Go(func() error {
			return a.store.Watch(ctx, func(md rulestore.Metadata) {
				log.WithContext(ctx).InfoContext(ctx, "rule library changed",
					slog.Int("rules", md.TotalRules),
				)
			})
		})
	}

	g.Go(func() error {
		// Stop the watcher once the client goes away.
		defer cancel()

		return server.Serve(ctx)
	})

	return g.Wait() //nolint:wrapcheck // Already wrapped.
}
