package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-udiff"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/config"
	"github.com/macropower/rulebook/pkg/render"
	"github.com/macropower/rulebook/pkg/rulestore"
)

const watchDebounce = 150 * time.Millisecond

type RenderArgs struct {
	*RootArgs

	Write  bool
	Diff   bool
	Copy   bool
	Pretty bool
	Watch  bool
}

func NewRenderCmd(rootArgs *RootArgs) *cobra.Command {
	ra := &RenderArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "render [PROFILE [ARTIFACT]]",
		Short: "Render the artifacts of a profile",
		Long: `Render the artifacts of a profile to stdout. Without ARTIFACT, every
artifact of the profile is rendered in name order. PROFILE is a name from
"rulebook profile list" or a file path. Without PROFILE, the nearest
.rulebook.yaml (or rulebook.yaml) in the working directory or one of its
parents is used.`,
		Example: `  rulebook render api instructions

  # Show what deploying would change:
  rulebook render api --diff

  # Re-render whenever the profile or the rule library changes:
  rulebook render api instructions --watch`,
		Args:              cobra.RangeArgs(0, 2),
		ValidArgsFunction: completeProfiles(rootArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := profileSource(args)
			if err != nil {
				return err
			}

			var kind string
			if len(args) > 1 {
				kind = args[1]
			}

			return runRender(cmd, ra, source, kind)
		},
	}

	cmd.Flags().BoolVar(&ra.Write, "write", false, "Write the artifacts to their deployment paths")
	cmd.Flags().BoolVar(&ra.Diff, "diff", false, "Show a unified diff against the deployed files")
	cmd.Flags().BoolVar(&ra.Copy, "copy", false, "Copy the rendered text to the clipboard")
	cmd.Flags().BoolVar(&ra.Pretty, "pretty", isTerminal(os.Stdout), "Highlight the markdown output")
	cmd.Flags().BoolVarP(&ra.Watch, "watch", "w", false, "Re-render when the profile or rule library changes")

	cmd.MarkFlagsMutuallyExclusive("write", "diff")

	return cmd
}

func runRender(cmd *cobra.Command, ra *RenderArgs, source, kind string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, ra.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	err = ra.renderOnce(cmd, a, source, kind)
	if !ra.Watch {
		return err
	}
	if err != nil {
		slog.ErrorContext(ctx, "render failed", slog.Any("err", err))
	}

	return ra.watch(cmd, a, source, kind)
}

func (ra *RenderArgs) renderOnce(cmd *cobra.Command, a *app, source, kind string) error {
	ctx := cmd.Context()

	p, err := a.profiles.Load(ctx, source, config.LoadOptions{ValidateRules: true})
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	kinds := p.ArtifactNames()
	if kind != "" {
		_, err = p.Artifact(kind)
		if err != nil {
			return err //nolint:wrapcheck // Already a NotFoundError.
		}

		kinds = []string{kind}
	}

	out := cmd.OutOrStdout()

	var copied string

	for _, k := range kinds {
		text, err := a.renderer.RenderArtifact(ctx, p, k)
		if err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}

		copied += text

		switch {
		case ra.Diff:
			err = writeDiff(out, p, k, text)
		case ra.Write:
			err = writeArtifact(cmd.ErrOrStderr(), p, k, text)
		default:
			if len(kinds) > 1 {
				mustN(fmt.Fprintf(cmd.ErrOrStderr(), "==> %s/%s <==\n", p.ID, k))
			}

			err = writeHighlighted(out, text, "markdown", ra.Pretty)
		}
		if err != nil {
			return err
		}
	}

	if ra.Copy {
		err = clipboard.WriteAll(copied)
		if err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}

		mustN(fmt.Fprintln(cmd.ErrOrStderr(), "Copied to clipboard."))
	}

	return nil
}

// writeDiff writes a unified diff from the deployed file to text. A file
// that does not exist yet diffs against empty text.
func writeDiff(w io.Writer, p *profiles.Profile, kind, text string) error {
	path, err := render.OutputPath(p, kind)
	if err != nil {
		return err //nolint:wrapcheck // Already typed.
	}

	current, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read deployed artifact: %w", err)
	}

	diff := udiff.Unified(path, path+" (rendered)", string(current), text)
	if diff == "" {
		return nil
	}

	return writeHighlighted(w, diff, "diff", isTerminalWriter(w))
}

func writeArtifact(w io.Writer, p *profiles.Profile, kind, text string) error {
	path, err := render.OutputPath(p, kind)
	if err != nil {
		return err //nolint:wrapcheck // Already typed.
	}

	err = api.WriteFileAtomic(path, []byte(text))
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	mustN(fmt.Fprintf(w, "Wrote %s\n", path))

	return nil
}

// watch re-renders whenever the profile file or the rule library changes,
// until the command context is canceled.
func (ra *RenderArgs) watch(cmd *cobra.Command, a *app, source, kind string) error {
	ctx := cmd.Context()

	path, err := profilePath(a.profiles, source)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by renaming, so watch the directory.
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("add path to watcher: %w", err)
	}

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	go func() {
		err := a.store.Watch(ctx, func(rulestore.Metadata) { notify() })
		if err != nil {
			slog.ErrorContext(ctx, "watch rule store", slog.Any("err", err))
		}
	}()

	slog.InfoContext(ctx, "watching for changes", slog.String("profile", path), slog.String("rules", a.store.Location()))

	var timer <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(evt.Name) == path && (evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create)) {
				notify()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			slog.ErrorContext(ctx, "watch profile", slog.Any("err", err))

		case <-changed:
			timer = time.After(watchDebounce)

		case <-timer:
			timer = nil

			err := ra.renderOnce(cmd, a, source, kind)
			if err != nil {
				slog.ErrorContext(ctx, "render failed", slog.Any("err", err))
			}
		}
	}
}

// profilePath returns the absolute path of the profile named by source.
func profilePath(m *config.Manager, source string) (string, error) {
	info, err := os.Stat(source)
	if err == nil && !info.IsDir() {
		return absPath(source)
	}

	entries, err := m.List()
	if err != nil {
		return "", err //nolint:wrapcheck // Already typed.
	}

	for _, e := range entries {
		if e.Name == source {
			return absPath(e.Path)
		}
	}

	return "", fmt.Errorf("profile %q: %w", source, fs.ErrNotExist)
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	return filepath.Clean(abs), nil
}
