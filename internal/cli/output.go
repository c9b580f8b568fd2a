package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/alecthomas/chroma/v2/quick"
	xstrings "github.com/charmbracelet/x/exp/strings"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/macropower/rulebook/pkg/yaml"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"

	defaultWidth = 80

	chromaFormatter = "terminal256"
	chromaStyle     = "monokai"
)

var outputFormats = []string{formatText, formatJSON, formatYAML}

func addOutputFlag(cmd *cobra.Command, p *string) {
	cmd.Flags().StringVarP(p, "output", "o", formatText,
		"Output format, one of "+xstrings.EnglishJoin(outputFormats, true))

	err := cmd.RegisterFlagCompletionFunc("output",
		cobra.FixedCompletions(outputFormats, cobra.ShellCompDirectiveNoFileComp),
	)
	if err != nil {
		panic(err)
	}
}

func checkOutputFormat(format string) error {
	if !slices.Contains(outputFormats, format) {
		return fmt.Errorf("invalid argument %q for --output, must be one of %s",
			format, xstrings.EnglishJoin(outputFormats, true))
	}

	return nil
}

// writeStructured writes v as JSON or YAML. YAML is highlighted when w is a
// terminal.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(v)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}

		return nil

	case formatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}

		return writeHighlighted(w, string(b), "yaml", isTerminalWriter(w))

	default:
		return checkOutputFormat(format)
	}
}

// writeHighlighted writes text, highlighted with the named chroma lexer
// when pretty is set.
func writeHighlighted(w io.Writer, text, lexer string, pretty bool) error {
	if pretty {
		err := quick.Highlight(w, text, lexer, chromaFormatter, chromaStyle)
		if err == nil {
			return nil
		}
	}

	_, err := io.WriteString(w, text)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // Fd fits in int.
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && isTerminal(f)
}

// terminalWidth returns the width of w when it is a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}

	width, _, err := term.GetSize(int(f.Fd())) //nolint:gosec // Fd fits in int.
	if err != nil || width <= 0 {
		return defaultWidth
	}

	return width
}
