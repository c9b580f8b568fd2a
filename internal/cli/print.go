package cli

import (
	"fmt"
	"image/color"
	"io"
	"maps"
	"slices"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/exp/charmtone"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"

	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(charmtone.Zest)
	idStyle     = lipgloss.NewStyle().Foreground(charmtone.Squid)
	labelStyle  = lipgloss.NewStyle().Foreground(charmtone.Smoke)
	titleStyle  = lipgloss.NewStyle().Bold(true)

	urgencyColors = map[rule.Urgency]color.Color{
		rule.UrgencyInfo:     charmtone.Squid,
		rule.UrgencyLow:      charmtone.Malibu,
		rule.UrgencyMedium:   charmtone.Mustard,
		rule.UrgencyHigh:     charmtone.Tang,
		rule.UrgencyCritical: charmtone.Cherry,
	}
)

func urgencyStyle(u rule.Urgency) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(urgencyColors[u])
}

// printRules writes one line per rule. Colors are dropped when w is not a
// terminal.
func printRules(w io.Writer, rules []*rule.Rule) {
	if len(rules) == 0 {
		mustN(fmt.Fprintln(w, "No rules."))
		return
	}

	idWidth, catWidth := len("ID"), len("CATEGORY")
	for _, r := range rules {
		idWidth = max(idWidth, lipgloss.Width(r.ID))
		catWidth = max(catWidth, lipgloss.Width(r.Category.String()))
	}

	const urgWidth = len("CRITICAL")

	// Titles are only cut to fit an interactive terminal.
	titleWidth := 0
	if isTerminalWriter(w) {
		titleWidth = terminalWidth(w) - idWidth - urgWidth - catWidth - 6
	}

	mustN(lipgloss.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-*s  %-*s  %-*s  %s",
		idWidth, "ID", urgWidth, "URGENCY", catWidth, "CATEGORY", "TITLE"))))

	for _, r := range rules {
		mustN(lipgloss.Fprintln(w, strings.Join([]string{
			idStyle.Width(idWidth).Render(r.ID),
			urgencyStyle(r.Urgency).Width(urgWidth).Render(r.Urgency.String()),
			lipgloss.NewStyle().Width(catWidth).Render(r.Category.String()),
			truncate(r.Title, titleWidth),
		}, "  ")))
	}
}

// truncate cuts s to width cells, or returns it unchanged when width is
// too small to be useful.
func truncate(s string, width int) string {
	if width < 10 {
		return s
	}

	return ansi.Truncate(s, width, "…")
}

// printRule writes the details of r, wrapping the content to width.
func printRule(w io.Writer, r *rule.Rule, width int) {
	field := func(label, value string) {
		if value == "" {
			return
		}

		mustN(lipgloss.Fprintln(w, labelStyle.Render(fmt.Sprintf("%-10s", label+":"))+value))
	}

	mustN(lipgloss.Fprintln(w, titleStyle.Render(strings.TrimSpace(r.Category.Emoji()+" "+r.Title))))
	mustN(fmt.Fprintln(w))
	field("id", idStyle.Render(r.ID))
	field("category", r.Category.Title())
	field("urgency", urgencyStyle(r.Urgency).Render(r.Urgency.String()))
	field("tags", strings.Join(r.Tags, ", "))
	field("projects", strings.Join(r.ProjectTypes, ", "))
	field("sources", strings.Join(r.Sources, ", "))
	field("created", humanize.Time(r.Created))
	field("modified", humanize.Time(r.LastModified))
	mustN(fmt.Fprintln(w))
	mustN(fmt.Fprintln(w, wordwrap.String(strings.TrimSpace(r.Content), width)))
}

// printStatistics writes the per-category, per-urgency and per-source
// counts. Empty categories are skipped.
func printStatistics(w io.Writer, st rulestore.Statistics) {
	mustN(lipgloss.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d rules", st.Total))))

	mustN(fmt.Fprintln(w))
	mustN(lipgloss.Fprintln(w, titleStyle.Render("By urgency")))

	for _, u := range slices.Backward(rule.Urgencies) {
		mustN(lipgloss.Fprintln(w, fmt.Sprintf("  %s %5d",
			urgencyStyle(u).Width(len("CRITICAL")).Render(u.String()), st.ByUrgency[u])))
	}

	mustN(fmt.Fprintln(w))
	mustN(lipgloss.Fprintln(w, titleStyle.Render("By category")))

	for _, c := range rule.Categories {
		n := st.ByCategory[c]
		if n == 0 {
			continue
		}

		mustN(fmt.Fprintf(w, "  %-18s %5d\n", c.Title(), n))
	}

	if len(st.BySource) == 0 {
		return
	}

	mustN(fmt.Fprintln(w))
	mustN(lipgloss.Fprintln(w, titleStyle.Render("By source")))

	for _, src := range slices.Sorted(maps.Keys(st.BySource)) {
		mustN(fmt.Fprintf(w, "  %-18s %5d\n", src, st.BySource[src]))
	}
}

func printBackups(w io.Writer, backups []rulestore.BackupInfo) {
	if len(backups) == 0 {
		mustN(fmt.Fprintln(w, "No backups."))
		return
	}

	for _, b := range backups {
		mustN(lipgloss.Fprintln(w, fmt.Sprintf("%s  %8s  %s",
			idStyle.Render(b.Time.Format("2006-01-02 15:04:05")),
			humanize.Bytes(uint64(max(b.Size, 0))),
			b.Path,
		)))
	}
}
