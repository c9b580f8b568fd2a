package cli

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/exp/charmtone"
)

// huhTheme styles interactive forms with the same palette as the printed
// output.
func huhTheme() *huh.Theme {
	var (
		accent = lipgloss.Color(charmtone.Zest.Hex())
		subtle = lipgloss.Color(charmtone.Smoke.Hex())
		muted  = lipgloss.Color(charmtone.Squid.Hex())
		danger = lipgloss.Color(charmtone.Cherry.Hex())
		button = lipgloss.Color(charmtone.Pepper.Hex())
	)

	h := huh.ThemeBase()

	h.Focused.Base = h.Focused.Base.BorderForeground(accent)
	h.Focused.Card = h.Focused.Base
	h.Focused.Title = h.Focused.Title.Foreground(accent).Bold(true)
	h.Focused.NoteTitle = h.Focused.NoteTitle.Foreground(accent).Bold(true).MarginBottom(1)
	h.Focused.Description = h.Focused.Description.Foreground(subtle)
	h.Focused.ErrorIndicator = h.Focused.ErrorIndicator.Foreground(danger)
	h.Focused.ErrorMessage = h.Focused.ErrorMessage.Foreground(danger)
	h.Focused.SelectSelector = h.Focused.SelectSelector.Foreground(accent)
	h.Focused.NextIndicator = h.Focused.NextIndicator.Foreground(accent)
	h.Focused.PrevIndicator = h.Focused.PrevIndicator.Foreground(accent)
	h.Focused.SelectedOption = h.Focused.SelectedOption.Foreground(accent)
	h.Focused.SelectedPrefix = lipgloss.NewStyle().Foreground(accent).SetString("✓ ")
	h.Focused.UnselectedPrefix = lipgloss.NewStyle().Foreground(muted).SetString("• ")
	h.Focused.FocusedButton = h.Focused.FocusedButton.Foreground(button).Background(accent)
	h.Focused.Next = h.Focused.FocusedButton
	h.Focused.BlurredButton = h.Focused.BlurredButton.Foreground(button).Background(muted)

	h.Focused.TextInput.Cursor = h.Focused.TextInput.Cursor.Foreground(accent)
	h.Focused.TextInput.Placeholder = h.Focused.TextInput.Placeholder.Foreground(muted)
	h.Focused.TextInput.Prompt = h.Focused.TextInput.Prompt.Foreground(accent)

	h.Blurred = h.Focused
	h.Blurred.Base = h.Focused.Base.BorderStyle(lipgloss.HiddenBorder())
	h.Blurred.Card = h.Blurred.Base
	h.Blurred.NextIndicator = lipgloss.NewStyle()
	h.Blurred.PrevIndicator = lipgloss.NewStyle()

	h.Group.Title = h.Focused.Title
	h.Group.Description = h.Focused.Description

	return h
}
