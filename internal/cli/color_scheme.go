package cli

import (
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/exp/charmtone"
)

// ColorSchemeFunc is fang's default color scheme with the rulebook accents.
func ColorSchemeFunc(c lipgloss.LightDarkFunc) fang.ColorScheme {
	cs := fang.DefaultColorScheme(c)

	cs.Title = charmtone.Zest
	cs.Program = c(charmtone.Pony, charmtone.Dolly)
	cs.Command = c(charmtone.Malibu, charmtone.Sardine)
	cs.Flag = c(charmtone.Guac, charmtone.Julep)

	return cs
}
