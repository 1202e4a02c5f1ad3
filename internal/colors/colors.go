// Package colors wraps fatih/color with the handful of styles the CLI uses.
//
// Colors are off automatically when stdout is not a terminal; Init can force
// them either way.
package colors

import "github.com/fatih/color"

// Init overrides the auto-detected setting unless forceColor is nil.
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled reports whether colors are on.
func Enabled() bool {
	return !color.NoColor
}

func Bold() *color.Color        { return color.New(color.Bold) }
func Faint() *color.Color       { return color.New(color.Faint) }
func Green() *color.Color       { return color.New(color.FgGreen) }
func Red() *color.Color         { return color.New(color.FgRed) }
func Yellow() *color.Color      { return color.New(color.FgYellow) }
func HiCyan() *color.Color      { return color.New(color.FgHiCyan) }
func HiMagenta() *color.Color   { return color.New(color.FgHiMagenta) }
func BoldHiBlue() *color.Color  { return color.New(color.Bold, color.FgHiBlue) }
func BoldHiGreen() *color.Color { return color.New(color.Bold, color.FgHiGreen) }
func FaintHiBlue() *color.Color { return color.New(color.Faint, color.FgHiBlue) }

// Address formats addresses in the address color.
func Address(format string, a ...any) string {
	return color.New(color.FgHiMagenta).Sprintf(format, a...)
}

// Symbol formats names in the symbol color.
func Symbol(format string, a ...any) string {
	return color.New(color.Bold, color.FgHiBlue).Sprintf(format, a...)
}
