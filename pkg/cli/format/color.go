package format

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bcpc-build/bcpc-build/pkg/types"
)

var (
	SuccessColor   = color.New(color.FgGreen)
	WarningColor   = color.New(color.FgYellow)
	ErrorColor     = color.New(color.FgRed)
	InfoColor      = color.New(color.FgCyan)
	HighlightColor = color.New(color.FgCyan, color.Bold)
	DimColor       = color.New(color.FgHiBlack)
)

func init() {
	// BCPC_BUILD_NO_COLOR or NO_COLOR disables colors
	if _, ok := os.LookupEnv("BCPC_BUILD_NO_COLOR"); ok {
		color.NoColor = true
	}
	if _, force := os.LookupEnv("BCPC_BUILD_FORCE_COLOR"); force {
		color.NoColor = false
	} else if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

// EnableColor enables or disables colored output globally
func EnableColor(enable bool) {
	color.NoColor = !enable
}

// IsColorEnabled returns whether colored output is enabled
func IsColorEnabled() bool {
	return !color.NoColor
}

// Success formats a message as a success (green)
func Success(format string, a ...any) string {
	return SuccessColor.Sprintf(format, a...)
}

// Warning formats a message as a warning (yellow)
func Warning(format string, a ...any) string {
	return WarningColor.Sprintf(format, a...)
}

// Error formats a message as an error (red)
func Error(format string, a ...any) string {
	return ErrorColor.Sprintf(format, a...)
}

func Info(format string, a ...any) string {
	return InfoColor.Sprintf(format, a...)
}

func Highlight(format string, a ...any) string {
	return HighlightColor.Sprintf(format, a...)
}

// Label formats a key and value with a label style
func Label(key, value string) string {
	return fmt.Sprintf("%s %s", HighlightColor.Sprint(key+":"), value)
}

// StateLabel colors a build state: green when done, yellow while in
// progress, red when failed.
func StateLabel(state types.BuildState) string {
	switch {
	case state == types.StateNone:
		return DimColor.Sprint("-")
	case state == types.StateDone:
		return color.New(color.FgGreen, color.Bold).Sprint(state.String())
	case state.Failed():
		return color.New(color.FgRed, color.Bold).Sprint(state.String())
	default:
		return color.New(color.FgYellow, color.Bold).Sprint(state.String())
	}
}

// StatusSymbol returns a colorized status symbol
func StatusSymbol(success bool) string {
	if success {
		return SuccessColor.Sprint("✓")
	}
	return ErrorColor.Sprint("✗")
}

// Truncate shortens s to max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max || max < 4 {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
