package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/quantmind-br/pahkat/internal/core"
)

// Color scheme for pahkat
var (
	// Primary actions
	Success = color.New(color.FgGreen)
	Error   = color.New(color.FgRed, color.Bold)
	Warning = color.New(color.FgYellow)
	Info    = color.New(color.FgCyan)

	// Secondary actions
	Highlight = color.New(color.FgHiCyan, color.Bold)
	Muted     = color.New(color.Faint)
	Bold      = color.New(color.Bold)

	// Status indicators
	CheckMark = color.GreenString("✓")
	CrossMark = color.RedString("✗")
	Arrow     = color.CyanString("→")
	Bullet    = color.HiBlackString("•")

	ScopeSystemColor = color.New(color.FgMagenta)
	ScopeUserColor   = color.New(color.FgBlue)
	VerbInstall      = color.New(color.FgGreen)
	VerbUninstall    = color.New(color.FgRed)
)

// InitColors applies the configured color mode ("auto", "always" or
// "never"). In auto mode NO_COLOR and TERM=dumb disable colors.
func InitColors(mode string) {
	switch strings.ToLower(mode) {
	case "always":
		color.NoColor = false
		return
	case "never":
		color.NoColor = true
		return
	}

	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
	if os.Getenv("TERM") == "dumb" {
		color.NoColor = true
	}
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	FprintSuccess(os.Stdout, format, args...)
}

// FprintSuccess writes a success message to w
func FprintSuccess(w io.Writer, format string, args ...interface{}) {
	Success.Fprintf(w, "%s %s\n", CheckMark, fmt.Sprintf(format, args...))
}

// PrintError prints an error message
func PrintError(format string, args ...interface{}) {
	FprintError(os.Stderr, format, args...)
}

// FprintError writes an error message to w
func FprintError(w io.Writer, format string, args ...interface{}) {
	Error.Fprintf(w, "%s Error: %s\n", CrossMark, fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...interface{}) {
	FprintWarning(os.Stderr, format, args...)
}

// FprintWarning writes a warning message to w
func FprintWarning(w io.Writer, format string, args ...interface{}) {
	Warning.Fprintf(w, "Warning: %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...interface{}) {
	Info.Fprintf(os.Stdout, "%s %s\n", Arrow, fmt.Sprintf(format, args...))
}

// FprintStep writes a step indicator to w
func FprintStep(w io.Writer, step, total int, format string, args ...interface{}) {
	Highlight.Fprintf(w, "[%d/%d] ", step, total)
	fmt.Fprintf(w, format+"\n", args...)
}

// PrintKeyValue prints a key-value pair with color
func PrintKeyValue(key, value string) {
	Bold.Fprintf(os.Stdout, "%s: ", key)
	fmt.Fprintln(os.Stdout, value)
}

// PrintHeader prints a section header
func PrintHeader(text string) {
	fmt.Fprintln(os.Stdout)
	Bold.Fprintln(os.Stdout, text)
	Muted.Fprintln(os.Stdout, "────────────────────────────────────────")
}

// ColorizeScope returns a colored scope string
func ColorizeScope(scope core.Scope) string {
	switch scope {
	case core.ScopeSystem:
		return ScopeSystemColor.Sprint(string(scope))
	case core.ScopeUser:
		return ScopeUserColor.Sprint(string(scope))
	default:
		return string(scope)
	}
}

// ColorizeVerb returns a colored action verb
func ColorizeVerb(verb core.Verb) string {
	switch verb {
	case core.VerbInstall:
		return VerbInstall.Sprint(string(verb))
	case core.VerbUninstall:
		return VerbUninstall.Sprint(string(verb))
	default:
		return string(verb)
	}
}

// SprintSuccess returns a success string without printing
func SprintSuccess(format string, args ...interface{}) string {
	return fmt.Sprintf("%s %s", CheckMark, fmt.Sprintf(format, args...))
}

// SprintError returns an error string without printing
func SprintError(format string, args ...interface{}) string {
	return fmt.Sprintf("%s Error: %s", CrossMark, fmt.Sprintf(format, args...))
}

// DisableColors disables all color output
func DisableColors() {
	color.NoColor = true
}

// EnableColors enables color output
func EnableColors() {
	color.NoColor = false
}

// AreColorsEnabled returns whether colors are currently enabled
func AreColorsEnabled() bool {
	return !color.NoColor
}
