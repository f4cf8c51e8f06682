package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// ASCIILogo is printed at startup
const ASCIILogo = `
   ┌─┐┌┬┐┬─┐┌─┐┌─┐┌┬┐┌─┐┌─┐┬─┐┌─┐┌─┐┌─┐┬─┐
   └─┐ │ ├┬┘├┤ ├─┤│││└─┐│  ├┬┘├─┤├─┘├┤ ├┬┘
   └─┘ ┴ ┴└─└─┘┴ ┴┴ ┴└─┘└─┘┴└─┴ ┴┴  └─┘┴└─
        real-time stream collector
`

// Output receives everything printed by this package
var Output io.Writer = os.Stdout

var (
	quiet        atomic.Bool
	colorEnabled atomic.Bool
)

func init() {
	colorEnabled.Store(os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd())))
}

// SetQuietMode suppresses informational output; warnings and errors still print
func SetQuietMode(q bool) { quiet.Store(q) }

// Quiet reports whether quiet mode is on
func Quiet() bool { return quiet.Load() }

// SetColor turns ANSI colors on or off
func SetColor(enabled bool) { colorEnabled.Store(enabled) }

// IsInteractive reports whether stdin and stdout are both terminals
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		if !colorEnabled.Load() {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	if quiet.Load() {
		return
	}
	fmt.Fprint(Output, Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg += ": " + fmt.Sprint(args[0])
	}
	fmt.Fprintln(Output, Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintln(Output, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintf(Output, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg += ": " + fmt.Sprint(args[0])
	}
	fmt.Fprintln(Output, Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintln(Output, Magenta(msg))
}
