package main

import (
	"fmt"
	"os"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + ansiReset
}

// printMark writes one status line to stderr with a colored leading mark.
func printMark(color, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printMark(ansiGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printMark(ansiRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printMark(ansiYellow, "!", format, args...) }
func printStep(format string, args ...any)    { printMark(ansiCyan, "»", format, args...) }

// printStatus renders a "label: value" line with the label in bold.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
