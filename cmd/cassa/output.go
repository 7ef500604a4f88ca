package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Feedback helpers write to stderr so that piped stdout carries only
// transcript and listing output.

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// Transcript rendering. Each speaker keeps a stable prefix so transcripts
// stay readable with color disabled.

func speakerPrefix(speaker string) string {
	switch speaker {
	case gateway.SpeakerAI:
		return colorize(colorCyan, "assistant> ")
	case gateway.SpeakerSystem:
		return colorize(colorYellow, "system> ")
	default:
		return colorize(colorBold, "you> ")
	}
}

// writeMessage renders one chat message with its source citations.
func writeMessage(w io.Writer, m gateway.Message) {
	fmt.Fprintln(w, speakerPrefix(m.Speaker)+m.Text)
	for _, src := range m.Sources {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorYellow, "source:"), src.Filename)
	}
}

// statusGlyph marks a document's processing state in listings.
func statusGlyph(status string) string {
	switch status {
	case gateway.StatusCompleted:
		return colorize(colorGreen, "✓")
	case gateway.StatusError:
		return colorize(colorRed, "✗")
	default:
		return colorize(colorYellow, "…")
	}
}
