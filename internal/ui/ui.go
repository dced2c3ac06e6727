// Package ui prints glyph-prefixed, colorized status lines and runs
// the CLI's interactive stdin prompts.
package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/puncherr"
)

var (
	green  = color.New(color.FgHiGreen)
	yellow = color.New(color.FgHiYellow)
	blue   = color.New(color.FgHiBlue)
)

func init() {
	green.EnableColor()
	yellow.EnableColor()
	blue.EnableColor()
}

// Success prints "✓ <message>" in green.
func Success(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s %s\n", green.Sprint("✓"), fmt.Sprintf(format, args...))
}

// Warning prints "⚠ <message>" in yellow.
func Warning(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s %s\n", yellow.Sprint("⚠"), fmt.Sprintf(format, args...))
}

// Info prints "ℹ <message>" in blue.
func Info(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s %s\n", blue.Sprint("ℹ"), fmt.Sprintf(format, args...))
}

// Identity renders a NodeIdentity the way every user-visible surface
// shows one: short form, colored.
func Identity(id identity.NodeIdentity) string {
	return color.New(color.FgHiMagenta).Sprint(id.Short())
}

// Confirm reads a y/N answer from stdin.
func Confirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stdout, "%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("%w: %v", puncherr.ErrInteractive, err)
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}

// PromptText reads a single line of free text from stdin, rejecting a
// blank answer.
func PromptText(prompt string) (string, error) {
	fmt.Fprintf(os.Stdout, "%s ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: %v", puncherr.ErrInteractive, err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%w: empty input", puncherr.ErrInteractive)
	}
	return line, nil
}
