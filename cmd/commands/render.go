package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const defaultWrap = 100

// isTTY reports whether f is an interactive terminal.
func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// printMarkdown renders content with glamour on a terminal and prints it raw
// otherwise.
func printMarkdown(w io.Writer, content string, raw bool) {
	if raw || !isTTY(os.Stdout) {
		fmt.Fprintln(w, content)
		return
	}

	width := defaultWrap
	if cols, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && cols > 20 && cols < width {
		width = cols - 2
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		fmt.Fprintln(w, content)
		return
	}
	out, err := r.Render(content)
	if err != nil {
		fmt.Fprintln(w, content)
		return
	}
	fmt.Fprint(w, out)
}
