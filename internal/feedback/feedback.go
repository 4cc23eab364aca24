// Package feedback prints user-facing CLI output. Structured logs go to
// slog; this is the human channel, colored when stdout is a terminal.
package feedback

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/logrusorgru/aurora/v3"
	"github.com/mattn/go-isatty"
)

// Printer writes status lines for CLI commands.
type Printer struct {
	w  io.Writer
	au aurora.Aurora
}

// New builds a Printer for w. Colors are enabled only when w is os.Stdout
// or os.Stderr attached to a terminal.
func New(w io.Writer) *Printer {
	colors := false
	if f, ok := w.(*os.File); ok {
		colors = isatty.IsTerminal(f.Fd())
	}
	return &Printer{w: w, au: aurora.NewAurora(colors)}
}

// Okf prints a success line.
func (p *Printer) Okf(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.au.Green("ok"), fmt.Sprintf(format, args...))
}

// Warnf prints a warning line.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.au.Yellow("warn"), fmt.Sprintf(format, args...))
}

// Failf prints a failure line.
func (p *Printer) Failf(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.au.Red("fail"), fmt.Sprintf(format, args...))
}

// Infof prints a neutral status line.
func (p *Printer) Infof(format string, args ...any) {
	fmt.Fprintf(p.w, "%s\n", fmt.Sprintf(format, args...))
}

// Snapshot prints one snapshot listing row.
func (p *Printer) Snapshot(name, url string, createdAt time.Time, exchanges int) {
	fmt.Fprintf(p.w, "%-24s %4d exchanges  %s  %s\n",
		p.au.Cyan(name),
		exchanges,
		createdAt.Local().Format("2006-01-02 15:04:05"),
		p.au.Blue(url),
	)
}
