// Package output renders CLI results: grouped search responses, daemon
// state and status lines. Styling is applied only when writing to a
// terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/index"
	"github.com/Aman-CERP/xrefsearch/internal/search"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer, styled when out is a terminal.
func New(out io.Writer) *Writer {
	if IsTTY(out) && !DetectNoColor() {
		return NewStyled(out, DefaultStyles())
	}
	return NewStyled(out, NoColorStyles())
}

// NewStyled creates a Writer with explicit styles.
func NewStyled(out io.Writer, styles Styles) *Writer {
	return &Writer{out: out, styles: styles}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints a block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Response prints a grouped search response:
//
//	normal
//	  Definitions
//	    path.cpp
//	      42: void Foo::Bar() {
func (w *Writer) Response(resp *search.Response) {
	if resp.Trivial {
		w.Warning("query too short")
		return
	}
	if resp.Title != "" {
		_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(resp.Title))
	}

	for _, pk := range resp.Groups {
		_, _ = fmt.Fprintln(w.out, w.styles.PathKind.Render(pk.PathKind))
		for _, k := range pk.Kinds {
			_, _ = fmt.Fprintf(w.out, "  %s %s\n",
				w.styles.Kind.Render(k.Kind),
				w.styles.Label.Render("("+strconv.Itoa(len(k.Paths))+")"))
			for _, p := range k.Paths {
				w.pathHit(p)
			}
		}
	}

	if resp.Empty() {
		_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render("no results"))
	}
	if resp.TimedOut {
		w.Warning("full-text search timed out; results are incomplete")
	}
	for _, limit := range resp.Limits {
		w.Warningf("hit %s", limit)
	}
}

func (w *Writer) pathHit(p index.PathHit) {
	_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Path.Render(p.Path))
	for _, l := range p.Lines {
		for i := len(l.ContextBefore) - 1; i >= 0; i-- {
			_, _ = fmt.Fprintf(w.out, "      %s\n", w.styles.Dim.Render(l.ContextBefore[i]))
		}
		_, _ = fmt.Fprintf(w.out, "      %s %s\n",
			w.styles.Lno.Render(strconv.Itoa(l.Lno)+":"),
			w.highlight(l))
		for _, after := range l.ContextAfter {
			_, _ = fmt.Fprintf(w.out, "      %s\n", w.styles.Dim.Render(after))
		}
	}
}

// highlight renders the bounded span of a line with the match style.
func (w *Writer) highlight(l index.LineHit) string {
	if l.Bounds == nil {
		return l.Line
	}
	start, end := l.Bounds[0], l.Bounds[1]
	if start < 0 || end > len(l.Line) || start >= end {
		return l.Line
	}
	return l.Line[:start] + w.styles.Match.Render(l.Line[start:end]) + l.Line[end:]
}

// Definition prints a symbol's definition location.
func (w *Writer) Definition(tree, path string, lno int) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n",
		w.styles.Path.Render(path+":"+strconv.Itoa(lno)),
		w.styles.Dim.Render("/"+tree+"/source/"+path+"#"+strconv.Itoa(lno)))
}

// Handles prints a table of daemon states.
func (w *Writer) Handles(handles []daemon.Handle) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(
		fmt.Sprintf("%-20s %-22s %-8s %-10s %s", "TREE", "ADDR", "PID", "STATE", "GEN")))
	for _, h := range handles {
		pid := "-"
		if h.PID > 0 {
			pid = strconv.Itoa(h.PID)
		}
		state := fmt.Sprintf("%-10s", h.State)
		switch h.State {
		case daemon.StateReady.String(), daemon.StateServing.String():
			state = w.styles.Success.Render(state)
		case daemon.StateFailed.String():
			state = w.styles.Error.Render(state)
		default:
			state = w.styles.Warning.Render(state)
		}
		_, _ = fmt.Fprintf(w.out, "%-20s %-22s %-8s %s %d\n", h.Tree, h.Addr, pid, state, h.Generation)
	}
}
