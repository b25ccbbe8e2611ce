// Package result accumulates the check output rendered once at exit
package result

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"
)

// Exit codes
const (
	OK       = 0
	Critical = 2
	Crash    = 3
)

// Builder holds summary and detail lines
type Builder struct {
	summary string
	details []string
	code    int
}

// New returns builder
func New() *Builder {
	return &Builder{}
}

// Summary sets the summary line
func (b *Builder) Summary(format string, a ...any) *Builder {
	b.summary = fmt.Sprintf(format, a...)
	return b
}

// Detail adds detail lines
func (b *Builder) Detail(lines ...string) *Builder {
	b.details = append(b.details, lines...)
	return b
}

// Detailf adds formatted detail line
func (b *Builder) Detailf(format string, a ...any) *Builder {
	return b.Detail(fmt.Sprintf(format, a...))
}

// Code sets exit code
func (b *Builder) Code(code int) *Builder {
	b.code = code
	return b
}

// ExitCode returns exit code
func (b *Builder) ExitCode() int {
	return b.code
}

// Crash replaces output with crash report of the failure
func (b *Builder) Crash(failure any, stack []byte) *Builder {
	if stack == nil {
		stack = debug.Stack()
	}
	b.summary = "! Exception during execution. See details"
	b.details = append([]string{fmt.Sprint(failure)},
		strings.Split(strings.TrimRight(string(stack), "\n"), "\n")...)
	b.code = Crash
	return b
}

// String renders output
func (b *Builder) String() string {
	var sb strings.Builder
	sb.WriteString(b.summary)
	sb.WriteString("\n")
	for _, ln := range b.details {
		sb.WriteString(ln)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Render writes output
func (b *Builder) Render(w io.Writer) error {
	_, err := io.WriteString(w, b.String())
	return err
}

// Age formats cache age in whole minutes
func Age(d time.Duration) string {
	return fmt.Sprintf("%d minutes old", int(d.Minutes()))
}
