//nolint:revive // Package name intentionally shadows stdlib errors for convenience.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Formatter formats errors for CLI output.
type Formatter struct {
	NoColor bool
	Writer  io.Writer

	errorColor *color.Color
	codeColor  *color.Color
	hintColor  *color.Color
	dimColor   *color.Color
}

// NewFormatter creates a new Formatter.
func NewFormatter(w io.Writer, noColor bool) *Formatter {
	if noColor {
		color.NoColor = true
	}

	return &Formatter{
		NoColor:    noColor,
		Writer:     w,
		errorColor: color.New(color.FgRed, color.Bold),
		codeColor:  color.New(color.FgRed),
		hintColor:  color.New(color.FgGreen),
		dimColor:   color.New(color.FgHiBlack),
	}
}

// Format formats an error for CLI display.
func (f *Formatter) Format(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder

	var netErr *NetworkError
	var stateErr *StateError
	var baseErr *Error

	switch {
	case errors.As(err, &netErr):
		f.formatHeader(&sb, netErr.Base.Code, netErr.Base.Error())
		if netErr.URL != "" {
			sb.WriteString(f.dimColor.Sprintf("  url: %s\n", netErr.URL))
		}
		f.formatHint(&sb, netErr.Base.Hint)
	case errors.As(err, &stateErr):
		f.formatHeader(&sb, stateErr.Base.Code, stateErr.Base.Error())
		if stateErr.LockFile != "" {
			sb.WriteString(f.dimColor.Sprintf("  lock: %s (pid %d)\n", stateErr.LockFile, stateErr.LockPID))
		}
		f.formatHint(&sb, stateErr.Base.Hint)
	case errors.As(err, &baseErr):
		f.formatHeader(&sb, baseErr.Code, baseErr.Error())
		for k, v := range baseErr.Details {
			sb.WriteString(f.dimColor.Sprintf("  %s: %v\n", k, v))
		}
		f.formatHint(&sb, baseErr.Hint)
	default:
		sb.WriteString(f.errorColor.Sprint("Error: "))
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatHeader writes the error header with code.
// Format: "Error [E301]: message" or "Error: message" if no code.
func (f *Formatter) formatHeader(sb *strings.Builder, code Code, message string) {
	sb.WriteString(f.errorColor.Sprint("Error"))
	if code != "" {
		sb.WriteString(" ")
		sb.WriteString(f.codeColor.Sprintf("[%s]", code))
	}
	sb.WriteString(f.errorColor.Sprint(": "))
	sb.WriteString(message)
	sb.WriteString("\n")
}

func (f *Formatter) formatHint(sb *strings.Builder, hint string) {
	if hint == "" {
		return
	}
	for _, line := range strings.Split(hint, "\n") {
		sb.WriteString(f.hintColor.Sprint("  hint: "))
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}

// FormatJSON formats an error as JSON.
func (f *Formatter) FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return nil, nil
	}

	var netErr *NetworkError
	var stateErr *StateError
	var baseErr *Error

	switch {
	case errors.As(err, &netErr):
		return json.Marshal(netErr)
	case errors.As(err, &stateErr):
		return json.Marshal(stateErr)
	case errors.As(err, &baseErr):
		return json.Marshal(baseErr)
	default:
		return json.Marshal(map[string]string{"message": err.Error()})
	}
}

// Print writes the formatted error to the configured writer.
func (f *Formatter) Print(err error) {
	fmt.Fprint(f.Writer, f.Format(err))
}
