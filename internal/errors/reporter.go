package errors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/fatih/color"
)

// ErrorLevel represents the severity of an error
type ErrorLevel string

const (
	Error   ErrorLevel = "error"
	Warning ErrorLevel = "warning"
	Note    ErrorLevel = "note"
	Help    ErrorLevel = "help"
)

// Diagnostic represents a structured error with suggestions and context
type Diagnostic struct {
	Level       ErrorLevel
	Code        string         // Error code like T0001
	Message     string         // Primary error message
	Position    lexer.Position // Location in source
	Length      int            // Length of the problematic region
	Suggestions []Suggestion   // Suggested fixes
	Notes       []string       // Additional context notes
	HelpText    string         // Help text for the error
}

// Error renders the diagnostic on one line without color.
func (d Diagnostic) Error() string {
	prefix := string(d.Level)
	if d.Code != "" {
		prefix += "[" + d.Code + "]"
	}
	if d.Position.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %s", d.Position.Filename, d.Position.Line, d.Position.Column, prefix, d.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, d.Message)
}

// Suggestion represents a suggested fix
type Suggestion struct {
	Message     string         // Description of the suggestion
	Replacement string         // Suggested replacement text (optional)
	Position    lexer.Position // Position to apply the fix (optional)
	Length      int            // Length of text to replace (optional)
}

// List collects the diagnostics of one run. It is an error when it holds
// at least one diagnostic that is not a warning.
type List []Diagnostic

// Add appends d.
func (l *List) Add(d Diagnostic) {
	*l = append(*l, d)
}

// HasErrors reports whether any diagnostic is an error.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Level == Error {
			return true
		}
	}
	return false
}

// Err returns the list as an error, or nil when it holds no errors.
func (l List) Err() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}

func (l List) Error() string {
	var lines []string
	for _, d := range l {
		lines = append(lines, d.Error())
	}
	return strings.Join(lines, "\n")
}

// ErrorReporter renders diagnostics against the source they refer to.
type ErrorReporter struct {
	filename string
	lines    []string
}

// NewErrorReporter creates a new error reporter for a file
func NewErrorReporter(filename, source string) *ErrorReporter {
	return &ErrorReporter{
		filename: filename,
		lines:    strings.Split(source, "\n"),
	}
}

var levelColors = map[ErrorLevel]*color.Color{
	Error:   color.New(color.FgRed, color.Bold),
	Warning: color.New(color.FgYellow, color.Bold),
	Note:    color.New(color.FgBlue, color.Bold),
	Help:    color.New(color.FgGreen, color.Bold),
}

func levelColor(level ErrorLevel) *color.Color {
	if c, ok := levelColors[level]; ok {
		return c
	}
	return levelColors[Error]
}

// FormatError renders one diagnostic: a header, the offending line between
// its neighbours with a caret marker, then suggestions, notes and help.
func (er *ErrorReporter) FormatError(d Diagnostic) string {
	var b strings.Builder
	dim := color.New(color.Faint).SprintFunc()
	hint := color.New(color.FgCyan).SprintFunc()

	header := string(d.Level)
	if d.Code != "" {
		header += "[" + d.Code + "]"
	}
	fmt.Fprintf(&b, "%s: %s\n", levelColor(d.Level).Sprint(header), d.Message)

	line := d.Position.Line
	width := max(len(strconv.Itoa(line)), 3)
	gutter := strings.Repeat(" ", width)
	bar := func(text string) {
		fmt.Fprintf(&b, "%s %s %s\n", gutter, dim("│"), text)
	}
	numbered := func(n int, number func(...any) string) {
		fmt.Fprintf(&b, "%s %s %s\n", number(fmt.Sprintf("%*d", width, n)), dim("│"), er.lines[n-1])
	}

	fmt.Fprintf(&b, "%s %s %s:%d:%d\n", gutter, dim("-->"), er.filename, line, d.Position.Column)
	bar("")
	if line > 0 && line <= len(er.lines) {
		if line > 1 {
			numbered(line-1, dim)
		}
		numbered(line, color.New(color.Bold).SprintFunc())
		bar(er.createMarker(d.Position.Column, d.Length, d.Level))
		if line < len(er.lines) {
			numbered(line+1, dim)
		}
	}

	for i, s := range d.Suggestions {
		if i == 0 {
			bar("")
			fmt.Fprintf(&b, "%s %s: %s\n", gutter, hint("help: try"), s.Message)
		} else {
			fmt.Fprintf(&b, "%s       %s\n", gutter, s.Message)
		}
		if s.Replacement != "" {
			for _, r := range strings.Split(s.Replacement, "\n") {
				fmt.Fprintf(&b, "%s %s %s\n", gutter, hint("│"), hint(r))
			}
		}
	}
	for _, note := range d.Notes {
		bar(color.BlueString("note:") + " " + note)
	}
	if d.HelpText != "" {
		bar(color.GreenString("help:") + " " + d.HelpText)
	}

	b.WriteString("\n")
	return b.String()
}

// createMarker underlines length columns starting at column.
func (er *ErrorReporter) createMarker(column, length int, level ErrorLevel) string {
	c := levelColors[Error]
	if level == Warning {
		c = levelColors[Warning]
	}
	return strings.Repeat(" ", max(0, column-1)) + c.Sprint(strings.Repeat("^", max(length, 1)))
}

// FormatAll formats every diagnostic in l.
func (er *ErrorReporter) FormatAll(l List) string {
	var result strings.Builder
	for _, d := range l {
		result.WriteString(er.FormatError(d))
	}
	return result.String()
}
