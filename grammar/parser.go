package grammar

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/fatih/color"

	diag "tailrec/internal/errors"
)

var parser = participle.MustBuild[File](
	participle.Lexer(AsmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(3),
)

// Parse parses assembler source. The filename is used in positions.
func Parse(filename, source string) (*File, error) {
	if !strings.HasSuffix(source, "\n") {
		source += "\n"
	}
	return parser.ParseString(filename, source)
}

// ParseFile parses the file at path. Syntax errors are also printed to
// stderr with the offending line.
func ParseFile(path string) (*File, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	file, err := Parse(path, string(source))
	if err != nil {
		reporter := diag.NewErrorReporter(path, string(source))
		fmt.Fprint(color.Error, reporter.FormatAll(SyntaxDiagnostics(err)))
		return nil, err
	}
	return file, nil
}
