package errors

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// DiagnosticBuilder provides a fluent interface for creating diagnostics with suggestions
type DiagnosticBuilder struct {
	err Diagnostic
}

// NewError creates a new error builder
func NewError(code, message string, pos lexer.Position) *DiagnosticBuilder {
	return &DiagnosticBuilder{
		err: Diagnostic{
			Level:    Error,
			Code:     code,
			Message:  message,
			Position: pos,
			Length:   1,
		},
	}
}

// NewWarning creates a new warning builder
func NewWarning(code, message string, pos lexer.Position) *DiagnosticBuilder {
	return &DiagnosticBuilder{
		err: Diagnostic{
			Level:    Warning,
			Code:     code,
			Message:  message,
			Position: pos,
			Length:   1,
		},
	}
}

// WithLength sets the length of the error span
func (b *DiagnosticBuilder) WithLength(length int) *DiagnosticBuilder {
	b.err.Length = length
	return b
}

// WithSuggestion adds a suggestion to the error
func (b *DiagnosticBuilder) WithSuggestion(message string) *DiagnosticBuilder {
	b.err.Suggestions = append(b.err.Suggestions, Suggestion{Message: message})
	return b
}

// WithNote adds a note to the error
func (b *DiagnosticBuilder) WithNote(note string) *DiagnosticBuilder {
	b.err.Notes = append(b.err.Notes, note)
	return b
}

// WithHelp adds help text to the error
func (b *DiagnosticBuilder) WithHelp(help string) *DiagnosticBuilder {
	b.err.HelpText = help
	return b
}

// Build returns the completed diagnostic
func (b *DiagnosticBuilder) Build() Diagnostic {
	return b.err
}

// Common assembler diagnostics with suggestions

// SyntaxError creates an error for input the grammar rejects
func SyntaxError(message string, pos lexer.Position) Diagnostic {
	return NewError(ErrorSyntax, message, pos).
		WithHelp("each line holds one directive, label or instruction").
		Build()
}

// UnknownInstruction creates an error for an unknown mnemonic with suggestions
func UnknownInstruction(name string, pos lexer.Position, known []string) Diagnostic {
	builder := NewError(ErrorUnknownInstruction, fmt.Sprintf("unknown instruction '%s'", name), pos).
		WithLength(len(name))
	return withSimilar(builder, name, known).
		WithNote("short forms such as iload_0 are written as iload 0").
		Build()
}

// UnknownDirective creates an error for a directive that is not valid in its context
func UnknownDirective(name, context string, pos lexer.Position, known []string) Diagnostic {
	builder := NewError(ErrorUnknownDirective, fmt.Sprintf("unknown %s directive '%s'", context, name), pos).
		WithLength(len(name))
	return withSimilar(builder, name, known).
		WithHelp(fmt.Sprintf("%s directives are: %s", context, strings.Join(known, ", "))).
		Build()
}

// InvalidFlag creates an error for an access flag that does not apply
func InvalidFlag(flag, context string, pos lexer.Position, known []string) Diagnostic {
	builder := NewError(ErrorInvalidFlag, fmt.Sprintf("'%s' is not a %s flag", flag, context), pos).
		WithLength(len(flag))
	return withSimilar(builder, flag, known).Build()
}

// MissingMaxs creates an error for a method body without maxs
func MissingMaxs(method string, pos lexer.Position) Diagnostic {
	return NewError(ErrorMissingMaxs, fmt.Sprintf("method '%s' has code but no maxs directive", method), pos).
		WithSuggestion("add 'maxs <stack> <locals>' to the method body").
		Build()
}

// DuplicateDeclaration creates an error for a name defined twice
func DuplicateDeclaration(kind, name string, pos lexer.Position) Diagnostic {
	return NewError(ErrorDuplicateDeclaration, fmt.Sprintf("duplicate %s '%s'", kind, name), pos).
		WithLength(len(name)).
		WithSuggestion(fmt.Sprintf("rename the duplicate '%s' to a unique name", name)).
		Build()
}

// OperandCount creates an error for an instruction with the wrong number of operands
func OperandCount(op, form string, actual int, pos lexer.Position) Diagnostic {
	return NewError(ErrorOperandCount, fmt.Sprintf("'%s' takes %s, got %d operand(s)", op, form, actual), pos).
		WithLength(len(op)).
		Build()
}

// InvalidOperand creates an error for an operand of the wrong form
func InvalidOperand(op, operand, want string, pos lexer.Position) Diagnostic {
	return NewError(ErrorInvalidOperand, fmt.Sprintf("'%s' is not a valid %s for '%s'", operand, want, op), pos).
		WithLength(len(operand)).
		Build()
}

// UndefinedLabel creates an error for a reference to a missing label with suggestions
func UndefinedLabel(name string, pos lexer.Position, labels []string) Diagnostic {
	builder := NewError(ErrorUndefinedLabel, fmt.Sprintf("undefined label '%s'", name), pos).
		WithLength(len(name))
	return withSimilar(builder, name, labels).
		WithNote("labels are defined with 'NAME:' on their own line").
		Build()
}

// Unsupported creates an error for something the assembler cannot produce
func Unsupported(what string, pos lexer.Position) Diagnostic {
	return NewError(ErrorUnsupported, fmt.Sprintf("%s cannot be assembled", what), pos).
		Build()
}

// EncodingFailed creates an error for a method whose body cannot be encoded
func EncodingFailed(method string, cause error, pos lexer.Position) Diagnostic {
	return NewError(ErrorEncoding, fmt.Sprintf("cannot encode method '%s': %s", method, cause), pos).
		Build()
}

// UnusedLabel creates a warning for a label nothing refers to
func UnusedLabel(name string, pos lexer.Position) Diagnostic {
	return NewWarning(WarningUnusedLabel, fmt.Sprintf("label '%s' is never referenced", name), pos).
		WithLength(len(name)).
		Build()
}

// Helper functions

func withSimilar(builder *DiagnosticBuilder, name string, candidates []string) *DiagnosticBuilder {
	similar := findSimilarNames(name, candidates)
	switch len(similar) {
	case 0:
		return builder
	case 1:
		return builder.WithSuggestion(fmt.Sprintf("did you mean '%s'?", similar[0]))
	default:
		return builder.WithSuggestion(fmt.Sprintf("did you mean one of: '%s'?", strings.Join(similar, "', '")))
	}
}

func findSimilarNames(target string, candidates []string) []string {
	var similar []string

	for _, candidate := range candidates {
		if levenshteinDistance(target, candidate) <= 2 && len(candidate) > 2 {
			similar = append(similar, candidate)
		}
	}

	return similar
}

// Simple Levenshtein distance implementation for finding similar names
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Create matrix
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	// Initialize first row and column
	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	// Fill the matrix
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}
