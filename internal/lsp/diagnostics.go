package lsp

import (
	"errors"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"tailrec/grammar"
	diag "tailrec/internal/errors"
)

// assemblyDiagnostics assembles a parsed file and returns every error and
// warning found.
func assemblyDiagnostics(file *grammar.File) diag.List {
	_, err := grammar.Assemble(file)
	var l diag.List
	if errors.As(err, &l) {
		// The error list holds the warnings as well.
		return l
	}
	return grammar.Warnings(file)
}

// ConvertDiagnostics transforms assembler diagnostics into LSP diagnostics
// for IDE display.
func ConvertDiagnostics(l diag.List) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}

	for _, d := range l {
		line := uint32(max(d.Position.Line-1, 0)) // Convert to 0-based indexing
		start := uint32(max(d.Position.Column-1, 0))
		message := d.Message
		if d.HelpText != "" {
			message += "\n" + d.HelpText
		}
		for _, s := range d.Suggestions {
			message += "\n" + s.Message
		}

		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: line, Character: start},
				End:   protocol.Position{Line: line, Character: start + uint32(max(d.Length, 1))},
			},
			Severity: ptrSeverity(severity(d.Level)),
			Code:     &protocol.IntegerOrString{Value: d.Code},
			Source:   ptrString("tailrec-asm"),
			Message:  message,
		})
	}

	return diagnostics
}

func severity(level diag.ErrorLevel) protocol.DiagnosticSeverity {
	switch level {
	case diag.Warning:
		return protocol.DiagnosticSeverityWarning
	case diag.Note:
		return protocol.DiagnosticSeverityInformation
	case diag.Help:
		return protocol.DiagnosticSeverityHint
	default:
		return protocol.DiagnosticSeverityError
	}
}

func ptrSeverity(s protocol.DiagnosticSeverity) *protocol.DiagnosticSeverity {
	return &s
}
