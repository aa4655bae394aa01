package lsp_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"tailrec/internal/lsp"
)

const source = `class demo/A {
    flags public
    method f (I)V {
        maxs 1 1
    Top:
        iload 0
        ifne Top
        return
    }
}
`

const uri = "file:///work/demo/A.jasm"

// recorder collects published diagnostics.
type recorder struct {
	published []*protocol.PublishDiagnosticsParams
}

func (r *recorder) context() *glsp.Context {
	return &glsp.Context{Notify: func(method string, params any) {
		if method == protocol.ServerTextDocumentPublishDiagnostics {
			r.published = append(r.published, params.(*protocol.PublishDiagnosticsParams))
		}
	}}
}

func (r *recorder) last(t *testing.T) []protocol.Diagnostic {
	t.Helper()
	require.NotEmpty(t, r.published)
	return r.published[len(r.published)-1].Diagnostics
}

func open(t *testing.T, h *lsp.AsmHandler, ctx *glsp.Context, text string) {
	t.Helper()
	require.NoError(t, h.TextDocumentDidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "jasm", Text: text},
	}))
}

func change(t *testing.T, h *lsp.AsmHandler, ctx *glsp.Context, text string) {
	t.Helper()
	require.NoError(t, h.TextDocumentDidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri}},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: text}},
	}))
}

func TestDiagnosticsFollowEdits(t *testing.T) {
	h := lsp.NewAsmHandler()
	rec := &recorder{}
	ctx := rec.context()

	open(t, h, ctx, source)
	assert.Empty(t, rec.last(t))
	assert.Equal(t, uri, rec.published[0].URI)

	change(t, h, ctx, `class demo/A {
    method f (I)V {
        maxs 1 1
        iloda 0
        return
    }
}
`)
	diags := rec.last(t)
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, uint32(3), d.Range.Start.Line)
	assert.Equal(t, uint32(8), d.Range.Start.Character)
	assert.Equal(t, protocol.DiagnosticSeverityError, *d.Severity)
	assert.Equal(t, "T0100", d.Code.Value)
	assert.Contains(t, d.Message, "iloda")

	change(t, h, ctx, "class demo/A {\n")
	diags = rec.last(t)
	require.Len(t, diags, 1)
	assert.Equal(t, "T0001", diags[0].Code.Value)

	change(t, h, ctx, `class demo/A {
    method f ()V {
        maxs 0 0
    Unused:
        return
    }
}
`)
	diags = rec.last(t)
	require.Len(t, diags, 1)
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *diags[0].Severity)
	assert.Equal(t, "T0801", diags[0].Code.Value)
}

func TestCompletion(t *testing.T) {
	h := lsp.NewAsmHandler()
	open(t, h, nil, source)

	result, err := h.TextDocumentCompletion(nil, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
		},
	})
	require.NoError(t, err)
	list := result.(*protocol.CompletionList)

	kinds := make(map[string]protocol.CompletionItemKind)
	for _, item := range list.Items {
		kinds[item.Label] = *item.Kind
	}
	assert.Equal(t, protocol.CompletionItemKindKeyword, kinds["maxs"])
	assert.Equal(t, protocol.CompletionItemKindKeyword, kinds["implements"])
	assert.Equal(t, protocol.CompletionItemKindOperator, kinds["invokestatic"])
	assert.Equal(t, protocol.CompletionItemKindReference, kinds["Top"])
	assert.NotContains(t, kinds, "iload_0", "short forms are not accepted")
}

func TestTextDocumentSemanticTokensFull(t *testing.T) {
	h := lsp.NewAsmHandler()
	open(t, h, nil, source)

	tokens, err := h.TextDocumentSemanticTokensFull(nil, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)
	decoded, err := decodeSemanticTokens(tokens.Data)
	require.NoError(t, err)
	require.Len(t, decoded, 16)

	assertToken(t, &decoded[0], 1, 1, 5, "keyword", nil)
	assertToken(t, &decoded[1], 1, 7, 6, "class", []string{"declaration"})
	assertToken(t, &decoded[2], 2, 5, 5, "keyword", nil)
	assertToken(t, &decoded[3], 2, 11, 6, "modifier", nil)
	assertToken(t, &decoded[4], 3, 5, 6, "keyword", nil)
	assertToken(t, &decoded[5], 3, 12, 1, "method", []string{"declaration"})
	assertToken(t, &decoded[6], 3, 14, 4, "type", nil)
	assertToken(t, &decoded[7], 4, 9, 4, "keyword", nil)
	assertToken(t, &decoded[8], 4, 14, 1, "number", nil)
	assertToken(t, &decoded[9], 4, 16, 1, "number", nil)
	assertToken(t, &decoded[10], 5, 5, 3, "variable", []string{"declaration"})
	assertToken(t, &decoded[11], 6, 9, 5, "operator", nil)
	assertToken(t, &decoded[12], 6, 15, 1, "number", nil)
	assertToken(t, &decoded[13], 7, 9, 4, "operator", nil)
	assertToken(t, &decoded[14], 7, 14, 3, "variable", nil)
	assertToken(t, &decoded[15], 8, 9, 6, "operator", nil)
}

func TestSemanticTokensFromDisk(t *testing.T) {
	h := lsp.NewAsmHandler()

	absPath, err := filepath.Abs(filepath.Join("../../examples", "Counter.jasm"))
	require.NoError(t, err, "Failed to get absolute path")

	tokens, err := h.TextDocumentSemanticTokensFull(nil, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file://" + filepath.ToSlash(absPath)},
	})
	require.NoError(t, err)
	decoded, err := decodeSemanticTokens(tokens.Data)
	require.NoError(t, err)
	require.NotEmpty(t, decoded)

	types := make(map[string]int)
	for _, tok := range decoded {
		types[tok.Type]++
	}
	assert.Equal(t, 2, types["method"])
	assert.Positive(t, types["operator"])
	assert.Positive(t, types["class"])

	_, err = h.TextDocumentSemanticTokensFull(nil, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///does/not/exist.jasm"},
	})
	assert.ErrorContains(t, err, "failed to read file")
}

func TestDidClose(t *testing.T) {
	h := lsp.NewAsmHandler()
	open(t, h, nil, source)
	require.NoError(t, h.TextDocumentDidClose(nil, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))

	// The file is gone from the cache and does not exist on disk.
	_, err := h.TextDocumentSemanticTokensFull(nil, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	assert.Error(t, err)
}

type DecodedToken struct {
	Index     int
	Line      uint32
	Char      uint32
	Length    uint32
	Type      string
	Modifiers []string
}

func decodeSemanticTokens(raw []uint32) ([]DecodedToken, error) {
	if len(raw)%5 != 0 {
		return nil, fmt.Errorf("raw token data length %d is not a multiple of 5", len(raw))
	}

	var (
		decoded []DecodedToken
		line    uint32
		char    uint32
	)

	for i := 0; i < len(raw); i += 5 {
		deltaLine := raw[i]
		deltaStart := raw[i+1]
		length := raw[i+2]
		tokenTypeIdx := raw[i+3]
		tokenModMask := raw[i+4]

		if deltaLine == 0 {
			char += deltaStart
		} else {
			line += deltaLine
			char = deltaStart
		}

		var modifiers []string
		for j, name := range lsp.SemanticTokenModifiers {
			if tokenModMask&(1<<j) != 0 {
				modifiers = append(modifiers, name)
			}
		}

		decoded = append(decoded, DecodedToken{
			Index:     i / 5,
			Line:      line + 1, // LSP uses 0-based indexing
			Char:      char + 1, // LSP uses 0-based indexing
			Length:    length,
			Type:      lsp.SemanticTokenTypes[tokenTypeIdx],
			Modifiers: modifiers,
		})
	}

	return decoded, nil
}

func assertToken(t *testing.T, token *DecodedToken, expectedLine, expectedChar, expectedLength uint32, expectedType string, expectedModifiers []string) {
	require.Equal(t, expectedLine, token.Line, "line mismatch (expected line %d)", expectedLine)
	require.Equal(t, expectedChar, token.Char, "char mismatch (expected char %d)", expectedChar)
	require.Equal(t, expectedLength, token.Length, "length mismatch")
	require.Equal(t, expectedType, token.Type, "type mismatch")
	require.ElementsMatch(t, expectedModifiers, token.Modifiers, "modifiers mismatch")
}
