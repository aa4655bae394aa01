package lsp

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"tailrec/grammar"
)

// Define the set of supported semantic token types (as required by the LSP spec)
var SemanticTokenTypes = []string{
	"keyword",
	"operator",
	"class",
	"method",
	"property",
	"type",
	"variable",
	"modifier",
	"number",
	"string",
}

// Define the set of supported semantic token modifiers
var SemanticTokenModifiers = []string{
	"declaration",
}

func logger() commonlog.Logger {
	return commonlog.GetLogger("tailrec.lsp")
}

// document is the last known state of an open file.
type document struct {
	text string
	file *grammar.File // nil while the text does not parse
}

// AsmHandler implements the LSP server handlers for assembler sources
type AsmHandler struct {
	mu   sync.RWMutex
	docs map[string]*document
}

// NewAsmHandler creates and returns a new AsmHandler instance
func NewAsmHandler() *AsmHandler {
	return &AsmHandler{docs: make(map[string]*document)}
}

// Initialize responds to the LSP client's initialize request and advertises the server's capabilities
func (h *AsmHandler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	logger().Info("initialize")

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: ptrBool(true),
				Change:    ptrSyncKind(protocol.TextDocumentSyncKindFull),
			},
			CompletionProvider: &protocol.CompletionOptions{
				ResolveProvider: ptrBool(false),
			},
			SemanticTokensProvider: &protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     SemanticTokenTypes,
					TokenModifiers: SemanticTokenModifiers,
				},
				Full: ptrBool(true),
			},
		},
	}, nil
}

// Initialized is called after the client receives the server's capabilities
func (h *AsmHandler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	logger().Info("initialized")
	return nil
}

// Shutdown handles the LSP shutdown request
func (h *AsmHandler) Shutdown(ctx *glsp.Context) error {
	logger().Info("shutdown")
	return nil
}

func (h *AsmHandler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// TextDocumentDidOpen handles file open notifications from the editor
func (h *AsmHandler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	logger().Debugf("opened %s", params.TextDocument.URI)
	return h.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
}

// TextDocumentDidChange handles file change notifications from the editor.
// Only full-document sync is advertised, so the last change holds the text.
func (h *AsmHandler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	logger().Debugf("changed %s", params.TextDocument.URI)
	if len(params.ContentChanges) == 0 {
		return nil
	}
	switch change := params.ContentChanges[len(params.ContentChanges)-1].(type) {
	case protocol.TextDocumentContentChangeEventWhole:
		return h.update(ctx, params.TextDocument.URI, change.Text)
	case protocol.TextDocumentContentChangeEvent:
		return fmt.Errorf("incremental change to %s not supported", params.TextDocument.URI)
	}
	return nil
}

// TextDocumentDidClose handles file close notifications from the editor
func (h *AsmHandler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	logger().Debugf("closed %s", params.TextDocument.URI)

	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.docs, path)
	return nil
}

// TextDocumentCompletion offers directives, mnemonics and the labels of the
// document.
func (h *AsmHandler) TextDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		items = append(items, protocol.CompletionItem{Label: label, Kind: &kind, Detail: ptrString(detail)})
	}

	class, method := grammar.Directives()
	seen := make(map[string]bool)
	for _, d := range append(class, method...) {
		if !seen[d] {
			seen[d] = true
			add(d, "directive", protocol.CompletionItemKindKeyword)
		}
	}
	for _, m := range grammar.Mnemonics() {
		add(m, "instruction", protocol.CompletionItemKindOperator)
	}

	if path, err := uriToPath(params.TextDocument.URI); err == nil {
		h.mu.RLock()
		doc := h.docs[path]
		h.mu.RUnlock()
		if doc != nil && doc.file != nil {
			for _, l := range labelNames(doc.file) {
				add(l, "label", protocol.CompletionItemKindReference)
			}
		}
	}

	return &protocol.CompletionList{IsIncomplete: false, Items: items}, nil
}

// TextDocumentSemanticTokensFull handles semantic token requests for the entire document
func (h *AsmHandler) TextDocumentSemanticTokensFull(ctx *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	rawURI := params.TextDocument.URI

	path, err := uriToPath(rawURI)
	if err != nil {
		return nil, err
	}

	doc, err := h.getOrLoad(ctx, path, rawURI)
	if err != nil {
		return nil, err
	}

	// Encode tokens into LSP wire format (using delta-line, delta-start compression)
	data := []uint32{}
	var prevLine, prevStart uint32
	for _, token := range collectSemanticTokens(doc.file, doc.text) {
		deltaLine := token.Line - prevLine
		deltaStart := token.StartChar
		if deltaLine == 0 {
			deltaStart = token.StartChar - prevStart
		}
		data = append(data, deltaLine, deltaStart, token.Length, uint32(token.TokenType), uint32(token.TokenModifiers))
		prevLine = token.Line
		prevStart = token.StartChar
	}

	return &protocol.SemanticTokens{Data: data}, nil
}

// getOrLoad returns the open document, reading it from disk when the
// editor asks about a file it never opened.
func (h *AsmHandler) getOrLoad(ctx *glsp.Context, path string, rawURI protocol.DocumentUri) (*document, error) {
	h.mu.RLock()
	doc, ok := h.docs[path]
	h.mu.RUnlock()
	if ok {
		return doc, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if err := h.update(ctx, rawURI, string(content)); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.docs[path], nil
}

// update reparses a document and publishes its diagnostics. An empty list
// is published too, which clears stale markers.
func (h *AsmHandler) update(ctx *glsp.Context, rawURI protocol.DocumentUri, text string) error {
	path, err := uriToPath(rawURI)
	if err != nil {
		return err
	}

	doc := &document{text: text}
	diagnostics := []protocol.Diagnostic{}
	file, err := grammar.Parse(path, text)
	if err != nil {
		diagnostics = ConvertDiagnostics(grammar.SyntaxDiagnostics(err))
	} else {
		doc.file = file
		diagnostics = append(diagnostics, ConvertDiagnostics(assemblyDiagnostics(file))...)
	}

	h.mu.Lock()
	h.docs[path] = doc
	h.mu.Unlock()

	sendDiagnosticNotification(ctx, rawURI, diagnostics)
	return nil
}

// Convert URI to platform-local file path
func uriToPath(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("invalid URI %s: %w", rawURI, err)
	}

	path := u.Path

	// On Windows, remove leading slash (e.g., /C:/...) to get C:/...
	if runtime.GOOS == "windows" && strings.HasPrefix(path, "/") && len(path) > 3 && path[2] == ':' {
		path = path[1:]
	}

	return filepath.FromSlash(path), nil
}

func sendDiagnosticNotification(ctx *glsp.Context, uri protocol.URI, diagnostics []protocol.Diagnostic) {
	logger().Debugf("publishing %d diagnostics for %s", len(diagnostics), uri)
	if ctx == nil || ctx.Notify == nil {
		return
	}
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func ptrBool(b bool) *bool {
	return &b
}

func ptrString(s string) *string {
	return &s
}

func ptrSyncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind {
	return &k
}
