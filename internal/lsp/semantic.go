package lsp

import (
	"slices"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"tailrec/grammar"
)

// SemanticToken represents a single LSP semantic token entry
// Line and StartChar are 0-based positions
// TokenType is an index into the semanticTokenTypes array
// TokenModifiers is a bitmask based on semanticTokenModifiers
type SemanticToken struct {
	Line           uint32
	StartChar      uint32
	Length         uint32
	TokenType      int // index into semanticTokenTypes
	TokenModifiers int // bitmask
}

// tokenizer walks a parsed file in source order.
type tokenizer struct {
	lines  []string
	tokens []SemanticToken
	labels map[string]bool // labels of the method being walked
}

func collectSemanticTokens(file *grammar.File, text string) []SemanticToken {
	if file == nil {
		return nil
	}
	t := &tokenizer{lines: strings.Split(text, "\n")}
	classDirectives, methodDirectives := grammar.Directives()

	for _, c := range file.Classes {
		t.add(c.Pos, len("class"), "keyword", false)
		t.find(c.Pos, len("class"), c.Name, "class", true)
		for _, m := range c.Members {
			if d := m.Directive; d != nil {
				t.directive(d, slices.Contains(classDirectives, d.Name))
				continue
			}
			t.method(m.Method, methodDirectives)
		}
	}
	return t.tokens
}

func (t *tokenizer) method(m *grammar.Method, directives []string) {
	t.add(m.Pos, len("method"), "keyword", false)
	if end := t.find(m.Pos, len("method"), m.Name, "method", true); end >= 0 {
		t.find(m.Pos, end, m.Desc, "type", false)
	}

	t.labels = make(map[string]bool)
	for _, l := range m.Body {
		if l.Label != nil {
			t.labels[l.Label.Name] = true
		}
	}
	for _, l := range m.Body {
		if l.Label != nil {
			t.add(l.Label.Pos, len(l.Label.Name), "variable", true)
			continue
		}
		t.directive(l.Insn, slices.Contains(directives, l.Insn.Name))
	}
	t.labels = nil
}

func (t *tokenizer) directive(d *grammar.Directive, isDirective bool) {
	if isDirective {
		t.add(d.Pos, len(d.Name), "keyword", false)
	} else {
		t.add(d.Pos, len(d.Name), "operator", false)
	}
	for i, o := range d.Args {
		switch {
		case o.String != nil:
			t.add(o.Pos, len(*o.String), "string", false)
		case o.Int != nil:
			t.add(o.Pos, len(*o.Int), "number", false)
		case o.Float != nil:
			t.add(o.Pos, len(*o.Float), "number", false)
		case o.Name != nil:
			t.name(d, i, *o.Name, o.Pos)
		}
	}
}

func (t *tokenizer) name(d *grammar.Directive, i int, name string, pos lexer.Position) {
	switch {
	case t.labels[name]:
		t.add(pos, len(name), "variable", false)
	case d.Name == "flags" || (d.Name == "field" && i >= 2):
		t.add(pos, len(name), "modifier", false)
	case d.Name == "field" && i == 0:
		t.add(pos, len(name), "property", true)
	case isDescriptor(name):
		t.add(pos, len(name), "type", false)
	case strings.Contains(name, "/"):
		t.add(pos, len(name), "class", false)
	}
}

// isDescriptor reports whether s looks like a field or method descriptor.
func isDescriptor(s string) bool {
	switch {
	case strings.HasPrefix(s, "(") || strings.HasPrefix(s, "["):
		return true
	case len(s) == 1:
		return strings.Contains("ZBCSIJFDV", s)
	}
	return strings.HasPrefix(s, "L") && strings.HasSuffix(s, ";")
}

func (t *tokenizer) add(pos lexer.Position, length int, tokenType string, declaration bool) {
	if pos.Line < 1 || pos.Column < 1 {
		return
	}
	mods := 0
	if declaration {
		mods = 1 << slices.Index(SemanticTokenModifiers, "declaration")
	}
	t.tokens = append(t.tokens, SemanticToken{
		Line:           uint32(pos.Line - 1),
		StartChar:      uint32(pos.Column - 1),
		Length:         uint32(length),
		TokenType:      slices.Index(SemanticTokenTypes, tokenType),
		TokenModifiers: mods,
	})
}

// find emits a token for text, searched for on the line of pos after skip
// columns. The AST keeps no position for names that follow a keyword. It
// returns the column after the match relative to pos, or -1.
func (t *tokenizer) find(pos lexer.Position, skip int, text, tokenType string, declaration bool) int {
	if pos.Line < 1 || pos.Line > len(t.lines) {
		return -1
	}
	line := t.lines[pos.Line-1]
	start := pos.Column - 1 + skip
	if start > len(line) {
		return -1
	}
	i := strings.Index(line[start:], text)
	if i < 0 {
		return -1
	}
	at := pos
	at.Column = start + i + 1
	t.add(at, len(text), tokenType, declaration)
	return skip + i + len(text)
}

// labelNames returns every label defined in the file, in source order.
func labelNames(file *grammar.File) []string {
	var names []string
	for _, c := range file.Classes {
		for _, m := range c.Members {
			if m.Method == nil {
				continue
			}
			for _, l := range m.Method.Body {
				if l.Label != nil && !slices.Contains(names, l.Label.Name) {
					names = append(names, l.Label.Name)
				}
			}
		}
	}
	return names
}
