package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"
)

var AsmLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		// Comments
		{"Comment", `//[^\n]*`, nil},

		// String constants, Go escape syntax
		{"String", `"(\\.|[^"\\])*"`, nil},

		// Floating point literals (must come before integers)
		{"Float", `[-+]?([0-9]+\.[0-9]*([eE][-+]?[0-9]+)?[fFdD]?|[0-9]+[eE][-+]?[0-9]+[fFdD]?|[0-9]+[fFdD]\b|(NaN|Infinity)[fFdD]?)`, nil},

		// Integer literals, L suffix for long constants
		{"Integer", `[-+]?(0x[0-9a-fA-F]+|[0-9]+)[lL]?`, nil},

		// Names: mnemonics, labels, flags, internal class names, descriptors
		{"Ident", `[a-zA-Z_$<(\[][a-zA-Z0-9_$/;<>()\[\].]*`, nil},

		// Punctuation
		{"Punctuation", `[{}:]`, nil},

		// Line ends are significant
		{"EOL", `\n`, nil},

		// Whitespace
		{"Whitespace", `[ \t\r]+`, nil},
	},
})
