package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"
)

type File struct {
	Pos     lexer.Position
	Classes []*Class `EOL* @@*`
}

type Class struct {
	Pos     lexer.Position
	Name    string    `"class" @Ident "{" EOL+`
	Members []*Member `@@*`
	Close   string    `"}" EOL*`
}

type Member struct {
	Method    *Method    `  @@`
	Directive *Directive `| @@`
}

type Method struct {
	Pos   lexer.Position
	Name  string  `"method" @Ident`
	Desc  string  `@Ident "{" EOL+`
	Body  []*Line `@@*`
	Close string  `"}" EOL+`
}

type Line struct {
	Label *LabelDef  `  @@`
	Insn  *Directive `| @@`
}

type LabelDef struct {
	Pos  lexer.Position
	Name string `@Ident ":" EOL*`
}

// Directive is one class directive, method directive or instruction: a
// name followed by operands up to the end of the line.
type Directive struct {
	Pos  lexer.Position
	Name string     `@Ident`
	Args []*Operand `@@* EOL+`
}

type Operand struct {
	Pos    lexer.Position
	String *string `  @String`
	Float  *string `| @Float`
	Int    *string `| @Integer`
	Name   *string `| @Ident`
}
