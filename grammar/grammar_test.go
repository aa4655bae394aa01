package grammar_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailrec/grammar"
	"tailrec/internal/bytecode"
	"tailrec/internal/classfile"
	diag "tailrec/internal/errors"
)

func TestParseCounter(t *testing.T) {
	file, err := grammar.ParseFile(`../examples/Counter.jasm`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	require.Len(t, file.Classes, 1)
	class := file.Classes[0]
	assert.Equal(t, "demo/Counter", class.Name)

	var directives []string
	var methods []*grammar.Method
	for _, m := range class.Members {
		if m.Directive != nil {
			directives = append(directives, m.Directive.Name)
		}
		if m.Method != nil {
			methods = append(methods, m.Method)
		}
	}
	assert.Equal(t, []string{"version", "super", "flags"}, directives)
	require.Len(t, methods, 2)

	count := methods[0]
	assert.Equal(t, "count", count.Name)
	assert.Equal(t, "(I)V", count.Desc)

	var labels []string
	for _, l := range count.Body {
		if l.Label != nil {
			labels = append(labels, l.Label.Name)
		}
	}
	assert.Equal(t, []string{"Recurse"}, labels)

	// flags, maxs, iload, ifne, return, Recurse:, frame, iload, iconst_1, isub, invokestatic, return
	assert.Len(t, count.Body, 12)
	call := count.Body[10].Insn
	require.NotNil(t, call)
	assert.Equal(t, "invokestatic", call.Name)
	require.Len(t, call.Args, 3)
	assert.Equal(t, "demo/Counter", *call.Args[0].Name)
	assert.Equal(t, "(I)V", *call.Args[2].Name)
}

func TestParseOperands(t *testing.T) {
	file, err := grammar.Parse("ops.jasm", `class A {
    method m ()V {
        ldc "a \"quoted\" string"
        ldc -12
        ldc 3L
        ldc 1.5f
        ldc 0x1F
        ldc -Infinityd
    }
}`)
	require.NoError(t, err)
	body := file.Classes[0].Members[0].Method.Body
	require.Len(t, body, 6)

	assert.Equal(t, `"a \"quoted\" string"`, *body[0].Insn.Args[0].String)
	assert.Equal(t, "-12", *body[1].Insn.Args[0].Int)
	assert.Equal(t, "3L", *body[2].Insn.Args[0].Int)
	assert.Equal(t, "1.5f", *body[3].Insn.Args[0].Float)
	assert.Equal(t, "0x1F", *body[4].Insn.Args[0].Int)
	assert.Equal(t, "-Infinityd", *body[5].Insn.Args[0].Float)
	assert.Equal(t, 4, body[1].Insn.Pos.Line)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := grammar.AssembleString("bad.jasm", "class A\n}\n")
	require.Error(t, err)

	var list diag.List
	require.ErrorAs(t, err, &list)
	require.Len(t, list, 1)
	assert.Equal(t, diag.ErrorSyntax, list[0].Code)
	assert.Equal(t, 1, list[0].Position.Line)
}

func load(t *testing.T, path string) []byte {
	t.Helper()
	file, err := grammar.ParseFile(path)
	require.NoError(t, err)
	classes, err := grammar.Assemble(file)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	return classes[0].Bytes()
}

func TestAssembleCounter(t *testing.T) {
	b := load(t, "../examples/Counter.jasm")

	cf, err := classfile.Parse(b)
	require.NoError(t, err)
	assert.Equal(t, "demo/Counter", cf.Name)
	assert.Equal(t, "java/lang/Object", cf.SuperName())
	assert.Equal(t, classfile.V1_8, cf.Major)
	assert.Equal(t, classfile.AccPublic|classfile.AccSuper, cf.AccessFlags)

	mem := cf.Method("sum", "(II)I")
	require.NotNil(t, mem)
	assert.Equal(t, classfile.AccPublic|classfile.AccStatic, mem.AccessFlags)

	m, err := bytecode.Decode(cf, mem)
	require.NoError(t, err)
	assert.Equal(t, 3, m.MaxStack)
	assert.Equal(t, 2, m.MaxLocals)

	var ops []bytecode.Opcode
	lines, frames := 0, 0
	g := m.Graph
	for id := g.First(); id != bytecode.NoNode; id = g.Next(id) {
		n := g.Node(id)
		switch {
		case n.Kind == bytecode.KindLine:
			lines++
		case n.Kind == bytecode.KindFrame:
			frames++
			assert.Equal(t, []bytecode.VType{bytecode.Integer, bytecode.Integer}, n.Frame.Locals)
		case n.Kind.IsInstruction():
			ops = append(ops, n.Op)
		}
	}
	assert.Equal(t, 3, lines)
	assert.Equal(t, 1, frames)
	assert.Equal(t, []bytecode.Opcode{
		bytecode.ILOAD, bytecode.IFNE, bytecode.ILOAD, bytecode.IRETURN,
		bytecode.ILOAD, bytecode.ICONST_1, bytecode.ISUB, bytecode.ILOAD, bytecode.ILOAD, bytecode.IADD,
		bytecode.INVOKESTATIC, bytecode.IRETURN,
	}, ops)
}

func TestAssembleInterface(t *testing.T) {
	b := load(t, "../examples/Walker.jasm")
	cf, err := classfile.Parse(b)
	require.NoError(t, err)
	assert.True(t, cf.IsInterface())

	size := cf.Method("size", "()I")
	require.NotNil(t, size)
	assert.Nil(t, size.Attribute(classfile.AttrCode), "abstract methods have no code")

	walk := cf.Method("walk", "(I)V")
	m, err := bytecode.Decode(cf, walk)
	require.NoError(t, err)
	found := false
	for id := m.Graph.First(); id != bytecode.NoNode; id = m.Graph.Next(id) {
		n := m.Graph.Node(id)
		if n.Kind == bytecode.KindMethod {
			found = true
			assert.Equal(t, bytecode.INVOKEINTERFACE, n.Op)
			assert.True(t, n.Ref.Interface)
		}
	}
	assert.True(t, found)
}

func TestDisassembleRoundTrip(t *testing.T) {
	for _, path := range []string{
		"../examples/Counter.jasm",
		"../examples/Factorial.jasm",
		"../examples/Dispatch.jasm",
		"../examples/Walker.jasm",
	} {
		t.Run(path, func(t *testing.T) {
			first, err := grammar.Disassemble(load(t, path))
			require.NoError(t, err)

			again, err := grammar.AssembleString("again.jasm", first)
			require.NoError(t, err, first)
			second, err := grammar.Disassemble(again)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestDisassembleNamesReferencedLabels(t *testing.T) {
	text, err := grammar.Disassemble(load(t, "../examples/Factorial.jasm"))
	require.NoError(t, err)

	assert.Contains(t, text, "class demo/Factorial {")
	assert.Contains(t, text, "method factImpl (II)I {")
	assert.Contains(t, text, "flags private static")
	assert.Contains(t, text, "local 0 n I L0 L2")
	assert.Contains(t, text, "ifne L1")
	assert.Contains(t, text, "frame locals int long stack")
	assert.NotContains(t, text, "L3")
}

func TestConstants(t *testing.T) {
	src := `class demo/Constants {
    method values ()V {
        flags static
        maxs 2 0
        ldc 7
        pop
        ldc 10000000000L
        pop2
        ldc 1.5f
        pop
        ldc 2.25
        pop2
        ldc -Infinityf
        pop
        ldc "hi\n"
        pop
        ldc class java/lang/String
        pop
        return
    }
}`
	b, err := grammar.AssembleString("constants.jasm", src)
	require.NoError(t, err)
	text, err := grammar.Disassemble(b)
	require.NoError(t, err)

	for _, want := range []string{
		"ldc 7\n",
		"ldc 10000000000L\n",
		"ldc 1.5f\n",
		"ldc 2.25d\n",
		"ldc -Infinityf\n",
		`ldc "hi\n"` + "\n",
		"ldc class java/lang/String\n",
	} {
		assert.Contains(t, text, want)
	}
}

func TestSwitchesAndArrays(t *testing.T) {
	src := `class demo/Switches {
    method pick (I)I {
        flags static
        maxs 2 1
        iload 0
        tableswitch 1 One Two default Other
    One:
        iconst_1
        ireturn
    Two:
        iload 0
        lookupswitch -5 One 100 Other default Other
    Other:
        iconst_3
        newarray int
        bipush -7
        sipush 300
        multianewarray [[I 2
        pop2
        arraylength
        ireturn
    }
}`
	b, err := grammar.AssembleString("switch.jasm", src)
	require.NoError(t, err)
	text, err := grammar.Disassemble(b)
	require.NoError(t, err)

	assert.Contains(t, text, "tableswitch 1 L0 L1 default L2")
	assert.Contains(t, text, "lookupswitch -5 L0 100 L2 default L2")
	assert.Contains(t, text, "newarray int")
	assert.Contains(t, text, "bipush -7")
	assert.Contains(t, text, "multianewarray [[I 2")
}

func TestAssembleTryCatch(t *testing.T) {
	src := `class demo/Guarded {
    method run ()V {
        flags static
        maxs 1 0
        catch Start End Handler java/lang/RuntimeException
        catch Start End Handler any
    Start:
        invokestatic demo/Guarded run ()V
    End:
        return
    Handler:
        frame locals stack java/lang/Throwable
        athrow
    }
}`
	b, err := grammar.AssembleString("try.jasm", src)
	require.NoError(t, err)
	cf, err := classfile.Parse(b)
	require.NoError(t, err)
	m, err := bytecode.Decode(cf, cf.Method("run", "()V"))
	require.NoError(t, err)

	require.Len(t, m.TryCatches, 2)
	assert.Equal(t, "java/lang/RuntimeException", m.TryCatches[0].TypeName)
	assert.Equal(t, "", m.TryCatches[1].TypeName)
	assert.Equal(t, uint16(0), m.TryCatches[1].Type)
}

func codes(t *testing.T, err error) []string {
	t.Helper()
	var list diag.List
	require.ErrorAs(t, err, &list)
	var out []string
	for _, d := range list {
		out = append(out, d.Code)
	}
	return out
}

func TestAssembleDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
		text string
	}{
		{"unknown instruction", "maxs 1 1\n        iloda 0\n        return", diag.ErrorUnknownInstruction, "iloda"},
		{"short form", "maxs 1 1\n        iload_0\n        return", diag.ErrorUnknownInstruction, "iload_0"},
		{"operand count", "maxs 1 1\n        iinc 1\n        return", diag.ErrorOperandCount, "'iinc'"},
		{"bad operand", "maxs 1 1\n        bipush 300\n        return", diag.ErrorInvalidOperand, "300"},
		{"undefined label", "maxs 1 1\n        goto Nowhere", diag.ErrorUndefinedLabel, "Nowhere"},
		{"missing maxs", "return", diag.ErrorMissingMaxs, "maxs"},
		{"invalid flag", "flags statik\n        maxs 0 0\n        return", diag.ErrorInvalidFlag, "statik"},
		{"invokedynamic", "maxs 1 1\n        invokedynamic 0 ()V\n        return", diag.ErrorUnsupported, "invokedynamic"},
		{"duplicate label", "maxs 0 0\n    A:\n    A:\n        return", diag.ErrorDuplicateDeclaration, "label 'A'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "class demo/Bad {\n    method m ()V {\n        " + tt.body + "\n    }\n}\n"
			_, err := grammar.AssembleString("bad.jasm", src)
			require.Error(t, err)
			assert.Contains(t, codes(t, err), tt.code)
			assert.Contains(t, err.Error(), tt.text)
		})
	}
}

func TestClassDiagnostics(t *testing.T) {
	src := `class demo/Bad {
    supr java/lang/Object
    field x I publik
    field x I
}`
	_, err := grammar.AssembleString("bad.jasm", src)
	require.Error(t, err)
	got := codes(t, err)
	assert.Contains(t, got, diag.ErrorUnknownDirective)
	assert.Contains(t, got, diag.ErrorInvalidFlag)
	assert.Contains(t, got, diag.ErrorDuplicateDeclaration)
	assert.Contains(t, err.Error(), "bad.jasm:2:5")
}

func TestUnusedLabelWarning(t *testing.T) {
	src := `class demo/Quiet {
    method m ()V {
        maxs 0 0
    Spare:
        return
    }
}`
	file, err := grammar.Parse("quiet.jasm", src)
	require.NoError(t, err)

	_, err = grammar.Assemble(file)
	require.NoError(t, err, "warnings do not fail assembly")

	warnings := grammar.Warnings(file)
	require.Len(t, warnings, 1)
	assert.Equal(t, diag.WarningUnusedLabel, warnings[0].Code)
	assert.True(t, strings.Contains(warnings[0].Message, "Spare"))
}

func TestAssembleStringRequiresOneClass(t *testing.T) {
	src := "class A {\n}\nclass B {\n}\n"
	_, err := grammar.AssembleString("two.jasm", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected one class, found 2")
}
