package grammar

import (
	"tailrec/internal/classfile"
	diag "tailrec/internal/errors"
)

type flag struct {
	name string
	bit  uint16
}

var classFlags = []flag{
	{"public", classfile.AccPublic},
	{"final", classfile.AccFinal},
	{"super", classfile.AccSuper},
	{"interface", classfile.AccInterface},
	{"abstract", classfile.AccAbstract},
	{"synthetic", classfile.AccSynthetic},
	{"annotation", classfile.AccAnnotation},
	{"enum", classfile.AccEnum},
}

var fieldFlags = []flag{
	{"public", classfile.AccPublic},
	{"private", classfile.AccPrivate},
	{"protected", classfile.AccProtected},
	{"static", classfile.AccStatic},
	{"final", classfile.AccFinal},
	{"volatile", classfile.AccVolatile},
	{"transient", classfile.AccTransient},
	{"synthetic", classfile.AccSynthetic},
	{"enum", classfile.AccEnum},
}

var methodFlags = []flag{
	{"public", classfile.AccPublic},
	{"private", classfile.AccPrivate},
	{"protected", classfile.AccProtected},
	{"static", classfile.AccStatic},
	{"final", classfile.AccFinal},
	{"synchronized", classfile.AccSynchronized},
	{"bridge", classfile.AccBridge},
	{"varargs", classfile.AccVarargs},
	{"native", classfile.AccNative},
	{"abstract", classfile.AccAbstract},
	{"strict", classfile.AccStrict},
	{"synthetic", classfile.AccSynthetic},
}

// flags ORs together the named access flags.
func (a *assembler) flags(args []*Operand, table []flag, context string) uint16 {
	var access uint16
next:
	for _, arg := range args {
		text := operandText(arg)
		if arg.Name != nil {
			for _, f := range table {
				if f.name == text {
					access |= f.bit
					continue next
				}
			}
		}
		a.errorf(diag.InvalidFlag(text, context, arg.Pos, flagNames(table)))
	}
	return access
}

func flagNames(table []flag) []string {
	out := make([]string, len(table))
	for i, f := range table {
		out[i] = f.name
	}
	return out
}

// flagList names the bits of access in table order. Bits with no name are
// dropped.
func flagList(access uint16, table []flag) []string {
	var out []string
	for _, f := range table {
		if access&f.bit != 0 {
			out = append(out, f.name)
		}
	}
	return out
}
