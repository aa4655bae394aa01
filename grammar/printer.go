package grammar

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	bc "tailrec/internal/bytecode"
	"tailrec/internal/classfile"
)

func indent(level int) string {
	return strings.Repeat("    ", level)
}

// Disassemble renders class bytes in the assembler syntax. Assembling the
// result produces an equivalent class, except for attributes the syntax
// has no form for.
func Disassemble(class []byte) (string, error) {
	cf, err := classfile.Parse(class)
	if err != nil {
		return "", err
	}
	return Print(cf)
}

// Print renders a parsed class in the assembler syntax.
func Print(cf *classfile.ClassFile) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s {\n", cf.Name)
	if cf.Minor != 0 {
		fmt.Fprintf(&b, "%sversion %d %d\n", indent(1), cf.Major, cf.Minor)
	} else {
		fmt.Fprintf(&b, "%sversion %d\n", indent(1), cf.Major)
	}
	if super := cf.SuperName(); super != "" {
		fmt.Fprintf(&b, "%ssuper %s\n", indent(1), super)
	}
	if names := flagList(cf.AccessFlags, classFlags); len(names) > 0 {
		fmt.Fprintf(&b, "%sflags %s\n", indent(1), strings.Join(names, " "))
	}
	for _, i := range cf.Interfaces {
		name, err := cf.Pool.ClassName(i)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%simplements %s\n", indent(1), name)
	}
	for _, f := range cf.Fields {
		line := fmt.Sprintf("%sfield %s %s", indent(1), f.Name, f.Descriptor)
		if names := flagList(f.AccessFlags, fieldFlags); len(names) > 0 {
			line += " " + strings.Join(names, " ")
		}
		b.WriteString(line + "\n")
	}
	for _, m := range cf.Methods {
		b.WriteString("\n")
		if err := printMethod(&b, cf, m); err != nil {
			return "", err
		}
	}
	b.WriteString("}\n")
	return b.String(), nil
}

type methodPrinter struct {
	b      *strings.Builder
	pool   *classfile.ConstantPool
	m      *bc.Method
	labels map[bc.NodeID]string
}

func printMethod(b *strings.Builder, cf *classfile.ClassFile, mem *classfile.Member) error {
	fmt.Fprintf(b, "%smethod %s %s {\n", indent(1), mem.Name, mem.Descriptor)
	if names := flagList(mem.AccessFlags, methodFlags); len(names) > 0 {
		fmt.Fprintf(b, "%sflags %s\n", indent(2), strings.Join(names, " "))
	}
	m, err := bc.Decode(cf, mem)
	if errors.Is(err, bc.ErrNoCode) {
		fmt.Fprintf(b, "%s}\n", indent(1))
		return nil
	}
	if err != nil {
		return err
	}
	p := &methodPrinter{b: b, pool: cf.Pool, m: m}
	p.nameLabels()
	return p.body()
}

// nameLabels numbers the referenced labels in code order.
func (p *methodPrinter) nameLabels() {
	used := make(map[bc.NodeID]bool)
	mark := func(ids ...bc.NodeID) {
		for _, id := range ids {
			used[id] = true
		}
	}
	g := p.m.Graph
	for id := g.First(); id != bc.NoNode; id = g.Next(id) {
		n := g.Node(id)
		switch n.Kind {
		case bc.KindJump, bc.KindTableSwitch, bc.KindLookupSwitch:
			mark(n.Target)
			mark(n.Targets...)
		case bc.KindFrame:
			for _, list := range [][]bc.VType{n.Frame.Locals, n.Frame.Stack} {
				for _, v := range list {
					if v.Tag == bc.VUninitialized {
						mark(v.New)
					}
				}
			}
		}
	}
	for _, tc := range p.m.TryCatches {
		mark(tc.Start, tc.End, tc.Handler)
	}
	for _, v := range append(append([]bc.LocalVar(nil), p.m.LocalVars...), p.m.LocalVarTypes...) {
		mark(v.Start, v.End)
	}

	p.labels = make(map[bc.NodeID]string)
	for id := g.First(); id != bc.NoNode; id = g.Next(id) {
		if g.Node(id).Kind == bc.KindLabel && used[id] {
			p.labels[id] = fmt.Sprintf("L%d", len(p.labels))
		}
	}
}

func (p *methodPrinter) line(format string, args ...any) {
	p.b.WriteString(indent(2))
	fmt.Fprintf(p.b, format, args...)
	p.b.WriteString("\n")
}

func (p *methodPrinter) body() error {
	m := p.m
	g := m.Graph
	p.line("maxs %d %d", m.MaxStack, m.MaxLocals)
	for _, tc := range m.TryCatches {
		typ := tc.TypeName
		if typ == "" {
			typ = "any"
		}
		p.line("catch %s %s %s %s", p.labels[tc.Start], p.labels[tc.End], p.labels[tc.Handler], typ)
	}
	for _, v := range m.LocalVars {
		p.line("local %d %s %s %s %s", v.Slot, v.Name, v.Desc, p.labels[v.Start], p.labels[v.End])
	}
	for _, v := range m.LocalVarTypes {
		p.line("localtype %d %s %s %s %s", v.Slot, v.Name, v.Desc, p.labels[v.Start], p.labels[v.End])
	}

	for id := g.First(); id != bc.NoNode; id = g.Next(id) {
		n := g.Node(id)
		switch n.Kind {
		case bc.KindLabel:
			if name, ok := p.labels[id]; ok {
				fmt.Fprintf(p.b, "%s%s:\n", indent(1), name)
			}
		case bc.KindLine:
			p.line("line %d", n.Operand)
		case bc.KindFrame:
			p.line("%s", p.frame(n.Frame))
		default:
			text, err := p.insn(n)
			if err != nil {
				return err
			}
			p.line("%s", text)
		}
	}
	fmt.Fprintf(p.b, "%s}\n", indent(1))
	return nil
}

func (p *methodPrinter) frame(f *bc.Frame) string {
	parts := []string{"frame", "locals"}
	for _, v := range f.Locals {
		parts = append(parts, p.vtype(v))
	}
	parts = append(parts, "stack")
	for _, v := range f.Stack {
		parts = append(parts, p.vtype(v))
	}
	return strings.Join(parts, " ")
}

func (p *methodPrinter) vtype(v bc.VType) string {
	switch v.Tag {
	case bc.VTop:
		return "top"
	case bc.VInteger:
		return "int"
	case bc.VFloat:
		return "float"
	case bc.VLong:
		return "long"
	case bc.VDouble:
		return "double"
	case bc.VNull:
		return "null"
	case bc.VUninitializedThis:
		return "uninitializedThis"
	case bc.VUninitialized:
		return "uninitialized " + p.labels[v.New]
	}
	return v.Class
}

func (p *methodPrinter) insn(n *bc.Node) (string, error) {
	op := n.Op.String()
	switch n.Kind {
	case bc.KindInt:
		if n.Op == bc.NEWARRAY {
			for name, code := range arrayTypes {
				if code == n.Operand {
					return op + " " + name, nil
				}
			}
		}
		return fmt.Sprintf("%s %d", op, n.Operand), nil
	case bc.KindVar:
		return fmt.Sprintf("%s %d", op, n.Operand), nil
	case bc.KindIinc:
		return fmt.Sprintf("%s %d %d", op, n.Operand, n.Incr), nil
	case bc.KindType:
		return op + " " + n.Class, nil
	case bc.KindField:
		return fmt.Sprintf("%s %s %s %s", op, n.Ref.Owner, n.Ref.Name, n.Ref.Desc), nil
	case bc.KindMethod:
		if n.Ref.Interface && n.Op != bc.INVOKEINTERFACE {
			op += " interface"
		}
		return fmt.Sprintf("%s %s %s %s", op, n.Ref.Owner, n.Ref.Name, n.Ref.Desc), nil
	case bc.KindInvokeDynamic:
		return fmt.Sprintf("%s %d %s", op, n.Index, n.Desc), nil
	case bc.KindJump:
		return op + " " + p.labels[n.Target], nil
	case bc.KindTableSwitch:
		parts := []string{op, strconv.Itoa(int(n.Low))}
		for _, t := range n.Targets {
			parts = append(parts, p.labels[t])
		}
		return strings.Join(append(parts, "default", p.labels[n.Target]), " "), nil
	case bc.KindLookupSwitch:
		parts := []string{op}
		for i, t := range n.Targets {
			parts = append(parts, strconv.Itoa(int(n.Keys[i])), p.labels[t])
		}
		return strings.Join(append(parts, "default", p.labels[n.Target]), " "), nil
	case bc.KindLdc:
		c, err := p.constant(n)
		if err != nil {
			return "", err
		}
		return "ldc " + c, nil
	case bc.KindMultiANewArray:
		return fmt.Sprintf("%s %s %d", op, n.Class, n.Operand), nil
	}
	return op, nil
}

func (p *methodPrinter) constant(n *bc.Node) (string, error) {
	switch n.ConstTag {
	case classfile.TagInteger:
		v, err := p.pool.IntegerValue(n.Index)
		return strconv.FormatInt(int64(v), 10), err
	case classfile.TagLong:
		v, err := p.pool.LongValue(n.Index)
		return strconv.FormatInt(v, 10) + "L", err
	case classfile.TagFloat:
		v, err := p.pool.FloatValue(n.Index)
		return formatFloat(float64(v), 32) + "f", err
	case classfile.TagDouble:
		v, err := p.pool.DoubleValue(n.Index)
		return formatFloat(v, 64) + "d", err
	case classfile.TagString:
		v, err := p.pool.StringValue(n.Index)
		return strconv.Quote(v), err
	case classfile.TagClass:
		v, err := p.pool.ClassName(n.Index)
		return "class " + v, err
	}
	return "", fmt.Errorf("%w: ldc of constant tag %d", classfile.ErrMalformed, n.ConstTag)
}

func formatFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(v, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
