package grammar

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	bc "tailrec/internal/bytecode"
	"tailrec/internal/classfile"
	diag "tailrec/internal/errors"
)

// AssembleString parses source holding exactly one class and returns its
// class-file bytes. Errors are reported as a diag.List.
func AssembleString(filename, source string) ([]byte, error) {
	file, err := Parse(filename, source)
	if err != nil {
		return nil, SyntaxDiagnostics(err)
	}
	classes, err := Assemble(file)
	if err != nil {
		return nil, err
	}
	if len(classes) != 1 {
		return nil, diag.List{diag.SyntaxError(fmt.Sprintf("expected one class, found %d", len(classes)), file.Pos)}
	}
	return classes[0].Bytes(), nil
}

// SyntaxDiagnostics converts a parse error into a diagnostic list.
func SyntaxDiagnostics(err error) diag.List {
	var pe participle.Error
	if errors.As(err, &pe) {
		return diag.List{diag.SyntaxError(pe.Message(), pe.Position())}
	}
	return diag.List{diag.SyntaxError(err.Error(), lexer.Position{})}
}

// Assemble builds every class of a parsed file. The returned error is a
// diag.List holding every problem found.
func Assemble(file *File) ([]*classfile.ClassFile, error) {
	a := &assembler{}
	var out []*classfile.ClassFile
	for _, c := range file.Classes {
		if cf := a.class(c); cf != nil {
			out = append(out, cf)
		}
	}
	if err := a.diags.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Warnings returns the non-fatal diagnostics of assembling file.
func Warnings(file *File) diag.List {
	a := &assembler{}
	for _, c := range file.Classes {
		a.class(c)
	}
	var out diag.List
	for _, d := range a.diags {
		if d.Level == diag.Warning {
			out = append(out, d)
		}
	}
	return out
}

var classDirectives = []string{"version", "super", "flags", "implements", "field"}

var methodDirectives = []string{"flags", "maxs", "catch", "local", "localtype", "line", "frame"}

var mnemonics = func() []string {
	var out []string
	for i := 0; i < 256; i++ {
		name := bc.Opcode(i).String()
		if _, ok := bc.OpcodeByName(name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}()

// Directives returns the directive names accepted in a class body and in
// a method body.
func Directives() (class, method []string) {
	return slices.Clone(classDirectives), slices.Clone(methodDirectives)
}

// Mnemonics returns the instruction names the assembler accepts, sorted.
func Mnemonics() []string {
	return slices.Clone(mnemonics)
}

type assembler struct {
	diags diag.List
}

func (a *assembler) errorf(d diag.Diagnostic) {
	a.diags.Add(d)
}

func (a *assembler) class(c *Class) *classfile.ClassFile {
	major, minor := classfile.V1_8, uint16(0)
	super := "java/lang/Object"
	var access uint16
	var interfaces []string
	var fields []*Directive

	for _, m := range c.Members {
		d := m.Directive
		if d == nil {
			continue
		}
		switch d.Name {
		case "version":
			if !a.arity(d, 1, 2, "a major and an optional minor version") {
				continue
			}
			major = uint16(a.intArg(d, 0, 45, 0xffff))
			if len(d.Args) == 2 {
				minor = uint16(a.intArg(d, 1, 0, 0xffff))
			}
		case "super":
			if a.arity(d, 1, 1, "a class name") {
				super = a.nameArg(d, 0, "class name")
			}
		case "flags":
			access |= a.flags(d.Args, classFlags, "class")
		case "implements":
			for i := range d.Args {
				interfaces = append(interfaces, a.nameArg(d, i, "interface name"))
			}
		case "field":
			fields = append(fields, d)
		default:
			a.errorf(diag.UnknownDirective(d.Name, "class", d.Pos, classDirectives))
		}
	}

	cf := classfile.NewClass(major, access, c.Name, super)
	cf.Minor = minor
	for _, name := range interfaces {
		cf.AddInterface(name)
	}

	seen := make(map[string]bool)
	for _, d := range fields {
		if !a.arity(d, 2, -1, "a name, a descriptor and flags") {
			continue
		}
		name := a.nameArg(d, 0, "field name")
		desc := a.nameArg(d, 1, "field descriptor")
		if _, err := classfile.ParseFieldDescriptor(desc); err != nil {
			a.errorf(diag.InvalidOperand("field", desc, "field descriptor", d.Args[1].Pos))
			continue
		}
		if seen[name] {
			a.errorf(diag.DuplicateDeclaration("field", name, d.Pos))
		}
		seen[name] = true
		cf.AddField(a.flags(d.Args[2:], fieldFlags, "field"), name, desc)
	}

	seen = make(map[string]bool)
	for _, m := range c.Members {
		if m.Method == nil {
			continue
		}
		key := m.Method.Name + m.Method.Desc
		if seen[key] {
			a.errorf(diag.DuplicateDeclaration("method", key, m.Method.Pos))
		}
		seen[key] = true
		a.method(cf, m.Method)
	}
	return cf
}

// label is a label name's node and where it was first mentioned.
type label struct {
	id      bc.NodeID
	pos     lexer.Position
	defined bool
	used    bool
}

// methodAsm assembles one method body.
type methodAsm struct {
	*assembler
	cf     *classfile.ClassFile
	m      *bc.Method
	labels map[string]*label
	order  []string
	insns  int
	maxs   bool
}

func (a *assembler) method(cf *classfile.ClassFile, src *Method) {
	var access uint16
	for _, l := range src.Body {
		if l.Insn != nil && l.Insn.Name == "flags" {
			access |= a.flags(l.Insn.Args, methodFlags, "method")
		}
	}
	m, err := bc.NewMethod(cf.Name, access, src.Name, src.Desc, cf.UsesFrames())
	if err != nil {
		a.errorf(diag.InvalidOperand("method", src.Desc, "method descriptor", src.Pos))
		return
	}
	mem := cf.AddMethod(access, src.Name, src.Desc)

	ma := &methodAsm{assembler: a, cf: cf, m: m, labels: make(map[string]*label)}
	for _, l := range src.Body {
		if l.Label != nil {
			ma.define(l.Label)
			continue
		}
		ma.line(l.Insn)
	}

	complete := true
	for _, name := range ma.order {
		lb := ma.labels[name]
		switch {
		case !lb.defined:
			a.errorf(diag.UndefinedLabel(name, lb.pos, ma.definedLabels()))
			complete = false
		case !lb.used:
			a.errorf(diag.UnusedLabel(name, lb.pos))
		}
	}
	if ma.insns == 0 {
		return
	}
	if !ma.maxs {
		a.errorf(diag.MissingMaxs(src.Name+src.Desc, src.Pos))
		return
	}
	if !complete {
		return
	}
	info, err := m.Encode(cf.Pool)
	if err != nil {
		a.errorf(diag.EncodingFailed(src.Name+src.Desc, err, src.Pos))
		return
	}
	mem.SetAttribute(cf.NewAttribute(classfile.AttrCode, info))
}

func (ma *methodAsm) lookup(name string, pos lexer.Position) *label {
	lb, ok := ma.labels[name]
	if !ok {
		lb = &label{id: ma.m.Graph.Alloc(bc.Label()), pos: pos}
		ma.labels[name] = lb
		ma.order = append(ma.order, name)
	}
	return lb
}

// ref returns the node of a label operand.
func (ma *methodAsm) ref(d *Directive, i int) bc.NodeID {
	name := ma.nameArg(d, i, "label")
	if name == "" {
		return bc.NoNode
	}
	lb := ma.lookup(name, d.Args[i].Pos)
	lb.used = true
	return lb.id
}

func (ma *methodAsm) define(def *LabelDef) {
	lb := ma.lookup(def.Name, def.Pos)
	if lb.defined {
		ma.errorf(diag.DuplicateDeclaration("label", def.Name, def.Pos))
		return
	}
	lb.defined = true
	lb.pos = def.Pos
	ma.m.Graph.Link(lb.id)
}

func (ma *methodAsm) definedLabels() []string {
	var out []string
	for _, name := range ma.order {
		if ma.labels[name].defined {
			out = append(out, name)
		}
	}
	return out
}

func (ma *methodAsm) line(d *Directive) {
	m := ma.m
	g := m.Graph
	switch d.Name {
	case "flags":
		// Read before the body.
	case "maxs":
		if ma.arity(d, 2, 2, "max stack and max locals") {
			m.MaxStack = int(ma.intArg(d, 0, 0, 0xffff))
			m.MaxLocals = int(ma.intArg(d, 1, 0, 0xffff))
			ma.maxs = true
		}
	case "catch":
		if !ma.arity(d, 4, 4, "start, end and handler labels and a class name or any") {
			return
		}
		tc := bc.TryCatch{Start: ma.ref(d, 0), End: ma.ref(d, 1), Handler: ma.ref(d, 2)}
		if typ := ma.nameArg(d, 3, "exception class"); typ != "any" {
			tc.TypeName = typ
			tc.Type = ma.cf.Pool.AddClass(typ)
		}
		m.TryCatches = append(m.TryCatches, tc)
	case "local", "localtype":
		if !ma.arity(d, 5, 5, "slot, name, descriptor, start and end") {
			return
		}
		v := bc.LocalVar{
			Slot:  int(ma.intArg(d, 0, 0, 0xffff)),
			Name:  ma.nameArg(d, 1, "variable name"),
			Desc:  ma.nameArg(d, 2, "descriptor"),
			Start: ma.ref(d, 3),
			End:   ma.ref(d, 4),
		}
		v.NameIndex = ma.cf.Pool.AddUtf8(v.Name)
		v.DescIndex = ma.cf.Pool.AddUtf8(v.Desc)
		if d.Name == "local" {
			m.LocalVars = append(m.LocalVars, v)
		} else {
			m.LocalVarTypes = append(m.LocalVarTypes, v)
		}
	case "line":
		if ma.arity(d, 1, 1, "a line number") {
			g.Append(bc.Node{Kind: bc.KindLine, Operand: int(ma.intArg(d, 0, 0, 0xffff))})
		}
	case "frame":
		g.Append(bc.FrameNode(ma.frame(d)))
	default:
		ma.insn(d)
	}
}

func (ma *methodAsm) frame(d *Directive) *bc.Frame {
	f := &bc.Frame{}
	var into *[]bc.VType
	for i := 0; i < len(d.Args); i++ {
		name := ma.nameArg(d, i, "verification type")
		switch name {
		case "locals":
			into = &f.Locals
			continue
		case "stack":
			into = &f.Stack
			continue
		}
		if into == nil {
			ma.errorf(diag.InvalidOperand("frame", name, "frame section (locals or stack)", d.Args[i].Pos))
			return f
		}
		var v bc.VType
		switch name {
		case "top":
			v = bc.Top
		case "int":
			v = bc.Integer
		case "float":
			v = bc.Float
		case "long":
			v = bc.Long
		case "double":
			v = bc.Double
		case "null":
			v = bc.Null
		case "uninitializedThis":
			v = bc.UninitializedThis
		case "uninitialized":
			if i+1 >= len(d.Args) {
				ma.errorf(diag.OperandCount("uninitialized", "a label", 0, d.Args[i].Pos))
				return f
			}
			i++
			v = bc.VType{Tag: bc.VUninitialized, New: ma.ref(d, i)}
		default:
			v = bc.Object(name)
		}
		*into = append(*into, v)
	}
	return f
}

var arrayTypes = map[string]int{
	"boolean": bc.T_BOOLEAN,
	"char":    bc.T_CHAR,
	"float":   bc.T_FLOAT,
	"double":  bc.T_DOUBLE,
	"byte":    bc.T_BYTE,
	"short":   bc.T_SHORT,
	"int":     bc.T_INT,
	"long":    bc.T_LONG,
}

func (ma *methodAsm) insn(d *Directive) {
	op, ok := bc.OpcodeByName(d.Name)
	kind, valid := bc.KindOf(op)
	if !ok || !valid {
		ma.errorf(diag.UnknownInstruction(d.Name, d.Pos, slices.Concat(mnemonics, methodDirectives)))
		return
	}
	g := ma.m.Graph
	pool := ma.cf.Pool
	n := bc.Node{Kind: kind, Op: op}

	switch kind {
	case bc.KindInsn:
		if !ma.arity(d, 0, 0, "no operands") {
			return
		}
	case bc.KindInt:
		if !ma.arity(d, 1, 1, "one operand") {
			return
		}
		switch op {
		case bc.BIPUSH:
			n.Operand = int(ma.intArg(d, 0, -128, 127))
		case bc.SIPUSH:
			n.Operand = int(ma.intArg(d, 0, -32768, 32767))
		default:
			name := ma.nameArg(d, 0, "array type")
			t, ok := arrayTypes[name]
			if !ok && name != "" {
				ma.errorf(diag.InvalidOperand(d.Name, name, "primitive array type", d.Args[0].Pos))
			}
			n.Operand = t
		}
	case bc.KindVar:
		if !ma.arity(d, 1, 1, "a local slot") {
			return
		}
		n.Operand = int(ma.intArg(d, 0, 0, 0xffff))
	case bc.KindIinc:
		if !ma.arity(d, 2, 2, "a local slot and an increment") {
			return
		}
		n.Operand = int(ma.intArg(d, 0, 0, 0xffff))
		n.Incr = int(ma.intArg(d, 1, -32768, 32767))
	case bc.KindType:
		if !ma.arity(d, 1, 1, "a class name") {
			return
		}
		n.Class = ma.nameArg(d, 0, "class name")
		n.Index = pool.AddClass(n.Class)
	case bc.KindField, bc.KindMethod:
		if !ma.arity(d, 3, 4, "an owner, a name and a descriptor") {
			return
		}
		args := 0
		if len(d.Args) == 4 {
			if ma.nameArg(d, 0, "interface marker") != "interface" {
				ma.errorf(diag.InvalidOperand(d.Name, operandText(d.Args[0]), "interface marker", d.Args[0].Pos))
			}
			n.Ref.Interface = true
			args = 1
		}
		n.Ref.Owner = ma.nameArg(d, args, "owner class")
		n.Ref.Name = ma.nameArg(d, args+1, "member name")
		n.Ref.Desc = ma.nameArg(d, args+2, "descriptor")
		tag := classfile.TagFieldref
		if kind == bc.KindMethod {
			if _, err := classfile.ParseMethodDescriptor(n.Ref.Desc); err != nil {
				ma.errorf(diag.InvalidOperand(d.Name, n.Ref.Desc, "method descriptor", d.Args[args+2].Pos))
			}
			tag = classfile.TagMethodref
			if op == bc.INVOKEINTERFACE {
				n.Ref.Interface = true
			}
			if n.Ref.Interface {
				tag = classfile.TagInterfaceMethodref
			}
		}
		n.Index = pool.AddMember(tag, n.Ref)
	case bc.KindInvokeDynamic:
		ma.errorf(diag.Unsupported("invokedynamic", d.Pos))
		return
	case bc.KindJump:
		if !ma.arity(d, 1, 1, "a label") {
			return
		}
		switch op {
		case bc.GOTO_W:
			n.Op = bc.GOTO
		case bc.JSR_W:
			n.Op = bc.JSR
		}
		n.Target = ma.ref(d, 0)
	case bc.KindTableSwitch, bc.KindLookupSwitch:
		if !ma.switchArgs(d, &n) {
			return
		}
	case bc.KindLdc:
		if !ma.ldc(d, &n) {
			return
		}
	case bc.KindMultiANewArray:
		if !ma.arity(d, 2, 2, "an array descriptor and a dimension count") {
			return
		}
		n.Class = ma.nameArg(d, 0, "array descriptor")
		n.Operand = int(ma.intArg(d, 1, 1, 255))
		n.Index = pool.AddClass(n.Class)
	}
	g.Append(n)
	ma.insns++
}

// switchArgs reads "LOW L... default L" for tableswitch and
// "K L ... default L" for lookupswitch.
func (ma *methodAsm) switchArgs(d *Directive, n *bc.Node) bool {
	def := -1
	for i, arg := range d.Args {
		if arg.Name != nil && *arg.Name == "default" {
			def = i
		}
	}
	if def < 0 || def != len(d.Args)-2 {
		ma.errorf(diag.OperandCount(d.Name, "cases followed by 'default LABEL'", len(d.Args), d.Pos))
		return false
	}
	n.Target = ma.ref(d, def+1)
	if n.Kind == bc.KindTableSwitch {
		if def < 1 {
			ma.errorf(diag.OperandCount(d.Name, "a low key and targets", len(d.Args), d.Pos))
			return false
		}
		n.Low = int32(ma.intArg(d, 0, -1<<31, 1<<31-1))
		for i := 1; i < def; i++ {
			n.Targets = append(n.Targets, ma.ref(d, i))
		}
		return true
	}
	if def%2 != 0 {
		ma.errorf(diag.OperandCount(d.Name, "key and label pairs", def, d.Pos))
		return false
	}
	for i := 0; i < def; i += 2 {
		n.Keys = append(n.Keys, int32(ma.intArg(d, i, -1<<31, 1<<31-1)))
		n.Targets = append(n.Targets, ma.ref(d, i+1))
	}
	return true
}

// ldc interns the constant and picks the one or two slot form.
func (ma *methodAsm) ldc(d *Directive, n *bc.Node) bool {
	pool := ma.cf.Pool
	if len(d.Args) == 2 && d.Args[0].Name != nil && *d.Args[0].Name == "class" {
		n.ConstTag = classfile.TagClass
		n.Index = pool.AddClass(ma.nameArg(d, 1, "class name"))
		n.Op = bc.LDC
		return true
	}
	if !ma.arity(d, 1, 1, "one constant") {
		return false
	}
	arg := d.Args[0]
	switch {
	case arg.String != nil:
		s, err := strconv.Unquote(*arg.String)
		if err != nil {
			ma.errorf(diag.InvalidOperand(d.Name, *arg.String, "string constant", arg.Pos))
			return false
		}
		n.ConstTag = classfile.TagString
		n.Index = pool.AddString(s)
	case arg.Int != nil:
		text := *arg.Int
		if strings.HasSuffix(text, "l") || strings.HasSuffix(text, "L") {
			v, err := strconv.ParseInt(text[:len(text)-1], 0, 64)
			if err != nil {
				ma.errorf(diag.InvalidOperand(d.Name, text, "long constant", arg.Pos))
				return false
			}
			n.ConstTag = classfile.TagLong
			n.Index = pool.AddLong(v)
		} else {
			v, err := strconv.ParseInt(text, 0, 32)
			if err != nil {
				ma.errorf(diag.InvalidOperand(d.Name, text, "int constant", arg.Pos))
				return false
			}
			n.ConstTag = classfile.TagInteger
			n.Index = pool.AddInteger(int32(v))
		}
	case arg.Float != nil:
		text := *arg.Float
		single := strings.HasSuffix(text, "f") || strings.HasSuffix(text, "F")
		trimmed := strings.TrimRight(text, "fFdD")
		bits := 64
		if single {
			bits = 32
		}
		v, err := strconv.ParseFloat(trimmed, bits)
		if err != nil {
			ma.errorf(diag.InvalidOperand(d.Name, text, "floating point constant", arg.Pos))
			return false
		}
		if single {
			n.ConstTag = classfile.TagFloat
			n.Index = pool.AddFloat(float32(v))
		} else {
			n.ConstTag = classfile.TagDouble
			n.Index = pool.AddDouble(v)
		}
	default:
		ma.errorf(diag.InvalidOperand(d.Name, operandText(arg), "constant", arg.Pos))
		return false
	}
	n.Op = bc.LDC
	if n.LdcSize() == 2 {
		n.Op = bc.LDC2_W
	}
	return true
}

// arity checks the operand count; max < 0 means unbounded.
func (a *assembler) arity(d *Directive, min, max int, form string) bool {
	if len(d.Args) < min || (max >= 0 && len(d.Args) > max) {
		a.errorf(diag.OperandCount(d.Name, form, len(d.Args), d.Pos))
		return false
	}
	return true
}

func (a *assembler) intArg(d *Directive, i int, lo, hi int64) int64 {
	arg := d.Args[i]
	if arg.Int == nil {
		a.errorf(diag.InvalidOperand(d.Name, operandText(arg), "integer", arg.Pos))
		return 0
	}
	v, err := strconv.ParseInt(*arg.Int, 0, 64)
	if err != nil || v < lo || v > hi {
		a.errorf(diag.InvalidOperand(d.Name, *arg.Int, fmt.Sprintf("integer in [%d, %d]", lo, hi), arg.Pos))
		return 0
	}
	return v
}

func (a *assembler) nameArg(d *Directive, i int, what string) string {
	arg := d.Args[i]
	if arg.Name == nil {
		a.errorf(diag.InvalidOperand(d.Name, operandText(arg), what, arg.Pos))
		return ""
	}
	return *arg.Name
}

func operandText(o *Operand) string {
	switch {
	case o.String != nil:
		return *o.String
	case o.Float != nil:
		return *o.Float
	case o.Int != nil:
		return *o.Int
	case o.Name != nil:
		return *o.Name
	}
	return ""
}
