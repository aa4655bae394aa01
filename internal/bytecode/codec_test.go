package bytecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailrec/internal/classfile"
)

const owner = "demo/Sample"

func newClass() *classfile.ClassFile {
	return classfile.NewClass(classfile.V1_8, classfile.AccPublic|classfile.AccSuper, owner, "java/lang/Object")
}

func newStatic(t *testing.T, name, desc string) *Method {
	t.Helper()
	m, err := NewMethod(owner, classfile.AccPublic|classfile.AccStatic, name, desc, true)
	require.NoError(t, err)
	m.MaxStack, m.MaxLocals = 4, 4
	return m
}

// roundTrip encodes m into cf, serializes and re-parses the class, and
// decodes the method again.
func roundTrip(t *testing.T, cf *classfile.ClassFile, m *Method) (*Method, []byte) {
	t.Helper()
	info, err := m.Encode(cf.Pool)
	require.NoError(t, err)
	mem := cf.AddMethod(m.Access, m.Name, m.Descriptor)
	mem.SetAttribute(cf.NewAttribute(classfile.AttrCode, info))

	parsed, err := classfile.Parse(cf.Bytes())
	require.NoError(t, err)
	decoded, err := Decode(parsed, parsed.Method(m.Name, m.Descriptor))
	require.NoError(t, err)
	return decoded, info
}

// codeBytes extracts the bytecode array from a Code attribute payload.
func codeBytes(info []byte) []byte {
	r := classfile.NewReader(info)
	r.U2()
	r.U2()
	return r.Bytes(int(r.U4()))
}

// subAttribute returns the payload of a Code sub-attribute.
func subAttribute(t *testing.T, pool *classfile.ConstantPool, info []byte, name string) []byte {
	t.Helper()
	r := classfile.NewReader(info)
	r.U2()
	r.U2()
	r.Bytes(int(r.U4()))
	r.Bytes(8 * int(r.U2()))
	for n := int(r.U2()); n > 0; n-- {
		idx := r.U2()
		payload := r.Bytes(int(r.U4()))
		s, err := pool.Utf8(idx)
		require.NoError(t, err)
		if s == name {
			return payload
		}
	}
	require.NoError(t, r.Err)
	return nil
}

func TestRoundTripCountdown(t *testing.T) {
	cf := newClass()
	m := newStatic(t, "count", "(I)V")
	g := m.Graph
	self := cf.Pool.AddMember(classfile.TagMethodref, classfile.MemberRef{Owner: owner, Name: "count", Desc: "(I)V"})

	l1 := g.Alloc(Label())
	g.Append(Var(ILOAD, 0))
	g.Append(Jump(IFNE, l1))
	g.Append(Insn(RETURN))
	g.Link(l1)
	g.Append(FrameNode(&Frame{Locals: []VType{Integer}}))
	g.Append(Var(ILOAD, 0))
	g.Append(Insn(ICONST_1))
	g.Append(Insn(ISUB))
	g.Append(Node{Kind: KindMethod, Op: INVOKESTATIC, Index: self})
	g.Append(Insn(RETURN))

	decoded, info := roundTrip(t, cf, m)

	assert.Equal(t, []byte{0x1a, 0x9a, 0x00, 0x04, 0xb1, 0x1a, 0x04, 0x64, 0xb8, byte(self >> 8), byte(self), 0xb1}, codeBytes(info))
	assert.Equal(t, []byte{0x00, 0x01, 0x05}, subAttribute(t, cf.Pool, info, classfile.AttrStackMapTable))

	assert.Equal(t, []string{"iload", "ifne", "return", "label", "frame", "iload", "iconst_1", "isub", "invokestatic", "return"}, ops(decoded.Graph))

	var call *Node
	var jump *Node
	for id := decoded.Graph.First(); id != NoNode; id = decoded.Graph.Next(id) {
		n := decoded.Graph.Node(id)
		switch n.Kind {
		case KindMethod:
			call = n
		case KindJump:
			jump = n
		}
	}
	require.NotNil(t, call)
	assert.Equal(t, classfile.MemberRef{Owner: owner, Name: "count", Desc: "(I)V"}, call.Ref)
	require.NotNil(t, jump)
	assert.Equal(t, KindLabel, decoded.Graph.Node(jump.Target).Kind)
	assert.Equal(t, KindFrame, decoded.Graph.Node(decoded.Graph.Next(jump.Target)).Kind)
}

func TestGotoPromotedToWide(t *testing.T) {
	cf := newClass()
	m := newStatic(t, "far", "()V")
	g := m.Graph
	target := g.Alloc(Label())
	g.Append(Jump(GOTO, target))
	for i := 0; i < 33000; i++ {
		g.Append(Insn(NOP))
	}
	g.Link(target)
	g.Append(Insn(RETURN))

	decoded, info := roundTrip(t, cf, m)
	code := codeBytes(info)
	assert.Equal(t, byte(GOTO_W), code[0])
	assert.Len(t, code, 5+33000+1)

	first := decoded.Graph.Node(decoded.Graph.First())
	assert.Equal(t, GOTO, first.Op)
}

func TestConditionalBranchTooFar(t *testing.T) {
	cf := newClass()
	m := newStatic(t, "far", "(I)V")
	g := m.Graph
	target := g.Alloc(Label())
	g.Append(Var(ILOAD, 0))
	g.Append(Jump(IFEQ, target))
	for i := 0; i < 33000; i++ {
		g.Append(Insn(NOP))
	}
	g.Link(target)
	g.Append(Insn(RETURN))

	_, err := m.Encode(cf.Pool)
	assert.True(t, errors.Is(err, ErrCodeTooLarge))
}

func TestSwitchPaddingAndWideForms(t *testing.T) {
	cf := newClass()
	m := newStatic(t, "sw", "(I)V")
	m.MaxLocals = 400
	g := m.Graph
	a, b, dflt := g.Alloc(Label()), g.Alloc(Label()), g.Alloc(Label())
	g.Append(Var(ILOAD, 0))
	g.Append(Node{Kind: KindTableSwitch, Op: TABLESWITCH, Low: 1, Target: dflt, Targets: []NodeID{a, b}})
	g.Link(a)
	g.Append(Node{Kind: KindIinc, Op: IINC, Operand: 300, Incr: 1000})
	g.Link(b)
	g.Append(Var(ILOAD, 300))
	g.Append(Node{Kind: KindLookupSwitch, Op: LOOKUPSWITCH, Target: dflt, Keys: []int32{-5, 70000}, Targets: []NodeID{a, b}})
	g.Link(dflt)
	g.Append(Insn(RETURN))
	m.UsesFrames = false

	decoded, info := roundTrip(t, cf, m)
	code := codeBytes(info)
	// iload_0 at 0, tableswitch at 1 padded by 2 bytes.
	assert.Equal(t, byte(TABLESWITCH), code[1])
	assert.Equal(t, []byte{0, 0}, code[2:4])

	assert.Equal(t, []string{"iload", "tableswitch", "label", "iinc", "label", "iload", "lookupswitch", "label", "return"}, ops(decoded.Graph))
	var table, lookup *Node
	for id := decoded.Graph.First(); id != NoNode; id = decoded.Graph.Next(id) {
		n := decoded.Graph.Node(id)
		switch n.Kind {
		case KindTableSwitch:
			table = n
		case KindLookupSwitch:
			lookup = n
		case KindIinc:
			assert.Equal(t, 300, n.Operand)
			assert.Equal(t, 1000, n.Incr)
		case KindVar:
			if n.Operand != 0 {
				assert.Equal(t, 300, n.Operand)
			}
		}
	}
	require.NotNil(t, table)
	require.NotNil(t, lookup)
	assert.Equal(t, int32(1), table.Low)
	assert.Len(t, table.Targets, 2)
	assert.Equal(t, []int32{-5, 70000}, lookup.Keys)
	assert.Equal(t, table.Targets, lookup.Targets)
	assert.Equal(t, table.Target, lookup.Target)
}

func TestFrameCompression(t *testing.T) {
	cf := newClass()
	m := newStatic(t, "frames", "(I)V")
	g := m.Graph
	frames := []*Frame{
		{Locals: []VType{Integer, Integer}},
		{Locals: []VType{Integer, Integer, Long}},
		{Locals: []VType{Integer}},
		{Locals: []VType{Integer}, Stack: []VType{Object(owner)}},
		{Locals: []VType{Integer, Float}, Stack: []VType{Integer}},
	}
	g.Append(Insn(NOP))
	for _, f := range frames {
		g.Append(Label())
		g.Append(FrameNode(f))
		g.Append(Insn(NOP))
	}
	g.Append(Insn(RETURN))

	decoded, info := roundTrip(t, cf, m)

	cls := cf.Pool.AddClass(owner)
	want := []byte{
		0, 5,
		252, 0, 1, 1, // append I
		252, 0, 0, 4, // append J
		249, 0, 0, // chop 2
		64, 7, byte(cls >> 8), byte(cls), // same locals, one stack item
		255, 0, 0, 0, 2, 1, 2, 0, 1, 1, // full
	}
	assert.Equal(t, want, subAttribute(t, cf.Pool, info, classfile.AttrStackMapTable))

	var got []*Frame
	for id := decoded.Graph.First(); id != NoNode; id = decoded.Graph.Next(id) {
		if n := decoded.Graph.Node(id); n.Kind == KindFrame {
			got = append(got, n.Frame)
		}
	}
	require.Len(t, got, len(frames))
	for i := range frames {
		assert.True(t, frames[i].Equal(got[i]), "frame %d: %s != %s", i, frames[i], got[i])
	}
}

func TestEncodeDropsEmptyRanges(t *testing.T) {
	cf := newClass()
	m := newStatic(t, "ranges", "()V")
	g := m.Graph
	start := g.Append(Label())
	end := g.Append(Label())
	g.Append(Node{Kind: KindLine, Operand: 7})
	g.Append(Insn(RETURN))
	handler := g.Append(Label())
	g.Append(Node{Kind: KindLine, Operand: 8})
	m.TryCatches = []TryCatch{{Start: start, End: end, Handler: handler}}
	m.LocalVars = []LocalVar{
		{Slot: 0, Start: start, End: end, NameIndex: cf.Pool.AddUtf8("x"), DescIndex: cf.Pool.AddUtf8("I")},
		{Slot: 0, Start: start, End: handler, NameIndex: cf.Pool.AddUtf8("y"), DescIndex: cf.Pool.AddUtf8("I")},
	}

	decoded, info := roundTrip(t, cf, m)
	assert.Empty(t, decoded.TryCatches)
	require.Len(t, decoded.LocalVars, 1)
	assert.Equal(t, "y", decoded.LocalVars[0].Name)

	// Only the line that starts an instruction survives.
	assert.Equal(t, []byte{0, 1, 0, 0, 0, 7}, subAttribute(t, cf.Pool, info, classfile.AttrLineNumberTable))
}

func TestDecodeRejectsJumpIntoInstruction(t *testing.T) {
	cf := newClass()
	code := []byte{
		0x11, 0x00, 0x01, // sipush 1
		0xa7, 0xff, 0xfe, // goto -2 (middle of sipush)
	}
	w := classfile.NewWriter(32)
	w.U2(1)
	w.U2(1)
	w.U4(uint32(len(code)))
	w.Raw(code)
	w.U2(0)
	w.U2(0)
	mem := cf.AddMethod(classfile.AccStatic, "bad", "()V")
	mem.SetAttribute(cf.NewAttribute(classfile.AttrCode, w.Bytes()))

	_, err := Decode(cf, mem)
	require.Error(t, err)
	assert.True(t, errors.Is(err, classfile.ErrMalformed))
}

func TestDecodeNormalizesShortForms(t *testing.T) {
	cf := newClass()
	str := cf.Pool.AddString("hi")
	long := cf.Pool.AddLong(1 << 40)
	code := []byte{
		0x2b,                          // aload_1
		0x13, byte(str >> 8), byte(str), // ldc_w "hi"
		0x14, byte(long >> 8), byte(long), // ldc2_w
		0x58,             // pop2
		0x57,             // pop
		0xc4, 0x36, 0x01, 0x2c, // wide istore 300
		0x4d, // astore_2
		0xb1, // return
	}
	w := classfile.NewWriter(32)
	w.U2(4)
	w.U2(301)
	w.U4(uint32(len(code)))
	w.Raw(code)
	w.U2(0)
	w.U2(0)
	mem := cf.AddMethod(classfile.AccStatic, "forms", "()V")
	mem.SetAttribute(cf.NewAttribute(classfile.AttrCode, w.Bytes()))

	m, err := Decode(cf, mem)
	require.NoError(t, err)
	var got []Node
	for id := m.Graph.First(); id != NoNode; id = m.Graph.Next(id) {
		got = append(got, *m.Graph.Node(id))
	}
	require.Len(t, got, 8)
	assert.Equal(t, ALOAD, got[0].Op)
	assert.Equal(t, 1, got[0].Operand)
	assert.Equal(t, LDC, got[1].Op)
	assert.Equal(t, classfile.TagString, got[1].ConstTag)
	assert.Equal(t, LDC2_W, got[2].Op)
	assert.Equal(t, 2, got[2].LdcSize())
	assert.Equal(t, ISTORE, got[5].Op)
	assert.Equal(t, 300, got[5].Operand)
	assert.Equal(t, ASTORE, got[6].Op)
	assert.Equal(t, 2, got[6].Operand)
}

func TestInitialFrame(t *testing.T) {
	mt, err := classfile.ParseMethodDescriptor("(JLjava/lang/String;[IZ)V")
	require.NoError(t, err)

	f := InitialFrame(owner, classfile.AccPrivate, "run", mt)
	assert.Equal(t, []VType{Object(owner), Long, Object("java/lang/String"), Object("[I"), Integer}, f.Locals)
	assert.Equal(t, 6, f.LocalSlots())

	ctor := InitialFrame(owner, 0, "<init>", mt)
	assert.Equal(t, UninitializedThis, ctor.Locals[0])

	static := InitialFrame(owner, classfile.AccStatic, "run", mt)
	assert.Equal(t, Long, static.Locals[0])
}
