package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ops(g *Graph) []string {
	var out []string
	for id := g.First(); id != NoNode; id = g.Next(id) {
		n := g.Node(id)
		if n.Kind.IsInstruction() {
			out = append(out, n.Op.String())
		} else {
			out = append(out, n.Kind.String())
		}
	}
	return out
}

func TestGraphLinking(t *testing.T) {
	g := NewGraph()
	a := g.Append(Insn(ICONST_0))
	c := g.Append(Insn(IRETURN))
	b := g.Alloc(Insn(ICONST_1))
	g.InsertBefore(c, b)
	assert.Equal(t, []string{"iconst_0", "iconst_1", "ireturn"}, ops(g))
	assert.Equal(t, 3, g.Len())

	l := g.Alloc(Label())
	g.Prepend(l)
	assert.Equal(t, l, g.First())
	assert.Equal(t, a, g.Next(l))
	assert.Equal(t, a, g.NextInstruction(l))

	d := g.Alloc(Insn(NOP))
	g.InsertAfter(c, d)
	assert.Equal(t, d, g.Last())

	g.Remove(b)
	assert.False(t, g.Linked(b))
	assert.Equal(t, c, g.Next(a))
	assert.Equal(t, a, g.Prev(c))

	// Removing twice is harmless.
	g.Remove(b)
	assert.Equal(t, 4, g.Len())

	g.Remove(l)
	g.Remove(d)
	assert.Equal(t, a, g.First())
	assert.Equal(t, c, g.Last())
	assert.Equal(t, []NodeID{a, c}, g.IDs())
}

func TestGraphRelinkRemovedNode(t *testing.T) {
	g := NewGraph()
	a := g.Append(Insn(NOP))
	b := g.Append(Insn(RETURN))
	g.Remove(a)
	g.InsertAfter(b, a)
	assert.Equal(t, []NodeID{b, a}, g.IDs())
}

func TestGraphPanicsOnDoubleLink(t *testing.T) {
	g := NewGraph()
	a := g.Append(Insn(NOP))
	require.Panics(t, func() { g.Link(a) })
}

func TestSuccessors(t *testing.T) {
	n := Node{Kind: KindTableSwitch, Op: TABLESWITCH, Target: 3, Targets: []NodeID{4, 5}}
	assert.Equal(t, []NodeID{3, 4, 5}, n.Successors())
	j := Jump(GOTO, 7)
	assert.Equal(t, []NodeID{7}, j.Successors())
	i := Insn(NOP)
	assert.Empty(t, i.Successors())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		op   Opcode
		kind Kind
		ok   bool
	}{
		{NOP, KindInsn, true},
		{IADD, KindInsn, true},
		{MONITOREXIT, KindInsn, true},
		{BIPUSH, KindInt, true},
		{NEWARRAY, KindInt, true},
		{LDC_W, KindLdc, true},
		{ALOAD, KindVar, true},
		{RET, KindVar, true},
		{IINC, KindIinc, true},
		{IF_ACMPNE, KindJump, true},
		{IFNONNULL, KindJump, true},
		{GOTO_W, KindJump, true},
		{TABLESWITCH, KindTableSwitch, true},
		{PUTFIELD, KindField, true},
		{INVOKEINTERFACE, KindMethod, true},
		{INVOKEDYNAMIC, KindInvokeDynamic, true},
		{CHECKCAST, KindType, true},
		{MULTIANEWARRAY, KindMultiANewArray, true},
		{ILOAD_0, 0, false},
		{WIDE, 0, false},
		{Opcode(0xca), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			kind, ok := KindOf(tt.op)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, kind)
			}
		})
	}
}

func TestOpcodeByName(t *testing.T) {
	op, ok := OpcodeByName("invokestatic")
	require.True(t, ok)
	assert.Equal(t, INVOKESTATIC, op)

	_, ok = OpcodeByName("iload_0")
	assert.False(t, ok)
}
