package tailrec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bc "tailrec/internal/bytecode"
)

func run(t *testing.T, m *bc.Method) *MethodContext {
	t.Helper()
	ctx := &MethodContext{Method: m}
	require.True(t, NewPipeline().Run(ctx))
	return ctx
}

func TestRewriteStoresInstanceArguments(t *testing.T) {
	m := method(t, "private", "step", "(JI)J", "6 4", `
        iload 3
        ifne Recurse
        lload 1
        lreturn
    Recurse:
        frame locals demo/A long int stack
        aload 0
        lload 1
        iload 3
        iconst_1
        isub
        invokevirtual demo/A step (JI)J
        lreturn`)
	ctx := run(t, m)
	assert.Equal(t, 1, ctx.Rewritten)

	var tail []*bc.Node
	g := m.Graph
	for id := g.First(); id != bc.NoNode; id = g.Next(id) {
		if n := g.Node(id); n.Kind.IsInstruction() {
			tail = append(tail, n)
		}
	}
	require.GreaterOrEqual(t, len(tail), 4)
	tail = tail[len(tail)-4:]
	assert.Equal(t, bc.ISTORE, tail[0].Op)
	assert.Equal(t, 3, tail[0].Operand)
	assert.Equal(t, bc.LSTORE, tail[1].Op)
	assert.Equal(t, 1, tail[1].Operand)
	assert.Equal(t, bc.ASTORE, tail[2].Op)
	assert.Equal(t, 0, tail[2].Operand)
	assert.Equal(t, bc.GOTO, tail[3].Op)

	// The jump lands on the entry label, which carries the entry frame.
	entry := tail[3].Target
	assert.Equal(t, g.First(), entry)
	frame := g.Node(g.Next(entry))
	require.Equal(t, bc.KindFrame, frame.Kind)
	assert.True(t, frame.Frame.Equal(m.Initial))
	assert.Equal(t, []bc.VType{bc.Object("demo/A"), bc.Long, bc.Integer}, frame.Frame.Locals)
}

func TestRewriteReusesEntryLabel(t *testing.T) {
	m := method(t, "static", "f", "(I)V", "2 1", `
    Top:
        iload 0
        ifle Done
        iinc 0 -1
        goto Top
    Done:
        frame locals int stack
        iload 0
        invokestatic demo/A f (I)V
        return`)
	g := m.Graph
	top := g.First()
	require.Equal(t, bc.KindLabel, g.Node(top).Kind)

	run(t, m)
	assert.Equal(t, top, g.First(), "no second label is prepended")

	labels := 0
	for id := g.First(); id != bc.NoNode && !g.Node(id).Kind.IsInstruction(); id = g.Next(id) {
		if g.Node(id).Kind == bc.KindLabel {
			labels++
		}
	}
	assert.Equal(t, 1, labels)

	last := g.Node(g.Last())
	assert.Equal(t, bc.GOTO, last.Op)
	assert.Equal(t, top, last.Target)
}

func TestRewriteWithoutFrames(t *testing.T) {
	src := `class demo/B {
    version 49
    method f (I)V {
        flags static
        maxs 2 1
        iload 0
        ifeq Done
        iload 0
        iconst_1
        isub
        invokestatic demo/B f (I)V
        return
    Done:
        return
    }
}`
	m := decode(t, assemble(t, src), "f", "(I)V")
	require.False(t, m.UsesFrames)
	run(t, m)

	g := m.Graph
	for id := g.First(); id != bc.NoNode; id = g.Next(id) {
		assert.NotEqual(t, bc.KindFrame, g.Node(id).Kind)
	}
	// Dead code removal stops at the Done label.
	assert.Equal(t, []bc.Opcode{
		bc.ILOAD, bc.IFEQ, bc.ILOAD, bc.ICONST_1, bc.ISUB, bc.ISTORE, bc.GOTO, bc.RETURN,
	}, opcodes(m))
}

func TestDropDeadStopsAtFrame(t *testing.T) {
	m := method(t, "static", "f", "(I)I", "3 1", `
        iload 0
        invokestatic demo/A f (I)I
        dup
        pop
        ireturn
    Unused:
        iconst_0
        ireturn
    Kept:
        frame locals int stack
        iconst_1
        ireturn`)
	run(t, m)
	assert.Equal(t, []bc.Opcode{
		bc.ILOAD, bc.ISTORE, bc.GOTO, bc.ICONST_1, bc.IRETURN,
	}, opcodes(m))
}

func TestCleanupDropsEmptyScopes(t *testing.T) {
	m := method(t, "static", "f", "(I)I", "2 2", `
        local 0 n I Start End
        local 1 r I Result End
        localtype 1 r I Result End
    Start:
        line 3
        iload 0
        invokestatic demo/A f (I)I
        line 4
        istore 1
    Result:
        iload 1
        ireturn
    End:`)
	require.Len(t, m.LocalVars, 2)

	run(t, m)
	require.Len(t, m.LocalVars, 1)
	assert.Equal(t, "n", m.LocalVars[0].Name)
	assert.Empty(t, m.LocalVarTypes)

	lines := 0
	g := m.Graph
	for id := g.First(); id != bc.NoNode; id = g.Next(id) {
		if n := g.Node(id); n.Kind == bc.KindLine {
			lines++
			assert.Equal(t, 3, n.Operand, "the marker for removed code is gone")
		}
	}
	assert.Equal(t, 1, lines)
}

func TestCoversUnlinkedLabels(t *testing.T) {
	g := bc.NewGraph()
	start := g.Append(bc.Label())
	g.Append(bc.Insn(bc.NOP))
	end := g.Append(bc.Label())
	loose := g.Alloc(bc.Label())

	assert.True(t, covers(g, start, end))
	assert.False(t, covers(g, end, start))
	assert.False(t, covers(g, start, loose))
	assert.False(t, covers(g, loose, end))
}

type recordingPass struct {
	seen []int
}

func (r *recordingPass) Name() string        { return "Recorder" }
func (r *recordingPass) Description() string { return "Records the rewrite count" }
func (r *recordingPass) Apply(ctx *MethodContext) bool {
	r.seen = append(r.seen, ctx.Rewritten)
	return false
}

func TestPipelineRunsPassesInOrder(t *testing.T) {
	m := method(t, "static", "f", "(I)V", "1 1", `
        iload 0
        invokestatic demo/A f (I)V
        return`)
	rec := &recordingPass{}
	p := NewPipeline()
	p.AddPass(rec)

	ctx := &MethodContext{Method: m}
	assert.True(t, p.Run(ctx))
	assert.Equal(t, []int{1}, rec.seen)

	ctx = &MethodContext{Method: method(t, "static", "g", "()V", "0 0", "        return")}
	assert.False(t, p.Run(ctx))
	assert.Equal(t, []int{1, 0}, rec.seen)
}

func TestEligible(t *testing.T) {
	const (
		static       = 0x0008
		private      = 0x0002
		final        = 0x0010
		synchronized = 0x0020
		native       = 0x0100
		abstract     = 0x0400
	)
	tests := []struct {
		name   string
		access uint16
		method string
		iface  bool
		want   bool
	}{
		{"static", static, "f", false, true},
		{"static synchronized", static | synchronized, "f", false, true},
		{"private", private, "f", false, true},
		{"final", final, "f", false, true},
		{"overridable", 0, "f", false, false},
		{"final synchronized", final | synchronized, "f", false, false},
		{"interface default", 0, "f", true, true},
		{"abstract", abstract, "f", true, false},
		{"native", static | native, "f", false, false},
		{"constructor", private, "<init>", false, false},
		{"initializer", static, "<clinit>", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eligible(tt.access, tt.method, tt.iface))
		})
	}
}
