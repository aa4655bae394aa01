package tailrec

import bc "tailrec/internal/bytecode"

// rewriter turns tail calls of one method into jumps to its entry.
type rewriter struct {
	m     *bc.Method
	g     *bc.Graph
	entry bc.NodeID
}

func newRewriter(m *bc.Method) *rewriter {
	return &rewriter{m: m, g: m.Graph, entry: bc.NoNode}
}

// ensureEntry returns the label the loop jumps back to. An existing label
// before the first instruction is reused; otherwise one is prepended. When
// the method needs stack-map frames the label gets the implicit entry frame.
func (r *rewriter) ensureEntry() bc.NodeID {
	if r.entry != bc.NoNode {
		return r.entry
	}
	g := r.g
	label, frame := bc.NoNode, false
	for id := g.First(); id != bc.NoNode; id = g.Next(id) {
		n := g.Node(id)
		if n.Kind.IsInstruction() {
			break
		}
		switch n.Kind {
		case bc.KindLabel:
			if label == bc.NoNode {
				label = id
			}
		case bc.KindFrame:
			frame = true
		}
	}
	if label == bc.NoNode {
		label = g.Alloc(bc.Label())
		g.Prepend(label)
	}
	if r.m.UsesFrames && !frame {
		g.InsertAfter(label, g.Alloc(bc.FrameNode(r.m.Initial.Clone())))
	}
	r.entry = label
	return label
}

// rewrite replaces call with parameter stores and a jump to the entry.
func (r *rewriter) rewrite(call bc.NodeID) {
	g := r.g
	entry := r.ensureEntry()

	jump := g.Alloc(bc.Jump(bc.GOTO, entry))
	g.InsertBefore(call, jump)
	g.Remove(call)
	r.dropDead(jump)

	slot := r.m.Type.ArgSlots()
	if !r.m.IsStatic() {
		slot++
	}
	params := r.m.Type.Params
	for i := len(params) - 1; i >= 0; i-- {
		p := params[i]
		slot -= p.Size()
		g.InsertBefore(jump, g.Alloc(bc.Var(bc.StoreFor(p.Desc[0]), slot)))
	}
	if !r.m.IsStatic() {
		g.InsertBefore(jump, g.Alloc(bc.Var(bc.ASTORE, 0)))
	}
}

// dropDead removes the now unreachable instructions after the jump. A frame
// marks a possible branch target; without frames every label does.
func (r *rewriter) dropDead(jump bc.NodeID) {
	g := r.g
	for id := g.Next(jump); id != bc.NoNode; {
		next := g.Next(id)
		switch g.Node(id).Kind {
		case bc.KindFrame:
			return
		case bc.KindLabel:
			if !r.m.UsesFrames {
				return
			}
		case bc.KindLine:
		default:
			g.Remove(id)
		}
		id = next
	}
}
