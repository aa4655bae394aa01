package tailrec

import bc "tailrec/internal/bytecode"

// cleanupScopes removes metadata that lost its code after a rewrite:
// variable scopes and exception regions that no longer cover an
// instruction, and line markers with nothing after them.
func cleanupScopes(m *bc.Method) {
	g := m.Graph

	m.LocalVars = keepScopes(g, m.LocalVars)
	m.LocalVarTypes = keepScopes(g, m.LocalVarTypes)

	tcs := m.TryCatches[:0]
	for _, tc := range m.TryCatches {
		if covers(g, tc.Start, tc.End) {
			tcs = append(tcs, tc)
		}
	}
	m.TryCatches = tcs

	for id := g.First(); id != bc.NoNode; {
		next := g.Next(id)
		if g.Node(id).Kind == bc.KindLine && g.NextInstruction(id) == bc.NoNode {
			g.Remove(id)
		}
		id = next
	}
}

func keepScopes(g *bc.Graph, vars []bc.LocalVar) []bc.LocalVar {
	out := vars[:0]
	for _, v := range vars {
		if covers(g, v.Start, v.End) {
			out = append(out, v)
		}
	}
	return out
}

// covers reports whether an instruction lies between the labels start and
// end. A range whose start was removed covers nothing.
func covers(g *bc.Graph, start, end bc.NodeID) bool {
	if !g.Linked(start) || !g.Linked(end) {
		return false
	}
	for id := g.Next(start); id != bc.NoNode && id != end; id = g.Next(id) {
		if g.Node(id).Kind.IsInstruction() {
			return true
		}
	}
	return false
}
