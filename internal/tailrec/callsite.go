package tailrec

import "tailrec/internal/bytecode"

// findCallSites returns the self-recursive calls of m in sequence order.
// Calls inside the protected range of an exception handler are skipped.
func findCallSites(m *bytecode.Method, classIsInterface bool) []bytecode.NodeID {
	g := m.Graph
	inTry := m.InTryBody()
	var out []bytecode.NodeID
	for id := g.First(); id != bytecode.NoNode; id = g.Next(id) {
		if inTry[id] {
			continue
		}
		if isSelfCall(m, g.Node(id), classIsInterface) {
			out = append(out, id)
		}
	}
	return out
}

func isSelfCall(m *bytecode.Method, n *bytecode.Node, classIsInterface bool) bool {
	if n.Kind != bytecode.KindMethod {
		return false
	}
	ref := n.Ref
	if ref.Owner != m.Owner || ref.Name != m.Name || ref.Desc != m.Descriptor {
		return false
	}
	if ref.Interface != classIsInterface {
		return false
	}
	return (n.Op == bytecode.INVOKESTATIC) == m.IsStatic()
}
