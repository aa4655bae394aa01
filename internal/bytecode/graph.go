package bytecode

// Graph is the mutable instruction sequence of one method: an arena of
// nodes linked by index. Nodes are never freed; removing a node only
// unlinks it, so a NodeID stays valid for the lifetime of the graph.
type Graph struct {
	nodes       []Node
	first, last NodeID
	size        int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{first: NoNode, last: NoNode}
}

// Node returns the node with the given id. The pointer stays valid until
// the next call to Alloc.
func (g *Graph) Node(id NodeID) *Node { return &g.nodes[id] }

// First returns the first linked node, or NoNode.
func (g *Graph) First() NodeID { return g.first }

// Last returns the last linked node, or NoNode.
func (g *Graph) Last() NodeID { return g.last }

// Len returns the number of linked nodes.
func (g *Graph) Len() int { return g.size }

// Next returns the successor of id in sequence order.
func (g *Graph) Next(id NodeID) NodeID { return g.nodes[id].next }

// Prev returns the predecessor of id in sequence order.
func (g *Graph) Prev(id NodeID) NodeID { return g.nodes[id].prev }

// Linked reports whether id is currently part of the sequence.
func (g *Graph) Linked(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes) && g.nodes[id].linked
}

// Alloc adds n to the arena without linking it.
func (g *Graph) Alloc(n Node) NodeID {
	n.prev, n.next, n.linked = NoNode, NoNode, false
	g.nodes = append(g.nodes, n)
	return NodeID(len(g.nodes) - 1)
}

// Append allocates n and links it at the end.
func (g *Graph) Append(n Node) NodeID {
	id := g.Alloc(n)
	g.Link(id)
	return id
}

// Link appends an allocated, unlinked node at the end.
func (g *Graph) Link(id NodeID) {
	g.mustUnlinked(id)
	n := &g.nodes[id]
	n.prev, n.next, n.linked = g.last, NoNode, true
	if g.last == NoNode {
		g.first = id
	} else {
		g.nodes[g.last].next = id
	}
	g.last = id
	g.size++
}

// InsertBefore links the unlinked node id immediately before at.
func (g *Graph) InsertBefore(at, id NodeID) {
	g.mustLinked(at)
	g.mustUnlinked(id)
	n := &g.nodes[id]
	prev := g.nodes[at].prev
	n.prev, n.next, n.linked = prev, at, true
	g.nodes[at].prev = id
	if prev == NoNode {
		g.first = id
	} else {
		g.nodes[prev].next = id
	}
	g.size++
}

// InsertAfter links the unlinked node id immediately after at.
func (g *Graph) InsertAfter(at, id NodeID) {
	g.mustLinked(at)
	g.mustUnlinked(id)
	n := &g.nodes[id]
	next := g.nodes[at].next
	n.prev, n.next, n.linked = at, next, true
	g.nodes[at].next = id
	if next == NoNode {
		g.last = id
	} else {
		g.nodes[next].prev = id
	}
	g.size++
}

// Prepend links the unlinked node id at the start.
func (g *Graph) Prepend(id NodeID) {
	if g.first == NoNode {
		g.Link(id)
		return
	}
	g.InsertBefore(g.first, id)
}

// Remove unlinks id. Removing an unlinked node is a no-op.
func (g *Graph) Remove(id NodeID) {
	if !g.Linked(id) {
		return
	}
	n := &g.nodes[id]
	if n.prev == NoNode {
		g.first = n.next
	} else {
		g.nodes[n.prev].next = n.next
	}
	if n.next == NoNode {
		g.last = n.prev
	} else {
		g.nodes[n.next].prev = n.prev
	}
	n.prev, n.next, n.linked = NoNode, NoNode, false
	g.size--
}

// NextInstruction returns the first instruction node after id, skipping
// labels, frames and line markers.
func (g *Graph) NextInstruction(id NodeID) NodeID {
	for n := g.Next(id); n != NoNode; n = g.Next(n) {
		if g.nodes[n].Kind.IsInstruction() {
			return n
		}
	}
	return NoNode
}

// IDs returns the linked node ids in order.
func (g *Graph) IDs() []NodeID {
	out := make([]NodeID, 0, g.size)
	for id := g.first; id != NoNode; id = g.nodes[id].next {
		out = append(out, id)
	}
	return out
}

func (g *Graph) mustLinked(id NodeID) {
	if !g.Linked(id) {
		panic("bytecode: node is not linked")
	}
}

func (g *Graph) mustUnlinked(id NodeID) {
	if g.nodes[id].linked {
		panic("bytecode: node is already linked")
	}
}
