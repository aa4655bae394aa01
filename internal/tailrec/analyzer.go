package tailrec

import (
	"sort"
	"strconv"
	"strings"

	bc "tailrec/internal/bytecode"
)

// tag is the abstract value of a stack or local slot.
type tag uint8

const (
	tagUnknown tag = iota
	tagResult
)

// path is one pending branch of the analysis. The stack holds only the part
// of the operand stack pushed since the call; anything deeper is unknown.
type path struct {
	at     bc.NodeID
	stack  []tag
	locals map[int]bool
}

func (p *path) fork(at bc.NodeID) *path {
	locals := make(map[int]bool, len(p.locals))
	for k := range p.locals {
		locals[k] = true
	}
	return &path{at: at, stack: append([]tag(nil), p.stack...), locals: locals}
}

func (p *path) push(t tag, n int) {
	for ; n > 0; n-- {
		p.stack = append(p.stack, t)
	}
}

func (p *path) pop(n int) {
	if n > len(p.stack) {
		n = len(p.stack)
	}
	p.stack = p.stack[:len(p.stack)-n]
}

// top returns the tag i slots below the top.
func (p *path) top(i int) tag {
	if i >= len(p.stack) {
		return tagUnknown
	}
	return p.stack[len(p.stack)-1-i]
}

// deepen pads the bottom of the tracked stack with unknown values so at
// least n slots are tracked.
func (p *path) deepen(n int) {
	if len(p.stack) >= n {
		return
	}
	pad := make([]tag, n-len(p.stack), n)
	p.stack = append(pad, p.stack...)
}

func (p *path) local(slot int) tag {
	if p.locals[slot] {
		return tagResult
	}
	return tagUnknown
}

func (p *path) store(slot int, t tag) {
	if t == tagResult {
		p.locals[slot] = true
	} else {
		delete(p.locals, slot)
	}
}

// key identifies an analysis state at a label: the label, the result
// slots in ascending order, and the tracked stack.
func (p *path) key(label bc.NodeID) string {
	slots := make([]int, 0, len(p.locals))
	for s := range p.locals {
		slots = append(slots, s)
	}
	sort.Ints(slots)
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(label)))
	sb.WriteByte('|')
	for _, s := range slots {
		sb.WriteString(strconv.Itoa(s))
		sb.WriteByte(',')
	}
	sb.WriteByte('|')
	for _, t := range p.stack {
		sb.WriteByte('0' + byte(t))
	}
	return sb.String()
}

// analyzer decides whether a self-recursive call is in tail position: every
// path from the call must reach a return that returns the call's result
// unchanged (or a void return) without any effect that would be lost by
// jumping back to the method entry instead.
type analyzer struct {
	m        *bc.Method
	g        *bc.Graph
	ret      bc.VType
	retSize  int
	maxStack int
}

func newAnalyzer(m *bc.Method) *analyzer {
	a := &analyzer{
		m:        m,
		g:        m.Graph,
		retSize:  m.Type.Return.Size(),
		maxStack: m.MaxStack,
	}
	a.ret, _ = bc.FrameType(m.Type.Return)
	return a
}

// optimizable reports whether call is a tail call.
func (a *analyzer) optimizable(call bc.NodeID) bool {
	if !a.argsOnly(call) {
		return false
	}
	visited := make(map[string]struct{})
	start := &path{at: a.g.Next(call), locals: make(map[int]bool)}
	start.push(tagResult, a.retSize)

	work := []*path{start}
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		forks, ok := a.walk(p, visited)
		if !ok {
			return false
		}
		work = append(work, forks...)
	}
	return true
}

// argsOnly reports whether the operand stack at call holds nothing but the
// receiver and arguments. Anything below them would still be on the stack
// when the rewritten call jumps back to the method entry.
func (a *analyzer) argsOnly(call bc.NodeID) bool {
	depths, err := a.m.StackDepths()
	if err != nil {
		return false
	}
	d, ok := depths[call]
	want := a.m.Type.ArgSlots()
	if !a.m.IsStatic() {
		want++
	}
	return ok && d == want
}

// walk follows one path until it is accepted, rejected or hands over to
// its branch targets. Forked paths are returned for the worklist.
func (a *analyzer) walk(p *path, visited map[string]struct{}) ([]*path, bool) {
	var forks []*path
	for id := p.at; ; id = a.g.Next(id) {
		if id == bc.NoNode {
			// Fell off the end of the code.
			return nil, false
		}
		if len(p.stack) > a.maxStack+2 {
			return nil, false
		}
		n := a.g.Node(id)

		switch n.Kind {
		case bc.KindLine:

		case bc.KindLabel:
			k := p.key(id)
			if _, seen := visited[k]; seen {
				return forks, true
			}
			visited[k] = struct{}{}

		case bc.KindFrame:
			a.applyFrame(p, n.Frame)

		case bc.KindInsn:
			switch done, ok := a.insn(p, n.Op); {
			case !ok:
				return nil, false
			case done:
				return forks, true
			}

		case bc.KindInt:
			if n.Op == bc.NEWARRAY {
				p.pop(1)
			}
			p.push(tagUnknown, 1)

		case bc.KindLdc:
			p.push(tagUnknown, n.LdcSize())

		case bc.KindVar:
			if !a.variable(p, n) {
				return nil, false
			}

		case bc.KindIinc:
			p.store(n.Operand, tagUnknown)

		case bc.KindType:
			switch n.Op {
			case bc.NEW:
				p.push(tagUnknown, 1)
			case bc.ANEWARRAY, bc.INSTANCEOF:
				p.pop(1)
				p.push(tagUnknown, 1)
			case bc.CHECKCAST:
				// The tag survives the cast.
			default:
				return nil, false
			}

		case bc.KindField:
			switch n.Op {
			case bc.GETSTATIC:
				p.push(tagUnknown, fieldSize(n.Ref.Desc))
			case bc.GETFIELD:
				p.pop(1)
				p.push(tagUnknown, fieldSize(n.Ref.Desc))
			default:
				return nil, false
			}

		case bc.KindMultiANewArray:
			p.pop(n.Operand)
			p.push(tagUnknown, 1)

		case bc.KindJump:
			switch {
			case n.Op == bc.GOTO:
				// The target label records the state.
				return append(forks, p.fork(n.Target)), true
			case bc.IsConditional(n.Op):
				p.pop(bc.ConditionOperands(n.Op))
				forks = append(forks, p.fork(n.Target))
			default:
				return nil, false
			}

		case bc.KindTableSwitch, bc.KindLookupSwitch:
			p.pop(1)
			seen := make(map[bc.NodeID]bool)
			for _, t := range n.Successors() {
				if !seen[t] {
					seen[t] = true
					forks = append(forks, p.fork(t))
				}
			}
			return forks, true

		default:
			// Calls, invokedynamic and anything else with effects.
			return nil, false
		}
	}
}

// insn applies a zero-operand instruction. done is set when the path
// reaches an accepting return.
func (a *analyzer) insn(p *path, op bc.Opcode) (done, ok bool) {
	if e, found := droppable[op]; found {
		p.pop(e.pop)
		p.push(tagUnknown, e.push)
		return false, true
	}
	switch op {
	case bc.RETURN:
		return true, true
	case bc.IRETURN, bc.FRETURN, bc.ARETURN:
		return true, p.top(0) == tagResult
	case bc.LRETURN, bc.DRETURN:
		return true, p.top(0) == tagResult && p.top(1) == tagResult
	case bc.DUP:
		p.deepen(1)
		p.push(p.top(0), 1)
	case bc.DUP_X1:
		p.deepen(2)
		v1, v2 := p.top(0), p.top(1)
		p.pop(2)
		p.stack = append(p.stack, v1, v2, v1)
	case bc.DUP_X2:
		p.deepen(3)
		v1, v2, v3 := p.top(0), p.top(1), p.top(2)
		p.pop(3)
		p.stack = append(p.stack, v1, v3, v2, v1)
	case bc.DUP2:
		p.deepen(2)
		v1, v2 := p.top(0), p.top(1)
		p.stack = append(p.stack, v2, v1)
	case bc.DUP2_X1:
		p.deepen(3)
		v1, v2, v3 := p.top(0), p.top(1), p.top(2)
		p.pop(3)
		p.stack = append(p.stack, v2, v1, v3, v2, v1)
	case bc.DUP2_X2:
		p.deepen(4)
		v1, v2, v3, v4 := p.top(0), p.top(1), p.top(2), p.top(3)
		p.pop(4)
		p.stack = append(p.stack, v2, v1, v4, v3, v2, v1)
	case bc.SWAP:
		p.deepen(2)
		v1, v2 := p.top(0), p.top(1)
		p.pop(2)
		p.stack = append(p.stack, v1, v2)
	default:
		// athrow, array stores, monitors and unknown opcodes.
		return false, false
	}
	return false, true
}

func (a *analyzer) variable(p *path, n *bc.Node) bool {
	slot := n.Operand
	switch n.Op {
	case bc.ILOAD, bc.FLOAD, bc.ALOAD:
		p.push(p.local(slot), 1)
	case bc.LLOAD, bc.DLOAD:
		t := tagUnknown
		if p.local(slot) == tagResult && p.local(slot+1) == tagResult {
			t = tagResult
		}
		p.push(t, 2)
	case bc.ISTORE, bc.FSTORE, bc.ASTORE:
		t := p.top(0)
		p.pop(1)
		p.store(slot, t)
	case bc.LSTORE, bc.DSTORE:
		t := tagUnknown
		if p.top(0) == tagResult && p.top(1) == tagResult {
			t = tagResult
		}
		p.pop(2)
		p.store(slot, t)
		p.store(slot+1, t)
	default:
		// ret
		return false
	}
	return true
}

// applyFrame drops result tags from locals whose declared type is not the
// return type, and everything past the frame's locals.
func (a *analyzer) applyFrame(p *path, f *bc.Frame) {
	slot := 0
	for _, l := range f.Locals {
		if l != a.ret || a.retSize == 0 {
			delete(p.locals, slot)
			if l.Wide() {
				delete(p.locals, slot+1)
			}
		}
		slot++
		if l.Wide() {
			slot++
		}
	}
	for s := range p.locals {
		if s >= slot {
			delete(p.locals, s)
		}
	}
}
