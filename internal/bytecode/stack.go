package bytecode

import (
	"errors"
	"fmt"

	"tailrec/internal/classfile"
)

// ErrStackDepth is returned when the operand stack depth of a method cannot
// be determined: subroutines, an underflow, or two paths reaching the same
// node with different depths.
var ErrStackDepth = errors.New("operand stack depth undetermined")

// slotEffect is the number of stack slots an instruction pops and pushes.
type slotEffect struct {
	pop, push int
}

// insnEffects covers every zero-operand instruction.
var insnEffects = map[Opcode]slotEffect{
	NOP: {0, 0},

	ACONST_NULL: {0, 1}, ICONST_M1: {0, 1}, ICONST_0: {0, 1}, ICONST_1: {0, 1}, ICONST_2: {0, 1},
	ICONST_3: {0, 1}, ICONST_4: {0, 1}, ICONST_5: {0, 1},
	FCONST_0: {0, 1}, FCONST_1: {0, 1}, FCONST_2: {0, 1},
	LCONST_0: {0, 2}, LCONST_1: {0, 2}, DCONST_0: {0, 2}, DCONST_1: {0, 2},

	IALOAD: {2, 1}, FALOAD: {2, 1}, AALOAD: {2, 1}, BALOAD: {2, 1}, CALOAD: {2, 1}, SALOAD: {2, 1},
	LALOAD: {2, 2}, DALOAD: {2, 2},
	IASTORE: {3, 0}, FASTORE: {3, 0}, AASTORE: {3, 0}, BASTORE: {3, 0}, CASTORE: {3, 0}, SASTORE: {3, 0},
	LASTORE: {4, 0}, DASTORE: {4, 0},

	POP: {1, 0}, POP2: {2, 0},
	DUP: {1, 2}, DUP_X1: {2, 3}, DUP_X2: {3, 4},
	DUP2: {2, 4}, DUP2_X1: {3, 5}, DUP2_X2: {4, 6},
	SWAP: {2, 2},

	IADD: {2, 1}, ISUB: {2, 1}, IMUL: {2, 1}, IDIV: {2, 1}, IREM: {2, 1},
	FADD: {2, 1}, FSUB: {2, 1}, FMUL: {2, 1}, FDIV: {2, 1}, FREM: {2, 1},
	LADD: {4, 2}, LSUB: {4, 2}, LMUL: {4, 2}, LDIV: {4, 2}, LREM: {4, 2},
	DADD: {4, 2}, DSUB: {4, 2}, DMUL: {4, 2}, DDIV: {4, 2}, DREM: {4, 2},
	INEG: {1, 1}, FNEG: {1, 1}, LNEG: {2, 2}, DNEG: {2, 2},
	ISHL: {2, 1}, ISHR: {2, 1}, IUSHR: {2, 1},
	LSHL: {3, 2}, LSHR: {3, 2}, LUSHR: {3, 2},
	IAND: {2, 1}, IOR: {2, 1}, IXOR: {2, 1},
	LAND: {4, 2}, LOR: {4, 2}, LXOR: {4, 2},

	I2L: {1, 2}, I2F: {1, 1}, I2D: {1, 2},
	L2I: {2, 1}, L2F: {2, 1}, L2D: {2, 2},
	F2I: {1, 1}, F2L: {1, 2}, F2D: {1, 2},
	D2I: {2, 1}, D2L: {2, 2}, D2F: {2, 1},
	I2B: {1, 1}, I2C: {1, 1}, I2S: {1, 1},

	LCMP: {4, 1}, FCMPL: {2, 1}, FCMPG: {2, 1}, DCMPL: {4, 1}, DCMPG: {4, 1},

	IRETURN: {1, 0}, FRETURN: {1, 0}, ARETURN: {1, 0},
	LRETURN: {2, 0}, DRETURN: {2, 0}, RETURN: {0, 0},

	ARRAYLENGTH: {1, 1}, ATHROW: {1, 0}, MONITORENTER: {1, 0}, MONITOREXIT: {1, 0},
}

// stackEffect returns the slots n pops and pushes when it executes.
func (n *Node) stackEffect() (slotEffect, error) {
	switch n.Kind {
	case KindLabel, KindFrame, KindLine, KindIinc:
		return slotEffect{}, nil
	case KindInsn:
		if e, ok := insnEffects[n.Op]; ok {
			return e, nil
		}
	case KindInt:
		if n.Op == NEWARRAY {
			return slotEffect{1, 1}, nil
		}
		return slotEffect{0, 1}, nil
	case KindLdc:
		return slotEffect{0, n.LdcSize()}, nil
	case KindVar:
		if n.Op == RET {
			break
		}
		size := 1
		if IsWideVar(n.Op) {
			size = 2
		}
		if IsStore(n.Op) {
			return slotEffect{size, 0}, nil
		}
		return slotEffect{0, size}, nil
	case KindType:
		if n.Op == NEW {
			return slotEffect{0, 1}, nil
		}
		return slotEffect{1, 1}, nil
	case KindField:
		size := 1
		if n.Ref.Desc == "J" || n.Ref.Desc == "D" {
			size = 2
		}
		switch n.Op {
		case GETSTATIC:
			return slotEffect{0, size}, nil
		case PUTSTATIC:
			return slotEffect{size, 0}, nil
		case GETFIELD:
			return slotEffect{1, size}, nil
		case PUTFIELD:
			return slotEffect{1 + size, 0}, nil
		}
	case KindMethod, KindInvokeDynamic:
		desc := n.Ref.Desc
		if n.Kind == KindInvokeDynamic {
			desc = n.Desc
		}
		mt, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			return slotEffect{}, err
		}
		pop := mt.ArgSlots()
		if n.Op != INVOKESTATIC && n.Op != INVOKEDYNAMIC {
			pop++
		}
		return slotEffect{pop, mt.Return.Size()}, nil
	case KindJump:
		switch {
		case n.Op == GOTO || n.Op == GOTO_W:
			return slotEffect{}, nil
		case IsConditional(n.Op):
			return slotEffect{ConditionOperands(n.Op), 0}, nil
		}
	case KindTableSwitch, KindLookupSwitch:
		return slotEffect{1, 0}, nil
	case KindMultiANewArray:
		return slotEffect{n.Operand, 1}, nil
	}
	return slotEffect{}, fmt.Errorf("%w: %s %s", ErrStackDepth, n.Kind, n.Op)
}

// endsFlow reports whether control never falls through n.
func (n *Node) endsFlow() bool {
	switch n.Kind {
	case KindInsn:
		return IsReturn(n.Op) || n.Op == ATHROW
	case KindJump:
		return n.Op == GOTO || n.Op == GOTO_W
	case KindTableSwitch, KindLookupSwitch:
		return true
	}
	return false
}

// StackDepths returns the operand stack depth, in slots, on entry to every
// node reachable from the method entry or an exception handler. Handlers
// start with the caught exception on the stack.
func (m *Method) StackDepths() (map[NodeID]int, error) {
	type entry struct {
		at    NodeID
		depth int
	}
	g := m.Graph
	work := []entry{{g.First(), 0}}
	for _, tc := range m.TryCatches {
		if g.Linked(tc.Handler) {
			work = append(work, entry{tc.Handler, 1})
		}
	}

	depths := make(map[NodeID]int)
	for len(work) > 0 {
		e := work[len(work)-1]
		work = work[:len(work)-1]
		d := e.depth
		for id := e.at; id != NoNode; id = g.Next(id) {
			if seen, ok := depths[id]; ok {
				if seen != d {
					return nil, fmt.Errorf("%w: %d and %d slots meet at node %d", ErrStackDepth, seen, d, id)
				}
				break
			}
			depths[id] = d

			n := g.Node(id)
			eff, err := n.stackEffect()
			if err != nil {
				return nil, err
			}
			if d < eff.pop {
				return nil, fmt.Errorf("%w: %s at node %d pops %d of %d slots", ErrStackDepth, n.Op, id, eff.pop, d)
			}
			d += eff.push - eff.pop
			for _, t := range n.Successors() {
				work = append(work, entry{t, d})
			}
			if n.endsFlow() {
				break
			}
		}
	}
	return depths, nil
}
