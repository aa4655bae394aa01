package bytecode

import "tailrec/internal/classfile"

// NodeID addresses a node in a Graph's arena.
type NodeID int32

// NoNode is the zero link.
const NoNode NodeID = -1

// Kind is the closed set of node variants.
type Kind uint8

const (
	KindLabel Kind = iota
	KindFrame
	KindLine
	KindInsn
	KindInt
	KindVar
	KindIinc
	KindType
	KindField
	KindMethod
	KindInvokeDynamic
	KindJump
	KindTableSwitch
	KindLookupSwitch
	KindLdc
	KindMultiANewArray
)

var kindNames = [...]string{
	KindLabel:          "label",
	KindFrame:          "frame",
	KindLine:           "line",
	KindInsn:           "insn",
	KindInt:            "int",
	KindVar:            "var",
	KindIinc:           "iinc",
	KindType:           "type",
	KindField:          "field",
	KindMethod:         "method",
	KindInvokeDynamic:  "invokedynamic",
	KindJump:           "jump",
	KindTableSwitch:    "tableswitch",
	KindLookupSwitch:   "lookupswitch",
	KindLdc:            "ldc",
	KindMultiANewArray: "multianewarray",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsInstruction reports whether nodes of this kind encode to bytecode.
// Labels, frames and line markers are metadata.
func (k Kind) IsInstruction() bool {
	return k >= KindInsn
}

// Node is one element of the instruction graph. Which operand fields are
// meaningful depends on Kind:
//
//	KindInt            Operand (bipush/sipush value, newarray type code)
//	KindVar            Operand (local slot)
//	KindIinc           Operand (local slot), Incr
//	KindLine           Operand (line number)
//	KindType           Index, Class
//	KindField          Index, Ref
//	KindMethod         Index, Ref
//	KindInvokeDynamic  Index, Desc
//	KindLdc            Index, ConstTag
//	KindMultiANewArray Index, Class, Operand (dimensions)
//	KindJump           Target
//	KindTableSwitch    Target (default), Low, Targets
//	KindLookupSwitch   Target (default), Keys, Targets
//	KindFrame          Frame
type Node struct {
	Kind     Kind
	Op       Opcode
	Operand  int
	Incr     int
	Index    uint16
	Class    string
	Desc     string
	Ref      classfile.MemberRef
	ConstTag uint8
	Target   NodeID
	Low      int32
	Keys     []int32
	Targets  []NodeID
	Frame    *Frame

	prev, next NodeID
	linked     bool
}

// Label returns a fresh label node.
func Label() Node { return Node{Kind: KindLabel} }

// Insn returns a zero-operand instruction node.
func Insn(op Opcode) Node { return Node{Kind: KindInsn, Op: op} }

// Var returns a local variable load/store node.
func Var(op Opcode, slot int) Node { return Node{Kind: KindVar, Op: op, Operand: slot} }

// Jump returns a branch node targeting the given label.
func Jump(op Opcode, target NodeID) Node { return Node{Kind: KindJump, Op: op, Target: target} }

// FrameNode returns a stack-map frame marker.
func FrameNode(f *Frame) Node { return Node{Kind: KindFrame, Frame: f} }

// LdcSize returns the number of stack slots an ldc of this node pushes.
func (n *Node) LdcSize() int {
	if n.ConstTag == classfile.TagLong || n.ConstTag == classfile.TagDouble {
		return 2
	}
	return 1
}

// Successors returns the label targets of a jump or switch node.
func (n *Node) Successors() []NodeID {
	switch n.Kind {
	case KindJump:
		return []NodeID{n.Target}
	case KindTableSwitch, KindLookupSwitch:
		out := make([]NodeID, 0, len(n.Targets)+1)
		out = append(out, n.Target)
		return append(out, n.Targets...)
	}
	return nil
}
