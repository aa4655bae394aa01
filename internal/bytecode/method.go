// Package bytecode converts JVM Code attributes to and from an editable
// instruction graph.
//
// Decoding normalizes instruction forms (short loads and stores, wide
// prefixes, ldc variants, goto_w) and expands stack-map frames so every
// frame node carries the complete local and stack types. Encoding lays the
// graph out again, choosing short or long forms as offsets require, and
// re-compresses frames.
package bytecode

import (
	"errors"

	"tailrec/internal/classfile"
)

var (
	// ErrNoCode is returned when decoding a method without a Code attribute.
	ErrNoCode = errors.New("method has no code")

	// ErrCodeTooLarge is returned when a graph cannot be encoded within the
	// class-file limits: code longer than 65535 bytes or a conditional
	// branch whose offset does not fit in 16 bits.
	ErrCodeTooLarge = errors.New("method code too large")

	// ErrInvalidGraph is returned when a graph references labels that are
	// no longer part of it, or otherwise cannot be represented.
	ErrInvalidGraph = errors.New("invalid instruction graph")
)

// TryCatch is an exception table entry. Type is the catch type's constant
// pool index, zero for a catch-all.
type TryCatch struct {
	Start, End, Handler NodeID
	Type                uint16
	TypeName            string
}

// LocalVar is a LocalVariableTable or LocalVariableTypeTable entry.
type LocalVar struct {
	Slot       int
	Start, End NodeID
	NameIndex  uint16
	DescIndex  uint16
	Name       string
	Desc       string
}

// Method is the decoded body of one method.
type Method struct {
	Owner      string
	Access     uint16
	Name       string
	Descriptor string
	Type       classfile.MethodType

	MaxStack  int
	MaxLocals int

	Graph         *Graph
	TryCatches    []TryCatch
	LocalVars     []LocalVar
	LocalVarTypes []LocalVar

	// Initial is the implicit frame at method entry.
	Initial *Frame
	// UsesFrames is set when the class version requires stack-map frames.
	UsesFrames bool
	// Dropped names the Code sub-attributes that are not carried through
	// re-encoding because they reference bytecode offsets this package
	// does not model.
	Dropped []string
}

// NewMethod returns an empty method body.
func NewMethod(owner string, access uint16, name, desc string, usesFrames bool) (*Method, error) {
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil, err
	}
	return &Method{
		Owner:      owner,
		Access:     access,
		Name:       name,
		Descriptor: desc,
		Type:       mt,
		Graph:      NewGraph(),
		Initial:    InitialFrame(owner, access, name, mt),
		UsesFrames: usesFrames,
	}, nil
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool {
	return m.Access&classfile.AccStatic != 0
}

// InTryBody reports, for every linked node, whether it lies strictly
// between the start and end labels of some exception table entry.
func (m *Method) InTryBody() map[NodeID]bool {
	body := make(map[NodeID]bool)
	g := m.Graph
	for _, tc := range m.TryCatches {
		if !g.Linked(tc.Start) {
			continue
		}
		for n := g.Next(tc.Start); n != NoNode && n != tc.End; n = g.Next(n) {
			body[n] = true
		}
	}
	return body
}
