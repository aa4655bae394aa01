package bytecode

import (
	"fmt"
	"strings"

	"tailrec/internal/classfile"
)

// VTag is a verification type tag. The values match the item codes of the
// StackMapTable encoding.
type VTag uint8

const (
	VTop VTag = iota
	VInteger
	VFloat
	VDouble
	VLong
	VNull
	VUninitializedThis
	VObject
	VUninitialized
)

// VType is a verification type. Class is set for VObject, New (the label
// placed at the allocating new instruction) for VUninitialized.
type VType struct {
	Tag   VTag
	Class string
	New   NodeID
}

var (
	Top               = VType{Tag: VTop}
	Integer           = VType{Tag: VInteger}
	Float             = VType{Tag: VFloat}
	Double            = VType{Tag: VDouble}
	Long              = VType{Tag: VLong}
	Null              = VType{Tag: VNull}
	UninitializedThis = VType{Tag: VUninitializedThis}
)

// Object returns the verification type of a class or array reference.
func Object(class string) VType { return VType{Tag: VObject, Class: class} }

// Wide reports whether the type covers two local slots.
func (v VType) Wide() bool { return v.Tag == VLong || v.Tag == VDouble }

func (v VType) String() string {
	switch v.Tag {
	case VTop:
		return "T"
	case VInteger:
		return "I"
	case VFloat:
		return "F"
	case VDouble:
		return "D"
	case VLong:
		return "J"
	case VNull:
		return "null"
	case VUninitializedThis:
		return "uninit_this"
	case VObject:
		return v.Class
	case VUninitialized:
		return fmt.Sprintf("uninit(%d)", v.New)
	}
	return "?"
}

// Frame is an expanded stack-map frame: the complete local and stack types.
// Two-slot types appear once, as in the class-file encoding.
type Frame struct {
	Locals []VType
	Stack  []VType
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Locals: append([]VType(nil), f.Locals...),
		Stack:  append([]VType(nil), f.Stack...),
	}
}

// Equal reports whether both frames describe the same types.
func (f *Frame) Equal(o *Frame) bool {
	return typesEqual(f.Locals, o.Locals) && typesEqual(f.Stack, o.Stack)
}

// LocalSlots returns the number of local slots the frame's locals span.
func (f *Frame) LocalSlots() int { return slots(f.Locals) }

// StackSlots returns the operand stack depth the frame describes.
func (f *Frame) StackSlots() int { return slots(f.Stack) }

func slots(types []VType) int {
	n := 0
	for _, t := range types {
		n++
		if t.Wide() {
			n++
		}
	}
	return n
}

func (f *Frame) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, l := range f.Locals {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(l.String())
	}
	sb.WriteString("} {")
	for i, s := range f.Stack {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(s.String())
	}
	sb.WriteString("}")
	return sb.String()
}

func typesEqual(a, b []VType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FrameType returns the verification type a value of field type t has in a
// frame. Sub-int primitives widen to int.
func FrameType(t classfile.Type) (VType, bool) {
	switch t.Sort {
	case classfile.SortVoid:
		return VType{}, false
	case classfile.SortBoolean, classfile.SortByte, classfile.SortChar, classfile.SortShort, classfile.SortInt:
		return Integer, true
	case classfile.SortFloat:
		return Float, true
	case classfile.SortLong:
		return Long, true
	case classfile.SortDouble:
		return Double, true
	default:
		return Object(t.InternalName()), true
	}
}

// InitialFrame returns the implicit frame at method entry.
func InitialFrame(owner string, access uint16, name string, mt classfile.MethodType) *Frame {
	f := &Frame{}
	if access&classfile.AccStatic == 0 {
		if name == "<init>" && owner != "java/lang/Object" {
			f.Locals = append(f.Locals, UninitializedThis)
		} else {
			f.Locals = append(f.Locals, Object(owner))
		}
	}
	for _, p := range mt.Params {
		v, _ := FrameType(p)
		f.Locals = append(f.Locals, v)
	}
	return f
}
