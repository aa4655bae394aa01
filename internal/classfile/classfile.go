// Package classfile reads and writes the JVM class-file container.
//
// Only the parts the optimizer needs are decoded: the constant pool, the
// class header and the member tables. Attribute payloads are kept as raw
// bytes so that anything not rewritten serializes back byte-for-byte.
package classfile

import "errors"

// ErrMalformed is returned for byte sequences that are not a well-formed class file.
var ErrMalformed = errors.New("malformed class file")

// Magic is the class-file magic number.
const Magic = 0xCAFEBABE

// Access flags
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020
	AccSynchronized uint16 = 0x0020
	AccVolatile     uint16 = 0x0040
	AccBridge       uint16 = 0x0040
	AccTransient    uint16 = 0x0080
	AccVarargs      uint16 = 0x0080
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
)

// Major versions
const (
	V1_5 uint16 = 49
	V1_6 uint16 = 50
	V1_7 uint16 = 51
	V1_8 uint16 = 52
)

// Well-known attribute names
const (
	AttrCode                   = "Code"
	AttrStackMapTable          = "StackMapTable"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
)

// Attribute is an attribute with its name resolved and its payload kept raw.
type Attribute struct {
	NameIndex uint16
	Name      string
	Info      []byte
}

// Member is a field or method.
type Member struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Name            string
	Descriptor      string
	Attributes      []*Attribute
}

// Attribute returns the first attribute with the given name.
func (m *Member) Attribute(name string) *Attribute {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Is reports whether all of the given access flags are set.
func (m *Member) Is(flags uint16) bool {
	return m.AccessFlags&flags == flags
}

// ClassFile is a parsed class.
type ClassFile struct {
	Minor       uint16
	Major       uint16
	Pool        *ConstantPool
	AccessFlags uint16
	ThisClass   uint16
	SuperClass  uint16
	Interfaces  []uint16
	Fields      []*Member
	Methods     []*Member
	Attributes  []*Attribute

	// Name is the resolved internal name of ThisClass.
	Name string
}

// IsInterface reports whether the class is an interface.
func (c *ClassFile) IsInterface() bool {
	return c.AccessFlags&AccInterface != 0
}

// UsesFrames reports whether the class version requires StackMapTable frames.
func (c *ClassFile) UsesFrames() bool {
	return c.Major > V1_5
}

// Method returns the method with the given name and descriptor, if any.
func (c *ClassFile) Method(name, desc string) *Member {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// SuperName returns the internal name of the super class, or "" for java/lang/Object.
func (c *ClassFile) SuperName() string {
	if c.SuperClass == 0 {
		return ""
	}
	name, _ := c.Pool.ClassName(c.SuperClass)
	return name
}
