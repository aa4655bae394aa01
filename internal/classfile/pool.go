package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Constant pool tags
const (
	TagUtf8               uint8 = 1
	TagInteger            uint8 = 3
	TagFloat              uint8 = 4
	TagLong               uint8 = 5
	TagDouble             uint8 = 6
	TagClass              uint8 = 7
	TagString             uint8 = 8
	TagFieldref           uint8 = 9
	TagMethodref          uint8 = 10
	TagInterfaceMethodref uint8 = 11
	TagNameAndType        uint8 = 12
	TagMethodHandle       uint8 = 15
	TagMethodType         uint8 = 16
	TagDynamic            uint8 = 17
	TagInvokeDynamic      uint8 = 18
	TagModule             uint8 = 19
	TagPackage            uint8 = 20
)

// Constant is a single constant pool entry. Data holds the raw bytes that
// follow the tag, so unchanged entries serialize back exactly.
type Constant struct {
	Tag  uint8
	Data []byte
}

// Wide reports whether the entry occupies two pool slots.
func (c *Constant) Wide() bool {
	return c.Tag == TagLong || c.Tag == TagDouble
}

// ConstantPool is the indexed constant pool of a class. Index 0 and the
// second slot of long/double entries hold nil.
type ConstantPool struct {
	entries []*Constant
	utf8    map[string]uint16
	classes map[string]uint16
}

// NewConstantPool returns an empty pool containing only the unusable slot 0.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: []*Constant{nil}}
}

// Count returns the constant_pool_count value (number of slots plus one).
func (p *ConstantPool) Count() int {
	return len(p.entries)
}

// Get returns the entry at index i, or nil when the slot is unusable.
func (p *ConstantPool) Get(i uint16) *Constant {
	if int(i) >= len(p.entries) {
		return nil
	}
	return p.entries[i]
}

func (p *ConstantPool) entry(i uint16, tag uint8) (*Constant, error) {
	c := p.Get(i)
	if c == nil {
		return nil, fmt.Errorf("%w: constant pool index %d out of range", ErrMalformed, i)
	}
	if c.Tag != tag {
		return nil, fmt.Errorf("%w: constant pool index %d has tag %d, want %d", ErrMalformed, i, c.Tag, tag)
	}
	return c, nil
}

func (p *ConstantPool) u16(c *Constant, at int) uint16 {
	return binary.BigEndian.Uint16(c.Data[at:])
}

// Utf8 returns the decoded string of a CONSTANT_Utf8 entry.
func (p *ConstantPool) Utf8(i uint16) (string, error) {
	c, err := p.entry(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return decodeModifiedUTF8(c.Data[2:])
}

// ClassName returns the internal name referenced by a CONSTANT_Class entry.
func (p *ConstantPool) ClassName(i uint16) (string, error) {
	c, err := p.entry(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(p.u16(c, 0))
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (p *ConstantPool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.entry(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(p.u16(c, 0)); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(p.u16(c, 2)); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef describes a resolved field, method or interface method reference.
type MemberRef struct {
	Owner     string
	Name      string
	Desc      string
	Interface bool
}

// Member resolves a Fieldref, Methodref or InterfaceMethodref entry.
func (p *ConstantPool) Member(i uint16) (MemberRef, error) {
	c := p.Get(i)
	if c == nil {
		return MemberRef{}, fmt.Errorf("%w: constant pool index %d out of range", ErrMalformed, i)
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return MemberRef{}, fmt.Errorf("%w: constant pool index %d is not a member reference", ErrMalformed, i)
	}
	owner, err := p.ClassName(p.u16(c, 0))
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.NameAndType(p.u16(c, 2))
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Owner: owner, Name: name, Desc: desc, Interface: c.Tag == TagInterfaceMethodref}, nil
}

// InvokeDynamicDesc returns the descriptor of a CONSTANT_InvokeDynamic entry.
func (p *ConstantPool) InvokeDynamicDesc(i uint16) (string, error) {
	c, err := p.entry(i, TagInvokeDynamic)
	if err != nil {
		return "", err
	}
	_, desc, err := p.NameAndType(p.u16(c, 2))
	return desc, err
}

// IntegerValue returns the value of a CONSTANT_Integer entry.
func (p *ConstantPool) IntegerValue(i uint16) (int32, error) {
	c, err := p.entry(i, TagInteger)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(c.Data)), nil
}

// LongValue returns the value of a CONSTANT_Long entry.
func (p *ConstantPool) LongValue(i uint16) (int64, error) {
	c, err := p.entry(i, TagLong)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(c.Data)), nil
}

// FloatValue returns the value of a CONSTANT_Float entry.
func (p *ConstantPool) FloatValue(i uint16) (float32, error) {
	c, err := p.entry(i, TagFloat)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(c.Data)), nil
}

// DoubleValue returns the value of a CONSTANT_Double entry.
func (p *ConstantPool) DoubleValue(i uint16) (float64, error) {
	c, err := p.entry(i, TagDouble)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(c.Data)), nil
}

// StringValue returns the text of a CONSTANT_String entry.
func (p *ConstantPool) StringValue(i uint16) (string, error) {
	c, err := p.entry(i, TagString)
	if err != nil {
		return "", err
	}
	return p.Utf8(p.u16(c, 0))
}

// add appends an entry and returns its index.
func (p *ConstantPool) add(c *Constant) uint16 {
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if c.Wide() {
		p.entries = append(p.entries, nil)
	}
	return idx
}

func (p *ConstantPool) index() {
	if p.utf8 != nil {
		return
	}
	p.utf8 = make(map[string]uint16)
	p.classes = make(map[string]uint16)
	for i, c := range p.entries {
		if c == nil || c.Tag != TagUtf8 {
			continue
		}
		if _, ok := p.utf8[string(c.Data[2:])]; !ok {
			p.utf8[string(c.Data[2:])] = uint16(i)
		}
	}
	for i, c := range p.entries {
		if c == nil || c.Tag != TagClass {
			continue
		}
		nameIdx := p.u16(c, 0)
		if n := p.Get(nameIdx); n != nil && n.Tag == TagUtf8 {
			if _, ok := p.classes[string(n.Data[2:])]; !ok {
				p.classes[string(n.Data[2:])] = uint16(i)
			}
		}
	}
}

// FindUtf8 returns the index of an existing Utf8 entry equal to s.
func (p *ConstantPool) FindUtf8(s string) (uint16, bool) {
	p.index()
	idx, ok := p.utf8[string(encodeModifiedUTF8(s))]
	return idx, ok
}

// AddUtf8 returns the index of a Utf8 entry for s, appending one if needed.
func (p *ConstantPool) AddUtf8(s string) uint16 {
	if idx, ok := p.FindUtf8(s); ok {
		return idx
	}
	raw := encodeModifiedUTF8(s)
	data := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(data, uint16(len(raw)))
	copy(data[2:], raw)
	idx := p.add(&Constant{Tag: TagUtf8, Data: data})
	p.utf8[string(raw)] = idx
	return idx
}

// AddClass returns the index of a Class entry for the internal name,
// appending one if needed.
func (p *ConstantPool) AddClass(name string) uint16 {
	p.index()
	raw := string(encodeModifiedUTF8(name))
	if idx, ok := p.classes[raw]; ok {
		return idx
	}
	nameIdx := p.AddUtf8(name)
	idx := p.add(&Constant{Tag: TagClass, Data: be16(nameIdx)})
	p.classes[raw] = idx
	return idx
}

func (p *ConstantPool) findOrAdd(tag uint8, data []byte) uint16 {
	for i, c := range p.entries {
		if c != nil && c.Tag == tag && string(c.Data) == string(data) {
			return uint16(i)
		}
	}
	return p.add(&Constant{Tag: tag, Data: data})
}

// AddString returns the index of a String entry for s.
func (p *ConstantPool) AddString(s string) uint16 {
	return p.findOrAdd(TagString, be16(p.AddUtf8(s)))
}

// AddInteger returns the index of an Integer entry.
func (p *ConstantPool) AddInteger(v int32) uint16 {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(v))
	return p.findOrAdd(TagInteger, data)
}

// AddLong returns the index of a Long entry.
func (p *ConstantPool) AddLong(v int64) uint16 {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(v))
	return p.findOrAdd(TagLong, data)
}

// AddFloat returns the index of a Float entry.
func (p *ConstantPool) AddFloat(v float32) uint16 {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, math.Float32bits(v))
	return p.findOrAdd(TagFloat, data)
}

// AddDouble returns the index of a Double entry.
func (p *ConstantPool) AddDouble(v float64) uint16 {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, math.Float64bits(v))
	return p.findOrAdd(TagDouble, data)
}

// AddNameAndType returns the index of a NameAndType entry.
func (p *ConstantPool) AddNameAndType(name, desc string) uint16 {
	return p.findOrAdd(TagNameAndType, append(be16(p.AddUtf8(name)), be16(p.AddUtf8(desc))...))
}

// AddMember returns the index of a Fieldref/Methodref/InterfaceMethodref entry.
func (p *ConstantPool) AddMember(tag uint8, ref MemberRef) uint16 {
	owner := p.AddClass(ref.Owner)
	nat := p.AddNameAndType(ref.Name, ref.Desc)
	return p.findOrAdd(tag, append(be16(owner), be16(nat)...))
}

func be16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
