package classfile

import (
	"encoding/binary"
	"fmt"
)

// Reader is a bounds-checked big-endian cursor over a byte slice. The first
// out-of-range read sets Err and every later read returns zero.
type Reader struct {
	buf []byte
	pos int
	Err error
}

// NewReader returns a reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Pos returns the current offset.
func (r *Reader) Pos() int { return r.pos }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) bool {
	if r.Err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.Err = fmt.Errorf("%w: unexpected end of data at offset %d (need %d bytes)", ErrMalformed, r.pos, n)
		return false
	}
	return true
}

// U1 reads an unsigned byte.
func (r *Reader) U1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

// U2 reads an unsigned 16-bit value.
func (r *Reader) U2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

// U4 reads an unsigned 32-bit value.
func (r *Reader) U4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

// Bytes reads n bytes. The result aliases the underlying buffer.
func (r *Reader) Bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v
}

// Parse decodes a class file. The input is never modified; attribute payloads
// are copied so the result does not alias it.
func Parse(b []byte) (*ClassFile, error) {
	r := NewReader(b)
	if magic := r.U4(); r.Err == nil && magic != Magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08X", ErrMalformed, magic)
	}
	cf := &ClassFile{}
	cf.Minor = r.U2()
	cf.Major = r.U2()
	if r.Err != nil {
		return nil, r.Err
	}

	pool, err := parsePool(r)
	if err != nil {
		return nil, err
	}
	cf.Pool = pool

	cf.AccessFlags = r.U2()
	cf.ThisClass = r.U2()
	cf.SuperClass = r.U2()
	n := int(r.U2())
	for i := 0; i < n && r.Err == nil; i++ {
		cf.Interfaces = append(cf.Interfaces, r.U2())
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if cf.Name, err = pool.ClassName(cf.ThisClass); err != nil {
		return nil, err
	}

	if cf.Fields, err = parseMembers(r, pool); err != nil {
		return nil, err
	}
	if cf.Methods, err = parseMembers(r, pool); err != nil {
		return nil, err
	}
	if cf.Attributes, err = parseAttributes(r, pool); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}
	return cf, nil
}

func parsePool(r *Reader) (*ConstantPool, error) {
	count := int(r.U2())
	if r.Err != nil {
		return nil, r.Err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty constant pool", ErrMalformed)
	}
	pool := &ConstantPool{entries: make([]*Constant, 1, count)}
	for len(pool.entries) < count {
		tag := r.U1()
		var size int
		switch tag {
		case TagUtf8:
			if !r.need(2) {
				return nil, r.Err
			}
			size = 2 + int(binary.BigEndian.Uint16(r.buf[r.pos:]))
		case TagInteger, TagFloat, TagFieldref, TagMethodref, TagInterfaceMethodref,
			TagNameAndType, TagDynamic, TagInvokeDynamic:
			size = 4
		case TagLong, TagDouble:
			size = 8
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			size = 2
		case TagMethodHandle:
			size = 3
		default:
			if r.Err != nil {
				return nil, r.Err
			}
			return nil, fmt.Errorf("%w: unknown constant pool tag %d at index %d", ErrMalformed, tag, len(pool.entries))
		}
		data := r.Bytes(size)
		if r.Err != nil {
			return nil, r.Err
		}
		c := &Constant{Tag: tag, Data: append([]byte(nil), data...)}
		pool.entries = append(pool.entries, c)
		if c.Wide() {
			pool.entries = append(pool.entries, nil)
		}
	}
	if len(pool.entries) != count {
		return nil, fmt.Errorf("%w: wide constant overruns constant pool", ErrMalformed)
	}
	return pool, nil
}

func parseMembers(r *Reader, pool *ConstantPool) ([]*Member, error) {
	n := int(r.U2())
	members := make([]*Member, 0, n)
	for i := 0; i < n; i++ {
		m := &Member{
			AccessFlags:     r.U2(),
			NameIndex:       r.U2(),
			DescriptorIndex: r.U2(),
		}
		if r.Err != nil {
			return nil, r.Err
		}
		var err error
		if m.Name, err = pool.Utf8(m.NameIndex); err != nil {
			return nil, err
		}
		if m.Descriptor, err = pool.Utf8(m.DescriptorIndex); err != nil {
			return nil, err
		}
		if m.Attributes, err = parseAttributes(r, pool); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, r.Err
}

func parseAttributes(r *Reader, pool *ConstantPool) ([]*Attribute, error) {
	n := int(r.U2())
	attrs := make([]*Attribute, 0, n)
	for i := 0; i < n; i++ {
		a := &Attribute{NameIndex: r.U2()}
		length := int(r.U4())
		info := r.Bytes(length)
		if r.Err != nil {
			return nil, r.Err
		}
		name, err := pool.Utf8(a.NameIndex)
		if err != nil {
			return nil, err
		}
		a.Name = name
		a.Info = append([]byte(nil), info...)
		attrs = append(attrs, a)
	}
	return attrs, r.Err
}
