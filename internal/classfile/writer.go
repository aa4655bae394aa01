package classfile

import "encoding/binary"

// Writer accumulates big-endian class-file data.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) U1(v uint8)    { w.buf = append(w.buf, v) }
func (w *Writer) U2(v uint16)   { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *Writer) U4(v uint32)   { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *Writer) Raw(b []byte)  { w.buf = append(w.buf, b...) }
func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Bytes() []byte { return w.buf }

// PutU2 overwrites two bytes at offset at.
func (w *Writer) PutU2(at int, v uint16) { binary.BigEndian.PutUint16(w.buf[at:], v) }

// PutU4 overwrites four bytes at offset at.
func (w *Writer) PutU4(at int, v uint32) { binary.BigEndian.PutUint32(w.buf[at:], v) }

// Bytes serializes the class file.
func (c *ClassFile) Bytes() []byte {
	w := NewWriter(4096)
	w.U4(Magic)
	w.U2(c.Minor)
	w.U2(c.Major)

	w.U2(uint16(c.Pool.Count()))
	for _, e := range c.Pool.entries[1:] {
		if e == nil {
			continue
		}
		w.U1(e.Tag)
		w.Raw(e.Data)
	}

	w.U2(c.AccessFlags)
	w.U2(c.ThisClass)
	w.U2(c.SuperClass)
	w.U2(uint16(len(c.Interfaces)))
	for _, i := range c.Interfaces {
		w.U2(i)
	}
	writeMembers(w, c.Fields)
	writeMembers(w, c.Methods)
	writeAttributes(w, c.Attributes)
	return w.Bytes()
}

func writeMembers(w *Writer, members []*Member) {
	w.U2(uint16(len(members)))
	for _, m := range members {
		w.U2(m.AccessFlags)
		w.U2(m.NameIndex)
		w.U2(m.DescriptorIndex)
		writeAttributes(w, m.Attributes)
	}
}

func writeAttributes(w *Writer, attrs []*Attribute) {
	w.U2(uint16(len(attrs)))
	for _, a := range attrs {
		w.U2(a.NameIndex)
		w.U4(uint32(len(a.Info)))
		w.Raw(a.Info)
	}
}
