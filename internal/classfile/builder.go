package classfile

// NewClass returns an empty class with a fresh constant pool.
func NewClass(major uint16, access uint16, name, super string) *ClassFile {
	cf := &ClassFile{
		Major:       major,
		Pool:        NewConstantPool(),
		AccessFlags: access,
		Name:        name,
	}
	cf.ThisClass = cf.Pool.AddClass(name)
	if super != "" {
		cf.SuperClass = cf.Pool.AddClass(super)
	}
	return cf
}

// AddInterface appends a direct superinterface.
func (c *ClassFile) AddInterface(name string) {
	c.Interfaces = append(c.Interfaces, c.Pool.AddClass(name))
}

// AddField appends a field.
func (c *ClassFile) AddField(access uint16, name, desc string) *Member {
	m := c.newMember(access, name, desc)
	c.Fields = append(c.Fields, m)
	return m
}

// AddMethod appends a method with no attributes.
func (c *ClassFile) AddMethod(access uint16, name, desc string) *Member {
	m := c.newMember(access, name, desc)
	c.Methods = append(c.Methods, m)
	return m
}

func (c *ClassFile) newMember(access uint16, name, desc string) *Member {
	return &Member{
		AccessFlags:     access,
		NameIndex:       c.Pool.AddUtf8(name),
		DescriptorIndex: c.Pool.AddUtf8(desc),
		Name:            name,
		Descriptor:      desc,
	}
}

// NewAttribute returns an attribute whose name is interned in the pool.
func (c *ClassFile) NewAttribute(name string, info []byte) *Attribute {
	return &Attribute{NameIndex: c.Pool.AddUtf8(name), Name: name, Info: info}
}

// SetAttribute replaces the first attribute named a.Name or appends a.
func (m *Member) SetAttribute(a *Attribute) {
	for i, old := range m.Attributes {
		if old.Name == a.Name {
			m.Attributes[i] = a
			return
		}
	}
	m.Attributes = append(m.Attributes, a)
}
