package bytecode

import (
	"encoding/binary"
	"fmt"
	"sort"

	"tailrec/internal/classfile"
)

type rawInsn struct {
	pc      int
	node    Node
	targets []int
}

type rawFrame struct {
	pc    int
	frame *Frame
}

type rawLine struct {
	pc   int
	line int
}

type decoder struct {
	pool   *classfile.ConstantPool
	code   []byte
	g      *Graph
	labels map[int]NodeID
	starts map[int]bool
}

// Decode builds the instruction graph of a method.
func Decode(cf *classfile.ClassFile, m *classfile.Member) (*Method, error) {
	attr := m.Attribute(classfile.AttrCode)
	if attr == nil {
		return nil, ErrNoCode
	}
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	out := &Method{
		Owner:      cf.Name,
		Access:     m.AccessFlags,
		Name:       m.Name,
		Descriptor: m.Descriptor,
		Type:       mt,
		UsesFrames: cf.UsesFrames(),
		Graph:      NewGraph(),
	}
	out.Initial = InitialFrame(cf.Name, m.AccessFlags, m.Name, mt)

	r := classfile.NewReader(attr.Info)
	out.MaxStack = int(r.U2())
	out.MaxLocals = int(r.U2())
	codeLen := int(r.U4())
	if r.Err == nil && (codeLen == 0 || codeLen > 65535) {
		return nil, fmt.Errorf("%w: %s%s: bad code length %d", classfile.ErrMalformed, m.Name, m.Descriptor, codeLen)
	}
	code := r.Bytes(codeLen)
	if r.Err != nil {
		return nil, r.Err
	}

	d := &decoder{
		pool:   cf.Pool,
		code:   code,
		g:      out.Graph,
		labels: make(map[int]NodeID),
		starts: make(map[int]bool),
	}

	insns, err := d.scan()
	if err != nil {
		return nil, fmt.Errorf("%s%s: %w", m.Name, m.Descriptor, err)
	}
	for _, in := range insns {
		for _, t := range in.targets {
			if _, err := d.label(t); err != nil {
				return nil, err
			}
		}
	}

	n := int(r.U2())
	for i := 0; i < n && r.Err == nil; i++ {
		start, end, handler, typ := int(r.U2()), int(r.U2()), int(r.U2()), r.U2()
		if r.Err != nil {
			break
		}
		if start >= end {
			return nil, fmt.Errorf("%w: empty exception range [%d,%d)", classfile.ErrMalformed, start, end)
		}
		tc := TryCatch{Type: typ}
		if tc.Start, err = d.label(start); err != nil {
			return nil, err
		}
		if tc.End, err = d.label(end); err != nil {
			return nil, err
		}
		if tc.Handler, err = d.label(handler); err != nil {
			return nil, err
		}
		if typ != 0 {
			if tc.TypeName, err = d.pool.ClassName(typ); err != nil {
				return nil, err
			}
		}
		out.TryCatches = append(out.TryCatches, tc)
	}

	var lines []rawLine
	var frames []rawFrame
	n = int(r.U2())
	for i := 0; i < n && r.Err == nil; i++ {
		nameIdx := r.U2()
		info := r.Bytes(int(r.U4()))
		if r.Err != nil {
			break
		}
		name, err := d.pool.Utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		switch name {
		case classfile.AttrLineNumberTable:
			ls, err := d.lineTable(info)
			if err != nil {
				return nil, err
			}
			lines = append(lines, ls...)
		case classfile.AttrLocalVariableTable:
			vs, err := d.localTable(info)
			if err != nil {
				return nil, err
			}
			out.LocalVars = append(out.LocalVars, vs...)
		case classfile.AttrLocalVariableTypeTable:
			vs, err := d.localTable(info)
			if err != nil {
				return nil, err
			}
			out.LocalVarTypes = append(out.LocalVarTypes, vs...)
		case classfile.AttrStackMapTable:
			if frames, err = d.stackMapTable(info, out.Initial); err != nil {
				return nil, err
			}
		default:
			out.Dropped = append(out.Dropped, name)
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in Code attribute", classfile.ErrMalformed, r.Len())
	}

	// Uninitialized entries carry the new instruction's offset until the
	// labels exist.
	for _, f := range frames {
		for _, list := range [][]VType{f.frame.Locals, f.frame.Stack} {
			for i := range list {
				if list[i].Tag == VUninitialized {
					id, err := d.label(int(list[i].New))
					if err != nil {
						return nil, err
					}
					list[i].New = id
				}
			}
		}
	}

	d.build(insns, lines, frames)
	return out, nil
}

func (d *decoder) label(pc int) (NodeID, error) {
	if id, ok := d.labels[pc]; ok {
		return id, nil
	}
	if pc != len(d.code) && !d.starts[pc] {
		return NoNode, fmt.Errorf("%w: offset %d is not an instruction boundary", classfile.ErrMalformed, pc)
	}
	id := d.g.Alloc(Label())
	d.labels[pc] = id
	return id, nil
}

func (d *decoder) build(insns []rawInsn, lines []rawLine, frames []rawFrame) {
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].pc < lines[j].pc })
	li, fi := 0, 0
	for _, in := range insns {
		if id, ok := d.labels[in.pc]; ok {
			d.g.Link(id)
		}
		for ; li < len(lines) && lines[li].pc == in.pc; li++ {
			d.g.Append(Node{Kind: KindLine, Operand: lines[li].line})
		}
		for ; fi < len(frames) && frames[fi].pc == in.pc; fi++ {
			d.g.Append(FrameNode(frames[fi].frame))
		}
		n := in.node
		switch n.Kind {
		case KindJump:
			n.Target = d.labels[in.targets[0]]
		case KindTableSwitch, KindLookupSwitch:
			n.Target = d.labels[in.targets[0]]
			n.Targets = make([]NodeID, len(in.targets)-1)
			for i, t := range in.targets[1:] {
				n.Targets[i] = d.labels[t]
			}
		}
		d.g.Append(n)
	}
	if id, ok := d.labels[len(d.code)]; ok {
		d.g.Link(id)
	}
}

func (d *decoder) lineTable(info []byte) ([]rawLine, error) {
	r := classfile.NewReader(info)
	n := int(r.U2())
	out := make([]rawLine, 0, n)
	for i := 0; i < n && r.Err == nil; i++ {
		pc, line := int(r.U2()), int(r.U2())
		if r.Err != nil {
			break
		}
		if !d.starts[pc] {
			return nil, fmt.Errorf("%w: line number entry at offset %d", classfile.ErrMalformed, pc)
		}
		if _, err := d.label(pc); err != nil {
			return nil, err
		}
		out = append(out, rawLine{pc: pc, line: line})
	}
	return out, r.Err
}

func (d *decoder) localTable(info []byte) ([]LocalVar, error) {
	r := classfile.NewReader(info)
	n := int(r.U2())
	out := make([]LocalVar, 0, n)
	for i := 0; i < n && r.Err == nil; i++ {
		start, length := int(r.U2()), int(r.U2())
		lv := LocalVar{NameIndex: r.U2(), DescIndex: r.U2()}
		lv.Slot = int(r.U2())
		if r.Err != nil {
			break
		}
		var err error
		if lv.Start, err = d.label(start); err != nil {
			return nil, err
		}
		if lv.End, err = d.label(start + length); err != nil {
			return nil, err
		}
		if lv.Name, err = d.pool.Utf8(lv.NameIndex); err != nil {
			return nil, err
		}
		if lv.Desc, err = d.pool.Utf8(lv.DescIndex); err != nil {
			return nil, err
		}
		out = append(out, lv)
	}
	return out, r.Err
}

func (d *decoder) stackMapTable(info []byte, initial *Frame) ([]rawFrame, error) {
	r := classfile.NewReader(info)
	n := int(r.U2())
	out := make([]rawFrame, 0, n)
	prev := initial
	pc := -1
	for i := 0; i < n && r.Err == nil; i++ {
		kind := r.U1()
		f := &Frame{}
		var delta int
		switch {
		case kind < 64:
			delta = int(kind)
			f.Locals = append(f.Locals, prev.Locals...)
		case kind < 128:
			delta = int(kind) - 64
			f.Locals = append(f.Locals, prev.Locals...)
			f.Stack = []VType{d.vtype(r)}
		case kind < 247:
			return nil, fmt.Errorf("%w: reserved stack map frame type %d", classfile.ErrMalformed, kind)
		case kind == 247:
			delta = int(r.U2())
			f.Locals = append(f.Locals, prev.Locals...)
			f.Stack = []VType{d.vtype(r)}
		case kind < 251:
			delta = int(r.U2())
			k := 251 - int(kind)
			if k > len(prev.Locals) {
				return nil, fmt.Errorf("%w: chop frame removes %d of %d locals", classfile.ErrMalformed, k, len(prev.Locals))
			}
			f.Locals = append(f.Locals, prev.Locals[:len(prev.Locals)-k]...)
		case kind == 251:
			delta = int(r.U2())
			f.Locals = append(f.Locals, prev.Locals...)
		case kind < 255:
			delta = int(r.U2())
			f.Locals = append(f.Locals, prev.Locals...)
			for k := int(kind) - 251; k > 0; k-- {
				f.Locals = append(f.Locals, d.vtype(r))
			}
		default:
			delta = int(r.U2())
			for k := int(r.U2()); k > 0 && r.Err == nil; k-- {
				f.Locals = append(f.Locals, d.vtype(r))
			}
			for k := int(r.U2()); k > 0 && r.Err == nil; k-- {
				f.Stack = append(f.Stack, d.vtype(r))
			}
		}
		if r.Err != nil {
			break
		}
		pc += delta + 1
		if !d.starts[pc] {
			return nil, fmt.Errorf("%w: stack map frame at offset %d", classfile.ErrMalformed, pc)
		}
		if _, err := d.label(pc); err != nil {
			return nil, err
		}
		out = append(out, rawFrame{pc: pc, frame: f})
		prev = f
	}
	return out, r.Err
}

func (d *decoder) vtype(r *classfile.Reader) VType {
	tag := VTag(r.U1())
	switch tag {
	case VTop, VInteger, VFloat, VDouble, VLong, VNull, VUninitializedThis:
		return VType{Tag: tag}
	case VObject:
		idx := r.U2()
		name, err := d.pool.ClassName(idx)
		if err != nil && r.Err == nil {
			r.Err = err
		}
		return Object(name)
	case VUninitialized:
		return VType{Tag: VUninitialized, New: NodeID(r.U2())}
	}
	if r.Err == nil {
		r.Err = fmt.Errorf("%w: bad verification type tag %d", classfile.ErrMalformed, tag)
	}
	return Top
}

func (d *decoder) scan() ([]rawInsn, error) {
	var out []rawInsn
	for pc := 0; pc < len(d.code); {
		in, size, err := d.decodeAt(pc)
		if err != nil {
			return nil, err
		}
		d.starts[pc] = true
		out = append(out, in)
		pc += size
	}
	return out, nil
}

func (d *decoder) u1(at int) (int, error) {
	if at >= len(d.code) {
		return 0, fmt.Errorf("%w: truncated instruction at offset %d", classfile.ErrMalformed, at)
	}
	return int(d.code[at]), nil
}

func (d *decoder) u2(at int) (int, error) {
	if at+2 > len(d.code) {
		return 0, fmt.Errorf("%w: truncated instruction at offset %d", classfile.ErrMalformed, at)
	}
	return int(binary.BigEndian.Uint16(d.code[at:])), nil
}

func (d *decoder) s4(at int) (int, error) {
	if at+4 > len(d.code) {
		return 0, fmt.Errorf("%w: truncated instruction at offset %d", classfile.ErrMalformed, at)
	}
	return int(int32(binary.BigEndian.Uint32(d.code[at:]))), nil
}

func (d *decoder) decodeAt(pc int) (rawInsn, int, error) {
	op := Opcode(d.code[pc])
	in := rawInsn{pc: pc}
	switch {
	case op >= ILOAD_0 && op <= ALOAD_3:
		k := int(op - ILOAD_0)
		in.node = Var(ILOAD+Opcode(k/4), k%4)
		return in, 1, nil
	case op >= ISTORE_0 && op <= ASTORE_3:
		k := int(op - ISTORE_0)
		in.node = Var(ISTORE+Opcode(k/4), k%4)
		return in, 1, nil
	case op == WIDE:
		sub, err := d.u1(pc + 1)
		if err != nil {
			return in, 0, err
		}
		slot, err := d.u2(pc + 2)
		if err != nil {
			return in, 0, err
		}
		if Opcode(sub) == IINC {
			incr, err := d.u2(pc + 4)
			if err != nil {
				return in, 0, err
			}
			in.node = Node{Kind: KindIinc, Op: IINC, Operand: slot, Incr: int(int16(incr))}
			return in, 6, nil
		}
		if k, ok := KindOf(Opcode(sub)); !ok || k != KindVar {
			return in, 0, fmt.Errorf("%w: bad wide opcode 0x%02x at offset %d", classfile.ErrMalformed, sub, pc)
		}
		in.node = Var(Opcode(sub), slot)
		return in, 4, nil
	}

	kind, ok := KindOf(op)
	if !ok {
		return in, 0, fmt.Errorf("%w: unknown opcode 0x%02x at offset %d", classfile.ErrMalformed, byte(op), pc)
	}
	in.node = Node{Kind: kind, Op: op}
	n := &in.node
	switch kind {
	case KindInsn:
		return in, 1, nil
	case KindInt:
		if op == SIPUSH {
			v, err := d.u2(pc + 1)
			n.Operand = int(int16(v))
			return in, 3, err
		}
		v, err := d.u1(pc + 1)
		if op == BIPUSH {
			v = int(int8(v))
		}
		n.Operand = v
		return in, 2, err
	case KindVar:
		v, err := d.u1(pc + 1)
		n.Operand = v
		return in, 2, err
	case KindIinc:
		slot, err := d.u1(pc + 1)
		if err != nil {
			return in, 0, err
		}
		incr, err := d.u1(pc + 2)
		n.Operand, n.Incr = slot, int(int8(incr))
		return in, 3, err
	case KindLdc:
		var idx, size int
		var err error
		if op == LDC {
			idx, err = d.u1(pc + 1)
			size = 2
		} else {
			idx, err = d.u2(pc + 1)
			size = 3
		}
		if err != nil {
			return in, 0, err
		}
		c := d.pool.Get(uint16(idx))
		if c == nil {
			return in, 0, fmt.Errorf("%w: ldc of invalid constant %d at offset %d", classfile.ErrMalformed, idx, pc)
		}
		n.Index, n.ConstTag = uint16(idx), c.Tag
		n.Op = LDC
		if c.Wide() {
			n.Op = LDC2_W
		}
		return in, size, nil
	case KindJump:
		var off, size int
		var err error
		if op == GOTO_W || op == JSR_W {
			off, err = d.s4(pc + 1)
			size = 5
			n.Op = GOTO
			if op == JSR_W {
				n.Op = JSR
			}
		} else {
			var v int
			v, err = d.u2(pc + 1)
			off, size = int(int16(v)), 3
		}
		in.targets = []int{pc + off}
		return in, size, err
	case KindTableSwitch, KindLookupSwitch:
		return d.decodeSwitch(in, pc)
	case KindField, KindMethod, KindType, KindInvokeDynamic, KindMultiANewArray:
		idx, err := d.u2(pc + 1)
		if err != nil {
			return in, 0, err
		}
		n.Index = uint16(idx)
		size := 3
		switch kind {
		case KindField, KindMethod:
			if n.Ref, err = d.pool.Member(n.Index); err != nil {
				return in, 0, err
			}
			if op == INVOKEINTERFACE {
				size = 5
			}
		case KindInvokeDynamic:
			if n.Desc, err = d.pool.InvokeDynamicDesc(n.Index); err != nil {
				return in, 0, err
			}
			size = 5
		case KindType:
			if n.Class, err = d.pool.ClassName(n.Index); err != nil {
				return in, 0, err
			}
		case KindMultiANewArray:
			if n.Class, err = d.pool.ClassName(n.Index); err != nil {
				return in, 0, err
			}
			if n.Operand, err = d.u1(pc + 3); err != nil {
				return in, 0, err
			}
			size = 4
		}
		if pc+size > len(d.code) {
			return in, 0, fmt.Errorf("%w: truncated instruction at offset %d", classfile.ErrMalformed, pc)
		}
		return in, size, nil
	}
	return in, 0, fmt.Errorf("%w: unhandled opcode %s at offset %d", classfile.ErrMalformed, op, pc)
}

func (d *decoder) decodeSwitch(in rawInsn, pc int) (rawInsn, int, error) {
	at := pc + 1 + (3-pc%4)%4
	dflt, err := d.s4(at)
	if err != nil {
		return in, 0, err
	}
	n := &in.node
	in.targets = []int{pc + dflt}
	if n.Op == TABLESWITCH {
		low, err := d.s4(at + 4)
		if err != nil {
			return in, 0, err
		}
		high, err := d.s4(at + 8)
		if err != nil {
			return in, 0, err
		}
		count := high - low + 1
		if count < 0 || at+12+4*count > len(d.code) {
			return in, 0, fmt.Errorf("%w: bad tableswitch bounds at offset %d", classfile.ErrMalformed, pc)
		}
		n.Low = int32(low)
		for i := 0; i < count; i++ {
			off, _ := d.s4(at + 12 + 4*i)
			in.targets = append(in.targets, pc+off)
		}
		return in, at + 12 + 4*count - pc, nil
	}
	npairs, err := d.s4(at + 4)
	if err != nil {
		return in, 0, err
	}
	if npairs < 0 || at+8+8*npairs > len(d.code) {
		return in, 0, fmt.Errorf("%w: bad lookupswitch size at offset %d", classfile.ErrMalformed, pc)
	}
	for i := 0; i < npairs; i++ {
		key, _ := d.s4(at + 8 + 8*i)
		off, _ := d.s4(at + 12 + 8*i)
		n.Keys = append(n.Keys, int32(key))
		in.targets = append(in.targets, pc+off)
	}
	return in, at + 8 + 8*npairs - pc, nil
}
