package bytecode

import (
	"fmt"
	"math"

	"tailrec/internal/classfile"
)

type layout struct {
	offsets []int
	wide    map[NodeID]bool
	length  int
}

// Encode serializes the method body as the payload of a Code attribute.
// Names and class references needed by the stack-map frames are added to
// pool when it lacks them. Sub-attributes listed in Dropped are not written.
func (m *Method) Encode(pool *classfile.ConstantPool) ([]byte, error) {
	g := m.Graph
	if err := m.checkTargets(); err != nil {
		return nil, err
	}
	lay, err := m.layout()
	if err != nil {
		return nil, err
	}

	w := classfile.NewWriter(lay.length + 64)
	w.U2(uint16(m.MaxStack))
	w.U2(uint16(m.MaxLocals))
	w.U4(uint32(lay.length))
	start := w.Len()
	for id := g.First(); id != NoNode; id = g.Next(id) {
		if err := m.emit(w, id, lay, lay.offsets[id]); err != nil {
			return nil, err
		}
	}
	if w.Len()-start != lay.length {
		return nil, fmt.Errorf("%w: emitted %d bytes, laid out %d", ErrInvalidGraph, w.Len()-start, lay.length)
	}

	var catches []TryCatch
	for _, tc := range m.TryCatches {
		if lay.offsets[tc.Start] < lay.offsets[tc.End] {
			catches = append(catches, tc)
		}
	}
	w.U2(uint16(len(catches)))
	for _, tc := range catches {
		w.U2(uint16(lay.offsets[tc.Start]))
		w.U2(uint16(lay.offsets[tc.End]))
		w.U2(uint16(lay.offsets[tc.Handler]))
		w.U2(tc.Type)
	}

	type attr struct {
		name string
		info []byte
	}
	var attrs []attr
	if info := m.lineTable(lay); info != nil {
		attrs = append(attrs, attr{classfile.AttrLineNumberTable, info})
	}
	if info := m.localTable(m.LocalVars, lay); info != nil {
		attrs = append(attrs, attr{classfile.AttrLocalVariableTable, info})
	}
	if info := m.localTable(m.LocalVarTypes, lay); info != nil {
		attrs = append(attrs, attr{classfile.AttrLocalVariableTypeTable, info})
	}
	if m.UsesFrames {
		if info := m.stackMapTable(pool, lay); info != nil {
			attrs = append(attrs, attr{classfile.AttrStackMapTable, info})
		}
	}
	w.U2(uint16(len(attrs)))
	for _, a := range attrs {
		w.U2(pool.AddUtf8(a.name))
		w.U4(uint32(len(a.info)))
		w.Raw(a.info)
	}
	return w.Bytes(), nil
}

func (m *Method) checkTargets() error {
	g := m.Graph
	check := func(id NodeID, what string) error {
		if !g.Linked(id) || g.Node(id).Kind != KindLabel {
			return fmt.Errorf("%w: %s references node %d which is not a linked label", ErrInvalidGraph, what, id)
		}
		return nil
	}
	for id := g.First(); id != NoNode; id = g.Next(id) {
		for _, t := range g.Node(id).Successors() {
			if err := check(t, g.Node(id).Op.String()); err != nil {
				return err
			}
		}
	}
	for _, tc := range m.TryCatches {
		for _, l := range []NodeID{tc.Start, tc.End, tc.Handler} {
			if err := check(l, "exception table"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Method) layout() (*layout, error) {
	g := m.Graph
	lay := &layout{
		offsets: make([]int, len(g.nodes)),
		wide:    make(map[NodeID]bool),
	}
	for {
		pc := 0
		for id := g.First(); id != NoNode; id = g.Next(id) {
			lay.offsets[id] = pc
			pc += m.size(id, pc, lay)
		}
		lay.length = pc
		if pc == 0 {
			return nil, fmt.Errorf("%w: method has no instructions", ErrInvalidGraph)
		}
		if pc > 65535 {
			return nil, fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, pc)
		}

		grew := false
		for id := g.First(); id != NoNode; id = g.Next(id) {
			n := g.Node(id)
			if n.Kind != KindJump || lay.wide[id] {
				continue
			}
			delta := lay.offsets[n.Target] - lay.offsets[id]
			if delta >= math.MinInt16 && delta <= math.MaxInt16 {
				continue
			}
			if n.Op != GOTO && n.Op != JSR {
				return nil, fmt.Errorf("%w: %s branch offset %d", ErrCodeTooLarge, n.Op, delta)
			}
			lay.wide[id] = true
			grew = true
		}
		if !grew {
			return lay, nil
		}
	}
}

func switchPad(pc int) int {
	return (3 - pc%4) % 4
}

func (m *Method) size(id NodeID, pc int, lay *layout) int {
	n := m.Graph.Node(id)
	switch n.Kind {
	case KindLabel, KindFrame, KindLine:
		return 0
	case KindInsn:
		return 1
	case KindInt:
		if n.Op == SIPUSH {
			return 3
		}
		return 2
	case KindVar:
		switch {
		case n.Operand <= 3 && n.Op != RET:
			return 1
		case n.Operand <= 255:
			return 2
		default:
			return 4
		}
	case KindIinc:
		if n.Operand <= 255 && n.Incr >= math.MinInt8 && n.Incr <= math.MaxInt8 {
			return 3
		}
		return 6
	case KindLdc:
		if n.Op == LDC2_W || n.Index > 255 {
			return 3
		}
		return 2
	case KindJump:
		if lay.wide[id] {
			return 5
		}
		return 3
	case KindTableSwitch:
		return 1 + switchPad(pc) + 12 + 4*len(n.Targets)
	case KindLookupSwitch:
		return 1 + switchPad(pc) + 8 + 8*len(n.Targets)
	case KindField, KindType:
		return 3
	case KindMethod:
		if n.Op == INVOKEINTERFACE {
			return 5
		}
		return 3
	case KindInvokeDynamic:
		return 5
	case KindMultiANewArray:
		return 4
	}
	return 0
}

func (m *Method) emit(w *classfile.Writer, id NodeID, lay *layout, pc int) error {
	n := m.Graph.Node(id)
	switch n.Kind {
	case KindLabel, KindFrame, KindLine:
	case KindInsn:
		w.U1(uint8(n.Op))
	case KindInt:
		w.U1(uint8(n.Op))
		if n.Op == SIPUSH {
			w.U2(uint16(int16(n.Operand)))
		} else {
			w.U1(uint8(n.Operand))
		}
	case KindVar:
		switch {
		case n.Operand <= 3 && n.Op != RET:
			if IsStore(n.Op) {
				w.U1(uint8(ISTORE_0) + uint8(n.Op-ISTORE)*4 + uint8(n.Operand))
			} else {
				w.U1(uint8(ILOAD_0) + uint8(n.Op-ILOAD)*4 + uint8(n.Operand))
			}
		case n.Operand <= 255:
			w.U1(uint8(n.Op))
			w.U1(uint8(n.Operand))
		default:
			w.U1(uint8(WIDE))
			w.U1(uint8(n.Op))
			w.U2(uint16(n.Operand))
		}
	case KindIinc:
		if m.size(id, pc, lay) == 3 {
			w.U1(uint8(IINC))
			w.U1(uint8(n.Operand))
			w.U1(uint8(int8(n.Incr)))
		} else {
			w.U1(uint8(WIDE))
			w.U1(uint8(IINC))
			w.U2(uint16(n.Operand))
			w.U2(uint16(int16(n.Incr)))
		}
	case KindLdc:
		switch {
		case n.Op == LDC2_W:
			w.U1(uint8(LDC2_W))
			w.U2(n.Index)
		case n.Index > 255:
			w.U1(uint8(LDC_W))
			w.U2(n.Index)
		default:
			w.U1(uint8(LDC))
			w.U1(uint8(n.Index))
		}
	case KindJump:
		delta := lay.offsets[n.Target] - pc
		if lay.wide[id] {
			op := GOTO_W
			if n.Op == JSR {
				op = JSR_W
			}
			w.U1(uint8(op))
			w.U4(uint32(int32(delta)))
		} else {
			w.U1(uint8(n.Op))
			w.U2(uint16(int16(delta)))
		}
	case KindTableSwitch, KindLookupSwitch:
		w.U1(uint8(n.Op))
		for i := switchPad(pc); i > 0; i-- {
			w.U1(0)
		}
		w.U4(uint32(int32(lay.offsets[n.Target] - pc)))
		if n.Kind == KindTableSwitch {
			w.U4(uint32(n.Low))
			w.U4(uint32(n.Low + int32(len(n.Targets)) - 1))
			for _, t := range n.Targets {
				w.U4(uint32(int32(lay.offsets[t] - pc)))
			}
		} else {
			if len(n.Keys) != len(n.Targets) {
				return fmt.Errorf("%w: lookupswitch has %d keys and %d targets", ErrInvalidGraph, len(n.Keys), len(n.Targets))
			}
			w.U4(uint32(len(n.Keys)))
			for i, t := range n.Targets {
				w.U4(uint32(n.Keys[i]))
				w.U4(uint32(int32(lay.offsets[t] - pc)))
			}
		}
	case KindField, KindType:
		w.U1(uint8(n.Op))
		w.U2(n.Index)
	case KindMethod:
		w.U1(uint8(n.Op))
		w.U2(n.Index)
		if n.Op == INVOKEINTERFACE {
			mt, err := classfile.ParseMethodDescriptor(n.Ref.Desc)
			if err != nil {
				return err
			}
			w.U1(uint8(1 + mt.ArgSlots()))
			w.U1(0)
		}
	case KindInvokeDynamic:
		w.U1(uint8(INVOKEDYNAMIC))
		w.U2(n.Index)
		w.U2(0)
	case KindMultiANewArray:
		w.U1(uint8(MULTIANEWARRAY))
		w.U2(n.Index)
		w.U1(uint8(n.Operand))
	default:
		return fmt.Errorf("%w: unknown node kind %d", ErrInvalidGraph, n.Kind)
	}
	return nil
}

func (m *Method) lineTable(lay *layout) []byte {
	g := m.Graph
	w := classfile.NewWriter(64)
	w.U2(0)
	count := 0
	for id := g.First(); id != NoNode; id = g.Next(id) {
		n := g.Node(id)
		if n.Kind != KindLine || lay.offsets[id] >= lay.length {
			continue
		}
		w.U2(uint16(lay.offsets[id]))
		w.U2(uint16(n.Operand))
		count++
	}
	if count == 0 {
		return nil
	}
	w.PutU2(0, uint16(count))
	return w.Bytes()
}

func (m *Method) localTable(vars []LocalVar, lay *layout) []byte {
	g := m.Graph
	w := classfile.NewWriter(64)
	w.U2(0)
	count := 0
	for _, lv := range vars {
		if !g.Linked(lv.Start) || !g.Linked(lv.End) {
			continue
		}
		start, end := lay.offsets[lv.Start], lay.offsets[lv.End]
		if end <= start {
			continue
		}
		w.U2(uint16(start))
		w.U2(uint16(end - start))
		w.U2(lv.NameIndex)
		w.U2(lv.DescIndex)
		w.U2(uint16(lv.Slot))
		count++
	}
	if count == 0 {
		return nil
	}
	w.PutU2(0, uint16(count))
	return w.Bytes()
}

func (m *Method) stackMapTable(pool *classfile.ConstantPool, lay *layout) []byte {
	g := m.Graph
	var frames []*Frame
	var offsets []int
	for id := g.First(); id != NoNode; id = g.Next(id) {
		n := g.Node(id)
		if n.Kind != KindFrame {
			continue
		}
		pc := lay.offsets[id]
		if pc >= lay.length {
			continue
		}
		if len(offsets) > 0 && offsets[len(offsets)-1] == pc {
			frames[len(frames)-1] = n.Frame
			continue
		}
		frames = append(frames, n.Frame)
		offsets = append(offsets, pc)
	}
	if len(frames) == 0 {
		return nil
	}

	w := classfile.NewWriter(16 * len(frames))
	w.U2(uint16(len(frames)))
	prev, prevPC := m.Initial, -1
	for i, f := range frames {
		delta := offsets[i] - prevPC - 1
		writeFrame(w, pool, lay, prev, f, delta)
		prev, prevPC = f, offsets[i]
	}
	return w.Bytes()
}

func writeFrame(w *classfile.Writer, pool *classfile.ConstantPool, lay *layout, prev, f *Frame, delta int) {
	sameLocals := typesEqual(prev.Locals, f.Locals)
	switch {
	case sameLocals && len(f.Stack) == 0:
		if delta < 64 {
			w.U1(uint8(delta))
		} else {
			w.U1(251)
			w.U2(uint16(delta))
		}
		return
	case sameLocals && len(f.Stack) == 1:
		if delta < 64 {
			w.U1(uint8(64 + delta))
		} else {
			w.U1(247)
			w.U2(uint16(delta))
		}
		writeVType(w, pool, lay, f.Stack[0])
		return
	case len(f.Stack) == 0:
		diff := len(f.Locals) - len(prev.Locals)
		switch {
		case diff < 0 && diff >= -3 && typesEqual(prev.Locals[:len(f.Locals)], f.Locals):
			w.U1(uint8(251 + diff))
			w.U2(uint16(delta))
			return
		case diff > 0 && diff <= 3 && typesEqual(f.Locals[:len(prev.Locals)], prev.Locals):
			w.U1(uint8(251 + diff))
			w.U2(uint16(delta))
			for _, v := range f.Locals[len(prev.Locals):] {
				writeVType(w, pool, lay, v)
			}
			return
		}
	}
	w.U1(255)
	w.U2(uint16(delta))
	w.U2(uint16(len(f.Locals)))
	for _, v := range f.Locals {
		writeVType(w, pool, lay, v)
	}
	w.U2(uint16(len(f.Stack)))
	for _, v := range f.Stack {
		writeVType(w, pool, lay, v)
	}
}

func writeVType(w *classfile.Writer, pool *classfile.ConstantPool, lay *layout, v VType) {
	w.U1(uint8(v.Tag))
	switch v.Tag {
	case VObject:
		w.U2(pool.AddClass(v.Class))
	case VUninitialized:
		w.U2(uint16(lay.offsets[v.New]))
	}
}
