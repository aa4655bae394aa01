package interp

import (
	"errors"
	"fmt"
	"math"

	bc "tailrec/internal/bytecode"
	"tailrec/internal/classfile"
)

// frame is one activation of a method.
type frame struct {
	vm     *Machine
	m      *bc.Method
	locals []Value
	stack  []Value
	depth  int

	next  bc.NodeID
	done  bool
	ret   Value
	fault error
}

func (f *frame) run() (Value, error) {
	g := f.m.Graph
	pc := g.First()
	for pc != bc.NoNode {
		n := g.Node(pc)
		if !n.Kind.IsInstruction() {
			if n.Kind == bc.KindFrame && n.Frame.StackSlots() != len(f.stack) {
				return nil, fmt.Errorf("%w: %d stack slots in %s%s where the frame declares %d",
					bc.ErrInvalidGraph, len(f.stack), f.m.Name, f.m.Descriptor, n.Frame.StackSlots())
			}
			pc = g.Next(pc)
			continue
		}
		if err := f.vm.step(); err != nil {
			return nil, err
		}
		f.next = g.Next(pc)
		err := f.exec(n)
		if err == nil {
			err = f.fault
		}
		if err != nil {
			var t *Throwable
			if !errors.As(err, &t) {
				return nil, err
			}
			h, ok := f.handler(pc, t)
			if !ok {
				return nil, t
			}
			if t.Object == nil {
				t.Object = NewObject(t.Class)
			}
			f.stack = append(f.stack[:0], t.Object)
			pc = h
			continue
		}
		if f.done {
			return f.ret, nil
		}
		pc = f.next
	}
	return nil, fmt.Errorf("%w: execution fell off the end of %s%s", bc.ErrInvalidGraph, f.m.Name, f.m.Descriptor)
}

// handler finds the exception handler covering pc for t.
func (f *frame) handler(pc bc.NodeID, t *Throwable) (bc.NodeID, bool) {
	g := f.m.Graph
	for _, tc := range f.m.TryCatches {
		if tc.TypeName != "" && !t.Is(tc.TypeName) {
			continue
		}
		for id := g.Next(tc.Start); id != bc.NoNode && id != tc.End; id = g.Next(id) {
			if id == pc {
				return tc.Handler, true
			}
		}
	}
	return bc.NoNode, false
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) push2(v Value) { f.stack = append(f.stack, v, second{}) }

func (f *frame) pop() Value {
	if len(f.stack) == 0 {
		f.fault = fmt.Errorf("%w: operand stack underflow in %s%s", bc.ErrInvalidGraph, f.m.Name, f.m.Descriptor)
		return nil
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) pop2() Value {
	f.pop()
	return f.pop()
}

func (f *frame) popInt() int32 {
	v, _ := f.pop().(int32)
	return v
}

func (f *frame) popLong() int64 {
	v, _ := f.pop2().(int64)
	return v
}

func (f *frame) popFloat() float32 {
	v, _ := f.pop().(float32)
	return v
}

func (f *frame) popDouble() float64 {
	v, _ := f.pop2().(float64)
	return v
}

func (f *frame) local(slot int) Value {
	if slot >= len(f.locals) {
		return nil
	}
	return f.locals[slot]
}

func (f *frame) setLocal(slot int, v Value) {
	for slot >= len(f.locals) {
		f.locals = append(f.locals, nil)
	}
	f.locals[slot] = v
}

func (f *frame) exec(n *bc.Node) error {
	switch n.Kind {
	case bc.KindInsn:
		return f.insn(n.Op)

	case bc.KindInt:
		if n.Op != bc.NEWARRAY {
			f.push(int32(n.Operand))
			return nil
		}
		count := f.popInt()
		if count < 0 {
			return throw(NegativeArraySizeException, "%d", count)
		}
		f.push(NewArray(primitiveArray[n.Operand], int(count)))

	case bc.KindLdc:
		return f.ldc(n)

	case bc.KindVar:
		return f.variable(n)

	case bc.KindIinc:
		v, _ := f.local(n.Operand).(int32)
		f.setLocal(n.Operand, v+int32(n.Incr))

	case bc.KindType:
		switch n.Op {
		case bc.NEW:
			f.push(NewObject(n.Class))
		case bc.ANEWARRAY:
			count := f.popInt()
			if count < 0 {
				return throw(NegativeArraySizeException, "%d", count)
			}
			f.push(NewArray(elementDesc(n.Class), int(count)))
		case bc.CHECKCAST:
			// Class hierarchies outside this class are unknown, so casts
			// always succeed.
		case bc.INSTANCEOF:
			if instanceOf(f.pop(), n.Class) {
				f.push(int32(1))
			} else {
				f.push(int32(0))
			}
		}

	case bc.KindField:
		return f.field(n)

	case bc.KindMethod:
		return f.vm.invoke(f, n)

	case bc.KindJump:
		return f.jump(n)

	case bc.KindTableSwitch:
		key := f.popInt()
		f.next = n.Target
		if i := int64(key) - int64(n.Low); i >= 0 && i < int64(len(n.Targets)) {
			f.next = n.Targets[i]
		}

	case bc.KindLookupSwitch:
		key := f.popInt()
		f.next = n.Target
		for i, k := range n.Keys {
			if k == key {
				f.next = n.Targets[i]
				break
			}
		}

	case bc.KindMultiANewArray:
		counts := make([]int32, n.Operand)
		for i := n.Operand - 1; i >= 0; i-- {
			counts[i] = f.popInt()
		}
		for _, c := range counts {
			if c < 0 {
				return throw(NegativeArraySizeException, "%d", c)
			}
		}
		f.push(multiArray(n.Class, counts))

	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, n.Op)
	}
	return nil
}

var primitiveArray = map[int]string{
	bc.T_BOOLEAN: "Z",
	bc.T_CHAR:    "C",
	bc.T_FLOAT:   "F",
	bc.T_DOUBLE:  "D",
	bc.T_BYTE:    "B",
	bc.T_SHORT:   "S",
	bc.T_INT:     "I",
	bc.T_LONG:    "J",
}

// elementDesc turns an anewarray operand into an element descriptor.
func elementDesc(class string) string {
	if class != "" && class[0] == '[' {
		return class
	}
	return "L" + class + ";"
}

func multiArray(desc string, counts []int32) *Array {
	elem := desc[1:]
	a := NewArray(elem, int(counts[0]))
	if len(counts) > 1 {
		for i := range a.Data {
			a.Data[i] = multiArray(elem, counts[1:])
		}
	}
	return a
}

func instanceOf(v Value, class string) bool {
	if class == "java/lang/Object" {
		return v != nil
	}
	switch o := v.(type) {
	case *Object:
		if o.Class == class {
			return true
		}
		t := &Throwable{Class: o.Class}
		return t.Is(class)
	case *Array:
		return class == "["+o.Elem
	case string:
		return class == "java/lang/String"
	}
	return false
}

func (f *frame) ldc(n *bc.Node) error {
	pool := f.vm.Class.Pool
	var (
		v   Value
		err error
	)
	switch n.ConstTag {
	case classfile.TagInteger:
		v, err = pool.IntegerValue(n.Index)
	case classfile.TagFloat:
		v, err = pool.FloatValue(n.Index)
	case classfile.TagLong:
		v, err = pool.LongValue(n.Index)
	case classfile.TagDouble:
		v, err = pool.DoubleValue(n.Index)
	case classfile.TagString:
		v, err = pool.StringValue(n.Index)
	case classfile.TagClass:
		v = NewObject("java/lang/Class")
	default:
		return fmt.Errorf("%w: ldc of constant tag %d", ErrUnsupported, n.ConstTag)
	}
	if err != nil {
		return err
	}
	if n.LdcSize() == 2 {
		f.push2(v)
	} else {
		f.push(v)
	}
	return nil
}

func (f *frame) variable(n *bc.Node) error {
	slot := n.Operand
	switch n.Op {
	case bc.ILOAD, bc.FLOAD, bc.ALOAD:
		f.push(f.local(slot))
	case bc.LLOAD, bc.DLOAD:
		f.push2(f.local(slot))
	case bc.ISTORE, bc.FSTORE, bc.ASTORE:
		f.setLocal(slot, f.pop())
	case bc.LSTORE, bc.DSTORE:
		f.setLocal(slot, f.pop2())
		f.setLocal(slot+1, second{})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, n.Op)
	}
	return nil
}

func (f *frame) field(n *bc.Node) error {
	ref := n.Ref
	size := 1
	if wide(ref.Desc) {
		size = 2
	}
	pushField := func(v Value, ok bool) {
		if !ok {
			v = zero(ref.Desc)
		}
		if size == 2 {
			f.push2(v)
		} else {
			f.push(v)
		}
	}
	popField := func() Value {
		if size == 2 {
			return f.pop2()
		}
		return f.pop()
	}

	switch n.Op {
	case bc.GETSTATIC, bc.PUTSTATIC:
		if ref.Owner != f.vm.Class.Name {
			return fmt.Errorf("%w: static field %s.%s", ErrUnsupported, ref.Owner, ref.Name)
		}
		if n.Op == bc.GETSTATIC {
			v, ok := f.vm.Statics[ref.Name]
			pushField(v, ok)
		} else {
			f.vm.Statics[ref.Name] = popField()
		}
	case bc.GETFIELD:
		obj, err := f.object(f.pop(), ref)
		if err != nil {
			return err
		}
		v, ok := obj.Fields[ref.Name]
		pushField(v, ok)
	case bc.PUTFIELD:
		v := popField()
		obj, err := f.object(f.pop(), ref)
		if err != nil {
			return err
		}
		obj.Fields[ref.Name] = v
	}
	return nil
}

func (f *frame) object(v Value, ref classfile.MemberRef) (*Object, error) {
	switch o := v.(type) {
	case nil:
		return nil, throw(NullPointerException, "field %s of null", ref.Name)
	case *Object:
		return o, nil
	}
	return nil, fmt.Errorf("%w: field %s of %T", ErrUnsupported, ref.Name, v)
}

func (f *frame) jump(n *bc.Node) error {
	var taken bool
	switch n.Op {
	case bc.GOTO:
		taken = true
	case bc.IFEQ, bc.IFNE, bc.IFLT, bc.IFGE, bc.IFGT, bc.IFLE:
		taken = compare(n.Op-bc.IFEQ, f.popInt(), 0)
	case bc.IF_ICMPEQ, bc.IF_ICMPNE, bc.IF_ICMPLT, bc.IF_ICMPGE, bc.IF_ICMPGT, bc.IF_ICMPLE:
		b := f.popInt()
		a := f.popInt()
		taken = compare(n.Op-bc.IF_ICMPEQ, a, b)
	case bc.IF_ACMPEQ, bc.IF_ACMPNE:
		b := f.pop()
		a := f.pop()
		taken = (a == b) == (n.Op == bc.IF_ACMPEQ)
	case bc.IFNULL:
		taken = f.pop() == nil
	case bc.IFNONNULL:
		taken = f.pop() != nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, n.Op)
	}
	if taken {
		f.next = n.Target
	}
	return nil
}

// compare evaluates the i-th condition of the eq, ne, lt, ge, gt, le family.
func compare(i bc.Opcode, a, b int32) bool {
	switch i {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func (f *frame) arrayRef(v Value) (*Array, error) {
	switch a := v.(type) {
	case nil:
		return nil, throw(NullPointerException, "array is null")
	case *Array:
		return a, nil
	}
	return nil, fmt.Errorf("%w: array access on %T", ErrUnsupported, v)
}

func (f *frame) arrayLoad(op bc.Opcode) error {
	i := f.popInt()
	a, err := f.arrayRef(f.pop())
	if err != nil {
		return err
	}
	if i < 0 || int(i) >= len(a.Data) {
		return throw(ArrayIndexOutOfBoundsException, "Index %d out of bounds for length %d", i, len(a.Data))
	}
	if op == bc.LALOAD || op == bc.DALOAD {
		f.push2(a.Data[i])
	} else {
		f.push(a.Data[i])
	}
	return nil
}

func (f *frame) arrayStore(op bc.Opcode) error {
	var v Value
	if op == bc.LASTORE || op == bc.DASTORE {
		v = f.pop2()
	} else {
		v = f.pop()
	}
	i := f.popInt()
	a, err := f.arrayRef(f.pop())
	if err != nil {
		return err
	}
	if i < 0 || int(i) >= len(a.Data) {
		return throw(ArrayIndexOutOfBoundsException, "Index %d out of bounds for length %d", i, len(a.Data))
	}
	if x, ok := v.(int32); ok {
		switch a.Elem {
		case "Z":
			v = x & 1
		case "B":
			v = int32(int8(x))
		case "C":
			v = int32(uint16(x))
		case "S":
			v = int32(int16(x))
		}
	}
	a.Data[i] = v
	return nil
}

func (f *frame) insn(op bc.Opcode) error {
	switch op {
	case bc.NOP:
	case bc.ACONST_NULL:
		f.push(nil)
	case bc.ICONST_M1, bc.ICONST_0, bc.ICONST_1, bc.ICONST_2, bc.ICONST_3, bc.ICONST_4, bc.ICONST_5:
		f.push(int32(op) - int32(bc.ICONST_0))
	case bc.LCONST_0, bc.LCONST_1:
		f.push2(int64(op - bc.LCONST_0))
	case bc.FCONST_0, bc.FCONST_1, bc.FCONST_2:
		f.push(float32(op - bc.FCONST_0))
	case bc.DCONST_0, bc.DCONST_1:
		f.push2(float64(op - bc.DCONST_0))

	case bc.IALOAD, bc.LALOAD, bc.FALOAD, bc.DALOAD, bc.AALOAD, bc.BALOAD, bc.CALOAD, bc.SALOAD:
		return f.arrayLoad(op)
	case bc.IASTORE, bc.LASTORE, bc.FASTORE, bc.DASTORE, bc.AASTORE, bc.BASTORE, bc.CASTORE, bc.SASTORE:
		return f.arrayStore(op)
	case bc.ARRAYLENGTH:
		a, err := f.arrayRef(f.pop())
		if err != nil {
			return err
		}
		f.push(int32(len(a.Data)))

	case bc.POP:
		f.pop()
	case bc.POP2:
		f.pop()
		f.pop()
	case bc.DUP:
		v := f.pop()
		f.stack = append(f.stack, v, v)
	case bc.DUP_X1:
		v1, v2 := f.pop(), f.pop()
		f.stack = append(f.stack, v1, v2, v1)
	case bc.DUP_X2:
		v1, v2, v3 := f.pop(), f.pop(), f.pop()
		f.stack = append(f.stack, v1, v3, v2, v1)
	case bc.DUP2:
		v1, v2 := f.pop(), f.pop()
		f.stack = append(f.stack, v2, v1, v2, v1)
	case bc.DUP2_X1:
		v1, v2, v3 := f.pop(), f.pop(), f.pop()
		f.stack = append(f.stack, v2, v1, v3, v2, v1)
	case bc.DUP2_X2:
		v1, v2, v3, v4 := f.pop(), f.pop(), f.pop(), f.pop()
		f.stack = append(f.stack, v2, v1, v4, v3, v2, v1)
	case bc.SWAP:
		v1, v2 := f.pop(), f.pop()
		f.stack = append(f.stack, v1, v2)

	case bc.IRETURN, bc.FRETURN, bc.ARETURN:
		f.ret, f.done = f.pop(), true
	case bc.LRETURN, bc.DRETURN:
		f.ret, f.done = f.pop2(), true
	case bc.RETURN:
		f.done = true

	case bc.ATHROW:
		switch o := f.pop().(type) {
		case nil:
			return throw(NullPointerException, "throw null")
		case *Object:
			return &Throwable{Class: o.Class, Object: o}
		default:
			return fmt.Errorf("%w: throw of %T", ErrUnsupported, o)
		}
	case bc.MONITORENTER, bc.MONITOREXIT:
		if f.pop() == nil {
			return throw(NullPointerException, "monitor of null")
		}

	default:
		return f.arith(op)
	}
	return nil
}

func (f *frame) arith(op bc.Opcode) error {
	switch op {
	case bc.IADD, bc.ISUB, bc.IMUL, bc.IDIV, bc.IREM, bc.ISHL, bc.ISHR, bc.IUSHR, bc.IAND, bc.IOR, bc.IXOR:
		b := f.popInt()
		a := f.popInt()
		v, err := intOp(op, a, b)
		if err != nil {
			return err
		}
		f.push(v)
	case bc.LADD, bc.LSUB, bc.LMUL, bc.LDIV, bc.LREM, bc.LAND, bc.LOR, bc.LXOR:
		b := f.popLong()
		a := f.popLong()
		v, err := longOp(op, a, b)
		if err != nil {
			return err
		}
		f.push2(v)
	case bc.LSHL, bc.LSHR, bc.LUSHR:
		s := uint(f.popInt()) & 63
		a := f.popLong()
		switch op {
		case bc.LSHL:
			f.push2(a << s)
		case bc.LSHR:
			f.push2(a >> s)
		default:
			f.push2(int64(uint64(a) >> s))
		}
	case bc.FADD, bc.FSUB, bc.FMUL, bc.FDIV, bc.FREM:
		b := f.popFloat()
		a := f.popFloat()
		f.push(float32(floatOp(op-bc.FADD, float64(a), float64(b))))
	case bc.DADD, bc.DSUB, bc.DMUL, bc.DDIV, bc.DREM:
		b := f.popDouble()
		a := f.popDouble()
		f.push2(floatOp(op-bc.DADD, a, b))

	case bc.INEG:
		f.push(-f.popInt())
	case bc.LNEG:
		f.push2(-f.popLong())
	case bc.FNEG:
		f.push(-f.popFloat())
	case bc.DNEG:
		f.push2(-f.popDouble())

	case bc.I2L:
		f.push2(int64(f.popInt()))
	case bc.I2F:
		f.push(float32(f.popInt()))
	case bc.I2D:
		f.push2(float64(f.popInt()))
	case bc.L2I:
		f.push(int32(f.popLong()))
	case bc.L2F:
		f.push(float32(f.popLong()))
	case bc.L2D:
		f.push2(float64(f.popLong()))
	case bc.F2I:
		f.push(int32(toInt(float64(f.popFloat()), math.MinInt32, math.MaxInt32)))
	case bc.F2L:
		f.push2(toInt(float64(f.popFloat()), math.MinInt64, math.MaxInt64))
	case bc.F2D:
		f.push2(float64(f.popFloat()))
	case bc.D2I:
		f.push(int32(toInt(f.popDouble(), math.MinInt32, math.MaxInt32)))
	case bc.D2L:
		f.push2(toInt(f.popDouble(), math.MinInt64, math.MaxInt64))
	case bc.D2F:
		f.push(float32(f.popDouble()))
	case bc.I2B:
		f.push(int32(int8(f.popInt())))
	case bc.I2C:
		f.push(int32(uint16(f.popInt())))
	case bc.I2S:
		f.push(int32(int16(f.popInt())))

	case bc.LCMP:
		b := f.popLong()
		a := f.popLong()
		switch {
		case a < b:
			f.push(int32(-1))
		case a > b:
			f.push(int32(1))
		default:
			f.push(int32(0))
		}
	case bc.FCMPL, bc.FCMPG:
		b := f.popFloat()
		a := f.popFloat()
		f.push(floatCompare(float64(a), float64(b), op == bc.FCMPG))
	case bc.DCMPL, bc.DCMPG:
		b := f.popDouble()
		a := f.popDouble()
		f.push(floatCompare(a, b, op == bc.DCMPG))

	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
	return nil
}

func intOp(op bc.Opcode, a, b int32) (int32, error) {
	switch op {
	case bc.IADD:
		return a + b, nil
	case bc.ISUB:
		return a - b, nil
	case bc.IMUL:
		return a * b, nil
	case bc.IDIV, bc.IREM:
		if b == 0 {
			return 0, throw(ArithmeticException, "/ by zero")
		}
		if op == bc.IDIV {
			return a / b, nil
		}
		return a % b, nil
	case bc.ISHL:
		return a << (uint32(b) & 31), nil
	case bc.ISHR:
		return a >> (uint32(b) & 31), nil
	case bc.IUSHR:
		return int32(uint32(a) >> (uint32(b) & 31)), nil
	case bc.IAND:
		return a & b, nil
	case bc.IOR:
		return a | b, nil
	default:
		return a ^ b, nil
	}
}

func longOp(op bc.Opcode, a, b int64) (int64, error) {
	switch op {
	case bc.LADD:
		return a + b, nil
	case bc.LSUB:
		return a - b, nil
	case bc.LMUL:
		return a * b, nil
	case bc.LDIV, bc.LREM:
		if b == 0 {
			return 0, throw(ArithmeticException, "/ by zero")
		}
		if op == bc.LDIV {
			return a / b, nil
		}
		return a % b, nil
	case bc.LAND:
		return a & b, nil
	case bc.LOR:
		return a | b, nil
	default:
		return a ^ b, nil
	}
}

// floatOp evaluates add, sub, mul, div or rem by offset from the add opcode.
// The float and double opcodes are interleaved with a stride of four.
func floatOp(i bc.Opcode, a, b float64) float64 {
	switch i / 4 {
	case 0:
		return a + b
	case 1:
		return a - b
	case 2:
		return a * b
	case 3:
		return a / b
	default:
		return math.Mod(a, b)
	}
}

// toInt converts with Java's saturating semantics.
func toInt(x float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x <= float64(lo):
		return lo
	case x >= float64(hi):
		return hi
	}
	return int64(x)
}

func floatCompare(a, b float64, nanGreater bool) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		if nanGreater {
			return 1
		}
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
