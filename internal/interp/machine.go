package interp

import (
	"errors"
	"fmt"

	bc "tailrec/internal/bytecode"
	"tailrec/internal/classfile"
)

var (
	// ErrNoMethod is returned when a called method does not exist.
	ErrNoMethod = errors.New("no such method")

	// ErrUnsupported is returned for instructions and calls the
	// interpreter does not model.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrStepLimit is returned when MaxSteps instructions have run.
	ErrStepLimit = errors.New("step limit exceeded")
)

// DefaultMaxDepth is the call depth at which StackOverflowError is raised
// when Machine.MaxDepth is zero.
const DefaultMaxDepth = 1024

// Machine runs the methods of one class.
type Machine struct {
	Class *classfile.ClassFile

	// MaxDepth bounds the number of active frames.
	MaxDepth int
	// MaxSteps bounds the total number of executed instructions; zero
	// means no limit.
	MaxSteps int

	// Statics holds the class's static fields by name.
	Statics map[string]Value

	// Depth is the deepest call depth reached so far.
	Depth int

	methods map[string]*bc.Method
	steps   int
}

// New parses a class and returns a machine for it.
func New(class []byte) (*Machine, error) {
	cf, err := classfile.Parse(class)
	if err != nil {
		return nil, err
	}
	return &Machine{
		Class:   cf,
		Statics: make(map[string]Value),
		methods: make(map[string]*bc.Method),
	}, nil
}

// Invoke calls a method of the class. Instance methods take the receiver
// as the first argument. Long and double arguments are passed as int64
// and float64 values occupying one argument each.
func (vm *Machine) Invoke(name, desc string, args ...Value) (Value, error) {
	m, err := vm.method(name, desc)
	if err != nil {
		return nil, err
	}
	want := len(m.Type.Params)
	if !m.IsStatic() {
		want++
	}
	if len(args) != want {
		return nil, fmt.Errorf("%s%s takes %d arguments, got %d", name, desc, want, len(args))
	}
	var locals []Value
	if !m.IsStatic() {
		locals = append(locals, args[0])
		args = args[1:]
	}
	for i, p := range m.Type.Params {
		locals = append(locals, args[i])
		if p.Size() == 2 {
			locals = append(locals, second{})
		}
	}
	return vm.call(m, locals, 1)
}

func (vm *Machine) method(name, desc string) (*bc.Method, error) {
	key := name + desc
	if m, ok := vm.methods[key]; ok {
		return m, nil
	}
	mem := vm.Class.Method(name, desc)
	if mem == nil {
		return nil, fmt.Errorf("%w: %s.%s%s", ErrNoMethod, vm.Class.Name, name, desc)
	}
	m, err := bc.Decode(vm.Class, mem)
	if err != nil {
		return nil, err
	}
	vm.methods[key] = m
	return m, nil
}

func (vm *Machine) maxDepth() int {
	if vm.MaxDepth > 0 {
		return vm.MaxDepth
	}
	return DefaultMaxDepth
}

// call runs m with the given argument slots at the given depth.
func (vm *Machine) call(m *bc.Method, args []Value, depth int) (Value, error) {
	if depth > vm.maxDepth() {
		return nil, throw(StackOverflowError, "depth %d", depth)
	}
	if depth > vm.Depth {
		vm.Depth = depth
	}
	f := &frame{
		vm:     vm,
		m:      m,
		locals: make([]Value, max(m.MaxLocals, len(args))),
		depth:  depth,
	}
	copy(f.locals, args)
	return f.run()
}

// invoke performs a call instruction from frame f.
func (vm *Machine) invoke(f *frame, n *bc.Node) error {
	ref := n.Ref
	mt, err := classfile.ParseMethodDescriptor(ref.Desc)
	if err != nil {
		return err
	}
	slots := mt.ArgSlots()
	if n.Op != bc.INVOKESTATIC {
		slots++
	}
	if len(f.stack) < slots {
		return fmt.Errorf("%w: stack underflow calling %s.%s", bc.ErrInvalidGraph, ref.Owner, ref.Name)
	}
	args := append([]Value(nil), f.stack[len(f.stack)-slots:]...)
	f.stack = f.stack[:len(f.stack)-slots]
	if n.Op != bc.INVOKESTATIC && args[0] == nil {
		return throw(NullPointerException, "calling %s.%s on null", ref.Owner, ref.Name)
	}

	if ref.Owner != vm.Class.Name {
		// Constructors of library classes only initialize state the
		// interpreter does not model.
		if ref.Name == "<init>" && ref.Desc == "()V" {
			return nil
		}
		return fmt.Errorf("%w: call to %s.%s%s", ErrUnsupported, ref.Owner, ref.Name, ref.Desc)
	}
	m, err := vm.method(ref.Name, ref.Desc)
	if err != nil {
		return err
	}
	ret, err := vm.call(m, args, f.depth+1)
	if err != nil {
		return err
	}
	switch mt.Return.Size() {
	case 1:
		f.push(ret)
	case 2:
		f.push2(ret)
	}
	return nil
}

func (vm *Machine) step() error {
	vm.steps++
	if vm.MaxSteps > 0 && vm.steps > vm.MaxSteps {
		return ErrStepLimit
	}
	return nil
}
