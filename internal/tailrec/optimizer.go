// Package tailrec eliminates self-recursive tail calls from JVM class files.
//
// A call is rewritten when the method cannot be overridden, the call
// targets the method itself, no exception handler covers it, and every path
// from the call returns its result unchanged. The call is replaced by stores
// of its arguments into the parameter slots followed by a jump to the
// method entry, so the recursion runs in constant stack space.
package tailrec

import (
	"errors"
	"fmt"
	"strings"

	bc "tailrec/internal/bytecode"
	"tailrec/internal/classfile"
)

var (
	// ErrInvariant is returned when a rewritten method cannot be encoded
	// for a reason other than its size.
	ErrInvariant = errors.New("tail call rewrite produced an invalid method")

	// ErrRange is returned by OptimizeRange for bounds outside the buffer.
	ErrRange = errors.New("range outside buffer")
)

// Optimize rewrites the tail-recursive methods of a class. When nothing
// changes the input slice itself is returned. A nil class yields nil. The
// input is never modified.
func Optimize(class []byte) ([]byte, error) {
	if class == nil {
		return nil, nil
	}
	cf, err := classfile.Parse(class)
	if err != nil {
		return nil, err
	}

	changed := false
	pipeline := NewPipeline()
	for _, mem := range cf.Methods {
		ok, err := optimizeMethod(cf, mem, pipeline)
		if err != nil {
			return nil, err
		}
		changed = changed || ok
	}
	if !changed {
		return class, nil
	}
	return cf.Bytes(), nil
}

// OptimizeRange is Optimize over buf[off:off+n]. When nothing changes a
// copy of that range is returned.
func OptimizeRange(buf []byte, off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off > len(buf) || n > len(buf)-off {
		return nil, fmt.Errorf("%w: [%d:%d] of %d bytes", ErrRange, off, off+n, len(buf))
	}
	in := buf[off : off+n : off+n]
	out, err := Optimize(in)
	if err != nil {
		return nil, err
	}
	if Same(out, in) {
		return append([]byte(nil), in...), nil
	}
	return out, nil
}

// Same reports whether a and b are the same slice: equal length over the
// same backing array start.
func Same(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return (a == nil) == (b == nil)
	}
	return &a[0] == &b[0]
}

func optimizeMethod(cf *classfile.ClassFile, mem *classfile.Member, pipeline *Pipeline) (bool, error) {
	if !eligible(mem.AccessFlags, mem.Name, cf.IsInterface()) {
		return false, nil
	}
	if mem.Attribute(classfile.AttrCode) == nil {
		return false, nil
	}
	m, err := bc.Decode(cf, mem)
	if err != nil {
		return false, fmt.Errorf("%s.%s%s: %w", cf.Name, mem.Name, mem.Descriptor, err)
	}

	ctx := &MethodContext{Method: m, ClassIsInterface: cf.IsInterface()}
	if !pipeline.Run(ctx) {
		return false, nil
	}

	info, err := m.Encode(cf.Pool)
	switch {
	case errors.Is(err, bc.ErrCodeTooLarge):
		logger().Warningf("%s.%s%s: left unchanged: %s", cf.Name, mem.Name, mem.Descriptor, err)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: %s.%s%s: %w", ErrInvariant, cf.Name, mem.Name, mem.Descriptor, err)
	}
	mem.SetAttribute(cf.NewAttribute(classfile.AttrCode, info))
	if len(m.Dropped) > 0 {
		logger().Warningf("%s.%s%s: dropped code attributes %s", cf.Name, mem.Name, mem.Descriptor, strings.Join(m.Dropped, ", "))
	}
	logger().Infof("%s.%s%s: eliminated %d tail call(s)", cf.Name, mem.Name, mem.Descriptor, ctx.Rewritten)
	return true, nil
}
