// Package interp executes the methods of a single class file.
//
// It is a reference interpreter for checking that rewritten code computes
// what the original computed. Only what a self-contained class needs is
// modeled: primitives, arrays, plain objects with fields, static fields,
// exceptions and calls to methods of the same class. A bounded call depth
// makes unbounded recursion observable as a StackOverflowError.
package interp

import (
	"fmt"
	"strings"
)

// Value is an operand stack or local variable value: int32, int64,
// float32, float64, string, *Object, *Array, or nil for the null reference.
type Value any

// second fills the upper slot of a long or double.
type second struct{}

// Object is an instance of some class. Fields are keyed by name.
type Object struct {
	Class  string
	Fields map[string]Value
}

// NewObject returns an instance with no fields set.
func NewObject(class string) *Object {
	return &Object{Class: class, Fields: make(map[string]Value)}
}

// Array is an array of Elem, a field descriptor.
type Array struct {
	Elem string
	Data []Value
}

// NewArray returns a zeroed array of n elements.
func NewArray(elem string, n int) *Array {
	a := &Array{Elem: elem, Data: make([]Value, n)}
	z := zero(elem)
	for i := range a.Data {
		a.Data[i] = z
	}
	return a
}

// Built-in exception classes raised by the interpreter itself.
const (
	StackOverflowError             = "java/lang/StackOverflowError"
	NullPointerException           = "java/lang/NullPointerException"
	ArithmeticException            = "java/lang/ArithmeticException"
	ArrayIndexOutOfBoundsException = "java/lang/ArrayIndexOutOfBoundsException"
	NegativeArraySizeException     = "java/lang/NegativeArraySizeException"
)

var supers = map[string]string{
	StackOverflowError:             "java/lang/VirtualMachineError",
	"java/lang/VirtualMachineError": "java/lang/Error",
	"java/lang/Error":               "java/lang/Throwable",
	NullPointerException:           "java/lang/RuntimeException",
	ArithmeticException:            "java/lang/RuntimeException",
	ArrayIndexOutOfBoundsException: "java/lang/IndexOutOfBoundsException",
	"java/lang/IndexOutOfBoundsException": "java/lang/RuntimeException",
	NegativeArraySizeException:     "java/lang/RuntimeException",
	"java/lang/RuntimeException":    "java/lang/Exception",
	"java/lang/Exception":           "java/lang/Throwable",
}

// Throwable is a Java exception propagating out of interpreted code.
type Throwable struct {
	Class   string
	Message string
	Object  *Object
}

func (t *Throwable) Error() string {
	if t.Message == "" {
		return t.Class
	}
	return t.Class + ": " + t.Message
}

// Is reports whether the exception is an instance of class.
func (t *Throwable) Is(class string) bool {
	if class == "java/lang/Throwable" {
		return true
	}
	for c := t.Class; c != ""; c = supers[c] {
		if c == class {
			return true
		}
	}
	return false
}

func throw(class, format string, args ...any) *Throwable {
	return &Throwable{Class: class, Message: fmt.Sprintf(format, args...)}
}

// zero returns the default value of a field descriptor.
func zero(desc string) Value {
	switch desc[0] {
	case 'J':
		return int64(0)
	case 'F':
		return float32(0)
	case 'D':
		return float64(0)
	case 'L', '[':
		return nil
	default:
		return int32(0)
	}
}

func wide(desc string) bool {
	return strings.HasPrefix(desc, "J") || strings.HasPrefix(desc, "D")
}
