package tailrec

import "tailrec/internal/classfile"

// eligible decides whether a method may be rewritten at all. Recursion
// through a call that can dispatch elsewhere must keep its frame, so only
// methods that cannot be overridden qualify.
func eligible(access uint16, name string, ownerIsInterface bool) bool {
	if name == "<init>" || name == "<clinit>" {
		return false
	}
	if access&(classfile.AccNative|classfile.AccAbstract) != 0 {
		return false
	}
	if access&classfile.AccStatic != 0 {
		return true
	}
	if ownerIsInterface {
		// Non-abstract interface methods: defaults and private helpers.
		return true
	}
	if access&(classfile.AccPrivate|classfile.AccFinal) == 0 {
		return false
	}
	// The receiver slot is overwritten on every iteration, which would
	// detach the monitor held for the original receiver.
	return access&classfile.AccSynchronized == 0
}
