package classfile

import "fmt"

// Sort classifies a field type.
type Sort uint8

const (
	SortVoid Sort = iota
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
)

// Type is a parsed field descriptor.
type Type struct {
	Sort Sort
	Desc string
}

// Size returns the number of local-variable / operand-stack slots the type occupies.
func (t Type) Size() int {
	switch t.Sort {
	case SortVoid:
		return 0
	case SortLong, SortDouble:
		return 2
	default:
		return 1
	}
}

// IsReference reports whether the type is an object or array type.
func (t Type) IsReference() bool {
	return t.Sort == SortObject || t.Sort == SortArray
}

// InternalName returns the internal class name for reference types: the
// slashed name for objects and the descriptor itself for arrays.
func (t Type) InternalName() string {
	switch t.Sort {
	case SortObject:
		return t.Desc[1 : len(t.Desc)-1]
	case SortArray:
		return t.Desc
	}
	return ""
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []Type
	Return Type
}

// ArgSlots returns the number of local slots taken by the parameters.
func (m MethodType) ArgSlots() int {
	n := 0
	for _, p := range m.Params {
		n += p.Size()
	}
	return n
}

// ParseMethodDescriptor parses a descriptor such as "(IJLjava/lang/String;)V".
func ParseMethodDescriptor(desc string) (MethodType, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return MethodType{}, fmt.Errorf("%w: bad method descriptor %q", ErrMalformed, desc)
	}
	var mt MethodType
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseFieldType(desc, i)
		if err != nil {
			return MethodType{}, err
		}
		if t.Sort == SortVoid {
			return MethodType{}, fmt.Errorf("%w: void parameter in %q", ErrMalformed, desc)
		}
		mt.Params = append(mt.Params, t)
		i = n
	}
	if i >= len(desc) {
		return MethodType{}, fmt.Errorf("%w: unterminated method descriptor %q", ErrMalformed, desc)
	}
	ret, n, err := parseFieldType(desc, i+1)
	if err != nil {
		return MethodType{}, err
	}
	if n != len(desc) {
		return MethodType{}, fmt.Errorf("%w: trailing data in method descriptor %q", ErrMalformed, desc)
	}
	mt.Return = ret
	return mt, nil
}

// ParseFieldDescriptor parses a single field descriptor.
func ParseFieldDescriptor(desc string) (Type, error) {
	t, n, err := parseFieldType(desc, 0)
	if err != nil {
		return Type{}, err
	}
	if n != len(desc) || t.Sort == SortVoid {
		return Type{}, fmt.Errorf("%w: bad field descriptor %q", ErrMalformed, desc)
	}
	return t, nil
}

func parseFieldType(desc string, i int) (Type, int, error) {
	if i >= len(desc) {
		return Type{}, i, fmt.Errorf("%w: truncated descriptor %q", ErrMalformed, desc)
	}
	var sort Sort
	switch desc[i] {
	case 'V':
		sort = SortVoid
	case 'Z':
		sort = SortBoolean
	case 'C':
		sort = SortChar
	case 'B':
		sort = SortByte
	case 'S':
		sort = SortShort
	case 'I':
		sort = SortInt
	case 'F':
		sort = SortFloat
	case 'J':
		sort = SortLong
	case 'D':
		sort = SortDouble
	case 'L':
		end := i + 1
		for end < len(desc) && desc[end] != ';' {
			end++
		}
		if end >= len(desc) || end == i+1 {
			return Type{}, i, fmt.Errorf("%w: bad class type in descriptor %q", ErrMalformed, desc)
		}
		return Type{Sort: SortObject, Desc: desc[i : end+1]}, end + 1, nil
	case '[':
		j := i
		for j < len(desc) && desc[j] == '[' {
			j++
		}
		elem, n, err := parseFieldType(desc, j)
		if err != nil {
			return Type{}, i, err
		}
		if elem.Sort == SortVoid {
			return Type{}, i, fmt.Errorf("%w: void array element in %q", ErrMalformed, desc)
		}
		return Type{Sort: SortArray, Desc: desc[i:n]}, n, nil
	default:
		return Type{}, i, fmt.Errorf("%w: bad descriptor character %q in %q", ErrMalformed, desc[i], desc)
	}
	return Type{Sort: sort, Desc: desc[i : i+1]}, i + 1, nil
}
