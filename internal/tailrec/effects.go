package tailrec

import bc "tailrec/internal/bytecode"

// effect describes a droppable zero-operand instruction: it pops and pushes
// the given number of stack slots, and whatever it pushes is unrelated to
// the pending recursive result.
type effect struct {
	pop, push int
}

// droppable lists the zero-operand instructions that may follow a recursive
// call and be deleted with it. Faults they could raise (null arrays, bad
// indices, division by zero) are not preserved.
var droppable = map[bc.Opcode]effect{
	bc.NOP: {0, 0},

	bc.ACONST_NULL: {0, 1},
	bc.ICONST_M1:   {0, 1},
	bc.ICONST_0:    {0, 1},
	bc.ICONST_1:    {0, 1},
	bc.ICONST_2:    {0, 1},
	bc.ICONST_3:    {0, 1},
	bc.ICONST_4:    {0, 1},
	bc.ICONST_5:    {0, 1},
	bc.FCONST_0:    {0, 1},
	bc.FCONST_1:    {0, 1},
	bc.FCONST_2:    {0, 1},
	bc.LCONST_0:    {0, 2},
	bc.LCONST_1:    {0, 2},
	bc.DCONST_0:    {0, 2},
	bc.DCONST_1:    {0, 2},

	bc.IALOAD: {2, 1},
	bc.FALOAD: {2, 1},
	bc.AALOAD: {2, 1},
	bc.BALOAD: {2, 1},
	bc.CALOAD: {2, 1},
	bc.SALOAD: {2, 1},
	bc.LALOAD: {2, 2},
	bc.DALOAD: {2, 2},

	bc.ARRAYLENGTH: {1, 1},

	bc.POP:  {1, 0},
	bc.POP2: {2, 0},

	// int and float binary operations
	bc.IADD: {2, 1}, bc.ISUB: {2, 1}, bc.IMUL: {2, 1}, bc.IDIV: {2, 1}, bc.IREM: {2, 1},
	bc.ISHL: {2, 1}, bc.ISHR: {2, 1}, bc.IUSHR: {2, 1},
	bc.IAND: {2, 1}, bc.IOR: {2, 1}, bc.IXOR: {2, 1},
	bc.FADD: {2, 1}, bc.FSUB: {2, 1}, bc.FMUL: {2, 1}, bc.FDIV: {2, 1}, bc.FREM: {2, 1},
	bc.FCMPL: {2, 1}, bc.FCMPG: {2, 1},

	// long and double binary operations
	bc.LADD: {4, 2}, bc.LSUB: {4, 2}, bc.LMUL: {4, 2}, bc.LDIV: {4, 2}, bc.LREM: {4, 2},
	bc.LAND: {4, 2}, bc.LOR: {4, 2}, bc.LXOR: {4, 2},
	bc.DADD: {4, 2}, bc.DSUB: {4, 2}, bc.DMUL: {4, 2}, bc.DDIV: {4, 2}, bc.DREM: {4, 2},
	bc.LSHL: {3, 2}, bc.LSHR: {3, 2}, bc.LUSHR: {3, 2},
	bc.LCMP: {4, 1}, bc.DCMPL: {4, 1}, bc.DCMPG: {4, 1},

	// unary operations and conversions
	bc.INEG: {1, 1}, bc.FNEG: {1, 1},
	bc.I2F: {1, 1}, bc.F2I: {1, 1}, bc.I2B: {1, 1}, bc.I2C: {1, 1}, bc.I2S: {1, 1},
	bc.LNEG: {2, 2}, bc.DNEG: {2, 2}, bc.L2D: {2, 2}, bc.D2L: {2, 2},
	bc.L2I: {2, 1}, bc.L2F: {2, 1}, bc.D2I: {2, 1}, bc.D2F: {2, 1},
	bc.I2L: {1, 2}, bc.I2D: {1, 2}, bc.F2L: {1, 2}, bc.F2D: {1, 2},
}

// fieldSize returns the stack size of a field descriptor.
func fieldSize(desc string) int {
	if desc == "J" || desc == "D" {
		return 2
	}
	return 1
}
