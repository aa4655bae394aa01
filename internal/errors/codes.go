package errors

// Diagnostic codes for the tailrec toolchain
// These codes are used in assembler and command line messages
// to provide consistent error identification across the tools.
//
// Code ranges:
// T0001-T0099: Assembler syntax and directive errors
// T0100-T0199: Instruction operand errors
// T0200-T0299: Encoding errors
// T0800-T0899: Warning codes
// T0900-T0999: Reserved for tooling errors

const (
	// Assembler syntax and directive errors (T0001-T0099)

	// T0001: Input does not match the assembler grammar
	ErrorSyntax = "T0001"

	// T0002: Unknown class or method directive
	ErrorUnknownDirective = "T0002"

	// T0003: Unknown access flag name
	ErrorInvalidFlag = "T0003"

	// T0004: Method body without a maxs directive
	ErrorMissingMaxs = "T0004"

	// T0005: Duplicate label, method or field
	ErrorDuplicateDeclaration = "T0005"

	// Instruction operand errors (T0100-T0199)

	// T0100: Unknown instruction mnemonic
	ErrorUnknownInstruction = "T0100"

	// T0101: Wrong number of operands
	ErrorOperandCount = "T0101"

	// T0102: Operand of the wrong form
	ErrorInvalidOperand = "T0102"

	// T0103: Jump or range to a label that is never defined
	ErrorUndefinedLabel = "T0103"

	// T0104: Instruction the assembler cannot produce
	ErrorUnsupported = "T0104"

	// Encoding errors (T0200-T0299)

	// T0200: Method body cannot be encoded
	ErrorEncoding = "T0200"

	// Warning codes (T0800-T0899)

	// T0800: Method left unchanged because the rewritten code is too large
	WarningCodeTooLarge = "T0800"

	// T0801: Label defined but never referenced
	WarningUnusedLabel = "T0801"

	// Tooling errors (T0900-T0999)

	// T0900: Input or output file problem
	ErrorIO = "T0900"
)

// GetErrorDescription returns a human-readable description of the error code
func GetErrorDescription(code string) string {
	switch code {
	case ErrorSyntax:
		return "Input does not match the assembler grammar"
	case ErrorUnknownDirective:
		return "Directive is not known in this context"
	case ErrorInvalidFlag:
		return "Access flag name is not valid here"
	case ErrorMissingMaxs:
		return "Method body declares no maximum stack and locals"
	case ErrorDuplicateDeclaration:
		return "Duplicate declaration found"
	case ErrorUnknownInstruction:
		return "Instruction mnemonic is not known"
	case ErrorOperandCount:
		return "Instruction has the wrong number of operands"
	case ErrorInvalidOperand:
		return "Operand has the wrong form for this instruction"
	case ErrorUndefinedLabel:
		return "Label is referenced but never defined"
	case ErrorUnsupported:
		return "Instruction cannot be assembled"
	case ErrorEncoding:
		return "Method body cannot be encoded"
	case WarningCodeTooLarge:
		return "Rewritten method exceeds class file limits and was left unchanged"
	case WarningUnusedLabel:
		return "Label is defined but never referenced"
	case ErrorIO:
		return "File could not be read or written"
	default:
		return "Unknown error code"
	}
}

// IsWarning returns true if the code represents a warning rather than an error
func IsWarning(code string) bool {
	return code >= "T0800" && code < "T0900"
}

// GetErrorCategory returns the category of the error based on its code
func GetErrorCategory(code string) string {
	switch {
	case code >= "T0001" && code < "T0100":
		return "Assembler"
	case code >= "T0100" && code < "T0200":
		return "Instruction"
	case code >= "T0200" && code < "T0300":
		return "Encoding"
	case code >= "T0800" && code < "T0900":
		return "Warning"
	case code >= "T0900" && code < "T1000":
		return "Tooling"
	default:
		return "Unknown"
	}
}
