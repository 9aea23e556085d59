package codegen

import "fmt"

// ErrorKind enumerates the recoverable/surfaced error taxonomy.
// Internal invariant failures (unresolved label, allocator saturation, an
// instruction kind the encoder does not handle) panic via utils.Fatal/Assert;
// CompileFunction does not recover them. KindFatal tags the non-recoverable
// failures that are returned as errors instead (a frame size the prologue
// cannot encode, a branch still out of range after veneer insertion, an IR
// opcode with no lowering).
type ErrorKind uint8

const (
	KindImmediateOutOfRange ErrorKind = iota
	KindInvalidLogicalImmediate
	KindUnsupportedType
	KindUnsupportedIntegerSize
	KindUnsupportedFloatSize
	KindPauthNotAvailable
	KindBtiNotAvailable
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindImmediateOutOfRange:
		return "ImmediateOutOfRange"
	case KindInvalidLogicalImmediate:
		return "InvalidLogicalImmediate"
	case KindUnsupportedType:
		return "UnsupportedType"
	case KindUnsupportedIntegerSize:
		return "UnsupportedIntegerSize"
	case KindUnsupportedFloatSize:
		return "UnsupportedFloatSize"
	case KindPauthNotAvailable:
		return "PauthNotAvailable"
	case KindBtiNotAvailable:
		return "BtiNotAvailable"
	default:
		return "Fatal"
	}
}

// CodegenError is the back end's typed error, grounded on
// lookbusy1344-arm_emulator/encoder/errors.go's EncodingError: a kind tag,
// a message, an optional wrapped cause, and (when known) the offending
// instruction index for diagnostics.
type CodegenError struct {
	Kind    ErrorKind
	Msg     string
	InstIdx int // -1 if not applicable
	Wrapped error
}

func (e *CodegenError) Error() string {
	if e.InstIdx >= 0 {
		return fmt.Sprintf("%s: %s (inst #%d)", e.Kind, e.Msg, e.InstIdx)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *CodegenError) Unwrap() error { return e.Wrapped }

// newErr constructs a CodegenError with no associated instruction index.
func newErr(kind ErrorKind,format string, args ...interface{}) *CodegenError {
	return &CodegenError{Kind: kind, Msg: fmt.Sprintf(format, args...), InstIdx: -1}
}

// wrapErr returns cause unchanged when it is already a *CodegenError of the
// same kind (avoiding double-wrapping), and wraps it otherwise, mirroring the
// teacher-adjacent WrapEncodingError idiom.
func wrapErr(kind ErrorKind,cause error, format string, args ...interface{}) *CodegenError {
	if ce, ok := cause.(*CodegenError); ok && ce.Kind == kind {
		return ce
	}
	return &CodegenError{Kind: kind, Msg: fmt.Sprintf(format, args...), InstIdx: -1, Wrapped: cause}
}
