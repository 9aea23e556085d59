package codegen

import (
	"testing"

	"github.com/joelreymont/hoist-sub001/ir"
)

// buildConstReturnFunction builds `func() int64 { return 41 + 1 }`, enough
// to drive the whole lower -> allocate -> assemble -> unwind pipeline
// without needing incoming-argument marshaling.
func buildConstReturnFunction() *ir.Function {
	sig := &ir.Signature{Results: []ir.Type{ir.TypeI64}}
	fn := ir.NewFunction("answer", sig)
	b0 := fn.AddBlock()
	fn.Entry = b0

	a := fn.AddValue(ir.TypeI64, ir.InstInvalid)
	fn.AddInst(b0, ir.InstData{Op: ir.OpIconst, Imm: 41, Type: ir.TypeI64, Result: a})
	bv := fn.AddValue(ir.TypeI64, ir.InstInvalid)
	fn.AddInst(b0, ir.InstData{Op: ir.OpIconst, Imm: 1, Type: ir.TypeI64, Result: bv})

	sum := fn.AddValue(ir.TypeI64, ir.InstInvalid)
	fn.AddInst(b0, ir.InstData{Op: ir.OpIadd, Args: []ir.Value{a, bv}, Type: ir.TypeI64, Result: sum})

	fn.AddInst(b0, ir.InstData{Op: ir.OpReturn, Args: []ir.Value{sum}})
	return fn
}

func TestCompileFunctionProducesValidCompiledCode(t *testing.T) {
	isa, err := NewISA(Features{}, Tuning{}, OSLinux)
	if err != nil {
		t.Fatalf("NewISA: %v", err)
	}
	fn := buildConstReturnFunction()

	cc, err := isa.CompileFunction(fn, nil)
	if err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}
	if len(cc.Code) == 0 {
		t.Fatal("CompileFunction produced no code")
	}
	if len(cc.Code)%4 != 0 {
		t.Errorf("code length %d is not a multiple of 4", len(cc.Code))
	}
	last4 := cc.Code[len(cc.Code)-4:]
	want := []byte{0xC0, 0x03, 0x5F, 0xD6}
	for i := range want {
		if last4[i] != want[i] {
			t.Errorf("function does not end in a canonical RET: got % x, want % x", last4, want)
			break
		}
	}
	if cc.Unwind.CIE == nil || cc.Unwind.FDE == nil {
		t.Error("CompiledCode is missing unwind info")
	}
	if cc.StackFrameSize == 0 {
		t.Error("expected a non-zero stack frame size (at least the FP/LR save pair)")
	}
}
