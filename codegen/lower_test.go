package codegen

import (
	"testing"

	"github.com/joelreymont/hoist-sub001/ir"
)

func lowerSingleBlock(t *testing.T, build func(fn *ir.Function, b ir.Block)) []*Inst {
	t.Helper()
	fn := ir.NewFunction("f", &ir.Signature{})
	b0 := fn.AddBlock()
	fn.Entry = b0
	build(fn, b0)

	insts, err := Lower(fn, NewCodeBuffer(), nil)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	return insts
}

// kinds lists the Kind of every instruction, in order, for failure messages.
// The list includes the block-entry KNop marker Lower inserts once per block.
func kinds(insts []*Inst) []Kind {
	out := make([]Kind, len(insts))
	for i, in := range insts {
		out[i] = in.Kind
	}
	return out
}

func TestLowerIaddEmitsAddRRR(t *testing.T) {
	insts := lowerSingleBlock(t, func(fn *ir.Function, b ir.Block) {
		a := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 1, Type: ir.TypeI64, Result: a})
		bv := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 2, Type: ir.TypeI64, Result: bv})
		sum := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpIadd, Args: []ir.Value{a, bv}, Type: ir.TypeI64, Result: sum})
	})

	found := false
	for _, in := range insts {
		if in.Kind == KAddRRR {
			found = true
			if in.Size != Size64 {
				t.Errorf("KAddRRR.Size = %v, want Size64", in.Size)
			}
		}
	}
	if !found {
		t.Errorf("expected a KAddRRR among %v", kinds(insts))
	}
}

func TestLowerBitwiseOps(t *testing.T) {
	cases := []struct {
		op   ir.Opcode
		want Kind
	}{
		{ir.OpBand, KAndRRR},
		{ir.OpBor, KOrrRRR},
		{ir.OpBxor, KEorRRR},
		{ir.OpImul, KMulRRR},
		{ir.OpSdiv, KSDivRRR},
		{ir.OpUdiv, KUDivRRR},
	}
	for _, c := range cases {
		insts := lowerSingleBlock(t, func(fn *ir.Function, b ir.Block) {
			a := fn.AddValue(ir.TypeI32, ir.InstInvalid)
			fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 3, Type: ir.TypeI32, Result: a})
			bv := fn.AddValue(ir.TypeI32, ir.InstInvalid)
			fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 4, Type: ir.TypeI32, Result: bv})
			r := fn.AddValue(ir.TypeI32, ir.InstInvalid)
			fn.AddInst(b, ir.InstData{Op: c.op, Args: []ir.Value{a, bv}, Type: ir.TypeI32, Result: r})
		})
		found := false
		for _, in := range insts {
			if in.Kind == c.want {
				found = true
			}
		}
		if !found {
			t.Errorf("op %v: expected %v among %v", c.op, c.want, kinds(insts))
		}
	}
}

func TestLowerJumpEmitsB(t *testing.T) {
	fn := ir.NewFunction("f", &ir.Signature{})
	b0 := fn.AddBlock()
	b1 := fn.AddBlock()
	fn.Entry = b0
	fn.AddInst(b0, ir.InstData{Op: ir.OpJump, Target: b1})
	fn.AddInst(b1, ir.InstData{Op: ir.OpReturn})

	insts, err := Lower(fn, NewCodeBuffer(), nil)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	var sawB, sawRet bool
	for _, in := range insts {
		if in.Kind == KB {
			sawB = true
		}
		if in.Kind == KRet {
			sawRet = true
		}
	}
	if !sawB {
		t.Errorf("expected a KB among %v", kinds(insts))
	}
	if !sawRet {
		t.Errorf("expected a KRet among %v", kinds(insts))
	}
}

func TestLowerBrIfEmitsCBNZAndB(t *testing.T) {
	fn := ir.NewFunction("f", &ir.Signature{})
	b0 := fn.AddBlock()
	bThen := fn.AddBlock()
	bElse := fn.AddBlock()
	fn.Entry = b0

	cond := fn.AddValue(ir.TypeI64, ir.InstInvalid)
	fn.AddInst(b0, ir.InstData{Op: ir.OpIconst, Imm: 1, Type: ir.TypeI64, Result: cond})
	fn.AddInst(b0, ir.InstData{Op: ir.OpBrIf, Args: []ir.Value{cond}, Target: bThen, Else: bElse})
	fn.AddInst(bThen, ir.InstData{Op: ir.OpReturn})
	fn.AddInst(bElse, ir.InstData{Op: ir.OpReturn})

	insts, err := Lower(fn, NewCodeBuffer(), nil)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	var sawCBNZ, sawB bool
	for _, in := range insts {
		switch in.Kind {
		case KCBNZ:
			sawCBNZ = true
		case KB:
			sawB = true
		}
	}
	if !sawCBNZ || !sawB {
		t.Errorf("expected both KCBNZ and KB among %v", kinds(insts))
	}
}

func TestLowerStackAddrLoadStore(t *testing.T) {
	insts := lowerSingleBlock(t, func(fn *ir.Function, b ir.Block) {
		slot := fn.AddStackSlot(8, 8)
		v := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 9, Type: ir.TypeI64, Result: v})
		fn.AddInst(b, ir.InstData{Op: ir.OpStackStore, Args: []ir.Value{v}, Slot: slot})
		loaded := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpStackLoad, Slot: slot, Type: ir.TypeI64, Result: loaded})
		addr := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpStackAddr, Slot: slot, Type: ir.TypeI64, Result: addr})
	})

	var sawStore, sawLoad, sawAddr bool
	for _, in := range insts {
		switch in.Kind {
		case KStore:
			sawStore = true
		case KLoad:
			sawLoad = true
		case KAddRRImm12:
			sawAddr = true
			if in.Rn != FP {
				t.Errorf("stack addr base = %v, want FP", in.Rn)
			}
		}
	}
	if !sawStore || !sawLoad || !sawAddr {
		t.Errorf("missing expected stack-slot instructions among %v", kinds(insts))
	}
}

func TestLowerAtomicCasEmitsMovThenCasal(t *testing.T) {
	insts := lowerSingleBlock(t, func(fn *ir.Function, b ir.Block) {
		addr := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 0, Type: ir.TypeI64, Result: addr})
		expected := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 1, Type: ir.TypeI64, Result: expected})
		repl := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpIconst, Imm: 2, Type: ir.TypeI64, Result: repl})
		observed := fn.AddValue(ir.TypeI64, ir.InstInvalid)
		fn.AddInst(b, ir.InstData{Op: ir.OpAtomicCas, Args: []ir.Value{addr, expected, repl}, Type: ir.TypeI64, Result: observed})
	})

	casalIdx := -1
	for i, in := range insts {
		if in.Kind == KCasal {
			casalIdx = i
		}
	}
	if casalIdx <= 0 {
		t.Fatalf("expected a KCasal preceded by a KMovRR among %v", kinds(insts))
	}
	if insts[casalIdx-1].Kind != KMovRR {
		t.Errorf("instruction before KCasal = %v, want KMovRR (expected-value copy)", insts[casalIdx-1].Kind)
	}
	if insts[casalIdx-1].Rd.R != insts[casalIdx].Rn {
		t.Error("CASAL's Rn should be the same register the preceding MOV just defined")
	}
}

func TestLowerFenceEmitsDmb(t *testing.T) {
	insts := lowerSingleBlock(t, func(fn *ir.Function, b ir.Block) {
		fn.AddInst(b, ir.InstData{Op: ir.OpFenceAcqRel})
	})
	found := false
	for _, in := range insts {
		if in.Kind == KDmb {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a KDmb among %v", kinds(insts))
	}
}
