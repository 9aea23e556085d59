package codegen

import (
	"testing"

	"github.com/joelreymont/hoist-sub001/ir"
)

func vreg(class RegClass, idx int32) Reg {
	return Reg{class: class, index: idx, virtual: true, valid: true}
}

func TestBuildIntervalsSinglePass(t *testing.T) {
	v0 := vreg(RegClassInt, 0)
	v1 := vreg(RegClassInt, 1)
	vcode := []*Inst{
		{Kind: KMovRR, Rd: Writable(v0), Rn: X(0)},          // def v0 @0
		{Kind: KAddRRR, Rd: Writable(v1), Rn: v0, Rm: v0},   // def v1, use v0 @1
		{Kind: KMovRR, Rd: Writable(X(0)), Rn: v1},          // use v1 @2
	}
	intervals := buildIntervals(vcode)
	if len(intervals) != 2 {
		t.Fatalf("got %d intervals, want 2", len(intervals))
	}
	byIdx := map[int32]*Interval{}
	for _, iv := range intervals {
		byIdx[iv.Reg.Index()] = iv
	}
	if iv := byIdx[0]; iv.From != 0 || iv.To != 1 {
		t.Errorf("v0 interval = [%d,%d], want [0,1]", iv.From, iv.To)
	}
	if iv := byIdx[1]; iv.From != 1 || iv.To != 2 {
		t.Errorf("v1 interval = [%d,%d], want [1,2]", iv.From, iv.To)
	}
}

// Regression test for a bug found during authoring: an instruction whose
// vreg is both a spilled use and a spilled def (KCasal's Rn) must reload
// into, and spill back out of, the very same scratch register rather than
// borrowing two different ones.
func TestRewriteAndSpillReusesScratchForCasalDualUse(t *testing.T) {
	expected := vreg(RegClassInt, 0)
	inst := &Inst{
		Kind: KCasal, Rn: expected, Rm: X(5),
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: X(6)},
		Size:  Size64,
	}
	vcode := []*Inst{inst}
	intervals := []*Interval{
		{Reg: expected, From: 0, To: 0, Spilled: true, SpillSlot: 0},
	}

	out, err := rewriteAndSpill(vcode, intervals, 0)
	if err != nil {
		t.Fatalf("rewriteAndSpill: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d instructions, want 3 (reload, casal, store)", len(out))
	}
	reload, casal, store := out[0], out[1], out[2]
	if reload.Kind != KLoad {
		t.Fatalf("out[0].Kind = %v, want KLoad", reload.Kind)
	}
	if store.Kind != KStore {
		t.Fatalf("out[2].Kind = %v, want KStore", store.Kind)
	}
	if casal.Rn.IsVirtual() {
		t.Fatalf("casal.Rn is still virtual after rewrite: %v", casal.Rn)
	}
	if reload.Rd.R != casal.Rn {
		t.Errorf("reload writes %v but casal reads %v: the CAS no longer sees its reloaded expected value", reload.Rd.R, casal.Rn)
	}
	if store.Rd.R != casal.Rn {
		t.Errorf("store spills %v but casal wrote into %v: the observed value would be lost", store.Rd.R, casal.Rn)
	}
}

func TestRewriteAndSpillNonSpilledOperandsAreRewrittenInPlace(t *testing.T) {
	v0 := vreg(RegClassInt, 0)
	inst := &Inst{Kind: KAddRRR, Rd: Writable(v0), Rn: X(1), Rm: X(2), Size: Size64}
	intervals := []*Interval{{Reg: v0, From: 0, To: 0, PhysIdx: 9}}

	out, err := rewriteAndSpill([]*Inst{inst}, intervals, 0)
	if err != nil {
		t.Fatalf("rewriteAndSpill: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d instructions, want 1 (no spill insertion needed)", len(out))
	}
	if out[0].Rd.R != X(9) {
		t.Errorf("Rd = %v, want X9", out[0].Rd.R)
	}
}

func TestBumpStackFPOffsetAdjustsFPRelativeAddressing(t *testing.T) {
	load := &Inst{Kind: KLoad, Rd: Writable(X(0)), Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: FP, Imm: 8}, Size: Size64}
	bumpStackFPOffset(load, 32)
	if load.Amode.Imm != 40 {
		t.Errorf("FP-relative load offset = %d, want 40", load.Amode.Imm)
	}

	addr := &Inst{Kind: KAddRRImm12, Rd: Writable(X(1)), Rn: FP, Imm12: Imm12{Bits: 16}, Size: Size64}
	bumpStackFPOffset(addr, 32)
	if addr.Imm12.Value() != 48 {
		t.Errorf("FP-relative stack-addr offset = %d, want 48", addr.Imm12.Value())
	}

	// A load based on something other than FP must be left untouched.
	other := &Inst{Kind: KLoad, Rd: Writable(X(0)), Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: X(2), Imm: 8}, Size: Size64}
	bumpStackFPOffset(other, 32)
	if other.Amode.Imm != 8 {
		t.Errorf("non-FP-relative load offset changed to %d, want unchanged 8", other.Amode.Imm)
	}
}

// Defining a function body with more simultaneously live integer values than
// AllocatableInt holds forces the sweep to spill at least one of them.
func TestAllocateSpillsWhenPoolSaturated(t *testing.T) {
	n := int32(len(AllocatableInt) + 2)

	var vcode []*Inst
	for i := int32(0); i < n; i++ {
		vcode = append(vcode, &Inst{Kind: KMovRR, Rd: Writable(vreg(RegClassInt, i)), Rn: X(0), Size: Size64})
	}
	for i := int32(0); i < n; i++ {
		vcode = append(vcode, &Inst{Kind: KMovRR, Rd: Writable(X(0)), Rn: vreg(RegClassInt, i), Size: Size64})
	}

	fn := &ir.Function{}
	abi := &FunctionABI{}
	alloc, err := Allocate(fn, vcode, abi, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if alloc.Frame.LocalSize == 0 {
		t.Error("expected at least one spill slot to be allocated, got LocalSize == 0")
	}
	if len(alloc.Insts) <= len(vcode) {
		t.Error("expected spill reload/store instructions to have been inserted")
	}
}

func TestAllocateIsDeterministic(t *testing.T) {
	build := func() []*Inst {
		return []*Inst{
			{Kind: KMovRR, Rd: Writable(vreg(RegClassInt, 0)), Rn: X(0), Size: Size64},
			{Kind: KMovRR, Rd: Writable(vreg(RegClassInt, 1)), Rn: X(1), Size: Size64},
			{Kind: KAddRRR, Rd: Writable(vreg(RegClassInt, 2)), Rn: vreg(RegClassInt, 0), Rm: vreg(RegClassInt, 1), Size: Size64},
			{Kind: KMovRR, Rd: Writable(X(0)), Rn: vreg(RegClassInt, 2), Size: Size64},
		}
	}
	fn := &ir.Function{}
	abi := &FunctionABI{}

	a1, err := Allocate(fn, build(), abi, nil)
	if err != nil {
		t.Fatalf("Allocate (first): %v", err)
	}
	a2, err := Allocate(fn, build(), abi, nil)
	if err != nil {
		t.Fatalf("Allocate (second): %v", err)
	}
	if len(a1.Insts) != len(a2.Insts) {
		t.Fatalf("instruction counts differ: %d vs %d", len(a1.Insts), len(a2.Insts))
	}
	for i := range a1.Insts {
		if a1.Insts[i].Rd.R != a2.Insts[i].Rd.R || a1.Insts[i].Rn != a2.Insts[i].Rn {
			t.Errorf("inst %d differs between runs: %+v vs %+v", i, a1.Insts[i], a2.Insts[i])
		}
	}
}
