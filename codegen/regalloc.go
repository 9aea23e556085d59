package codegen

import (
	"sort"

	"github.com/joelreymont/hoist-sub001/ir"
	"github.com/joelreymont/hoist-sub001/utils"
)

// Interval is one virtual register's live range, grounded on
// lsra.go's Interval/Range/UsePoint vocabulary but collapsed to a single
// contiguous range rather than a Range list: regOf (lower.go) allocates
// each virtual register at its one defining instruction and every use
// comes strictly later in program order (block order is never reordered),
// so [From, To] already covers every point the value is live without
// needing general multi-range/CFG machinery.
type Interval struct {
	Reg Reg

	From, To int   // VCode indices: defining instruction .. last use, inclusive
	Uses     []int // every using instruction's VCode index, ascending

	PhysIdx   int   // assigned hardware index, valid when !Spilled
	Spilled   bool
	SpillSlot int64 // byte offset from the start of the local area, valid when Spilled
}

// maxPhysIdx bounds the physical-register index domain both banks share:
// AArch64 has 32 general and 32 floating-point/vector registers.
const maxPhysIdx = 32

// classState is the per-register-bank bookkeeping the sweep keeps live:
// which physical indices are currently held, and by which interval.
type classState struct {
	pool   []int // preferred assignment order (AllocatableInt/AllocatableFloat)
	used   *utils.BitMap
	active []*Interval
}

func newClassState(pool []int) *classState {
	return &classState{pool: pool, used: utils.NewBitMap(maxPhysIdx)}
}

func (cs *classState) pickFree() (int, bool) {
	for _, idx := range cs.pool {
		if !cs.used.IsSet(idx) {
			return idx, true
		}
	}
	return 0, false
}

// admit expires everything that can no longer conflict with iv, then either
// hands iv a free physical register, steals one from whichever active
// interval ends latest (spilling that one instead), or spills iv itself:
// whichever of the active range with the latest end and the current one
// ends later is the one that gets spilled.
func (cs *classState) admit(iv *Interval, allocSpill func() int64) {
	kept := cs.active[:0]
	for _, a := range cs.active {
		if a.To < iv.From {
			cs.used.Reset(a.PhysIdx)
		} else {
			kept = append(kept, a)
		}
	}
	cs.active = kept

	if idx, ok := cs.pickFree(); ok {
		iv.PhysIdx = idx
		cs.used.Set(idx)
		cs.active = append(cs.active, iv)
		return
	}

	spillPos, maxTo := -1, iv.To
	for i, a := range cs.active {
		if a.To > maxTo {
			maxTo, spillPos = a.To, i
		}
	}
	if spillPos == -1 {
		iv.Spilled = true
		iv.SpillSlot = allocSpill()
		return
	}
	victim := cs.active[spillPos]
	iv.PhysIdx = victim.PhysIdx
	cs.active[spillPos] = iv
	victim.Spilled = true
	victim.SpillSlot = allocSpill()
}

// buildIntervals makes one Interval per virtual register by a single
// forward pass over vcode. VReg (lower.go) hands out indices from one
// shared counter regardless of class, so Reg.Index() alone identifies a
// vreg across both banks.
func buildIntervals(vcode []*Inst) []*Interval {
	byIdx := make(map[int32]*Interval)
	var order []*Interval
	var defs, uses []Reg

	for pos, inst := range vcode {
		defs = inst.Defs(defs[:0])
		for _, r := range defs {
			if !r.IsVirtual() {
				continue
			}
			if _, ok := byIdx[r.Index()]; !ok {
				iv := &Interval{Reg: r, From: pos, To: pos}
				byIdx[r.Index()] = iv
				order = append(order, iv)
			}
		}

		uses = inst.Uses(uses[:0])
		for _, r := range uses {
			if !r.IsVirtual() {
				continue
			}
			iv, ok := byIdx[r.Index()]
			if !ok {
				// A vreg read before any recorded def shouldn't arise from
				// well-formed lowering output; treat the read site as the
				// start too rather than losing the value entirely.
				iv = &Interval{Reg: r, From: pos, To: pos}
				byIdx[r.Index()] = iv
				order = append(order, iv)
			}
			iv.To = pos
			iv.Uses = append(iv.Uses, pos)
		}
	}
	return order
}

// totalStackSlotBytes mirrors stackSlotOffset's layout loop (lower_mem.go)
// over every declared slot, giving the byte size C7's FP-relative
// addressing already assumes for fn's explicit ir.StackSlots.
func totalStackSlotBytes(fn *ir.Function) int64 {
	var offset int64
	for _, sd := range fn.StackSlots {
		offset = alignInt64(offset, sd.Align) + sd.Size
	}
	return offset
}

func poolFor(class RegClass) []int {
	if class == RegClassFloat {
		return AllocatableFloat
	}
	return AllocatableInt
}

// Allocation is regalloc.go's output: the rewritten, all-physical VCode
// ready for Encode, and the frame shape its spills and any callee-saved
// registers it touched require.
type Allocation struct {
	Insts []*Inst
	Frame *FrameLayout
}

// Allocate runs linear-scan register allocation over vcode:
// build intervals, sweep them in increasing start order over the AArch64
// integer and float pools, insert spill stores/reloads for anything that
// didn't fit, rewrite every virtual operand to hardware, and produce the
// FrameLayout the prologue/epilogue (abi.go) need. fn supplies the explicit
// ir.StackSlot region's size so spill slots land after it, and abi supplies
// ArgStackSize for FrameLayout.
func Allocate(fn *ir.Function, vcode []*Inst, abi *FunctionABI, log Logger) (*Allocation, error) {
	if log == nil {
		log = NopLogger{}
	}

	intervals := buildIntervals(vcode)
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].From != intervals[j].From {
			return intervals[i].From < intervals[j].From
		}
		return intervals[i].Reg.Index() < intervals[j].Reg.Index()
	})

	stackSlotBytes := totalStackSlotBytes(fn)
	nextSpill := stackSlotBytes
	allocSpill := func() int64 {
		s := nextSpill
		nextSpill += 8
		return s
	}

	intState := newClassState(AllocatableInt)
	floatState := newClassState(AllocatableFloat)
	for _, iv := range intervals {
		if iv.Reg.Class() == RegClassFloat {
			floatState.admit(iv, allocSpill)
		} else {
			intState.admit(iv, allocSpill)
		}
	}
	log.Debugf("regalloc: %d vregs, %d spilled", len(intervals), countSpilled(intervals))

	frame := &FrameLayout{
		CalleeSaved:      calleeSavedUsed(intervals, RegClassInt),
		CalleeSavedFloat: calleeSavedUsed(intervals, RegClassFloat),
		HasCalls:         hasCalls(vcode),
		ArgStackSize:     abi.ArgStackSize,
	}
	localAreaOffset := frame.LocalAreaOffset()
	frame.LocalSize = utils.AlignUp64(nextSpill, 16)

	rewritten, err := rewriteAndSpill(vcode, intervals, localAreaOffset)
	if err != nil {
		return nil, err
	}
	return &Allocation{Insts: rewritten, Frame: frame}, nil
}

func countSpilled(intervals []*Interval) int {
	n := 0
	for _, iv := range intervals {
		if iv.Spilled {
			n++
		}
	}
	return n
}

// calleeSavedUsed returns, in ascending hardware-index order, every
// class-matching physical register the sweep actually assigned that must
// be preserved across calls per AAPCS64.
func calleeSavedUsed(intervals []*Interval, class RegClass) []Reg {
	seen := utils.NewSet[int]()
	var out []Reg
	for _, iv := range intervals {
		if iv.Spilled || iv.Reg.Class() != class {
			continue
		}
		if !IsCalleeSaved(PReg(class, iv.PhysIdx)) || !seen.Add(iv.PhysIdx) {
			continue
		}
		out = append(out, PReg(class, iv.PhysIdx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

func hasCalls(vcode []*Inst) bool {
	for _, i := range vcode {
		if i.Kind == KBL || i.Kind == KBLR {
			return true
		}
	}
	return false
}

// bumpStackFPOffset adds localAreaOffset to any FP-relative addressing C7
// emitted before the callee-saved set (and so this offset) was known:
// lowerStackAddr's KAddRRImm12 Rn==FP form and lowerStackLoad/Store's
// KLoad/KStore Amode.Base==FP form (lower_mem.go) are the only producers of
// FP-relative addressing in C7's output, so matching on FP identity alone
// is exact.
func bumpStackFPOffset(inst *Inst, localAreaOffset int64) {
	isFP := func(r Reg) bool { return r.Valid() && !r.IsVirtual() && r.Class() == RegClassInt && r.RealReg() == RegFP }
	switch inst.Kind {
	case KLoad, KStore:
		if isFP(inst.Amode.Base) {
			inst.Amode.Imm += localAreaOffset
		}
	case KAddRRImm12:
		if isFP(inst.Rn) {
			imm12, err := TryImm12(inst.Imm12.Value() + uint64(localAreaOffset))
			utils.Assert(err == nil, "regalloc: stack slot address no longer fits imm12 after frame layout")
			inst.Imm12 = imm12
		}
	}
}

// substReg rewrites every operand slot of inst equal to old into new.
func substReg(inst *Inst, old, new Reg) {
	match := func(r Reg) bool { return r.Valid() && r.IsVirtual() && r.Index() == old.Index() }
	if match(inst.Rn) {
		inst.Rn = new
	}
	if match(inst.Rm) {
		inst.Rm = new
	}
	if match(inst.Ra) {
		inst.Ra = new
	}
	if match(inst.Rd.R) {
		inst.Rd = Writable(new)
	}
	if match(inst.Amode.Base) {
		inst.Amode.Base = new
	}
	if match(inst.Amode.Idx) {
		inst.Amode.Idx = new
	}
}

// freeRegAt finds a physical register of class not held by any non-spilled
// interval covering pos and not already in exclude (an instruction with
// two spilled source operands needs two distinct scratch registers). When
// every integer pool register is held, it falls back to X27 (RegTmp), which
// is outside the pool.
func freeRegAt(pos int, class RegClass, intervals []*Interval, exclude *utils.BitMap) (int, bool) {
	held := utils.NewBitMap(maxPhysIdx)
	for _, iv := range intervals {
		if iv.Reg.Class() == class && !iv.Spilled && iv.From <= pos && pos <= iv.To {
			held.Set(iv.PhysIdx)
		}
	}
	for _, idx := range poolFor(class) {
		if held.IsSet(idx) || exclude.IsSet(idx) {
			continue
		}
		return idx, true
	}
	if class == RegClassInt && !exclude.IsSet(RegTmp) {
		return RegTmp, true
	}
	return 0, false
}

func reloadInst(dst Reg, slot int64) *Inst {
	return &Inst{
		Kind: KLoad, Rd: Writable(dst), Size: Size64,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: FP, Imm: slot},
	}
}

func spillStoreInst(src Reg, slot int64) *Inst {
	return &Inst{
		Kind: KStore, Rd: Writable(src), Size: Size64,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: FP, Imm: slot},
	}
}

// rewriteAndSpill walks vcode once more, bumping the pre-existing
// FP-relative stack addressing and replacing every virtual operand with
// hardware: non-spilled vregs rewrite in place, spilled ones borrow a
// momentarily free physical register, reloading immediately before a use
// and storing immediately after a def.
func rewriteAndSpill(vcode []*Inst, intervals []*Interval, localAreaOffset int64) ([]*Inst, error) {
	byIdx := make(map[int32]*Interval, len(intervals))
	for _, iv := range intervals {
		byIdx[iv.Reg.Index()] = iv
	}

	out := make([]*Inst, 0, len(vcode))
	var defs, uses []Reg
	for pos, inst := range vcode {
		bumpStackFPOffset(inst, localAreaOffset)

		exclude := utils.NewBitMap(maxPhysIdx)
		// scratchThisInst tracks the borrowed register chosen per vreg
		// within this one instruction: KCasal's Rn is reported by both
		// Uses and Defs (read the expected value, write the value observed
		// in memory), and the def pass must reuse the exact same scratch
		// the use pass just reloaded into rather than borrow a second one.
		scratchThisInst := make(map[int32]Reg)

		// Both operand lists are captured from the pristine instruction up
		// front: substituting operands while processing uses must not
		// blind the defs pass below to fields shared with a use (Reg is a
		// value type, so these captured slices are unaffected by the
		// substReg calls that follow).
		uses = inst.Uses(uses[:0])
		defs = inst.Defs(defs[:0])
		for _, r := range uses {
			if !r.IsVirtual() {
				continue
			}
			iv := byIdx[r.Index()]
			if !iv.Spilled {
				substReg(inst, r, PReg(iv.Reg.Class(), iv.PhysIdx))
				continue
			}
			scratch, ok := freeRegAt(pos, iv.Reg.Class(), intervals, exclude)
			if !ok {
				utils.Fatal("regalloc: no scratch register free to reload a spilled value at inst %d", pos)
			}
			exclude.Set(scratch)
			sr := PReg(iv.Reg.Class(), scratch)
			scratchThisInst[r.Index()] = sr
			out = append(out, reloadInst(sr, localAreaOffset+iv.SpillSlot))
			substReg(inst, r, sr)
		}

		var storesAfter []*Inst
		for _, r := range defs {
			if !r.IsVirtual() {
				continue
			}
			iv := byIdx[r.Index()]
			if !iv.Spilled {
				substReg(inst, r, PReg(iv.Reg.Class(), iv.PhysIdx))
				continue
			}
			if sr, ok := scratchThisInst[r.Index()]; ok {
				// Already reloaded into sr as a use of the same
				// instruction (e.g. KCasal's Rn); reuse it as the def so
				// the store below spills the value CASAL actually wrote.
				storesAfter = append(storesAfter, spillStoreInst(sr, localAreaOffset+iv.SpillSlot))
				continue
			}
			scratch, ok := freeRegAt(pos, iv.Reg.Class(), intervals, exclude)
			if !ok {
				utils.Fatal("regalloc: no scratch register free to spill a defined value at inst %d", pos)
			}
			exclude.Set(scratch)
			sr := PReg(iv.Reg.Class(), scratch)
			substReg(inst, r, sr)
			storesAfter = append(storesAfter, spillStoreInst(sr, localAreaOffset+iv.SpillSlot))
		}

		out = append(out, inst)
		out = append(out, storesAfter...)
	}
	return out, nil
}
