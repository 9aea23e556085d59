package codegen

import (
	"github.com/joelreymont/hoist-sub001/ir"
	"github.com/joelreymont/hoist-sub001/utils"
)

// LoweringContext carries the per-function state threaded through
// instruction selection: a fresh virtual-register factory, the
// growing VCode instruction list, and the IR block -> Label mapping so
// branch-family opcodes can reference not-yet-lowered blocks. Follows
// compile/codegen's lowering-context shape (now superseded lower_x86.go),
// generalized from x86's two-operand forms to AArch64's native
// three-operand instructions.
type LoweringContext struct {
	fn     *ir.Function
	buf    *CodeBuffer
	log    Logger
	nextVR int32

	blockLabels map[ir.Block]Label
	valueRegs   map[ir.Value]Reg

	insts []*Inst
}

// NewLoweringContext prepares ctx to lower fn; it pre-allocates one Label
// per IR block so forward branches can be emitted before their target is
// reached.
func NewLoweringContext(fn *ir.Function, buf *CodeBuffer, log Logger) *LoweringContext {
	if log == nil {
		log = NopLogger{}
	}
	ctx := &LoweringContext{
		fn: fn, buf: buf, log: log,
		blockLabels: make(map[ir.Block]Label, len(fn.Blocks)),
		valueRegs:   make(map[ir.Value]Reg, len(fn.Values)),
	}
	for idx := range fn.Blocks {
		ctx.blockLabels[ir.Block(idx)] = buf.NewLabel()
	}
	return ctx
}

// VReg allocates a fresh virtual register in class, to be resolved by the
// register allocator (C8) before encoding.
func (c *LoweringContext) VReg(class RegClass) Reg {
	idx := c.nextVR
	c.nextVR++
	return Reg{class: class, index: idx, virtual: true, valid: true}
}

func (c *LoweringContext) vregFor(t ir.Type) Reg {
	if t.IsFloat() {
		return c.VReg(RegClassFloat)
	}
	return c.VReg(RegClassInt)
}

// regOf returns the register holding v, allocating one on first use. Block
// parameters and instruction results are both routed through this map; the
// register allocator later resolves virtuals to hardware.
func (c *LoweringContext) regOf(v ir.Value) Reg {
	if r, ok := c.valueRegs[v]; ok {
		return r
	}
	r := c.vregFor(c.fn.ValueType(v))
	c.valueRegs[v] = r
	return r
}

func (c *LoweringContext) emit(i *Inst) {
	c.insts = append(c.insts, i)
}

// label returns the pre-allocated branch target for an IR block.
func (c *LoweringContext) label(b ir.Block) Label {
	l, ok := c.blockLabels[b]
	utils.Assert(ok, "no label for block %v", b)
	return l
}

// Lower walks fn's blocks in order and returns the selected VCode sequence.
// Block order is preserved from the IR; no reordering or layout
// optimization is performed.
func Lower(fn *ir.Function, buf *CodeBuffer, log Logger) ([]*Inst, error) {
	ctx := NewLoweringContext(fn, buf, log)
	for idx := range fn.Blocks {
		b := ir.Block(idx)
		ctx.emit(&Inst{Kind: KNop, Target: ctx.label(b)}) // block-entry marker; C3 binds the label here
		for _, instID := range fn.Blocks[b].Insts {
			if err := ctx.lowerInst(instID); err != nil {
				return nil, wrapErr(KindFatal, err, "lowering inst %d in block %d", instID, b)
			}
		}
	}
	return ctx.insts, nil
}

// lowerInst dispatches one IR instruction to the selection routine for its
// opcode family. The four families live
// in lower_arith.go, lower_mem.go, lower_control.go and lower_atomic.go.
func (c *LoweringContext) lowerInst(id ir.Inst) error {
	d := c.fn.InstData(id)
	switch d.Op {
	case ir.OpIconst, ir.OpFconst, ir.OpIadd, ir.OpIsub, ir.OpImul, ir.OpSdiv, ir.OpUdiv,
		ir.OpBand, ir.OpBor, ir.OpBxor, ir.OpBnot, ir.OpIshl, ir.OpUshr, ir.OpSshr, ir.OpRotr,
		ir.OpClz, ir.OpCtz, ir.OpIcmp, ir.OpFcmp, ir.OpFadd, ir.OpFsub, ir.OpFmul, ir.OpFdiv,
		ir.OpFneg, ir.OpFabs, ir.OpSqrt, ir.OpFcvt, ir.OpFtoi, ir.OpItof, ir.OpBitcast,
		ir.OpIaddOverflowTrap, ir.OpIsubOverflowTrap, ir.OpImulOverflowTrap,
		ir.OpSaddSat, ir.OpUaddSat, ir.OpSsubSat, ir.OpUsubSat:
		return c.lowerArith(d)
	case ir.OpStackAddr, ir.OpStackLoad, ir.OpStackStore, ir.OpLoad, ir.OpStore, ir.OpGlobalValue:
		return c.lowerMem(d)
	case ir.OpCall, ir.OpCallIndirect, ir.OpJump, ir.OpBrIf, ir.OpBrTable, ir.OpReturn, ir.OpReturnCall:
		return c.lowerControl(d)
	case ir.OpAtomicRmw, ir.OpAtomicCas, ir.OpFenceAcqRel:
		return c.lowerAtomic(d)
	default:
		return newErr(KindFatal, "unhandled IR opcode %v", d.Op)
	}
}
