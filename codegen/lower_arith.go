package codegen

import (
	"math"

	"github.com/joelreymont/hoist-sub001/ir"
)

// lowerArith selects instructions for arithmetic, bitwise, comparison and
// conversion opcodes. Each rule follows the same shape the
// teacher's instruction-selection switch used (now superseded
// lower_x86.go): inspect the opcode and operand types, pick the matching
// Inst Kind(s), emit.
func (c *LoweringContext) lowerArith(d *ir.InstData) error {
	var size OperandSize
	if d.Type != ir.TypeInvalid {
		var err error
		size, err = SizeFromBits(d.Type.Bits())
		if err != nil {
			return err
		}
	}

	switch d.Op {
	case ir.OpIconst:
		return c.lowerIconst(d, size)
	case ir.OpFconst:
		return c.lowerFconst(d, size)

	case ir.OpIadd, ir.OpIsub:
		rd := c.regOf(d.Result)
		rn, rm := c.regOf(d.Args[0]), c.regOf(d.Args[1])
		kind := KAddRRR
		if d.Op == ir.OpIsub {
			kind = KSubRRR
		}
		c.emit(&Inst{Kind: kind, Rd: Writable(rd), Rn: rn, Rm: rm, Size: size})
		return nil

	case ir.OpIaddOverflowTrap, ir.OpIsubOverflowTrap:
		return c.lowerOverflowTrapAdd(d, size)
	case ir.OpImulOverflowTrap:
		return c.lowerOverflowTrapMul(d, size)

	case ir.OpImul:
		c.emit(&Inst{Kind: KMulRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpSdiv:
		c.emit(&Inst{Kind: KSDivRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpUdiv:
		c.emit(&Inst{Kind: KUDivRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil

	case ir.OpBand:
		c.emit(&Inst{Kind: KAndRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpBor:
		c.emit(&Inst{Kind: KOrrRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpBxor:
		c.emit(&Inst{Kind: KEorRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpBnot:
		c.emit(&Inst{Kind: KOrnRRR, Rd: Writable(c.regOf(d.Result)), Rn: XZR, Rm: c.regOf(d.Args[0]), Size: size})
		return nil

	case ir.OpIshl:
		c.emit(&Inst{Kind: KLslRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpUshr:
		c.emit(&Inst{Kind: KLsrRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpSshr:
		c.emit(&Inst{Kind: KAsrRRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpRotr:
		// OpRotr has no lowering and always returns a KindFatal error. The
		// encoder handles the by-immediate form (KRorRRImm, EXTR), but no
		// lowering rule selects it, and there is no rotate-by-register Kind.
		return newErr(KindFatal, "variable-amount rotr is not implemented")

	case ir.OpClz:
		c.emit(&Inst{Kind: KClzRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Size: size})
		return nil
	case ir.OpCtz:
		// CTZ has no direct AArch64 instruction: RBIT then CLZ.
		tmp := c.VReg(RegClassInt)
		c.emit(&Inst{Kind: KRbitRR, Rd: Writable(tmp), Rn: c.regOf(d.Args[0]), Size: size})
		c.emit(&Inst{Kind: KClzRR, Rd: Writable(c.regOf(d.Result)), Rn: tmp, Size: size})
		return nil

	case ir.OpIcmp:
		return c.lowerIcmp(d, size)
	case ir.OpFcmp:
		return c.lowerFcmp(d, size)

	case ir.OpFadd, ir.OpFsub, ir.OpFmul, ir.OpFdiv:
		var kind Kind
		switch d.Op {
		case ir.OpFadd:
			kind = KFAddRRR
		case ir.OpFsub:
			kind = KFSubRRR
		case ir.OpFmul:
			kind = KFMulRRR
		case ir.OpFdiv:
			kind = KFDivRRR
		}
		c.emit(&Inst{Kind: kind, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Rm: c.regOf(d.Args[1]), Size: size})
		return nil
	case ir.OpFneg:
		c.emit(&Inst{Kind: KFNegRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Size: size})
		return nil
	case ir.OpFabs:
		c.emit(&Inst{Kind: KFAbsRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Size: size})
		return nil
	case ir.OpSqrt:
		c.emit(&Inst{Kind: KFSqrtRR, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Size: size})
		return nil

	case ir.OpFcvt:
		c.emit(&Inst{Kind: KFCvt, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Size: size})
		return nil
	case ir.OpFtoi:
		srcType := c.fn.ValueType(d.Args[0])
		srcSize, err := SizeFromBits(srcType.Bits())
		if err != nil {
			return err
		}
		kind := KFCvtZU
		if isSignedCC(d.IntCC) {
			kind = KFCvtZS
		}
		c.emit(&Inst{Kind: kind, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Size: srcSize, SixtyFour: size.Is64()})
		return nil
	case ir.OpItof:
		dstSize, err := SizeFromBits(d.Type.Bits())
		if err != nil {
			return err
		}
		srcType := c.fn.ValueType(d.Args[0])
		srcSize, err := SizeFromBits(srcType.Bits())
		if err != nil {
			return err
		}
		kind := KUCvtF
		if isSignedCC(d.IntCC) {
			kind = KSCvtF
		}
		c.emit(&Inst{Kind: kind, Rd: Writable(c.regOf(d.Result)), Rn: c.regOf(d.Args[0]), Size: dstSize, SixtyFour: srcSize.Is64()})
		return nil
	case ir.OpBitcast:
		dstFloat := d.Type.IsFloat()
		srcFloat := c.fn.ValueType(d.Args[0]).IsFloat()
		rd, rn := c.regOf(d.Result), c.regOf(d.Args[0])
		switch {
		case dstFloat && !srcFloat:
			// int -> float bit pattern: dest is FPR, source is GPR.
			c.emit(&Inst{Kind: KFMovFromGPR, Rd: Writable(rd), Rn: rn, Size: size})
		case !dstFloat && srcFloat:
			// float -> int bit pattern: dest is GPR, source is FPR.
			c.emit(&Inst{Kind: KFMovToGPR, Rd: Writable(rd), Rn: rn, Size: size})
		default:
			if dstFloat {
				c.emit(&Inst{Kind: KFMovRR, Rd: Writable(rd), Rn: rn, Size: size})
			} else {
				c.emit(&Inst{Kind: KMovRR, Rd: Writable(rd), Rn: rn, Size: size})
			}
		}
		return nil

	case ir.OpSaddSat, ir.OpUaddSat, ir.OpSsubSat, ir.OpUsubSat:
		var kind Kind
		switch d.Op {
		case ir.OpSaddSat:
			kind = KSqAddRRR
		case ir.OpUaddSat:
			kind = KUqAddRRR
		case ir.OpSsubSat:
			kind = KSqSubRRR
		case ir.OpUsubSat:
			kind = KUqSubRRR
		}
		// SQADD/UQADD/SQSUB/UQSUB live in the SIMD&FP encoding space and
		// operate on V registers, so integer operands are routed through
		// FMOV before and after the scalar saturating op.
		rd, rn, rm := c.regOf(d.Result), c.regOf(d.Args[0]), c.regOf(d.Args[1])
		fn, fm, fd := c.VReg(RegClassFloat), c.VReg(RegClassFloat), c.VReg(RegClassFloat)
		c.emit(&Inst{Kind: KFMovFromGPR, Rd: Writable(fn), Rn: rn, Size: size})
		c.emit(&Inst{Kind: KFMovFromGPR, Rd: Writable(fm), Rn: rm, Size: size})
		c.emit(&Inst{Kind: kind, Rd: Writable(fd), Rn: fn, Rm: fm, Size: size})
		c.emit(&Inst{Kind: KFMovToGPR, Rd: Writable(rd), Rn: fd, Size: size})
		return nil
	}
	return newErr(KindFatal, "lowerArith: unhandled opcode %v", d.Op)
}

func (c *LoweringContext) lowerIconst(d *ir.InstData, size OperandSize) error {
	rd := c.regOf(d.Result)
	u := uint64(d.Imm)
	if logic, err := TryImmLogic(u, size); err == nil {
		kind := KOrrRRImmLogic
		c.emit(&Inst{Kind: kind, Rd: Writable(rd), Rn: XZR, ImmLogic: logic, Size: size})
		return nil
	}
	return c.emitMovImm(rd, u, size)
}

// emitMovImm materializes an arbitrary 64-bit (or 32-bit) constant via a
// MOVZ followed by up to three MOVK chunks.
func (c *LoweringContext) emitMovImm(rd Reg, u uint64, size OperandSize) error {
	chunks := 4
	if !size.Is64() {
		chunks = 2
		u &= 0xffffffff
	}
	first := true
	for i := 0; i < chunks; i++ {
		chunk := (u >> (16 * i)) & 0xffff
		if chunk == 0 && !(first && i == chunks-1) {
			continue
		}
		kind := KMovZ
		if !first {
			kind = KMovK
		}
		c.emit(&Inst{Kind: kind, Rd: Writable(rd), Imm64: chunk, ShiftAmt: uint8(16 * i), Size: size})
		first = false
	}
	if first {
		// u == 0 entirely: emit a single MOVZ #0.
		c.emit(&Inst{Kind: KMovZ, Rd: Writable(rd), Imm64: 0, Size: size})
	}
	return nil
}

func (c *LoweringContext) lowerFconst(d *ir.InstData, size OperandSize) error {
	rd := c.regOf(d.Result)
	var bits uint64
	if size.Is64() {
		bits = math.Float64bits(d.FImm)
	} else {
		bits = uint64(math.Float32bits(float32(d.FImm)))
	}
	c.emit(&Inst{Kind: KLoadFpuConst64, Rd: Writable(rd), Imm64: bits, Size: size})
	return nil
}

func (c *LoweringContext) lowerIcmp(d *ir.InstData, size OperandSize) error {
	rd := c.regOf(d.Result)
	rn, rm := c.regOf(d.Args[0]), c.regOf(d.Args[1])
	c.emit(&Inst{Kind: KSubsRRR, Rd: Writable(XZR), Rn: rn, Rm: rm, Size: size})
	c.emit(&Inst{Kind: KCSet, Rd: Writable(rd), Cond: intCCToCond(d.IntCC), Size: Size64})
	return nil
}

func (c *LoweringContext) lowerFcmp(d *ir.InstData, size OperandSize) error {
	rd := c.regOf(d.Result)
	rn, rm := c.regOf(d.Args[0]), c.regOf(d.Args[1])
	c.emit(&Inst{Kind: KFCmp, Rn: rn, Rm: rm, Size: size})
	c.emit(&Inst{Kind: KCSet, Rd: Writable(rd), Cond: floatCCToCond(d.FloatCC), Size: Size64})
	return nil
}

// isSignedCC reports whether cc belongs to the signed comparison family.
// OpItof/OpFtoi have no dedicated signedness flag in the IR, so they borrow
// this field by convention: IntSLT/SGE/SGT/SLE mean "treat as signed",
// everything else (including the IntEQ/IntNE zero value) means unsigned.
func isSignedCC(cc ir.IntCC) bool {
	switch cc {
	case ir.IntSLT, ir.IntSGE, ir.IntSGT, ir.IntSLE:
		return true
	default:
		return false
	}
}

func intCCToCond(cc ir.IntCC) CondCode {
	switch cc {
	case ir.IntEQ:
		return CondEQ
	case ir.IntNE:
		return CondNE
	case ir.IntSLT:
		return CondLT
	case ir.IntSGE:
		return CondGE
	case ir.IntSGT:
		return CondGT
	case ir.IntSLE:
		return CondLE
	case ir.IntULT:
		return CondCC
	case ir.IntUGE:
		return CondCS
	case ir.IntUGT:
		return CondHI
	default: // IntULE
		return CondLS
	}
}

func floatCCToCond(cc ir.FloatCC) CondCode {
	switch cc {
	case ir.FloatEQ:
		return CondEQ
	case ir.FloatNE:
		return CondNE
	case ir.FloatLT:
		return CondMI
	case ir.FloatGE:
		return CondGE
	case ir.FloatGT:
		return CondGT
	default: // FloatLE
		return CondLS
	}
}

// lowerOverflowTrapAdd lowers an add/sub that must trap on signed overflow
//: the flag-setting form plus a conditional trap
// materialized as a branch-over-brk sequence, since AArch64 has no direct
// "branch if overflow, else continue" trap instruction.
func (c *LoweringContext) lowerOverflowTrapAdd(d *ir.InstData, size OperandSize) error {
	rd := c.regOf(d.Result)
	rn, rm := c.regOf(d.Args[0]), c.regOf(d.Args[1])
	kind := KAddsRRR
	if d.Op == ir.OpIsubOverflowTrap {
		kind = KSubsRRR
	}
	c.emit(&Inst{Kind: kind, Rd: Writable(rd), Rn: rn, Rm: rm, Size: size})
	ok := c.buf.NewLabel()
	c.emit(&Inst{Kind: KBCond, Cond: CondVC, Target: ok})
	c.emit(&Inst{Kind: KBrk, TrapCode: d.TrapCode})
	c.emit(&Inst{Kind: KNop, Target: ok})
	return nil
}

func (c *LoweringContext) lowerOverflowTrapMul(d *ir.InstData, size OperandSize) error {
	rd := c.regOf(d.Result)
	rn, rm := c.regOf(d.Args[0]), c.regOf(d.Args[1])
	hi := c.VReg(RegClassInt)
	c.emit(&Inst{Kind: KMulRRR, Rd: Writable(rd), Rn: rn, Rm: rm, Size: size})
	c.emit(&Inst{Kind: KSMulHRRR, Rd: Writable(hi), Rn: rn, Rm: rm, Size: size})
	// Overflow iff hi isn't the sign-extension of the low result; approximate
	// via ASR #63 of the low word compared against hi.
	sign := c.VReg(RegClassInt)
	c.emit(&Inst{Kind: KAsrRRImm, Rd: Writable(sign), Rn: rd, ImmShift: ImmShift{Amount: 63}, Size: Size64})
	c.emit(&Inst{Kind: KSubsRRR, Rd: Writable(XZR), Rn: hi, Rm: sign, Size: Size64})
	ok := c.buf.NewLabel()
	c.emit(&Inst{Kind: KBCond, Cond: CondEQ, Target: ok})
	c.emit(&Inst{Kind: KBrk, TrapCode: d.TrapCode})
	c.emit(&Inst{Kind: KNop, Target: ok})
	return nil
}
