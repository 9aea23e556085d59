package codegen

import (
	"github.com/joelreymont/hoist-sub001/utils"
)

// regIdx returns the 5-bit encoding index for r, which must be physical.
// SP and XZR share index 31; which meaning applies is determined by the
// instruction class, exactly as in the hardware encoding.
func regIdx(r Reg) uint32 {
	return uint32(r.RealReg())
}

// excSize maps an OperandSize to the 2-bit size field used by the
// load/store-exclusive and LSE atomic encodings.
func excSize(s OperandSize) uint32 {
	switch s {
	case Size8:
		return 0b00
	case Size16:
		return 0b01
	case Size32:
		return 0b10
	default:
		return 0b11
	}
}

func sf(s OperandSize) uint32 {
	if s.Is64() {
		return 1
	}
	return 0
}

// Encode appends the machine-code bytes for i to buf, or registers a
// pending fixup when i carries a label reference. Bit layouts below are
// adapted from wazevo's arm64 backend encoder (other_examples
// instr_encoding.go), which was read in full as this package's primary
// encoding-formula source; field names are renamed to this package's Inst
// shape but the formulas themselves are unchanged.
func Encode(i *Inst, buf *CodeBuffer) error {
	switch i.Kind {
	case KNop:
		if i.Target != LabelInvalid {
			buf.Bind(i.Target)
		}
		buf.Emit4(0xd503201f)
	case KUdf:
		buf.MarkTrap(i.TrapCode)
		buf.Emit4(0)
	case KBrk:
		buf.Emit4(0xd4200000)
	case KIsb:
		buf.Emit4(0xd5033fdf)
	case KDmb:
		buf.Emit4(0xd5033bbf) // dmb ish
	case KRet:
		buf.Emit4(encodeRet())
	case KBR:
		buf.Emit4(0b1101011<<25 | 0b000<<21 | 0b11111<<16 | regIdx(i.Rn)<<5)
	case KBLR:
		buf.Emit4(0b1101011<<25 | 0b111111<<16 | regIdx(i.Rn)<<5)

	case KB:
		buf.AddFixup(0b101<<26, i.Target, RangeBranch26, patchB26)
	case KBL:
		buf.AddFixup(0b1<<31|0b101<<26, i.Target, RangeBranch26, patchB26)

	case KBCond:
		buf.AddFixup(0b01010100<<24|uint32(i.Cond), i.Target, RangeBranch19, patchCond19)
	case KCBZ:
		word := regIdx(i.Rn) | sf(i.Size)<<31 | 0b011010<<25
		buf.AddFixup(word, i.Target, RangeBranch19, patchCmpBranch19)
	case KCBNZ:
		word := regIdx(i.Rn) | 1<<24 | sf(i.Size)<<31 | 0b011010<<25
		buf.AddFixup(word, i.Target, RangeBranch19, patchCmpBranch19)
	case KTBZ:
		word := regIdx(i.Rn) | uint32(i.Imm64&0x1f)<<19 | 0b0110110<<24
		buf.AddFixup(word, i.Target, RangeBranch14, patchTestBranch14)
	case KTBNZ:
		word := regIdx(i.Rn) | uint32(i.Imm64&0x1f)<<19 | 1<<24 | 0b0110110<<24
		buf.AddFixup(word, i.Target, RangeBranch14, patchTestBranch14)

	case KAddRRR, KSubRRR, KAddsRRR, KSubsRRR:
		buf.Emit4(encodeAluRRR(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), regIdx(i.Rm), i.Size.Is64()))
	case KAddRRRShift, KSubRRRShift:
		buf.Emit4(encodeAluRRRShift(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), regIdx(i.Rm), uint32(i.ShiftAmt), i.Sh, i.Size.Is64()))
	case KAddRRImm12, KSubRRImm12, KAddsRRImm12, KSubsRRImm12:
		buf.Emit4(encodeAluRRImm12(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), i.Imm12.Bits, i.Imm12.Shift, i.Size.Is64()))

	case KAndRRR, KOrrRRR, KEorRRR, KBicRRR, KOrnRRR, KAndsRRR:
		buf.Emit4(encodeLogicalShiftedRegister(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), regIdx(i.Rm), i.Size.Is64()))
	case KAndRRImmLogic, KOrrRRImmLogic, KEorRRImmLogic, KAndsRRImmLogic:
		buf.Emit4(encodeAluBitmaskImmediate(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), i.ImmLogic, i.Size.Is64()))

	case KMulRRR:
		buf.Emit4(encodeAluRRRR(0b000, 0b0, regIdx(i.Rd.R), regIdx(i.Rn), regIdx(i.Rm), regIdx(XZR), i.Size.Is64()))
	case KMAddRRRR:
		buf.Emit4(encodeAluRRRR(0b000, 0b0, regIdx(i.Rd.R), regIdx(i.Rn), regIdx(i.Rm), regIdx(i.Ra), i.Size.Is64()))
	case KMSubRRRR:
		buf.Emit4(encodeAluRRRR(0b000, 0b1, regIdx(i.Rd.R), regIdx(i.Rn), regIdx(i.Rm), regIdx(i.Ra), i.Size.Is64()))
	case KSMulHRRR:
		buf.Emit4(1<<31 | 0b0011011<<24 | 0b010<<21 | regIdx(i.Rm)<<16 | 0b0<<15 | 0b11111<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KUMulHRRR:
		buf.Emit4(1<<31 | 0b0011011<<24 | 0b110<<21 | regIdx(i.Rm)<<16 | 0b0<<15 | 0b11111<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KSMullRRR:
		buf.Emit4(1<<31 | 0b0011011<<24 | 0b001<<21 | regIdx(i.Rm)<<16 | 0b0<<15 | regIdx(XZR)<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KUMullRRR:
		buf.Emit4(1<<31 | 0b0011011<<24 | 0b101<<21 | regIdx(i.Rm)<<16 | 0b0<<15 | regIdx(XZR)<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KSDivRRR:
		buf.Emit4(sf(i.Size)<<31 | 0b0011010110<<21 | regIdx(i.Rm)<<16 | 0b000011<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KUDivRRR:
		buf.Emit4(sf(i.Size)<<31 | 0b0011010110<<21 | regIdx(i.Rm)<<16 | 0b000010<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))

	case KLslRRR:
		buf.Emit4(sf(i.Size)<<31 | 0b0011010110<<21 | regIdx(i.Rm)<<16 | 0b001000<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KLsrRRR:
		buf.Emit4(sf(i.Size)<<31 | 0b0011010110<<21 | regIdx(i.Rm)<<16 | 0b001001<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KAsrRRR:
		buf.Emit4(sf(i.Size)<<31 | 0b0011010110<<21 | regIdx(i.Rm)<<16 | 0b001010<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KLslRRImm:
		buf.Emit4(encodeShiftImm(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), i.ImmShift.Amount, i.Size.Is64()))
	case KLsrRRImm:
		buf.Emit4(encodeShiftImm(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), i.ImmShift.Amount, i.Size.Is64()))
	case KAsrRRImm:
		buf.Emit4(encodeShiftImm(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), i.ImmShift.Amount, i.Size.Is64()))
	case KRorRRImm:
		// ROR (immediate) is an alias of EXTR Rd, Rn, Rn, #amount.
		n := sf(i.Size)
		amt := uint32(i.ImmShift.Amount)
		buf.Emit4(sf(i.Size)<<31 | 0b00<<29 | 0b100111<<23 | n<<22 | regIdx(i.Rn)<<16 | amt<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))

	case KClzRR:
		buf.Emit4(sf(i.Size)<<31 | 0b1_0_11010110<<21 | 0b00000<<15 | 0b000100<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KClsRR:
		buf.Emit4(sf(i.Size)<<31 | 0b1_0_11010110<<21 | 0b00000<<15 | 0b000101<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KRbitRR:
		buf.Emit4(sf(i.Size)<<31 | 0b1_0_11010110<<21 | 0b00000<<15 | 0b000000<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KRev16RR:
		buf.Emit4(sf(i.Size)<<31 | 0b1_0_11010110<<21 | 0b00000<<15 | 0b000001<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KRev32RR:
		buf.Emit4(sf(i.Size)<<31 | 0b1_0_11010110<<21 | 0b00000<<15 | 0b000010<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KRev64RR:
		buf.Emit4(1<<31 | 0b1_0_11010110<<21 | 0b00000<<15 | 0b000011<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))

	case KCSel:
		buf.Emit4(sf(i.Size)<<31 | 0b0_0_11010100<<21 | regIdx(i.Rm)<<16 | uint32(i.Cond)<<12 | 0b00<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KCSInc:
		buf.Emit4(sf(i.Size)<<31 | 0b0_0_11010100<<21 | regIdx(i.Rm)<<16 | uint32(i.Cond)<<12 | 0b01<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KCSInv:
		buf.Emit4(sf(i.Size)<<31 | 0b1_0_11010100<<21 | regIdx(i.Rm)<<16 | uint32(i.Cond)<<12 | 0b00<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KCSNeg:
		buf.Emit4(sf(i.Size)<<31 | 0b1_0_11010100<<21 | regIdx(i.Rm)<<16 | uint32(i.Cond)<<12 | 0b01<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KCSet:
		buf.Emit4(sf(i.Size)<<31 | 0b0_0_11010100<<21 | regIdx(XZR)<<16 | uint32(i.Cond.Invert())<<12 | 0b01<<10 | regIdx(XZR)<<5 | regIdx(i.Rd.R))
	case KCInc:
		buf.Emit4(sf(i.Size)<<31 | 0b0_0_11010100<<21 | regIdx(i.Rn)<<16 | uint32(i.Cond.Invert())<<12 | 0b01<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))

	case KMovZ:
		buf.Emit4(encodeMoveWideImmediate(0b10, regIdx(i.Rd.R), i.Imm64, uint64(i.ShiftAmt), i.Size.Is64()))
	case KMovN:
		buf.Emit4(encodeMoveWideImmediate(0b00, regIdx(i.Rd.R), i.Imm64, uint64(i.ShiftAmt), i.Size.Is64()))
	case KMovK:
		buf.Emit4(encodeMoveWideImmediate(0b11, regIdx(i.Rd.R), i.Imm64, uint64(i.ShiftAmt), i.Size.Is64()))
	case KMovRR:
		buf.Emit4(encodeLogicalShiftedRegister(KOrrRRR, regIdx(i.Rd.R), regIdx(XZR), regIdx(i.Rn), i.Size.Is64()))

	case KLoad:
		buf.Emit4(encodeLoadStore(i, true))
	case KStore:
		buf.Emit4(encodeLoadStore(i, false))
	case KLoadPair:
		buf.Emit4(encodeLoadStorePair(i, true))
	case KStorePair:
		buf.Emit4(encodeLoadStorePair(i, false))

	case KLdxr:
		buf.Emit4(encodeExclusive(i, excSize(i.Size), false, false))
	case KLdaxr:
		buf.Emit4(encodeExclusive(i, excSize(i.Size), false, true))
	case KStxr:
		buf.Emit4(encodeExclusive(i, excSize(i.Size), true, false))
	case KStlxr:
		buf.Emit4(encodeExclusive(i, excSize(i.Size), true, true))
	case KCasal:
		buf.Emit4(encodeCasal(i))
	case KLseRmw:
		buf.Emit4(encodeLseRmw(i))

	case KFAddRRR, KFSubRRR, KFMulRRR, KFDivRRR, KFMaxRRR, KFMinRRR:
		buf.Emit4(encodeFpuRRR(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), regIdx(i.Rm), i.Size.Is64()))
	case KFNegRR, KFAbsRR, KFSqrtRR, KFRintM, KFRintN, KFRintP, KFRintZ:
		buf.Emit4(encodeFpuRR(i.Kind, regIdx(i.Rd.R), regIdx(i.Rn), i.Size.Is64()))
	case KFMovRR:
		ftype := fpType(i.Size.Is64())
		buf.Emit4(0b1111<<25 | ftype<<22 | 0b1<<21 | 0b000000<<15 | 0b10000<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KFMovToGPR:
		buf.Emit4(encodeFmovGpr(regIdx(i.Rd.R), regIdx(i.Rn), i.Size.Is64(), true))
	case KFMovFromGPR:
		buf.Emit4(encodeFmovGpr(regIdx(i.Rd.R), regIdx(i.Rn), i.Size.Is64(), false))
	case KFCmp:
		ftype := fpType(i.Size.Is64())
		buf.Emit4(0b1111<<25 | ftype<<22 | 1<<21 | regIdx(i.Rm)<<16 | 0b1<<13 | regIdx(i.Rn)<<5)
	case KFCSel:
		ftype := fpType(i.Size.Is64())
		buf.Emit4(0b1111<<25 | ftype<<22 | 0b1<<21 | regIdx(i.Rm)<<16 | uint32(i.Cond)<<12 | 0b11<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KFCvt:
		buf.Emit4(encodeFCvt(i))
	case KSCvtF:
		buf.Emit4(encodeIntToFp(i, true))
	case KUCvtF:
		buf.Emit4(encodeIntToFp(i, false))
	case KFCvtZS:
		buf.Emit4(encodeFpToInt(i, true))
	case KFCvtZU:
		buf.Emit4(encodeFpToInt(i, false))
	case KFMAddRRRR:
		ftype := fpType(i.Size.Is64())
		buf.Emit4(0b11111<<24 | ftype<<22 | 0b0<<21 | regIdx(i.Rm)<<16 | 0b0<<15 | regIdx(i.Ra)<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))
	case KFMSubRRRR:
		ftype := fpType(i.Size.Is64())
		buf.Emit4(0b11111<<24 | ftype<<22 | 0b0<<21 | regIdx(i.Rm)<<16 | 0b1<<15 | regIdx(i.Ra)<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R))

	case KSqAddRRR, KUqAddRRR, KSqSubRRR, KUqSubRRR:
		buf.Emit4(encodeScalarSaturating(i))

	case KAdr:
		buf.Emit4(encodeAdr(regIdx(i.Rd.R), i.Addend))
	case KAdrpSymbol:
		buf.fixupSymbol(i.Symbol, i.Addend, regIdx(i.Rd.R), adrpReloc)
	case KAddSymbolLo12:
		buf.fixupSymbol(i.Symbol, i.Addend, regIdx(i.Rd.R), addLo12Reloc)
	case KLoadFpuConst64:
		buf.Emit4(0b1<<30 | 0b111<<26 | (8/4)<<5 | regIdx(i.Rd.R))
		buf.Emit4(encodeBImm(12))
		buf.Emit8(i.Imm64)

	case KJtSequence:
		return encodeJumpTable(i, buf)

	default:
		utils.Fatal("Encode: unhandled instruction kind %d", i.Kind)
	}
	return nil
}

func fpType(is64 bool) uint32 {
	if is64 {
		return 0b01
	}
	return 0b00
}

func encodeRet() uint32 {
	return 0b1101011001011111<<16 | regIdx(LR)<<5
}

func encodeBImm(imm int64) uint32 {
	return encodeUnconditionalBranch(false, imm)
}

func encodeUnconditionalBranch(link bool, imm26 int64) uint32 {
	utils.Assert(imm26%4 == 0, "imm26 for branch must be a multiple of 4")
	v := uint32(imm26/4) & 0x3ffffff
	ret := v | 0b101<<26
	if link {
		ret |= 1 << 31
	}
	return ret
}

// patchB26 re-encodes the imm26 field of a B/BL word in place given disp.
func patchB26(buf []byte, instOffset int, disp int64) {
	word := leGet32(buf, instOffset)
	word = (word &^ 0x3ffffff) | (uint32(disp/4) & 0x3ffffff)
	leSet32(buf, instOffset, word)
}

// patchCond19 re-encodes a B.cond word's imm19 field.
func patchCond19(buf []byte, instOffset int, disp int64) {
	word := leGet32(buf, instOffset)
	imm19 := uint32(disp/4) & 0x7ffff
	word = (word &^ (0x7ffff << 5)) | (imm19 << 5)
	leSet32(buf, instOffset, word)
}

// patchCmpBranch19 re-encodes a CBZ/CBNZ word's imm19 field (bits 5..23).
func patchCmpBranch19(buf []byte, instOffset int, disp int64) {
	patchCond19(buf, instOffset, disp)
}

// patchTestBranch14 re-encodes a TBZ/TBNZ word's imm14 field (bits 5..18).
func patchTestBranch14(buf []byte, instOffset int, disp int64) {
	word := leGet32(buf, instOffset)
	imm14 := uint32(disp/4) & 0x3fff
	word = (word &^ (0x3fff << 5)) | (imm14 << 5)
	leSet32(buf, instOffset, word)
}

func leGet32(buf []byte, off int) uint32 {
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
}

func leSet32(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func encodeMoveWideImmediate(opc, rd uint32, imm, shift uint64, is64 bool) uint32 {
	ret := rd
	ret |= uint32(imm&0xffff) << 5
	ret |= uint32(shift/16) << 21
	ret |= 0b100101 << 23
	ret |= opc << 29
	if is64 {
		ret |= 1 << 31
	}
	return ret
}

func encodeAluRRR(kind Kind, rd, rn, rm uint32, is64 bool) uint32 {
	var top uint32
	switch kind {
	case KAddRRR:
		top = 0b00001011_000
	case KAddsRRR:
		top = 0b00101011_000
	case KSubRRR:
		top = 0b01001011_000
	case KSubsRRR:
		top = 0b01101011_000
	}
	if is64 {
		top |= 1 << 10
	}
	return top<<21 | rm<<16 | rn<<5 | rd
}

func encodeAluRRRShift(kind Kind, rd, rn, rm, amount uint32, s ShiftOp, is64 bool) uint32 {
	var top uint32
	switch kind {
	case KAddRRRShift:
		top = 0b00001011
	case KSubRRRShift:
		top = 0b01001011
	}
	if is64 {
		top |= 1 << 7
	}
	var shift uint32
	switch s {
	case ShiftLSL:
		shift = 0b00
	case ShiftLSR:
		shift = 0b01
	case ShiftASR:
		shift = 0b10
	}
	return top<<24 | shift<<22 | rm<<16 | amount<<10 | rn<<5 | rd
}

func encodeAluRRImm12(kind Kind, rd, rn uint32, imm12 uint16, shift bool, is64 bool) uint32 {
	var top uint32
	switch kind {
	case KAddRRImm12:
		top = 0b00_10001
	case KAddsRRImm12:
		top = 0b01_10001
	case KSubRRImm12:
		top = 0b10_10001
	case KSubsRRImm12:
		top = 0b11_10001
	}
	if is64 {
		top |= 1 << 7
	}
	var sh uint32
	if shift {
		sh = 1
	}
	return top<<24 | sh<<22 | uint32(imm12&0xfff)<<10 | rn<<5 | rd
}

func encodeLogicalShiftedRegister(kind Kind, rd, rn, rm uint32, is64 bool) uint32 {
	var opc uint32
	invert := false
	switch kind {
	case KAndRRR:
		opc = 0b00
	case KOrrRRR:
		opc = 0b01
	case KEorRRR:
		opc = 0b10
	case KAndsRRR:
		opc = 0b11
	case KBicRRR:
		opc, invert = 0b00, true
	case KOrnRRR:
		opc, invert = 0b01, true
	}
	var n uint32
	if invert {
		n = 1
	}
	sfOpc := opc
	if is64 {
		sfOpc |= 0b100
	}
	return sfOpc<<29 | 0b01010<<24 | n<<21 | rm<<16 | rn<<5 | rd
}

func encodeAluBitmaskImmediate(kind Kind, rd, rn uint32, imm ImmLogic, is64 bool) uint32 {
	var top uint32
	switch kind {
	case KAndRRImmLogic:
		top = 0b00_100100
	case KOrrRRImmLogic:
		top = 0b01_100100
	case KEorRRImmLogic:
		top = 0b10_100100
	case KAndsRRImmLogic:
		top = 0b11_100100
	}
	if is64 {
		top |= 1 << 8
	}
	return top<<23 | uint32(imm.N)<<22 | uint32(imm.Immr)<<16 | uint32(imm.Imms)<<10 | rn<<5 | rd
}

func encodeAluRRRR(op31, oO, rd, rn, rm, ra uint32, is64 bool) uint32 {
	var top uint32
	if is64 {
		top = 1
	}
	return top<<31 | 0b11011<<24 | op31<<21 | rm<<16 | oO<<15 | ra<<10 | rn<<5 | rd
}

func encodeShiftImm(kind Kind, rd, rn uint32, amount uint8, is64 bool) uint32 {
	width := uint32(32)
	var sfBit uint32
	if is64 {
		width, sfBit = 64, 1
	}
	var opc, immr, imms uint32
	amt := uint32(amount)
	switch kind {
	case KLslRRImm:
		opc = 0b10
		immr = (width - amt) % width
		imms = width - 1 - amt
	case KLsrRRImm:
		opc = 0b10
		immr = amt
		imms = width - 1
	case KAsrRRImm:
		opc = 0b00
		immr = amt
		imms = width - 1
	}
	return sfBit<<31 | opc<<29 | 0b100110<<23 | sfBit<<22 | immr<<16 | imms<<10 | rn<<5 | rd
}

func encodeFpuRRR(kind Kind, rd, rn, rm uint32, is64 bool) uint32 {
	var opcode uint32
	switch kind {
	case KFAddRRR:
		opcode = 0b0010
	case KFSubRRR:
		opcode = 0b0011
	case KFMulRRR:
		opcode = 0b0000
	case KFDivRRR:
		opcode = 0b0001
	case KFMaxRRR:
		opcode = 0b0100
	case KFMinRRR:
		opcode = 0b0101
	}
	ftype := fpType(is64)
	return 0b1111<<25 | ftype<<22 | 1<<21 | rm<<16 | opcode<<12 | 1<<11 | rn<<5 | rd
}

func encodeFpuRR(kind Kind, rd, rn uint32, is64 bool) uint32 {
	var opcode uint32
	switch kind {
	case KFAbsRR:
		opcode = 0b000001
	case KFNegRR:
		opcode = 0b000010
	case KFSqrtRR:
		opcode = 0b000011
	case KFRintN:
		opcode = 0b001000
	case KFRintP:
		opcode = 0b001001
	case KFRintM:
		opcode = 0b001010
	case KFRintZ:
		opcode = 0b001011
	}
	ftype := fpType(is64)
	return 0b1111<<25 | ftype<<22 | 0b1<<21 | opcode<<15 | 0b10000<<10 | rn<<5 | rd
}

func encodeFmovGpr(rd, rn uint32, is64 bool, toGpr bool) uint32 {
	ftype := fpType(is64)
	sfBit := uint32(0)
	if is64 {
		sfBit = 1
	}
	var rmode, opcode uint32
	if toGpr {
		opcode = 0b110 // FMOV (general, to general)
	} else {
		opcode = 0b111 // FMOV (general, from general)
	}
	return sfBit<<31 | 0b11110<<24 | ftype<<22 | 1<<21 | rmode<<19 | opcode<<16 | rn<<5 | rd
}

func encodeFCvt(i *Inst) uint32 {
	// FCVT (single<->double): opc encodes source/dest precision.
	var ptype, opc uint32
	if i.Size.Is64() {
		ptype, opc = 0b00, 0b01 // single source -> double dest
	} else {
		ptype, opc = 0b01, 0b00 // double source -> single dest
	}
	return 0b1111<<25 | ptype<<22 | 1<<21 | 0b0001<<17 | opc<<15 | 0b10000<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R)
}

func encodeIntToFp(i *Inst, signed bool) uint32 {
	ftype := fpType(i.Size.Is64())
	var rmode, opcode uint32
	if signed {
		rmode, opcode = 0b00, 0b010
	} else {
		rmode, opcode = 0b00, 0b011
	}
	sfBit := uint32(0)
	if i.SixtyFour {
		sfBit = 1
	}
	return sfBit<<31 | 0b11110<<24 | ftype<<22 | 1<<21 | rmode<<19 | opcode<<16 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R)
}

func encodeFpToInt(i *Inst, signed bool) uint32 {
	ftype := fpType(i.Size.Is64())
	var rmode, opcode uint32
	if signed {
		rmode, opcode = 0b11, 0b000
	} else {
		rmode, opcode = 0b11, 0b001
	}
	sfBit := uint32(0)
	if i.SixtyFour {
		sfBit = 1
	}
	return sfBit<<31 | 0b11110<<24 | ftype<<22 | 1<<21 | rmode<<19 | opcode<<16 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R)
}

func encodeScalarSaturating(i *Inst) uint32 {
	var opcode uint32
	u := uint32(0)
	switch i.Kind {
	case KSqAddRRR:
		opcode = 0b00001
	case KUqAddRRR:
		opcode, u = 0b00001, 1
	case KSqSubRRR:
		opcode = 0b00101
	case KUqSubRRR:
		opcode, u = 0b00101, 1
	}
	size := uint32(0b11) // doubleword scalar
	return 0b01<<30 | u<<29 | 0b11110<<24 | size<<22 | 1<<21 | regIdx(i.Rm)<<16 | opcode<<11 | 1<<10 | regIdx(i.Rn)<<5 | regIdx(i.Rd.R)
}

func encodeAdr(rd uint32, off int64) uint32 {
	utils.Assert(off > -(1<<20) && off < (1<<20), "ADR offset out of range")
	uoff := uint32(off) & 0x1fffff
	return (uoff&0b11)<<29 | 1<<28 | ((uoff >> 2) & 0x7ffff << 5) | rd
}

func encodeLoadStore(i *Inst, isLoad bool) uint32 {
	var top uint32
	bitsW := i.Size.Bits()
	switch {
	case isLoad && bitsW == 8:
		top = 0b0011100001
	case isLoad && bitsW == 16:
		top = 0b0111100001
	case isLoad && bitsW == 32 && i.Rd.R.Class() == RegClassInt:
		top = 0b1011100001
	case isLoad && bitsW == 64 && i.Rd.R.Class() == RegClassInt:
		top = 0b1111100001
	case isLoad && bitsW == 32:
		top = 0b1011110001
	case isLoad && bitsW == 64:
		top = 0b1111110001
	case !isLoad && bitsW == 8:
		top = 0b0011100000
	case !isLoad && bitsW == 16:
		top = 0b0111100000
	case !isLoad && bitsW == 32 && i.Rd.R.Class() == RegClassInt:
		top = 0b1011100000
	case !isLoad && bitsW == 64 && i.Rd.R.Class() == RegClassInt:
		top = 0b1111100000
	case !isLoad && bitsW == 32:
		top = 0b1011110000
	case !isLoad && bitsW == 64:
		top = 0b1111110000
	}
	rt := regIdx(i.Rd.R)
	rn := regIdx(i.Amode.Base)
	switch i.Amode.Kind {
	case AddrRegUnsignedImm12:
		div := int64(bitsW / 8)
		imm := i.Amode.Imm / div
		return top<<22 | 1<<24 | uint32(imm&0xfff)<<10 | rn<<5 | rt
	case AddrRegSignedImm9:
		return top<<22 | (uint32(i.Amode.Imm)&0x1ff)<<12 | 0b00<<10 | rn<<5 | rt
	case AddrPostIndex:
		return top<<22 | (uint32(i.Amode.Imm)&0x1ff)<<12 | 0b01<<10 | rn<<5 | rt
	case AddrPreIndex:
		return top<<22 | (uint32(i.Amode.Imm)&0x1ff)<<12 | 0b11<<10 | rn<<5 | rt
	case AddrRegReg, AddrRegExtended:
		var option uint32
		scaled := uint32(1)
		switch i.Amode.Ext {
		case ExtendUXTW:
			option = 0b010
		case ExtendSXTW:
			option = 0b110
		default:
			option, scaled = 0b111, 0
		}
		return top<<22 | 1<<21 | regIdx(i.Amode.Idx)<<16 | option<<13 | scaled<<12 | 0b10<<10 | rn<<5 | rt
	}
	utils.Fatal("encodeLoadStore: unhandled addressing mode")
	return 0
}

// encodeLoadStorePair encodes LDP/STP (64-bit GPR pair, opc=10): the mode
// field at bits[25:23] is 010 for a plain signed offset (no writeback) and
// 011 for pre-index ([Rn, #imm]!), matching the mode field of the known
// encoding for stp x29, x30, [sp, #-16]! (0xA9BF7BFD).
func encodeLoadStorePair(i *Inst, isLoad bool) uint32 {
	rt := regIdx(i.Rd.R)
	rt2 := regIdx(i.Rm)
	rn := regIdx(i.Amode.Base)
	imm7 := i.Amode.Imm / 8
	ret := rt | rn<<5 | rt2<<10 | (uint32(imm7)&0x7f)<<15
	if isLoad {
		ret |= 1 << 22
	}
	ret |= 0b101010010 << 23
	switch i.Amode.Kind {
	case AddrRegUnsignedImm12:
		// mode already 010 (signed offset, no writeback) from the base constant above.
	case AddrPreIndex:
		ret |= 1 << 23
	default:
		utils.Fatal("encodeLoadStorePair: unhandled addressing mode")
	}
	return ret
}

// encodeExclusive encodes LDXR/LDAXR (store==false) or STXR/STLXR
// (store==true) with the given 2-bit size field, per the Load/store
// exclusive encoding class.
// For a load, Rd carries the destination (Rt); for a store, Rd carries the
// status output (Rs) and Rm the value being stored (Rt).
func encodeExclusive(i *Inst, size uint32, store, acqRel bool) uint32 {
	rn := regIdx(i.Amode.Base)
	const rt2 = 0x1f
	var l, o1, o0, rs, rt uint32
	if acqRel {
		o0 = 1
	}
	if store {
		l, o1 = 0, 0
		rs = regIdx(i.Rd.R)
		rt = regIdx(i.Rm)
	} else {
		l, o1 = 1, 0
		rs = 0x1f
		rt = regIdx(i.Rd.R)
	}
	return size<<30 | 0b001000<<24 | l<<22 | o1<<21 | rs<<16 | o0<<15 | rt2<<10 | rn<<5 | rt
}

func encodeCasal(i *Inst) uint32 {
	size := excSize(i.Size)
	rs := regIdx(i.Rn) // expected/compare value, in/out
	rt := regIdx(i.Rm) // new value
	rn := regIdx(i.Amode.Base)
	return size<<30 | 0b0010001<<23 | 1<<22 | 1<<21 | rs<<16 | 1<<15 | 0x1f<<10 | rn<<5 | rt
}

func encodeLseRmw(i *Inst) uint32 {
	var opc uint32
	switch i.LseOp {
	case LseAdd:
		opc = 0b000
	case LseClr:
		opc = 0b001
	case LseEor:
		opc = 0b010
	case LseSet:
		opc = 0b011
	case LseSMax:
		opc = 0b100
	case LseSMin:
		opc = 0b101
	case LseUMax:
		opc = 0b110
	case LseUMin:
		opc = 0b111
	}
	size := excSize(i.Size)
	rs := regIdx(i.Rn)
	rn := regIdx(i.Amode.Base)
	rt := regIdx(i.Rd.R)
	ret := size<<30 | 0b111000<<24 | 1<<21 | rs<<16 | opc<<12 | rn<<5 | rt
	if i.LseOp == LseSwp {
		ret = size<<30 | 0b111000<<24 | 1<<21 | rs<<16 | 1<<15 | rn<<5 | rt
	}
	if i.AcqRel {
		ret |= 1<<23 | 1<<22
	}
	return ret
}

func (b *CodeBuffer) fixupSymbol(symbol string, addend int64, rd uint32, kind symbolRelocKind) {
	b.symbolFixups = append(b.symbolFixups, symbolFixup{
		offset: len(b.bytes), symbol: symbol, addend: addend, rd: rd, kind: kind,
	})
	switch kind {
	case adrpReloc:
		b.Emit4(1<<28 | rd)
	case addLo12Reloc:
		b.Emit4(0b100_10001<<22 | rd<<5 | rd)
	}
}

type symbolRelocKind uint8

const (
	adrpReloc symbolRelocKind = iota
	addLo12Reloc
)

type symbolFixup struct {
	offset int
	symbol string
	addend int64
	rd     uint32
	kind   symbolRelocKind
}

// encodeJumpTable lays out a br_table dispatch sequence (Open Question (b):
// a table length that fits 12 bits is compared as an immediate; a longer
// one is first materialized into x17 with MOVZ/MOVK and compared as a
// register):
//
//	cmp   idx, #count
//	b.cs  else
//	adr   x16, table
//	ldr   w17, [x16, idx, lsl #2]   ; w17 = target_offset - table_offset, signed
//	add   x16, x16, w17, sxtw       ; x16 = absolute target address
//	br    x16
//	table:
//	.word target0 - table, target1 - table, ...
//
// X16/X17 are used as throwaway scratch here (not AllocatableInt, not
// RegTmp/RegVM) because this sequence is emitted directly by the encoder
// after register allocation has already run; it never competes with
// allocator-assigned values.
func encodeJumpTable(i *Inst, buf *CodeBuffer) error {
	const x16, x17 = 16, 17
	idx := regIdx(i.Rn)
	count := uint32(len(i.JtTargets))

	if count <= 0xfff {
		buf.Emit4(cmpImm(idx, count))
	} else {
		buf.Emit4(0xD2800000 | (count&0xffff)<<5 | x17) // movz x17, #lo
		buf.Emit4(0xF2A00000 | (count>>16)<<5 | x17)    // movk x17, #hi, lsl #16
		buf.Emit4(0xEB000000 | x17<<16 | idx<<5 | 0x1f) // cmp idx, x17
	}
	buf.AddFixup(0b01010100<<24|uint32(CondCS), i.Else, RangeBranch19, patchCond19)

	adrAt := buf.Offset()
	buf.Emit4(encodeAdr(x16, 0)) // placeholder, patched below once the table's own offset is known
	buf.Emit4(encodeShiftedLoad(x17, idx, x16))
	buf.Emit4(encodeAddExtended(x16, x16, x17, ExtendSXTW))
	buf.Emit4(0b1101011<<25 | 0b000<<21 | 0b11111<<16 | x16<<5)

	tableStart := buf.Offset()
	adrDisp := int64(tableStart - adrAt)
	leSet32(buf.bytes, adrAt, encodeAdr(x16, adrDisp))

	for _, t := range i.JtTargets {
		buf.AddFixupAt(0, tableStart, t, RangeBranch26, patchTableEntryWord)
	}
	return nil
}

func cmpImm(rn uint32, imm uint32) uint32 {
	// SUBS XZR, Rn, #imm (CMP alias), always 64-bit since vregs carrying a
	// br_table index are sign/zero-extended to a full register beforehand.
	return 1<<31 | 0b111_10001<<24 | (imm&0xfff)<<10 | rn<<5 | 0x1f
}

func encodeShiftedLoad(rd, rn, base uint32) uint32 {
	// LDR Wd, [Xbase, Xrn, LSL #2]
	return 0b10111000011<<21 | rn<<16 | 0b011<<13 | 1<<12 | 0b10<<10 | base<<5 | rd
}

func encodeAddExtended(rd, rn, rm uint32, ext ExtendOp) uint32 {
	var option uint32
	switch ext {
	case ExtendSXTW:
		option = 0b110
	case ExtendUXTW:
		option = 0b010
	}
	return 1<<31 | 0b0001011001<<21 | rm<<16 | option<<13 | rn<<5 | rd
}

// patchTableEntryWord writes a jump-table data word as a plain 32-bit
// target-minus-table-base offset (not an instruction field), since disp is
// already computed relative to the table's start via AddFixupAt's base.
func patchTableEntryWord(buf []byte, instOffset int, disp int64) {
	leSet32(buf, instOffset, uint32(int32(disp)))
}
