package codegen

// Kind enumerates the closed set of machine-instruction variants this back
// end emits. The shape of Inst below — a kind tag plus a
// small fixed set of generic operand slots rather than one Go struct type
// per variant — mirrors the instruction representation used by the wazevo
// AArch64 backend (other_examples instr.go/instr_encoding.go): it keeps the
// sum type closed and exhaustively switchable while avoiding one type
// declaration per of the ~110 variants below.
type Kind uint8

const (
	KNop Kind = iota
	KUdf
	KBrk
	KIsb
	KDmb // DMB ISH, the full inner-shareable barrier FenceAcqRel lowers to

	// Integer ALU, register-register.
	KAddRRR
	KSubRRR
	KAddsRRR
	KSubsRRR
	KMulRRR
	KMAddRRRR
	KMSubRRRR
	KSMulHRRR
	KUMulHRRR
	KSMullRRR // 32x32 -> 64 widening multiply
	KUMullRRR
	KSDivRRR
	KUDivRRR
	KAndRRR
	KOrrRRR
	KEorRRR
	KBicRRR // AND NOT
	KOrnRRR // OR NOT
	KAndsRRR

	// Integer ALU, register-immediate.
	KAddRRImm12
	KSubRRImm12
	KAddsRRImm12
	KSubsRRImm12
	KAndRRImmLogic
	KOrrRRImmLogic
	KEorRRImmLogic
	KAndsRRImmLogic

	// Shifted / extended register forms.
	KAddRRRShift
	KSubRRRShift
	KAddRRRExtend
	KSubRRRExtend

	// Shift by register / immediate.
	KLslRRR
	KLsrRRR
	KAsrRRR
	KLslRRImm
	KLsrRRImm
	KAsrRRImm
	KRorRRImm // EXTR Rd, Rn, Rn, #amount

	// Bit manipulation.
	KClzRR
	KClsRR
	KRbitRR
	KRev16RR
	KRev32RR
	KRev64RR

	// Conditional.
	KCSel
	KCSInc
	KCSInv
	KCSNeg
	KCSet
	KCInc

	// Move wide.
	KMovZ
	KMovN
	KMovK
	KMovRR // alias: ORR Xd, XZR, Xm

	// Memory.
	KLoad  // typed by Size and the register class of Rd; Amode carries addressing
	KStore
	KLoadPair
	KStorePair

	// Atomics.
	KLdxr
	KLdaxr
	KStxr
	KStlxr
	KCasal
	KLseRmw // ldadd/ldclr/ldset/ldeor/swp/ldsmax/ldsmin/ldumax/ldumin, op in LseOp

	// Branch.
	KB
	KBCond
	KCBZ
	KCBNZ
	KTBZ
	KTBNZ
	KBR
	KBLR
	KBL
	KRet
	KJtSequence // synthetic br_table unit

	// Floating point scalar.
	KFAddRRR
	KFSubRRR
	KFMulRRR
	KFDivRRR
	KFNegRR
	KFAbsRR
	KFSqrtRR
	KFMovRR
	KFMovToGPR
	KFMovFromGPR
	KFCmp
	KFCSel
	KFMaxRRR
	KFMinRRR
	KFCvt // f32<->f64
	KSCvtF
	KUCvtF
	KFCvtZS
	KFCvtZU
	KFRintM
	KFRintN
	KFRintP
	KFRintZ
	KFMAddRRRR
	KFMSubRRRR

	// Saturating arithmetic.
	KSqAddRRR
	KUqAddRRR
	KSqSubRRR
	KUqSubRRR

	// Symbol / address materialization.
	KAdr
	KAdrpSymbol
	KAddSymbolLo12
	KLoadFpuConst64
)

// AddrKind enumerates the addressing-mode families an Inst's amode can take.
type AddrKind uint8

const (
	AddrRegUnsignedImm12 AddrKind = iota // [Rn, #imm12 * scale]
	AddrRegSignedImm9                    // [Rn, #simm9] (unscaled, LDUR/STUR form)
	AddrPreIndex                         // [Rn, #simm9]!
	AddrPostIndex                        // [Rn], #simm9
	AddrRegReg                           // [Rn, Rm]
	AddrRegExtended                      // [Rn, Rm, <extend>]
)

// AddrMode describes a memory operand.
type AddrMode struct {
	Kind AddrKind
	Base Reg
	Imm  int64
	Idx  Reg
	Ext  ExtendOp
}

// Inst is the closed machine-instruction sum type.
// Every defined operand is a WritableReg; every used operand is a plain
// Reg, which is what C8 (regalloc.go) relies on to enumerate defs/uses
// generically without a type switch per Kind.
type Inst struct {
	Kind Kind

	Rd WritableReg
	Rn Reg
	Rm Reg
	Ra Reg // third source, for *RRRR forms (madd/msub/fmadd/fmsub)

	Size OperandSize
	Cond CondCode
	Ext  ExtendOp
	Sh   ShiftOp

	Imm12    Imm12
	ImmLogic ImmLogic
	ImmShift ImmShift
	Imm64    uint64 // movz/movk/movn chunk, or raw bit pattern for fp const
	ShiftAmt uint8  // for *RRRShift forms

	Amode AddrMode

	// Branch/label targets; resolved to byte offsets by the code buffer.
	Target Label
	Else   Label // jt_sequence default target

	Symbol     string
	Addend     int64
	TrapCode   uint16
	JtTargets  []Label // jt_sequence per-entry targets, indexed by table entry
	LseOp      LseOp   // valid when Kind == KLseRmw
	AcqRel     bool    // load-acquire / store-release ordering
	SixtyFour  bool    // operand width override for variants not driven by Size
	SourceIdx  int     // IR instruction index this Inst was lowered from, for diagnostics
}

// LseOp enumerates the LSE read-modify-write opcodes.
type LseOp uint8

const (
	LseAdd LseOp = iota
	LseClr
	LseSet
	LseEor
	LseSwp
	LseSMax
	LseSMin
	LseUMax
	LseUMin
)

// Label identifies a branch target within one function's VCode, resolved by
// the code buffer at finalize time.
type Label int32

const LabelInvalid Label = -1

// Defs appends the WritableReg destinations of i to dst (at most one per
// instruction, except KLoadPair, which defines both Rd and Rm) and returns
// the result. Used generically by the register allocator (C8) instead of a
// per-Kind type switch.
func (i *Inst) Defs(dst []Reg) []Reg {
	switch i.Kind {
	case KNop, KUdf, KBrk, KIsb, KDmb, KB, KBCond, KCBZ, KCBNZ, KTBZ, KTBNZ, KBR, KBLR, KBL, KRet,
		KStore, KStorePair, KFCmp:
		return dst
	case KLoadPair:
		if i.Rd.R.Valid() {
			dst = append(dst, i.Rd.R)
		}
		if i.Rm.Valid() {
			dst = append(dst, i.Rm)
		}
		return dst
	case KCasal:
		// CASAL's Rn (the Rs/Rt hardware field) is read as the expected
		// value and overwritten with the value actually observed in
		// memory: both a use (see Uses) and a def.
		if i.Rn.Valid() {
			return append(dst, i.Rn)
		}
		return dst
	default:
		if i.Rd.R.Valid() {
			return append(dst, i.Rd.R)
		}
		return dst
	}
}

// Uses appends the Reg sources of i to dst and returns the result.
func (i *Inst) Uses(dst []Reg) []Reg {
	addIfReal := func(r Reg) {
		if r.Valid() {
			dst = append(dst, r)
		}
	}
	switch i.Kind {
	case KCBZ, KCBNZ, KTBZ, KTBNZ:
		addIfReal(i.Rn)
	case KStore:
		addIfReal(i.Rd.R) // store's "Rd" field carries the value being stored
		addIfReal(i.Amode.Base)
		addIfReal(i.Amode.Idx)
	case KStorePair:
		addIfReal(i.Rd.R)
		addIfReal(i.Rm) // second register of the pair
		addIfReal(i.Amode.Base)
	case KStxr, KStlxr:
		addIfReal(i.Rm) // value being stored; Rd is the status output (a def)
		addIfReal(i.Amode.Base)
	case KLoad, KLdxr, KLdaxr:
		addIfReal(i.Amode.Base)
		addIfReal(i.Amode.Idx)
	case KLoadPair:
		addIfReal(i.Amode.Base)
		addIfReal(i.Amode.Idx)
	case KBR, KBLR:
		addIfReal(i.Rn)
	case KCasal:
		addIfReal(i.Rn) // expected value
		addIfReal(i.Rm) // new value
		addIfReal(i.Amode.Base)
	case KLseRmw:
		addIfReal(i.Rn) // operand
		addIfReal(i.Amode.Base)
	case KFCmp:
		addIfReal(i.Rn)
		addIfReal(i.Rm)
	default:
		addIfReal(i.Rn)
		addIfReal(i.Rm)
		addIfReal(i.Ra)
	}
	return dst
}
