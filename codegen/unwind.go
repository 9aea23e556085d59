package codegen

// unwind.go builds the DWARF Call-Frame-Information records describing a
// function's prologue: one module-wide CIE and one FDE per
// function. No repo in the example pack generates CFI (xyproto-vibe67's
// debug/dwarf use is a *reader*, parsing an existing .so's debug info, not a
// writer) — the byte layouts below follow the DWARF v4 CFI spec directly,
// which is why this file, alone among C1-C10, is grounded on the format
// standard rather than a pack file, and uses only stdlib-level byte
// plumbing (encoding/binary + the uleb128/sleb128 helpers below).

import "encoding/binary"

// DWARF register numbers for AArch64 (DWARF for the ARM 64-bit Architecture
// §4.1): Xn maps directly to DWARF register n; SP is 31.
const (
	dwarfRegSP = 31
	dwarfRegLR = 30
)

// CFI opcodes actually used here (DWARF v4 §7.23/7.24). Most prologues in
// this back end only ever need this subset.
const (
	dwCfaAdvanceLoc    = 0x40 // high 2 bits of opcode, low 6 bits = delta
	dwCfaOffset        = 0x80 // high 2 bits of opcode, low 6 bits = register
	dwCfaNop           = 0x00
	dwCfaDefCfa        = 0x0c
	dwCfaDefCfaRegister = 0x0d
	dwCfaDefCfaOffset  = 0x0e
)

// CIE is the single module-wide Common Information Entry: code
// alignment 4 (every AArch64 instruction is 4 bytes), data alignment -8
// (stack slots are 8-byte granules), return address in X30, and one
// initial instruction establishing CFA = SP+0 at function entry.
type CIE struct {
	bytes []byte
}

// NewCIE builds the one CIE this back end's functions all share.
func NewCIE() *CIE {
	var initial cfiWriter
	initial.defCfa(dwarfRegSP, 0)

	var body []byte
	body = append(body, 1)              // version
	body = append(body, 0)              // augmentation string: empty, NUL-terminated
	body = appendUleb128(body, 4)       // code_alignment_factor
	body = appendSleb128(body, -8)      // data_alignment_factor
	body = appendUleb128(body, dwarfRegLR) // return_address_register
	body = append(body, initial.bytes...)
	body = padTo4(body)

	var rec []byte
	rec = binary.LittleEndian.AppendUint32(rec, uint32(len(body)+4)) // length excludes the length field itself, includes CIE_id
	rec = binary.LittleEndian.AppendUint32(rec, 0xffffffff)          // CIE_id
	rec = append(rec, body...)
	return &CIE{bytes: rec}
}

// Bytes returns the CIE's serialized DWARF record.
func (c *CIE) Bytes() []byte { return c.bytes }

// FDE is one function's Frame Description Entry. Its
// instruction stream is built from the actual prologue abi.go emits
// (EmitPrologue): the frame-size SUB, the FP/LR store, the FP/SP copy, and
// each callee-saved register's save point, in that order, one AArch64
// instruction (4 bytes) apart.
type FDE struct {
	cie          *CIE
	instructions []byte
	pcBegin      uint64
	codeSize     uint32
}

// NewFDE builds the FDE for one function's prologue, grounded on abi.go's
// EmitPrologue instruction order:
//
//	SUB  SP, SP, #frameSize        -> def_cfa_offset(frameSize)
//	STP  FP, LR, [SP, #0]          -> offset(FP), offset(LR)
//	ADD  FP, SP, #0                -> def_cfa_register(FP)
//	STP/LDP pairs, one per 16B     -> offset(r0), offset(r1) each
//	single float stores, one per 8B -> offset(r) each
//
// pc_begin and code_size are left zero; C10 fills them in once the
// function's final code offset and length are known.
func NewFDE(cie *CIE, frame *FrameLayout) *FDE {
	frameSize := frame.FrameSize()
	var w cfiWriter

	w.advance(1)
	w.defCfaOffset(frameSize)
	w.advance(1)
	w.offset(dwarfFPReg, frameSize)
	w.offset(dwarfRegLR, frameSize-8)

	w.advance(1)
	w.defCfaRegister(dwarfFPReg)

	offset := int64(16)
	regs := frame.CalleeSaved
	for i := 0; i < len(regs); i += 2 {
		w.advance(1)
		w.offset(dwarfReg(regs[i]), frameSize-offset)
		if i+1 < len(regs) {
			w.offset(dwarfReg(regs[i+1]), frameSize-offset-8)
		}
		offset += 16
	}
	for _, r := range frame.CalleeSavedFloat {
		w.advance(1)
		w.offset(dwarfFloatReg(r), frameSize-offset)
		offset += 8
	}

	return &FDE{cie: cie, instructions: w.bytes}
}

// SetRange records the function's final code position, to be called once
// the ISA façade has the finalized byte offset and length after encoding
// completes.
func (f *FDE) SetRange(pcBegin uint64, codeSize uint32) {
	f.pcBegin, f.codeSize = pcBegin, codeSize
}

// Bytes serializes f relative to cieOffset, the CIE's byte offset within
// the module's combined CFI section.
func (f *FDE) Bytes(cieOffset uint32) []byte {
	body := make([]byte, 0, 16+len(f.instructions))
	body = binary.LittleEndian.AppendUint32(body, cieOffset) // CIE_pointer (DWARF64 absent: plain offset)
	body = binary.LittleEndian.AppendUint64(body, f.pcBegin)
	body = binary.LittleEndian.AppendUint32(body, f.codeSize)
	body = append(body, f.instructions...)
	body = padTo4(body)

	rec := binary.LittleEndian.AppendUint32(nil, uint32(len(body)))
	rec = append(rec, body...)
	return rec
}

// UnwindInfo bundles the module-wide CIE with one function's FDE, the
// downstream CompiledCode.unwind shape.
type UnwindInfo struct {
	CIE *CIE
	FDE *FDE
}

// dwarfFPReg/dwarfReg/dwarfFloatReg map this package's Reg values to their
// DWARF register numbers: Xn -> n, Vn -> 64+n per the AArch64 DWARF mapping
// (DWARF for the ARM 64-bit Architecture §4.1, vector registers start at 64).
const dwarfFPReg = RegFP

func dwarfReg(r Reg) uint64 { return uint64(r.RealReg()) }
func dwarfFloatReg(r Reg) uint64 { return 64 + uint64(r.RealReg()) }

// cfiWriter accumulates raw CFA instruction bytes (DWARF v4 §6.4.2).
type cfiWriter struct{ bytes []byte }

func (w *cfiWriter) advance(units uint64) {
	utilsAssertSmallDelta(units)
	w.bytes = append(w.bytes, byte(dwCfaAdvanceLoc|units))
}

func (w *cfiWriter) defCfa(reg uint64, offset int64) {
	w.bytes = append(w.bytes, dwCfaDefCfa)
	w.bytes = appendUleb128(w.bytes, reg)
	w.bytes = appendUleb128(w.bytes, uint64(offset))
}

func (w *cfiWriter) defCfaOffset(offset int64) {
	w.bytes = append(w.bytes, dwCfaDefCfaOffset)
	w.bytes = appendUleb128(w.bytes, uint64(offset))
}

func (w *cfiWriter) defCfaRegister(reg uint64) {
	w.bytes = append(w.bytes, dwCfaDefCfaRegister)
	w.bytes = appendUleb128(w.bytes, reg)
}

// offset records that reg is saved at CFA + factored*data_alignment_factor
// (data_alignment_factor is -8, so the factored form of a positive
// byte offset below CFA is offset/8).
func (w *cfiWriter) offset(reg uint64, byteOffset int64) {
	w.bytes = append(w.bytes, byte(dwCfaOffset)|byte(reg))
	w.bytes = appendUleb128(w.bytes, uint64(byteOffset/8))
}

func utilsAssertSmallDelta(units uint64) {
	if units > 0x3f {
		panic("unwind: advance_loc delta too large for the single-byte form")
	}
}

func appendUleb128(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b = append(b, c|0x80)
		} else {
			b = append(b, c)
			return b
		}
	}
}

func appendSleb128(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		signBitSet := c&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			b = append(b, c)
			return b
		}
		b = append(b, c|0x80)
	}
}

func padTo4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, dwCfaNop)
	}
	return b
}
