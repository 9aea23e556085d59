package codegen

import (
	"github.com/joelreymont/hoist-sub001/ir"
	"github.com/joelreymont/hoist-sub001/utils"
)

// ArgKind distinguishes an AAPCS64 argument/result classified into a
// register from one assigned a stack slot.
type ArgKind uint8

const (
	ArgKindReg ArgKind = iota
	ArgKindStack
)

// ABIArg is one classified parameter or result.
type ABIArg struct {
	Kind   ArgKind
	Reg    Reg // valid when Kind == ArgKindReg
	Offset int64 // byte offset from SP at call time, valid when Kind == ArgKindStack
	Type   ir.Type
}

// FunctionABI is the classified argument/result layout and frame shape for
// one function, grounded on wazevo's abiImpl (other_examples arm64/abi.go):
// a simple left-to-right, int/float-bank-independent register assignment
// with overflow spilling to the stack, matching AAPCS64 §6.8.2's "NGRN"/
// "NSRN" counters for the integer and SIMD/FP register banks.
type FunctionABI struct {
	Args    []ABIArg
	Results []ABIArg

	// ArgStackSize is the total byte size of stack-passed arguments, rounded
	// up to a 16-byte boundary per AAPCS64 §6.4.2.
	ArgStackSize int64
	// RetStackSize is likewise for stack-passed results (AAPCS64's indirect
	// result-location convention is out of scope: this back end never
	// returns aggregates larger than two registers' worth).
	RetStackSize int64
}

// ClassifyABI computes the calling-convention layout for sig:
// up to 8 integer and 8 floating-point arguments/results go in registers,
// left to right, in their own independent counters; anything beyond that
// spills to the stack in declaration order.
func ClassifyABI(sig *ir.Signature) *FunctionABI {
	abi := &FunctionABI{}
	abi.Args, abi.ArgStackSize = classifyValues(sig.Params)
	abi.Results, abi.RetStackSize = classifyValues(sig.Results)
	return abi
}

func classifyValues(types []ir.Type) ([]ABIArg, int64) {
	out := make([]ABIArg, len(types))
	nextInt, nextFloat := 0, 0
	var stackOffset int64
	for idx, t := range types {
		if t.IsFloat() {
			if nextFloat < len(FloatArgRegs) {
				out[idx] = ABIArg{Kind: ArgKindReg, Reg: V(FloatArgRegs[nextFloat]), Type: t}
				nextFloat++
				continue
			}
		} else {
			if nextInt < len(IntArgRegs) {
				out[idx] = ABIArg{Kind: ArgKindReg, Reg: X(IntArgRegs[nextInt]), Type: t}
				nextInt++
				continue
			}
		}
		size := int64(t.Bits() / 8)
		if size < 8 {
			size = 8 // AAPCS64 §6.8.2: stack slots are at minimum 8-byte aligned/sized
		}
		out[idx] = ABIArg{Kind: ArgKindStack, Offset: stackOffset, Type: t}
		stackOffset += size
	}
	return out, utils.AlignUp64(stackOffset, 16)
}

// FrameLayout describes one function's prologue/epilogue shape:
// how much local/spill space it needs, which callee-saved registers it must
// preserve, and whether it establishes a frame-pointer chain.
type FrameLayout struct {
	LocalSize    int64 // spill slots + explicit ir.StackSlot space, 16-byte aligned
	CalleeSaved  []Reg // callee-saved GPRs the allocator actually assigned, saved as STP pairs
	// CalleeSavedFloat holds any callee-saved V registers the allocator
	// assigned. These are saved/restored one at a time with plain
	// KStore/KLoad rather than folded into the CalleeSaved pairing: STP/LDP
	// (SIMD&FP) sets the V bit in a different position than the GPR form
	// encodeLoadStorePair emits, and keeping the two classes apart avoids
	// needing a second bit-layout in that encoder for a handful of registers.
	CalleeSavedFloat []Reg
	HasCalls         bool  // whether any call-like Inst appears, forcing LR to be saved
	ArgStackSize     int64 // mirrors FunctionABI.ArgStackSize, for locating incoming stack args
}

// calleeSavedFloatBytes is the 8-byte-aligned space CalleeSavedFloat needs.
func (f *FrameLayout) calleeSavedFloatBytes() int64 {
	return int64(len(f.CalleeSavedFloat)) * 8
}

// LocalAreaOffset is the SP/FP-relative byte offset at which the local
// area (IR stack slots, then allocator spill slots) begins: past the saved
// FP/LR pair and every callee-saved register this frame preserves. C8
// (regalloc.go) adds this to every FP-relative stack-slot offset C7 baked
// in before the callee-saved set was known.
func (f *FrameLayout) LocalAreaOffset() int64 {
	return 16 + int64(((len(f.CalleeSaved)+1)/2)*16) + f.calleeSavedFloatBytes()
}

// FrameSize is the total sp-to-sp adjustment the prologue/epilogue make:
// saved FP+LR pair, saved callee-saved GPR pairs (padded), saved
// callee-saved float registers, and LocalSize, all 16-byte aligned per
// AAPCS64 §6.4.2.
func (f *FrameLayout) FrameSize() int64 {
	saved := int64(16) // FP, LR
	saved += int64(((len(f.CalleeSaved) + 1) / 2) * 16)
	saved += f.calleeSavedFloatBytes()
	return utils.AlignUp64(saved+f.LocalSize, 16)
}

// EmitPrologue appends the standard frame-setup sequence to fn's
// instruction stream: establish the FP/LR chain, bump SP down
// by FrameSize, and save callee-saved registers in pairs.
func EmitPrologue(buf *CodeBuffer, frame *FrameLayout) error {
	size := frame.FrameSize()
	imm12, err := TryImm12(uint64(size))
	if err != nil {
		return wrapErr(KindFatal, err, "prologue frame size")
	}
	subSp := &Inst{Kind: KSubRRImm12, Rd: Writable(SP), Rn: SP, Imm12: imm12, Size: Size64}
	if err := Encode(subSp, buf); err != nil {
		return err
	}
	storeFpLr := &Inst{
		Kind: KStorePair, Rd: Writable(FP), Rm: LR,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: SP, Imm: 0},
		Size:  Size64,
	}
	if err := Encode(storeFpLr, buf); err != nil {
		return err
	}
	movFp := &Inst{Kind: KAddRRImm12, Rd: Writable(FP), Rn: SP, Imm12: Imm12{}, Size: Size64}
	if err := Encode(movFp, buf); err != nil {
		return err
	}
	intPairBytes := int64(((len(frame.CalleeSaved) + 1) / 2) * 16)
	if err := emitCalleeSavedSpills(buf, frame, 16, true); err != nil {
		return err
	}
	return emitCalleeSavedFloatSpills(buf, frame, 16+intPairBytes, true)
}

// EmitEpilogue appends the matching teardown sequence: restore
// callee-saved registers, restore FP/LR, restore SP, and RET.
func EmitEpilogue(buf *CodeBuffer, frame *FrameLayout) error {
	intPairBytes := int64(((len(frame.CalleeSaved) + 1) / 2) * 16)
	if err := emitCalleeSavedFloatSpills(buf, frame, 16+intPairBytes, false); err != nil {
		return err
	}
	if err := emitCalleeSavedSpills(buf, frame, 16, false); err != nil {
		return err
	}
	loadFpLr := &Inst{
		Kind: KLoadPair, Rd: Writable(FP), Rm: LR,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: SP, Imm: 0},
		Size:  Size64,
	}
	if err := Encode(loadFpLr, buf); err != nil {
		return err
	}
	size := frame.FrameSize()
	imm12, err := TryImm12(uint64(size))
	if err != nil {
		return wrapErr(KindFatal, err, "epilogue frame size")
	}
	addSp := &Inst{Kind: KAddRRImm12, Rd: Writable(SP), Rn: SP, Imm12: imm12, Size: Size64}
	if err := Encode(addSp, buf); err != nil {
		return err
	}
	return Encode(&Inst{Kind: KRet}, buf)
}

// emitCalleeSavedSpills stores (save) or loads (restore) frame.CalleeSaved
// in consecutive 16-byte-aligned pairs starting startOffset bytes above the
// saved FP/LR pair.
func emitCalleeSavedSpills(buf *CodeBuffer, frame *FrameLayout, startOffset int64, save bool) error {
	offset := startOffset
	regs := frame.CalleeSaved
	for i := 0; i < len(regs); i += 2 {
		r0 := regs[i]
		r1 := r0
		if i+1 < len(regs) {
			r1 = regs[i+1]
		}
		kind := KStorePair
		if !save {
			kind = KLoadPair
		}
		inst := &Inst{
			Kind: kind, Rd: Writable(r0), Rm: r1,
			Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: SP, Imm: offset},
			Size:  Size64,
		}
		if err := Encode(inst, buf); err != nil {
			return err
		}
		offset += 16
	}
	return nil
}

// emitCalleeSavedFloatSpills stores or loads frame.CalleeSavedFloat one
// register at a time, 8 bytes apart, starting startOffset bytes above the
// saved FP/LR pair and the GPR callee-saved region.
func emitCalleeSavedFloatSpills(buf *CodeBuffer, frame *FrameLayout, startOffset int64, save bool) error {
	offset := startOffset
	kind := KLoad
	if save {
		kind = KStore
	}
	for _, r := range frame.CalleeSavedFloat {
		inst := &Inst{
			Kind: kind, Rd: Writable(r),
			Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: SP, Imm: offset},
			Size:  Size64,
		}
		if err := Encode(inst, buf); err != nil {
			return err
		}
		offset += 8
	}
	return nil
}
