// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package codegen is the AArch64 code-generation back end: instruction
// model, encoder, ABI classifier, instruction selection, register
// allocation and unwind-info generation for a single function at a time.
package codegen

import (
	"fmt"

	"github.com/joelreymont/hoist-sub001/utils"
)

// RegClass partitions the register file the way AAPCS64 and the encoder
// both care about: integer GPRs vs. the float/vector bank.
type RegClass uint8

const (
	RegClassInt RegClass = iota
	RegClassFloat
)

func (c RegClass) String() string {
	if c == RegClassFloat {
		return "v"
	}
	return "x"
}

// Hardware indices with AAPCS64/platform significance. X31 is context
// dependent: SP in load/store-base and stack-adjust positions, XZR
// elsewhere; the Inst variants that need one or the other encode that
// choice in their own identity rather than as a Reg value.
const (
	RegFP  = 29 // X29, frame pointer
	RegLR  = 30 // X30, link register
	RegSP  = 31 // X31 as stack pointer
	RegZR  = 31 // X31 as zero register
	RegTmp = 27 // X27, outside the allocation pool; the allocator's spill/reload register when the pool is full
	RegVM  = 28 // X28, carries the VM-context pointer (Open Question (a))
)

// Reg is a tagged union: either a physical register (virtual == false) or a
// virtual one produced by a LoweringContext (virtual == true). class and
// index are always populated; for virtuals, index is the dense VReg index
// rather than a hardware slot.
//
// valid distinguishes a real register from the zero value: Reg{} (e.g. an
// Inst field nobody set) must not compare equal to X0/V0, so it carries
// valid == false while every register built through PReg or a vreg factory
// carries valid == true. Callers test this via Valid(), never via ==.
type Reg struct {
	class   RegClass
	index   int32
	virtual bool
	valid   bool
}

// NoReg is the explicit "no register" value; it is also what a zero-valued
// Reg field equals, so leaving an Inst operand unset is equivalent to
// writing NoReg explicitly.
var NoReg = Reg{}

// PReg constructs a physical register operand.
func PReg(class RegClass, index int) Reg {
	utils.Assert(index >= 0 && index <= 31, "physical register index out of range: %d", index)
	return Reg{class: class, index: int32(index), valid: true}
}

// IsVirtual reports whether r was produced by a LoweringContext's vreg
// factory rather than naming hardware directly.
func (r Reg) IsVirtual() bool { return r.virtual }

// Valid reports whether r names an actual register, as opposed to the zero
// value NoReg used to mean "this operand slot is unused".
func (r Reg) Valid() bool { return r.valid }

// Class reports the register bank r belongs to.
func (r Reg) Class() RegClass { return r.class }

// Index returns the hardware index (physical) or dense allocator index
// (virtual) carried by r.
func (r Reg) Index() int32 { return r.index }

// RealReg returns the hardware index of r, which must be physical.
func (r Reg) RealReg() int {
	utils.Assert(!r.virtual, "RealReg called on a virtual register")
	return int(r.index)
}

func (r Reg) String() string {
	if r.virtual {
		return fmt.Sprintf("%%v%d.%s", r.index, r.class)
	}
	return formatPhysReg(r.class, int(r.index), sizeStrFor(r.class))
}

func sizeStrFor(c RegClass) string {
	if c == RegClassFloat {
		return "d"
	}
	return "x"
}

func formatPhysReg(class RegClass, idx int, width string) string {
	if class == RegClassFloat {
		return fmt.Sprintf("%s%d", width, idx)
	}
	switch idx {
	case RegSP:
		return "sp"
	case RegFP:
		return "fp"
	case RegLR:
		return "lr"
	}
	return fmt.Sprintf("%s%d", width, idx)
}

// WritableReg marks a Reg as the destination operand of some Inst. The
// wrapping is a type-level signal only: C8 treats every
// WritableReg field as a def, and every plain Reg field as a use.
type WritableReg struct{ R Reg }

func Writable(r Reg) WritableReg { return WritableReg{R: r} }

func (w WritableReg) String() string { return w.R.String() }

// --- Physical register file -------------------------------------------------

// Named physical integer registers. X18 is omitted from AllocatableInt per
// the platform-reserved convention several AArch64 ABIs apply (confirmed in
// the wazevo register-info table used as grounding); X27 and X28 are
// reserved for this back end's own use (scratch / VM-context) and X29-X31
// are the frame/link/stack registers.
var (
	XZR = PReg(RegClassInt, RegZR)
	SP  = PReg(RegClassInt, RegSP)
	FP  = PReg(RegClassInt, RegFP)
	LR  = PReg(RegClassInt, RegLR)
	VMC = PReg(RegClassInt, RegVM)
	TMP = PReg(RegClassInt, RegTmp)
)

func X(i int) Reg { return PReg(RegClassInt, i) }
func V(i int) Reg { return PReg(RegClassFloat, i) }

// AllocatableInt is the pool the register allocator draws from:
// X0-X15,X19-X26 are usable; X16/X17 (scratch of the encoder's jump-table
// sequence), X18 (platform-reserved on several AAPCS64-based OS ABIs), X27
// (scratch), X28 (VM-context), X29 (FP), X30 (LR) and X31 (SP/XZR) are
// excluded. Argument/return registers are listed last so the allocator
// prefers callee-saved/non-parameter registers first, mirroring the
// wazevo allocation-order convention used as grounding.
var AllocatableInt = []int{
	8, 9, 10, 11, 12, 13, 14, 15,
	19, 20, 21, 22, 23, 24, 25, 26,
	7, 6, 5, 4, 3, 2, 1, 0,
}

// AllocatableFloat is the float/vector allocation pool: all of V0-V31 are
// usable (the allocator is only ever asked for scalar FP values in this
// back end), argument/return registers listed last as above.
var AllocatableFloat = []int{
	8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19,
	20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31,
	7, 6, 5, 4, 3, 2, 1, 0,
}

// CalleeSavedInt / CalleeSavedFloat list the registers whose values must
// survive a call, per AAPCS64 §5.1.1: any of these the allocator actually
// assigns must be saved/restored by the prologue/epilogue.
var CalleeSavedInt = []int{19, 20, 21, 22, 23, 24, 25, 26, 28}

// CalleeSavedFloat covers only the low 64 bits of V8-V15 under AAPCS64; this
// back end only ever stores/loads scalar float/double values in those
// registers, so the distinction is immaterial here.
var CalleeSavedFloat = []int{8, 9, 10, 11, 12, 13, 14, 15}

func isIn(set []int, idx int) bool {
	for _, s := range set {
		if s == idx {
			return true
		}
	}
	return false
}

// IsCalleeSaved reports whether r (physical) must be preserved across calls.
func IsCalleeSaved(r Reg) bool {
	utils.Assert(!r.virtual, "IsCalleeSaved called on a virtual register")
	if r.class == RegClassInt {
		return isIn(CalleeSavedInt, int(r.index))
	}
	return isIn(CalleeSavedFloat, int(r.index))
}

// IntArgRegs / FloatArgRegs are the AAPCS64 argument/result register banks
//: X0-X7 and V0-V7, consulted independently.
var IntArgRegs = []int{0, 1, 2, 3, 4, 5, 6, 7}
var FloatArgRegs = []int{0, 1, 2, 3, 4, 5, 6, 7}

// OperandSize controls the encoder's `sf` bit and, for sub-word loads and
// stores, the choice among the byte/half/word/doubleword variants.
type OperandSize uint8

const (
	Size8 OperandSize = iota
	Size16
	Size32
	Size64
)

// SizeFromBits maps a bit width to an OperandSize, returning an
// UnsupportedIntegerSize error for widths the ISA does not directly
// support (Open Question (d)).
func SizeFromBits(bits int) (OperandSize, error) {
	switch bits {
	case 8:
		return Size8, nil
	case 16:
		return Size16, nil
	case 32:
		return Size32, nil
	case 64:
		return Size64, nil
	default:
		return 0, &CodegenError{Kind: KindUnsupportedIntegerSize, Msg: fmt.Sprintf("unsupported integer width %d", bits)}
	}
}

func (s OperandSize) Is64() bool { return s == Size64 }

func (s OperandSize) Bits() int {
	switch s {
	case Size8:
		return 8
	case Size16:
		return 16
	case Size32:
		return 32
	default:
		return 64
	}
}

// sf returns the encoder's size bit: 1 for 64-bit operations, 0 otherwise.
// Byte/half instructions route through dedicated opcodes instead.
func (s OperandSize) sf() uint32 {
	if s.Is64() {
		return 1
	}
	return 0
}

// CondCode is one of the 16 ARM condition codes, in their natural 4-bit
// encoding (AArch64 Architecture Reference Manual, Condition codes table).
type CondCode uint8

const (
	CondEQ CondCode = iota // 0000 equal
	CondNE                 // 0001 not equal
	CondCS                 // 0010 carry set / unsigned higher-or-same (HS alias)
	CondCC                 // 0011 carry clear / unsigned lower (LO alias)
	CondMI                 // 0100 minus / negative
	CondPL                 // 0101 plus / positive or zero
	CondVS                 // 0110 overflow
	CondVC                 // 0111 no overflow
	CondHI                 // 1000 unsigned higher
	CondLS                 // 1001 unsigned lower-or-same
	CondGE                 // 1010 signed greater-or-equal
	CondLT                 // 1011 signed less-than
	CondGT                 // 1100 signed greater-than
	CondLE                 // 1101 signed less-or-equal
	CondAL                 // 1110 always
)

// Invert returns the logically-negated condition, used when an inverted
// branch is needed to skip over an island veneer or a trap.
func (c CondCode) Invert() CondCode {
	return c ^ 1
}

func (c CondCode) String() string {
	names := [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al"}
	if int(c) < len(names) {
		return names[c]
	}
	return "al"
}

// ExtendOp is a register-with-extension operand modifier.
type ExtendOp uint8

const (
	ExtendUXTB ExtendOp = iota
	ExtendUXTH
	ExtendUXTW
	ExtendUXTX
	ExtendSXTB
	ExtendSXTH
	ExtendSXTW
	ExtendSXTX
	ExtendNone // not an ISA value; used internally to mean "no extension"
)

// ShiftOp is a register-with-shift operand modifier.
type ShiftOp uint8

const (
	ShiftLSL ShiftOp = iota
	ShiftLSR
	ShiftASR
	ShiftROR
)
