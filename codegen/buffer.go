package codegen

import (
	"encoding/binary"

	"github.com/joelreymont/hoist-sub001/utils"
)

// BranchRangeClass identifies which of the four PC-relative encodings a
// pending branch fixup uses, and therefore how far it can reach before an
// island veneer is required.
type BranchRangeClass uint8

const (
	RangeBranch26        BranchRangeClass = iota // B/BL: ±128MiB, imm26 * 4
	RangeBranch19                                 // B.cond/CBZ/CBNZ: ±1MiB, imm19 * 4
	RangeBranch14                                 // TBZ/TBNZ: ±32KiB, imm14 * 4
	RangeAdrPrelPgHi21                            // ADRP: ±4GiB page-relative
)

func (c BranchRangeClass) maxOffset() int64 {
	switch c {
	case RangeBranch26:
		return 1 << 27 // 26-bit signed imm * 4 => 28 effective bits, one sign bit
	case RangeBranch19:
		return 1 << 20
	case RangeBranch14:
		return 1 << 15
	default:
		return 1 << 32
	}
}

// fixup records one not-yet-resolved PC-relative reference into the buffer:
// the byte offset of the instruction word to patch, the label it targets,
// and how to re-encode it once the target offset is known.
type fixup struct {
	instOffset int
	base       int // -1 => displacement is measured from instOffset itself
	label      Label
	class      BranchRangeClass
	patch      func(buf []byte, instOffset int, disp int64)
}

// labelState tracks a label's binding; offset is -1 until Bind is called.
type labelState struct {
	offset int
}

// CodeBuffer accumulates a function's encoded instruction bytes together
// with its pending label references, and resolves both into a final,
// contiguous byte sequence. The label+fixup
// model, and the repeat-until-unchanged veneer-insertion loop in Finalize, follow the
// jump-label style used by wazevo's ExecutableContext/assembler pipeline
// (other_examples amd64/machine.go, arm64/instr.go) adapted to AArch64's
// four distinct PC-relative range classes instead of amd64's flat rel32.
type CodeBuffer struct {
	bytes        []byte
	labels       []labelState
	fixups       []fixup
	traps        map[int]uint16 // byte offset -> trap code, for KUdf/explicit traps
	symbolFixups []symbolFixup  // ADRP/ADD-lo12 references resolved by the linker, not here
}

func NewCodeBuffer() *CodeBuffer {
	return &CodeBuffer{traps: make(map[int]uint16)}
}

// NewLabel allocates a fresh, unbound label.
func (b *CodeBuffer) NewLabel() Label {
	b.labels = append(b.labels, labelState{offset: -1})
	return Label(len(b.labels) - 1)
}

// Bind fixes l's offset to the buffer's current write position. A label may
// be bound exactly once.
func (b *CodeBuffer) Bind(l Label) {
	utils.Assert(l >= 0 && int(l) < len(b.labels), "Bind: label out of range")
	utils.Assert(b.labels[l].offset == -1, "label %d bound twice", l)
	b.labels[l].offset = len(b.bytes)
}

// Offset reports the buffer's current write position, in bytes.
func (b *CodeBuffer) Offset() int { return len(b.bytes) }

// Emit4 appends one 32-bit little-endian instruction word.
func (b *CodeBuffer) Emit4(word uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], word)
	b.bytes = append(b.bytes, tmp[:]...)
}

// Emit8 appends one 64-bit little-endian value (used for FP literal pools).
func (b *CodeBuffer) Emit8(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.bytes = append(b.bytes, tmp[:]...)
}

// MarkTrap records that the word at the current offset traps with code; the
// unwind/metadata layer (C9/C10) consults this to build a trap table.
func (b *CodeBuffer) MarkTrap(code uint16) {
	b.traps[len(b.bytes)] = code
}

// AddFixup registers a pending PC-relative reference. word is the
// provisional encoding to emit now (with a zero displacement field);
// Finalize re-encodes it in place via patch once l's offset is known.
func (b *CodeBuffer) AddFixup(word uint32, l Label, class BranchRangeClass, patch func(buf []byte, instOffset int, disp int64)) {
	b.fixups = append(b.fixups, fixup{instOffset: len(b.bytes), base: -1, label: l, class: class, patch: patch})
	b.Emit4(word)
}

// AddFixupAt is like AddFixup but measures the displacement from base
// instead of from the patched word's own offset; used by jump-table entries,
// whose value is relative to the table's start rather than to each entry's
// position.
func (b *CodeBuffer) AddFixupAt(word uint32, base int, l Label, class BranchRangeClass, patch func(buf []byte, instOffset int, disp int64)) {
	b.fixups = append(b.fixups, fixup{instOffset: len(b.bytes), base: base, label: l, class: class, patch: patch})
	b.Emit4(word)
}

// Finalized is the resolved output of one function: contiguous machine code
// plus the trap-offset table carried forward into unwind-info/metadata
// assembly (C9/C10).
type Finalized struct {
	Code          []byte
	Traps         map[int]uint16
	SymbolFixups  []symbolFixup // forwarded to the linker/loader; not resolved in-process
}

// Finalize resolves every pending fixup against its label's bound offset,
// inserting island veneers for any branch whose displacement exceeds its
// class's range. Each island is an unconditional B that the
// original short-range branch is redirected to land on; this may shift
// subsequent label offsets, so the fixup/veneer pass repeats to a fixed
// point, following the standard assembler veneer-insertion idiom (bounded:
// a function-size ceiling limits the iteration count in practice).
func (b *CodeBuffer) Finalize() (*Finalized, error) {
	for pass := 0; ; pass++ {
		utils.Assert(pass < 64, "branch veneer insertion did not converge")
		inserted := b.insertVeneersOnePass()
		if !inserted {
			break
		}
	}
	for _, f := range b.fixups {
		ls := b.labels[f.label]
		utils.Assert(ls.offset >= 0, "unresolved label %d at finalize", f.label)
		refPoint := f.instOffset
		if f.base >= 0 {
			refPoint = f.base
		}
		disp := int64(ls.offset - refPoint)
		if abs64(disp) >= f.class.maxOffset() {
			return nil, wrapErr(KindFatal, nil, "branch displacement %d out of range for class %d after veneer pass", disp, f.class)
		}
		f.patch(b.bytes, f.instOffset, disp)
	}
	return &Finalized{Code: b.bytes, Traps: b.traps, SymbolFixups: b.symbolFixups}, nil
}

// insertVeneersOnePass scans fixups for an out-of-range reference and, if
// found, splices in a single island veneer immediately before the
// referencing instruction, rewriting it to branch to the veneer instead
// (the veneer itself performs an unconditional B, whose own ±128MiB range
// covers any displacement this ISA's address space can produce). Returns
// whether it made a change, so Finalize can re-scan from scratch: inserting
// bytes shifts every later label and fixup offset.
func (b *CodeBuffer) insertVeneersOnePass() bool {
	for idx := range b.fixups {
		f := &b.fixups[idx]
		if f.class == RangeBranch26 {
			continue // B/BL already has the widest range; nothing can extend it further
		}
		ls := b.labels[f.label]
		if ls.offset < 0 {
			continue // forward reference to a not-yet-bound label; checked at Finalize
		}
		refPoint := f.instOffset
		if f.base >= 0 {
			refPoint = f.base
		}
		disp := int64(ls.offset - refPoint)
		if abs64(disp) < f.class.maxOffset() {
			continue
		}
		b.spliceVeneer(idx, f.label)
		return true
	}
	return false
}

// spliceVeneer inserts a 4-byte unconditional-branch island immediately
// before the out-of-range fixup at fixups[idx] and redirects that fixup to
// target the island instead of its original, too-far label; the island
// itself carries a fresh Branch26 fixup to the original target, whose
// ±128MiB range covers any displacement left after one hop. Every label and
// fixup offset at or beyond the insertion point shifts by 4 bytes.
func (b *CodeBuffer) spliceVeneer(idx int, target Label) {
	at := b.fixups[idx].instOffset

	grown := make([]byte, len(b.bytes)+4)
	copy(grown, b.bytes[:at])
	copy(grown[at+4:], b.bytes[at:])
	b.bytes = grown

	for i := range b.labels {
		if b.labels[i].offset >= at {
			b.labels[i].offset += 4
		}
	}
	for i := range b.fixups {
		if b.fixups[i].instOffset >= at {
			b.fixups[i].instOffset += 4
		}
		if b.fixups[i].base >= at {
			b.fixups[i].base += 4
		}
	}
	newTraps := make(map[int]uint16, len(b.traps))
	for off, code := range b.traps {
		if off >= at {
			off += 4
		}
		newTraps[off] = code
	}
	b.traps = newTraps
	for i := range b.symbolFixups {
		if b.symbolFixups[i].offset >= at {
			b.symbolFixups[i].offset += 4
		}
	}

	veneerLabel := b.NewLabel()
	b.labels[veneerLabel] = labelState{offset: at}
	b.fixups[idx].label = veneerLabel
	b.fixups = append(b.fixups, fixup{instOffset: at, base: -1, label: target, class: RangeBranch26, patch: patchB26})
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
