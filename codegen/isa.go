package codegen

// isa.go is the façade C10: it owns the ISA/feature descriptor and
// sequences one function's compilation, lower -> allocate -> assemble ->
// unwind metadata, into the downstream CompiledCode shape.
// The pipeline-sequencing shape follows compile/compiler.go's
// CompileTheWorld/compileY straight-line driver, narrowed here to a single
// function at a time.

import (
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/joelreymont/hoist-sub001/ir"
)

// Features is the set of optional AArch64 extensions a target may expose.
type Features struct {
	LSE    bool // large system extensions: single-instruction atomic RMW/CAS
	PAuth  bool // pointer authentication
	BTI    bool // branch target identification
	FP16   bool // half-precision floating point
	SVE    bool // scalable vector extension
	SME    bool // scalable matrix extension
	NEON   bool // Advanced SIMD
	Crypto bool // AES/SHA instruction extensions
}

// Tuning is a set of codegen preferences distinct from hardware capability:
// a feature being present doesn't obligate the back end to use it.
type Tuning struct {
	PreferLSEAtomics  bool // select the LSE RMW forms over the LL/SC retry loop
	SignReturnAddress bool // emit PACIASP/AUTIASP around the prologue/epilogue
	UseBTI            bool // emit BTI landing pads at function/block entry
}

// TargetOS affects ABI details this back end cares about: page
// alignment for code/data placement.
type TargetOS uint8

const (
	OSLinux TargetOS = iota
	OSDarwin
	OSOther
)

// PageAlignment is 2^14 on Darwin (macOS/iOS use 16KiB pages) and 2^16
// elsewhere, matching the platforms' respective minimum mmap granularity.
func (os TargetOS) PageAlignment() uint32 {
	if os == OSDarwin {
		return 1 << 14
	}
	return 1 << 16
}

// ISA is the validated target descriptor threaded through compilation.
type ISA struct {
	Features Features
	Tuning   Tuning
	OS       TargetOS
}

// NewISA validates tuning against features: requesting sign_return_address
// without has_pauth fails; requesting use_bti without has_bti fails. It
// then constructs isa. PreferLSEAtomics without LSE is accepted as a
// preference, not an error. Atomic lowering (lower_atomic.go) does not
// consult Features or Tuning: it always selects LSE instructions and has no
// LL/SC path.
func NewISA(features Features, tuning Tuning, os TargetOS) (*ISA, error) {
	if tuning.SignReturnAddress && !features.PAuth {
		return nil, newErr(KindPauthNotAvailable, "sign_return_address requested without PAuth")
	}
	if tuning.UseBTI && !features.BTI {
		return nil, newErr(KindBtiNotAvailable, "use_bti requested without BTI")
	}
	return &ISA{Features: features, Tuning: tuning, OS: os}, nil
}

// DetectHostISA seeds Features from golang.org/x/sys/cpu.ARM64, as a
// convenience constructor rather than requiring the caller to hand-build
// every flag. PAuth, BTI and SME have no corresponding detection
// bit in golang.org/x/sys/cpu as of this module's pinned version, so those
// three are conservatively left false here; a caller that knows its host
// supports them can still opt in by hand-building a Features value and
// calling NewISA directly.
func DetectHostISA() (*ISA, error) {
	features := Features{
		LSE:    cpu.ARM64.HasATOMICS,
		NEON:   cpu.ARM64.HasASIMD,
		FP16:   cpu.ARM64.HasFPHP || cpu.ARM64.HasASIMDHP,
		SVE:    cpu.ARM64.HasSVE,
		Crypto: cpu.ARM64.HasAES || cpu.ARM64.HasSHA1 || cpu.ARM64.HasSHA2,
	}
	tuning := Tuning{PreferLSEAtomics: features.LSE}
	return NewISA(features, tuning, hostTargetOS())
}

func hostTargetOS() TargetOS {
	switch runtime.GOOS {
	case "darwin", "ios":
		return OSDarwin
	case "linux":
		return OSLinux
	default:
		return OSOther
	}
}

// RelocKind is the downstream relocation taxonomy.
type RelocKind uint8

const (
	RelocAbs64 RelocKind = iota
	RelocPCRel32
	RelocGotPCRel32
)

// Relocation is one not-yet-resolved symbol reference left for the linker.
type Relocation struct {
	Offset uint32
	Kind   RelocKind
	Symbol string
	Addend int64
}

// Trap is one trapping instruction's byte offset and reason code.
type Trap struct {
	Offset uint32
	Code   uint16
}

// CompiledCode is the bit-exact downstream artifact for one function.
type CompiledCode struct {
	Code           []byte
	Relocations    []Relocation
	Traps          []Trap
	StackFrameSize uint32
	Unwind         UnwindInfo
}

// CompileFunction runs the full pipeline for fn under isa:
// instruction selection (C6/C7), register allocation (C8), prologue/body/
// epilogue assembly (C5 abi.go + C4 encode.go), and unwind-info generation
// (C9). Every KRet instruction selection leaves behind (lowerReturn always
// emits a bare KRet with no frame teardown, since the frame shape isn't
// known until after allocation) is expanded into the full epilogue sequence
// here, once alloc.Frame is final.
func (isa *ISA) CompileFunction(fn *ir.Function, log Logger) (*CompiledCode, error) {
	if log == nil {
		log = NopLogger{}
	}

	buf := NewCodeBuffer()
	insts, err := Lower(fn, buf, log)
	if err != nil {
		return nil, err
	}

	abi := ClassifyABI(fn.Sig)
	alloc, err := Allocate(fn, insts, abi, log)
	if err != nil {
		return nil, err
	}

	if err := EmitPrologue(buf, alloc.Frame); err != nil {
		return nil, err
	}
	for _, inst := range alloc.Insts {
		if inst.Kind == KRet {
			if err := EmitEpilogue(buf, alloc.Frame); err != nil {
				return nil, err
			}
			continue
		}
		if err := Encode(inst, buf); err != nil {
			return nil, err
		}
	}

	finalized, err := buf.Finalize()
	if err != nil {
		return nil, err
	}

	cie := NewCIE()
	fde := NewFDE(cie, alloc.Frame)
	fde.SetRange(0, uint32(len(finalized.Code)))

	return &CompiledCode{
		Code:           finalized.Code,
		Relocations:    convertRelocations(finalized.SymbolFixups),
		Traps:          convertTraps(finalized.Traps),
		StackFrameSize: uint32(alloc.Frame.FrameSize()),
		Unwind:         UnwindInfo{CIE: cie, FDE: fde},
	}, nil
}

// convertRelocations maps encode.go's ADRP/ADD-lo12 symbol-fixup pair onto
// the coarser three-kind relocation taxonomy CompiledCode exposes: an ADRP
// is a PC-relative page computation (RelocPCRel32), while the paired
// ADD-lo12 low-bits patch has no exact match in that taxonomy and is
// carried as RelocAbs64, the closest of the three to "an absolute address
// component resolved at link time" (see DESIGN.md Open Question (i)).
func convertRelocations(fixups []symbolFixup) []Relocation {
	out := make([]Relocation, len(fixups))
	for i, f := range fixups {
		kind := RelocAbs64
		if f.kind == adrpReloc {
			kind = RelocPCRel32
		}
		out[i] = Relocation{Offset: uint32(f.offset), Kind: kind, Symbol: f.symbol, Addend: f.addend}
	}
	return out
}

func convertTraps(traps map[int]uint16) []Trap {
	out := make([]Trap, 0, len(traps))
	for off, code := range traps {
		out = append(out, Trap{Offset: uint32(off), Code: code})
	}
	sortTraps(out)
	return out
}

func sortTraps(traps []Trap) {
	for i := 1; i < len(traps); i++ {
		for j := i; j > 0 && traps[j].Offset < traps[j-1].Offset; j-- {
			traps[j], traps[j-1] = traps[j-1], traps[j]
		}
	}
}
