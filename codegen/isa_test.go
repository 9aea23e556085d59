package codegen

import "testing"

func TestNewISARejectsSignReturnAddressWithoutPAuth(t *testing.T) {
	_, err := NewISA(Features{PAuth: false}, Tuning{SignReturnAddress: true}, OSLinux)
	if err == nil {
		t.Fatal("expected an error requesting sign_return_address without PAuth")
	}
	ce, ok := err.(*CodegenError)
	if !ok || ce.Kind != KindPauthNotAvailable {
		t.Errorf("got %v, want KindPauthNotAvailable", err)
	}
}

func TestNewISARejectsBTIWithoutBTIFeature(t *testing.T) {
	_, err := NewISA(Features{BTI: false}, Tuning{UseBTI: true}, OSLinux)
	if err == nil {
		t.Fatal("expected an error requesting use_bti without BTI")
	}
	ce, ok := err.(*CodegenError)
	if !ok || ce.Kind != KindBtiNotAvailable {
		t.Errorf("got %v, want KindBtiNotAvailable", err)
	}
}

func TestNewISAAllowsLSEPreferenceWithoutLSE(t *testing.T) {
	isa, err := NewISA(Features{LSE: false}, Tuning{PreferLSEAtomics: true}, OSLinux)
	if err != nil {
		t.Fatalf("prefer_lse_atomics without has_lse should be a preference only, got error: %v", err)
	}
	if isa.Tuning.PreferLSEAtomics != true {
		t.Error("Tuning.PreferLSEAtomics should be preserved even without LSE support")
	}
}

func TestNewISAAcceptsValidConfig(t *testing.T) {
	_, err := NewISA(Features{PAuth: true, BTI: true}, Tuning{SignReturnAddress: true, UseBTI: true}, OSDarwin)
	if err != nil {
		t.Fatalf("unexpected error for a valid config: %v", err)
	}
}

func TestPageAlignmentByOS(t *testing.T) {
	if got := OSDarwin.PageAlignment(); got != 1<<14 {
		t.Errorf("Darwin page alignment = %d, want 2^14", got)
	}
	if got := OSLinux.PageAlignment(); got != 1<<16 {
		t.Errorf("Linux page alignment = %d, want 2^16", got)
	}
	if got := OSOther.PageAlignment(); got != 1<<16 {
		t.Errorf("other-OS page alignment = %d, want 2^16", got)
	}
}

func TestDetectHostISAPassesValidation(t *testing.T) {
	isa, err := DetectHostISA()
	if err != nil {
		t.Fatalf("DetectHostISA: %v", err)
	}
	if isa == nil {
		t.Fatal("DetectHostISA returned a nil ISA")
	}
}

func TestConvertRelocationsMapsAdrpAndLo12(t *testing.T) {
	fixups := []symbolFixup{
		{offset: 0, symbol: "foo", addend: 4, kind: adrpReloc},
		{offset: 4, symbol: "foo", addend: 4, kind: addLo12Reloc},
	}
	relocs := convertRelocations(fixups)
	if len(relocs) != 2 {
		t.Fatalf("got %d relocations, want 2", len(relocs))
	}
	if relocs[0].Kind != RelocPCRel32 {
		t.Errorf("ADRP relocation kind = %v, want RelocPCRel32", relocs[0].Kind)
	}
	if relocs[1].Kind != RelocAbs64 {
		t.Errorf("ADD-lo12 relocation kind = %v, want RelocAbs64", relocs[1].Kind)
	}
	if relocs[0].Symbol != "foo" || relocs[0].Addend != 4 {
		t.Errorf("relocation symbol/addend not carried through: %+v", relocs[0])
	}
}

func TestConvertTrapsSortedByOffset(t *testing.T) {
	traps := convertTraps(map[int]uint16{12: 2, 0: 1, 8: 3})
	want := []int{0, 8, 12}
	if len(traps) != len(want) {
		t.Fatalf("got %d traps, want %d", len(traps), len(want))
	}
	for i, off := range want {
		if int(traps[i].Offset) != off {
			t.Errorf("traps[%d].Offset = %d, want %d", i, traps[i].Offset, off)
		}
	}
}
