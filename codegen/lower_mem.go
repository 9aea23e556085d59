package codegen

import "github.com/joelreymont/hoist-sub001/ir"

// lowerMem selects instructions for stack, heap and global-value access
//. Stack slots and
// load/store all reduce to the same AddrMode the encoder already knows how
// to emit; only the address computation differs per opcode.
func (c *LoweringContext) lowerMem(d *ir.InstData) error {
	switch d.Op {
	case ir.OpStackAddr:
		return c.lowerStackAddr(d)
	case ir.OpStackLoad:
		return c.lowerStackLoad(d)
	case ir.OpStackStore:
		return c.lowerStackStore(d)
	case ir.OpLoad:
		return c.lowerLoad(d)
	case ir.OpStore:
		return c.lowerStore(d)
	case ir.OpGlobalValue:
		return c.lowerGlobalValue(d)
	}
	return newErr(KindFatal, "lowerMem: unhandled opcode %v", d.Op)
}

// stackSlotOffset returns slot's byte offset from FP. Slots are laid out
// consecutively in declaration order; the frame builder (abi.go) is
// responsible for reserving LocalSize large enough to hold them all.
func (c *LoweringContext) stackSlotOffset(slot ir.StackSlot) int64 {
	var offset int64
	for i := ir.StackSlot(0); i < slot; i++ {
		sd := c.fn.StackSlots[i]
		offset = alignInt64(offset, sd.Align) + sd.Size
	}
	sd := c.fn.StackSlots[slot]
	return alignInt64(offset, sd.Align)
}

func alignInt64(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

func (c *LoweringContext) lowerStackAddr(d *ir.InstData) error {
	rd := c.regOf(d.Result)
	offset := c.stackSlotOffset(d.Slot)
	imm12, err := TryImm12(uint64(offset))
	if err != nil {
		return wrapErr(KindFatal, err, "stack slot offset out of range")
	}
	c.emit(&Inst{Kind: KAddRRImm12, Rd: Writable(rd), Rn: FP, Imm12: imm12, Size: Size64})
	return nil
}

func (c *LoweringContext) lowerStackLoad(d *ir.InstData) error {
	rd := c.regOf(d.Result)
	size, err := SizeFromBits(d.Type.Bits())
	if err != nil {
		return err
	}
	offset := c.stackSlotOffset(d.Slot)
	c.emit(&Inst{
		Kind: KLoad, Rd: Writable(rd), Size: size,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: FP, Imm: offset},
	})
	return nil
}

func (c *LoweringContext) lowerStackStore(d *ir.InstData) error {
	val := c.regOf(d.Args[0])
	size, err := SizeFromBits(c.fn.ValueType(d.Args[0]).Bits())
	if err != nil {
		return err
	}
	offset := c.stackSlotOffset(d.Slot)
	c.emit(&Inst{
		Kind: KStore, Rd: Writable(val), Size: size,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: FP, Imm: offset},
	})
	return nil
}

func (c *LoweringContext) lowerLoad(d *ir.InstData) error {
	rd := c.regOf(d.Result)
	size, err := SizeFromBits(d.Type.Bits())
	if err != nil {
		return err
	}
	base := c.regOf(d.Args[0])
	c.emit(&Inst{
		Kind: KLoad, Rd: Writable(rd), Size: size,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: base, Imm: d.Imm},
	})
	return nil
}

func (c *LoweringContext) lowerStore(d *ir.InstData) error {
	val := c.regOf(d.Args[0])
	size, err := SizeFromBits(c.fn.ValueType(d.Args[0]).Bits())
	if err != nil {
		return err
	}
	base := c.regOf(d.Args[1])
	c.emit(&Inst{
		Kind: KStore, Rd: Writable(val), Size: size,
		Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: base, Imm: d.Imm},
	})
	return nil
}

// lowerGlobalValue selects the four GlobalValueKind forms: the running
// VM-context pointer, a position-independent symbol address, a load
// through a previously materialized global, and a plain immediate-offset
// adjustment of one. OpGlobalValue instructions may chain
// through GlobalValueData.Base, so the actual emission lives in the
// recursive globalValueInto, shared between top-level instructions and
// bases materialized on demand.
func (c *LoweringContext) lowerGlobalValue(d *ir.InstData) error {
	return c.globalValueInto(c.regOf(d.Result), d.GV)
}

// globalValueInto emits the instruction sequence that materializes gvID into
// rd, recursing through GlobalValueData.Base for GVLoad/GVIAddImm.
func (c *LoweringContext) globalValueInto(rd Reg, gvID ir.GlobalValue) error {
	gv := c.fn.Globals[gvID]
	switch gv.Kind {
	case ir.GVVMContext:
		c.emit(&Inst{Kind: KMovRR, Rd: Writable(rd), Rn: VMC, Size: Size64})
		return nil
	case ir.GVSymbol:
		c.emit(&Inst{Kind: KAdrpSymbol, Rd: Writable(rd), Symbol: gv.Symbol, Addend: gv.Offset})
		c.emit(&Inst{Kind: KAddSymbolLo12, Rd: Writable(rd), Rn: rd, Symbol: gv.Symbol, Addend: gv.Offset})
		return nil
	case ir.GVLoad:
		base := c.VReg(RegClassInt)
		if err := c.globalValueInto(base, gv.Base); err != nil {
			return err
		}
		size, err := SizeFromBits(gv.Type.Bits())
		if err != nil {
			return err
		}
		c.emit(&Inst{
			Kind: KLoad, Rd: Writable(rd), Size: size,
			Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: base, Imm: gv.Offset},
		})
		return nil
	case ir.GVIAddImm:
		base := c.VReg(RegClassInt)
		if err := c.globalValueInto(base, gv.Base); err != nil {
			return err
		}
		imm12, err := TryImm12(uint64(gv.Offset))
		if err != nil {
			return wrapErr(KindFatal, err, "global value iadd_imm offset out of range")
		}
		c.emit(&Inst{Kind: KAddRRImm12, Rd: Writable(rd), Rn: base, Imm12: imm12, Size: Size64})
		return nil
	}
	return newErr(KindFatal, "globalValueInto: unhandled kind %v", gv.Kind)
}
