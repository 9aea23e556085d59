package codegen

import "github.com/joelreymont/hoist-sub001/ir"

// lowerControl selects instructions for calls, branches, br_table and
// returns. Block order and layout are taken as given from the IR; no block
// reordering happens here.
func (c *LoweringContext) lowerControl(d *ir.InstData) error {
	switch d.Op {
	case ir.OpCall:
		return c.lowerCall(d, false)
	case ir.OpCallIndirect:
		return c.lowerCall(d, true)
	case ir.OpJump:
		c.emit(&Inst{Kind: KB, Target: c.label(d.Target)})
		return nil
	case ir.OpBrIf:
		return c.lowerBrIf(d)
	case ir.OpBrTable:
		return c.lowerBrTable(d)
	case ir.OpReturn:
		return c.lowerReturn(d)
	case ir.OpReturnCall:
		return c.lowerReturnCall(d)
	}
	return newErr(KindFatal, "lowerControl: unhandled opcode %v", d.Op)
}

// lowerCall marshals arguments per sig's AAPCS64 classification, emits the
// branch-with-link, and copies classified results back into the defined
// values. Direct calls materialize their symbol address via
// ADRP/ADD before BLR, rather than a PC-relative BL-to-symbol relocation,
// since no call-site symbol relocation kind exists alongside the ADRP/ADD
// one the symbol-load path already uses.
func (c *LoweringContext) lowerCall(d *ir.InstData, indirect bool) error {
	abi := ClassifyABI(d.Sig)

	argValues := d.Args
	var calleeVal ir.Value
	if indirect {
		calleeVal = d.Args[0]
		argValues = d.Args[1:]
	}

	if err := c.marshalArgs(abi.Args, argValues); err != nil {
		return err
	}

	if indirect {
		callee := c.regOf(calleeVal)
		c.emit(&Inst{Kind: KBLR, Rn: callee})
	} else {
		target := c.VReg(RegClassInt)
		c.emit(&Inst{Kind: KAdrpSymbol, Rd: Writable(target), Symbol: d.FuncRef})
		c.emit(&Inst{Kind: KAddSymbolLo12, Rd: Writable(target), Rn: target, Symbol: d.FuncRef})
		c.emit(&Inst{Kind: KBLR, Rn: target})
	}

	return c.unmarshalResult(abi.Results, d.Result)
}

// marshalArgs copies each argument value into its classified location: the
// designated physical register, or a stack slot at the given SP offset for
// args that spilled. Stack slots assume the call sequence's SP adjustment
// has already been performed by whatever emits the surrounding frame, which
// this package's ABI layer (abi.go) is responsible for coordinating.
func (c *LoweringContext) marshalArgs(classified []ABIArg, values []ir.Value) error {
	for idx, arg := range classified {
		v := values[idx]
		src := c.regOf(v)
		switch arg.Kind {
		case ArgKindReg:
			c.emit(movKind(arg.Type, arg.Reg, src))
		case ArgKindStack:
			size, err := SizeFromBits(arg.Type.Bits())
			if err != nil {
				return err
			}
			c.emit(&Inst{
				Kind: KStore, Rd: Writable(src), Size: size,
				Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: SP, Imm: arg.Offset},
			})
		}
	}
	return nil
}

// unmarshalResult copies a call's classified result(s) back into resultVal.
// This back end's ir.Signature models at most one logical result value per
// call; multi-register aggregate returns are out of scope.
func (c *LoweringContext) unmarshalResult(classified []ABIArg, resultVal ir.Value) error {
	if !resultVal.Valid() || len(classified) == 0 {
		return nil
	}
	res := classified[0]
	dst := c.regOf(resultVal)
	switch res.Kind {
	case ArgKindReg:
		c.emit(movKind(res.Type, dst, res.Reg))
	case ArgKindStack:
		size, err := SizeFromBits(res.Type.Bits())
		if err != nil {
			return err
		}
		c.emit(&Inst{
			Kind: KLoad, Rd: Writable(dst), Size: size,
			Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: SP, Imm: res.Offset},
		})
	}
	return nil
}

// movKind picks the register-to-register move matching t's bank: KFMovRR for
// float/double, KMovRR (ORR Xd, XZR, Xm alias) for integer.
func movKind(t ir.Type, rd, rn Reg) *Inst {
	size, _ := SizeFromBits(t.Bits())
	if t.IsFloat() {
		return &Inst{Kind: KFMovRR, Rd: Writable(rd), Rn: rn, Size: size}
	}
	return &Inst{Kind: KMovRR, Rd: Writable(rd), Rn: rn, Size: size}
}

func (c *LoweringContext) lowerBrIf(d *ir.InstData) error {
	cond := c.regOf(d.Args[0])
	c.emit(&Inst{Kind: KCBNZ, Rn: cond, Size: Size64, Target: c.label(d.Target)})
	c.emit(&Inst{Kind: KB, Target: c.label(d.Else)})
	return nil
}

// lowerBrTable builds the br_table dispatch sequence:
// the index value drives a KJtSequence carrying one Label per table entry
// plus the out-of-range default.
func (c *LoweringContext) lowerBrTable(d *ir.InstData) error {
	idx := c.regOf(d.Args[0])
	jt := c.fn.JumpTables[d.JT]
	targets := make([]Label, len(jt.Targets))
	for i, b := range jt.Targets {
		targets[i] = c.label(b)
	}
	c.emit(&Inst{
		Kind: KJtSequence, Rn: idx,
		Else:      c.label(jt.Default),
		JtTargets: targets,
	})
	return nil
}

// lowerReturn marshals the function's classified result(s) into the
// AAPCS64 return registers and emits RET. Frame teardown (EmitEpilogue) is
// the ISA-level compile driver's responsibility, since it runs after
// register allocation fixes the callee-saved set this function actually
// touched.
func (c *LoweringContext) lowerReturn(d *ir.InstData) error {
	abi := ClassifyABI(c.fn.Sig)
	for idx, res := range abi.Results {
		v := d.Args[idx]
		src := c.regOf(v)
		switch res.Kind {
		case ArgKindReg:
			c.emit(movKind(res.Type, res.Reg, src))
		case ArgKindStack:
			size, err := SizeFromBits(res.Type.Bits())
			if err != nil {
				return err
			}
			c.emit(&Inst{
				Kind: KStore, Rd: Writable(src), Size: size,
				Amode: AddrMode{Kind: AddrRegUnsignedImm12, Base: SP, Imm: res.Offset},
			})
		}
	}
	c.emit(&Inst{Kind: KRet})
	return nil
}

// lowerReturnCall marshals arguments and performs the call exactly as
// lowerCall does, then forwards its result as this function's own return.
// True sibling-call frame elision is not performed: the caller's frame is
// torn down by the normal epilogue after the nested call returns, rather
// than before branching into the callee.
func (c *LoweringContext) lowerReturnCall(d *ir.InstData) error {
	if err := c.lowerCall(d, false); err != nil {
		return err
	}
	abi := ClassifyABI(d.Sig)
	return c.lowerReturn(&ir.InstData{
		Op:   ir.OpReturn,
		Args: resultArgsOf(abi.Results, d.Result),
	})
}

// resultArgsOf builds a single-value Args list for feeding lowerReturn from
// a call's already-materialized result value.
func resultArgsOf(results []ABIArg, v ir.Value) []ir.Value {
	if len(results) == 0 || !v.Valid() {
		return nil
	}
	return []ir.Value{v}
}
