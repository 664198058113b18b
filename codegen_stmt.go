// codegen_stmt.go — statement lowering, the transform table, and the two
// function definitions per source function.
//
// Control flow lowers to the standard block diamonds with terminator-
// aware fall-through. Branch emission clones the addressing state so each
// arm may diverge; the transform suffixes the analyzer appended bring
// both arms to the same final state, which the merge block adopts.
//
// A function declaration always emits the generic boxed-calling
// definition and binds the name to a func-typed CObj whose data field is
// the function pointer. Specializations are built lazily at call sites
// and memoized by (source function identity, formal type tuple), so
// identical call-site keys share one IR function.
package pyx

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
)

func (cg *codegen) stmt(fx *fnctx, s SStmt) {
	if fx.bb.Term != nil {
		// Unreachable code after a return or break; nothing to emit.
		return
	}
	switch s := s.(type) {
	case *SBlock:
		for _, sub := range s.Stmts {
			if fx.bb.Term != nil {
				return
			}
			cg.stmt(fx, sub)
		}
	case *SAsn:
		cg.asn(fx, s)
	case *SIf:
		cg.ifStmt(fx, s)
	case *SWhile:
		cg.whileStmt(fx, s)
	case *SFor:
		cg.forStmt(fx, s)
	case *SRange:
		cg.rangeStmt(fx, s)
	case *SReturn:
		cg.returnStmt(fx, s)
	case *SFunc:
		cg.funcStmt(fx, s)
	case *SExprStmt:
		cg.expr(fx, s.E)
	case *SPrint:
		cg.printStmt(fx, s)
	case *STransform:
		cg.transform(fx, s)
	case *SStage:
		for _, t := range s.Entry {
			cg.stmt(fx, t)
		}
		cg.stmt(fx, s.Body)
		for _, t := range s.Exit {
			if fx.bb.Term != nil {
				return
			}
			cg.stmt(fx, t)
		}
	case *SNop:
	case *SContinue:
		if len(fx.loops) == 0 {
			panic("internal error: continue outside loop")
		}
		fx.bb.NewBr(fx.loops[len(fx.loops)-1].cont)
	case *SBreak:
		if len(fx.loops) == 0 {
			panic("internal error: break outside loop")
		}
		fx.bb.NewBr(fx.loops[len(fx.loops)-1].brk)
	default:
		panic(fmt.Sprintf("internal error: unhandled statement %T", s))
	}
}

/* ---------- assignment ---------- */

func (cg *codegen) asn(fx *fnctx, s *SAsn) {
	val := cg.expr(fx, s.Value)
	for _, tgt := range s.Targets {
		switch t := tgt.(type) {
		case *LName:
			cg.assignName(fx, t, val)
		case *LIndex:
			cg.assignIndex(fx, t, val)
		default:
			panic("internal error: unhandled lvalue")
		}
	}
}

func (cg *codegen) assignName(fx *fnctx, t *LName, val cval) {
	sym := fx.lookup(cg, t.Name)
	if sym == nil {
		panic("internal error: no slot for name " + t.Name)
	}
	if rawable(t.Ty) && cg.ensureRaw(fx, sym, t.Ty) {
		if val.isRaw() {
			fx.bb.NewStore(val.raw, sym.raw)
		} else {
			// Raw target fed by a box: enforce the annotation, extract.
			if cg.opt.Exceptions && t.HasCheck {
				msg := fmt.Sprintf("RuntimeError: invalid type assigned to %s", t.Name)
				cg.checkObjType(fx, val.box, t.Check, msg)
			}
			fx.bb.NewStore(cg.unbox(fx.bb, val.box, t.Ty), sym.raw)
		}
		sym.live = kRaw
		return
	}
	cg.ensureBox(fx, sym)
	b := cg.asBox(fx, val)
	if cg.opt.Exceptions && t.HasCheck && val.box != nil {
		msg := fmt.Sprintf("RuntimeError: invalid type assigned to %s", t.Name)
		cg.checkObjType(fx, b, t.Check, msg)
	}
	fx.bb.NewStore(b, sym.box)
	sym.live = kBox
	sym.needsHeapify = false
}

func (cg *codegen) assignIndex(fx *fnctx, t *LIndex, val cval) {
	lst := cg.expr(fx, t.Lst)
	lb := cg.asBox(fx, lst)
	slot := cg.loadSlot(fx.bb, cg.objType(fx.bb, lb), "idx_parent")
	if cg.opt.Exceptions && lst.ty == TyDyn {
		cg.checkSlot(fx, slot, "RuntimeError: unsupported operand type(s) for list access")
	}
	idx := cg.expr(fx, t.Idx)
	iraw := cg.indexChecks(fx, lb, idx)
	ib := idx.box
	if ib == nil {
		ib = cg.boxRaw(fx.bb, iraw, TyInt)
	}
	p := fx.bb.NewCall(slot, lb, ib)
	fx.bb.NewStore(cg.asBox(fx, val), p)
}

/* ---------- conditionals & loops ---------- */

func (cg *codegen) ifStmt(fx *fnctx, s *SIf) {
	cond := cg.expr(fx, s.Cond)
	cv := cond.raw
	if cond.box != nil {
		cg.checkObjType(fx, cond.box, TyBool, "RuntimeError: invalid boolean type in if statement")
		cv = cg.unbox(fx.bb, cond.box, TyBool)
	}

	thenBB := fx.f.NewBlock(cg.name("if_then"))
	elseBB := fx.f.NewBlock(cg.name("if_else"))
	mergeBB := fx.f.NewBlock(cg.name("if_merge"))
	fx.bb.NewCondBr(cv, thenBB, elseBB)

	// Branch-local addressing state diverges and is reconciled by the
	// transform suffixes; the specialization cache is shared.
	preSyms := cloneSyms(fx.syms)
	preGlob := cg.snapshotGlobals()

	fx.bb = thenBB
	cg.stmt(fx, s.Then)
	if fx.bb.Term == nil {
		fx.bb.NewBr(mergeBB)
	}
	postSyms := fx.syms
	postGlob := cg.snapshotGlobals()

	fx.syms = cloneSyms(preSyms)
	cg.restoreGlobals(preGlob)
	fx.bb = elseBB
	cg.stmt(fx, s.Else)
	if fx.bb.Term == nil {
		fx.bb.NewBr(mergeBB)
	}

	// Both arms end in the merged addressing state.
	fx.syms = postSyms
	cg.restoreGlobals(postGlob)
	fx.bb = mergeBB
}

func (cg *codegen) whileStmt(fx *fnctx, s *SWhile) {
	condBB := fx.f.NewBlock(cg.name("while_cond"))
	bodyBB := fx.f.NewBlock(cg.name("while_body"))
	exitBB := fx.f.NewBlock(cg.name("while_exit"))
	fx.bb.NewBr(condBB)

	fx.bb = condBB
	cond := cg.expr(fx, s.Cond)
	cv := cond.raw
	if cond.box != nil {
		cg.checkObjType(fx, cond.box, TyBool, "RuntimeError: invalid boolean type in while statement")
		cv = cg.unbox(fx.bb, cond.box, TyBool)
	}
	fx.bb.NewCondBr(cv, bodyBB, exitBB)

	fx.bb = bodyBB
	fx.loops = append(fx.loops, loopCtx{cont: condBB, brk: exitBB})
	cg.stmt(fx, s.Body)
	fx.loops = fx.loops[:len(fx.loops)-1]
	if fx.bb.Term == nil {
		fx.bb.NewBr(condBB)
	}
	fx.bb = exitBB
}

// forStmt iterates a boxed list through its idx slot with a counter
// compared against the list length.
func (cg *codegen) forStmt(fx *fnctx, s *SFor) {
	iter := cg.expr(fx, s.Iter)
	lb := cg.asBox(fx, iter)
	slot := cg.loadSlot(fx.bb, cg.objType(fx.bb, lb), "idx")
	if cg.opt.Exceptions && iter.ty == TyDyn {
		cg.checkSlot(fx, slot, "RuntimeError: unsupported operand type(s) for list access")
	}
	_, n := cg.listHdr(fx.bb, lb)

	counter := fx.allocaBB.NewAlloca(types.I32)
	fx.bb.NewStore(i32(0), counter)

	condBB := fx.f.NewBlock(cg.name("for_cond"))
	bodyBB := fx.f.NewBlock(cg.name("for_body"))
	incBB := fx.f.NewBlock(cg.name("for_inc"))
	exitBB := fx.f.NewBlock(cg.name("for_exit"))
	fx.bb.NewBr(condBB)

	iv := condBB.NewLoad(types.I32, counter)
	condBB.NewCondBr(condBB.NewICmp(enum.IPredSLT, iv, n), bodyBB, exitBB)

	fx.bb = bodyBB
	iv2 := fx.bb.NewLoad(types.I32, counter)
	elem := fx.bb.NewCall(slot, lb, cg.boxRaw(fx.bb, iv2, TyInt))
	sym := fx.lookup(cg, s.Var)
	if sym == nil {
		panic("internal error: no slot for loop variable " + s.Var)
	}
	cg.ensureBox(fx, sym)
	fx.bb.NewStore(elem, sym.box)
	sym.live = kBox
	sym.needsHeapify = false

	fx.loops = append(fx.loops, loopCtx{cont: incBB, brk: exitBB})
	cg.stmt(fx, s.Body)
	fx.loops = fx.loops[:len(fx.loops)-1]
	if fx.bb.Term == nil {
		fx.bb.NewBr(incBB)
	}
	iv3 := incBB.NewLoad(types.I32, counter)
	incBB.NewStore(incBB.NewAdd(iv3, i32(1)), counter)
	incBB.NewBr(condBB)

	fx.bb = exitBB
}

// rangeStmt iterates an integer counter 0..n.
func (cg *codegen) rangeStmt(fx *fnctx, s *SRange) {
	bound := cg.expr(fx, s.N)
	nv := bound.raw
	if bound.box != nil {
		cg.checkObjType(fx, bound.box, TyInt, "RuntimeError: invalid type assigned to "+s.Var)
		nv = cg.unbox(fx.bb, bound.box, TyInt)
	}

	sym := fx.lookup(cg, s.Var)
	if sym == nil {
		panic("internal error: no slot for loop variable " + s.Var)
	}
	counter := fx.allocaBB.NewAlloca(types.I32)
	fx.bb.NewStore(i32(0), counter)

	condBB := fx.f.NewBlock(cg.name("range_cond"))
	bodyBB := fx.f.NewBlock(cg.name("range_body"))
	incBB := fx.f.NewBlock(cg.name("range_inc"))
	exitBB := fx.f.NewBlock(cg.name("range_exit"))
	fx.bb.NewBr(condBB)

	iv := condBB.NewLoad(types.I32, counter)
	condBB.NewCondBr(condBB.NewICmp(enum.IPredSLT, iv, nv), bodyBB, exitBB)

	fx.bb = bodyBB
	iv2 := fx.bb.NewLoad(types.I32, counter)
	if cg.ensureRaw(fx, sym, TyInt) {
		fx.bb.NewStore(iv2, sym.raw)
		sym.live = kRaw
	} else {
		cg.ensureBox(fx, sym)
		fx.bb.NewStore(cg.boxRaw(fx.bb, iv2, TyInt), sym.box)
		sym.live = kBox
		sym.needsHeapify = false
	}
	fx.loops = append(fx.loops, loopCtx{cont: incBB, brk: exitBB})
	cg.stmt(fx, s.Body)
	fx.loops = fx.loops[:len(fx.loops)-1]
	if fx.bb.Term == nil {
		fx.bb.NewBr(incBB)
	}
	iv3 := incBB.NewLoad(types.I32, counter)
	incBB.NewStore(incBB.NewAdd(iv3, i32(1)), counter)
	incBB.NewBr(condBB)

	fx.bb = exitBB
}

/* ---------- return & print ---------- */

func (cg *codegen) returnStmt(fx *fnctx, s *SReturn) {
	if s.Value == nil {
		fx.bb.NewRet(cg.nullObj)
		return
	}
	val := cg.expr(fx, s.Value)
	if rawable(fx.ret) {
		if val.isRaw() {
			fx.bb.NewRet(val.raw)
			return
		}
		cg.checkObjType(fx, val.box, fx.ret, fmt.Sprintf("RuntimeError: invalid return type (expected %s)", fx.ret))
		fx.bb.NewRet(cg.unbox(fx.bb, val.box, fx.ret))
		return
	}
	if fx.ret != TyDyn && val.box != nil && val.ty == TyDyn {
		cg.checkObjType(fx, val.box, fx.ret, fmt.Sprintf("RuntimeError: invalid return type (expected %s)", fx.ret))
	}
	fx.bb.NewRet(cg.asBox(fx, val))
}

func (cg *codegen) printStmt(fx *fnctx, s *SPrint) {
	v := cg.expr(fx, s.E)
	if v.isRaw() {
		switch v.ty {
		case TyInt:
			fx.bb.NewCall(cg.printf, cg.strConst(fx.bb, "%d\n"), v.raw)
		case TyFloat:
			fx.bb.NewCall(cg.printf, cg.strConst(fx.bb, "%g\n"), v.raw)
		case TyBool:
			fx.bb.NewCall(cg.printf, cg.strConst(fx.bb, "%d\n"), fx.bb.NewZExt(v.raw, types.I32))
		default:
			panic("internal error: unsupported raw print")
		}
		return
	}
	slot := cg.loadSlot(fx.bb, cg.objType(fx.bb, v.box), "print")
	if cg.opt.Exceptions {
		cg.checkSlot(fx, slot, "RuntimeError: unsupported operand type(s) for binary print")
	}
	fx.bb.NewCall(slot, v.box)
	fx.bb.NewCall(cg.printf, cg.strConst(fx.bb, "\n"))
}

/* ---------- transforms ---------- */

// transform implements the moves between a name's raw and boxed slots.
func (cg *codegen) transform(fx *fnctx, s *STransform) {
	if s.From == s.To {
		return
	}
	sym := fx.lookup(cg, s.Name)
	if sym == nil {
		panic("internal error: no slot for name " + s.Name)
	}

	// Boxed-to-boxed moves share the single box slot; only liveness moves.
	if !rawable(s.From) && !rawable(s.To) {
		cg.ensureBox(fx, sym)
		sym.live = kBox
		return
	}

	if rawable(s.To) {
		// Dyn -> R: rebox if needed, then checked extraction into the raw
		// slot. A global whose raw slot was fixed at another primitive type
		// stays boxed; downstream lowering follows liveness.
		if !cg.ensureRaw(fx, sym, s.To) {
			return
		}
		obj := fx.bb.NewLoad(cg.cobjPtr, sym.box)
		if sym.needsHeapify {
			hp := cg.loadSlot(fx.bb, cg.objType(fx.bb, obj), "heapify")
			fx.bb.NewCall(hp, obj)
			sym.needsHeapify = false
		}
		if cg.opt.Exceptions {
			cg.checkObjType(fx, obj, s.To, fmt.Sprintf("RuntimeError: invalid type assigned to %s", s.Name))
		}
		fx.bb.NewStore(cg.unbox(fx.bb, obj, s.To), sym.raw)
		sym.live = kRaw
		return
	}

	if rawable(s.From) {
		// R -> Dyn: box the raw value. Locals box into a stack-allocated
		// CObj and defer the heap copy behind the needs_heapify flag;
		// globals box straight onto the heap since their boxes may be read
		// from other frames before the next local use.
		cg.ensureBox(fx, sym)
		v := fx.bb.NewLoad(rawTy(s.From), sym.raw)
		if sym.global {
			fx.bb.NewStore(cg.boxRaw(fx.bb, v, s.From), sym.box)
			sym.live = kBox
			sym.needsHeapify = false
			return
		}
		dataSlot := fx.allocaBB.NewAlloca(payloadTy(s.From))
		objSlot := fx.allocaBB.NewAlloca(cg.cobj)
		if s.From == TyBool {
			fx.bb.NewStore(fx.bb.NewZExt(v, types.I8), dataSlot)
		} else {
			fx.bb.NewStore(v, dataSlot)
		}
		i8ptr := types.NewPointer(types.I8)
		fx.bb.NewStore(fx.bb.NewBitCast(dataSlot, i8ptr), gepField(fx.bb, cg.cobj, objSlot, 0))
		fx.bb.NewStore(cg.ctypeOf(s.From), gepField(fx.bb, cg.cobj, objSlot, 1))
		fx.bb.NewStore(objSlot, sym.box)
		sym.live = kBox
		sym.needsHeapify = true
		return
	}
	panic(fmt.Sprintf("internal error: unsupported transform %s -> %s", s.From, s.To))
}

/* ---------- function definitions ---------- */

// funcStmt emits the generic definition and binds the name to a
// func-typed object whose data field is the function pointer.
func (cg *codegen) funcStmt(fx *fnctx, s *SFunc) {
	gf := cg.emitGeneric(s.Decl)
	i8ptr := types.NewPointer(types.I8)
	fobj := fx.bb.NewCall(cg.boxFn, fx.bb.NewBitCast(gf, i8ptr), cg.ctypes[TyFunc])
	sym := fx.lookup(cg, s.Decl.Name)
	if sym == nil {
		panic("internal error: no slot for function " + s.Decl.Name)
	}
	cg.ensureBox(fx, sym)
	fx.bb.NewStore(fobj, sym.box)
	sym.live = kBox
	sym.needsHeapify = false
}

// emitGeneric builds (once per source function) the boxed-convention
// definition CObj* (CObj**).
func (cg *codegen) emitGeneric(decl *SFuncDecl) *ir.Func {
	if f, ok := cg.genericFuncs[decl.Orig]; ok {
		return f
	}
	argv := ir.NewParam("argv", cg.cobjPtrPtr)
	f := cg.m.NewFunc(cg.fnName(decl.Name+".generic"), cg.cobjPtr, argv)
	cg.genericFuncs[decl.Orig] = f

	snap := cg.snapshotGlobals()
	fx := cg.newFnctx(f, TyDyn, true)
	for i, formal := range decl.Formals {
		p := fx.bb.NewGetElementPtr(cg.cobjPtr, argv, i32(int64(i)))
		obj := fx.bb.NewLoad(cg.cobjPtr, p)
		sym := &symbol{}
		fx.syms[formal.Name] = sym
		chk := decl.FormalChecks[i]
		if rawable(chk) {
			if cg.opt.Exceptions {
				msg := fmt.Sprintf("RuntimeError: invalid type assigned to %s", formal.Name)
				cg.checkObjType(fx, obj, chk, msg)
			}
			cg.ensureRaw(fx, sym, chk)
			fx.bb.NewStore(cg.unbox(fx.bb, obj, chk), sym.raw)
			sym.live = kRaw
		} else {
			if cg.opt.Exceptions && chk != TyDyn {
				msg := fmt.Sprintf("RuntimeError: invalid type assigned to %s", formal.Name)
				cg.checkObjType(fx, obj, chk, msg)
			}
			cg.ensureBox(fx, sym)
			fx.bb.NewStore(obj, sym.box)
			sym.live = kBox
		}
	}
	cg.declareLocals(fx, decl.Locals)
	cg.stmt(fx, decl.Body)
	cg.finish(fx, func(bb *ir.Block) {
		bb.NewRet(cg.nullObj)
	})
	cg.restoreGlobals(snap)
	return f
}

// emitSpecialized builds (once per (function, type-tuple) key) the
// monomorphic definition whose signature uses the inferred types.
func (cg *codegen) emitSpecialized(decl *SFuncDecl) *ir.Func {
	tys := make([]Ty, len(decl.Formals))
	for i, f := range decl.Formals {
		tys[i] = f.Ty
	}
	key := specKey{fn: decl.Orig, args: tupleKey(tys)}
	if f, ok := cg.optimFuncs[key]; ok {
		return f
	}

	params := make([]*ir.Param, len(decl.Formals))
	for i, formal := range decl.Formals {
		if rawable(formal.Ty) {
			params[i] = ir.NewParam(formal.Name, rawTy(formal.Ty))
		} else {
			params[i] = ir.NewParam(formal.Name, cg.cobjPtr)
		}
	}
	var retTy types.Type = cg.cobjPtr
	if rawable(decl.Ret) {
		retTy = rawTy(decl.Ret)
	}
	f := cg.m.NewFunc(cg.fnName(decl.Name+key.args), retTy, params...)
	cg.optimFuncs[key] = f

	snap := cg.snapshotGlobals()
	fx := cg.newFnctx(f, decl.Ret, false)
	for i, formal := range decl.Formals {
		sym := &symbol{}
		fx.syms[formal.Name] = sym
		if rawable(formal.Ty) {
			cg.ensureRaw(fx, sym, formal.Ty)
			fx.bb.NewStore(params[i], sym.raw)
			sym.live = kRaw
		} else {
			cg.ensureBox(fx, sym)
			fx.bb.NewStore(params[i], sym.box)
			sym.live = kBox
		}
	}
	cg.declareLocals(fx, decl.Locals)
	cg.stmt(fx, decl.Body)
	cg.finish(fx, func(bb *ir.Block) {
		save := fx.bb
		fx.bb = bb
		cg.defaultReturn(fx)
		fx.bb = save
	})
	cg.restoreGlobals(snap)
	return f
}
