// codegen_expr.go — expression lowering.
//
// Each SAST expression lowers to a cval: a raw primitive when static
// inference proved the type, or a boxed CObj*. Binary operations on two
// raws emit the primitive instruction directly; anything else boxes the
// operands and dispatches through the left operand's CType slot, guarded
// by the null-slot and same-type checks when exceptions are enabled and
// the operand types are not both statically concrete.
package pyx

import (
	"fmt"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

func opSlotName(op Op) string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpExp:
		return "exp"
	case OpEq:
		return "eq"
	case OpNeq:
		return "neq"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNeg:
		return "neg"
	case OpNot:
		return "not"
	}
	panic("internal error: no slot for op")
}

func (cg *codegen) expr(fx *fnctx, e SExpr) cval {
	switch e := e.(type) {
	case *SLit:
		return cg.lit(fx, e)
	case *SVar:
		return cg.varLoad(fx, e)
	case *SBinop:
		return cg.binop(fx, e)
	case *SUnop:
		return cg.unop(fx, e)
	case *SCall:
		return cg.callExpr(fx, e)
	case *SList:
		return cg.listLit(fx, e)
	case *SListAccess:
		return cg.listAccess(fx, e)
	case *SCast:
		return cg.cast(fx, e)
	}
	panic(fmt.Sprintf("internal error: unhandled expression %T", e))
}

func (cg *codegen) lit(fx *fnctx, e *SLit) cval {
	switch e.Kind {
	case TyInt:
		return cval{raw: i32(e.IntVal), ty: TyInt}
	case TyFloat:
		return cval{raw: constant.NewFloat(types.Double, e.FloatVal), ty: TyFloat}
	case TyBool:
		return cval{raw: constant.NewBool(e.BoolVal), ty: TyBool}
	case TyString:
		ptr := cg.strConst(fx.bb, e.StrVal)
		s := fx.bb.NewCall(cg.newStrFn, ptr, i32(int64(len(e.StrVal))))
		return cval{box: s, ty: TyString}
	case TyNull:
		return cval{box: cg.nullObj, ty: TyNull}
	}
	panic("internal error: unhandled literal kind " + e.Kind.String())
}

// varLoad reads a name from whichever slot is live. Boxed reads are
// guarded by the defined-check, then heapified once if the box still
// points at stack memory.
func (cg *codegen) varLoad(fx *fnctx, e *SVar) cval {
	s := fx.lookup(cg, e.Name)
	if s == nil {
		// Only reachable from a generic body that reads a name never bound
		// anywhere (the noeval scan lets it through). The slot stays at the
		// sentinel, so the defined-check reports it at runtime.
		s = &symbol{live: kBox}
		cg.ensureBox(fx, s)
		fx.syms[e.Name] = s
	}
	if s.live == kRaw {
		return cval{raw: fx.bb.NewLoad(rawTy(s.rawTy), s.raw), ty: s.rawTy}
	}
	obj := fx.bb.NewLoad(cg.cobjPtr, s.box)
	cg.checkDefined(fx, obj, e.Name)
	if s.needsHeapify {
		hp := cg.loadSlot(fx.bb, cg.objType(fx.bb, obj), "heapify")
		fx.bb.NewCall(hp, obj)
		s.needsHeapify = false
	}
	return cval{box: obj, ty: e.Ty}
}

/* ---------- binop ---------- */

func (cg *codegen) binop(fx *fnctx, e *SBinop) cval {
	l := cg.expr(fx, e.L)
	r := cg.expr(fx, e.R)
	if l.isRaw() && r.isRaw() {
		return cg.rawBinop(fx, e.Op, l, r)
	}
	lb := cg.asBox(fx, l)
	rb := cg.asBox(fx, r)
	bothConcrete := l.ty != TyDyn && r.ty != TyDyn
	slot := cg.loadSlot(fx.bb, cg.objType(fx.bb, lb), opSlotName(e.Op))
	if cg.opt.Exceptions && !bothConcrete {
		msg := fmt.Sprintf("RuntimeError: unsupported operand type(s) for binary %s", e.Op)
		cg.checkSlot(fx, slot, msg)
		rt := cg.objType(fx.bb, rb)
		lt := cg.objType(fx.bb, lb)
		cg.abortIf(fx, fx.bb.NewICmp(enum.IPredNE, lt, rt), msg)
	}
	res := fx.bb.NewCall(slot, lb, rb)
	return cval{box: res, ty: e.Ty}
}

// rawBinop emits the primitive instruction for two unboxed operands,
// mirroring the thunk semantics exactly.
func (cg *codegen) rawBinop(fx *fnctx, op Op, l, r cval) cval {
	bb := fx.bb
	// Int and Bool mix in arithmetic as Int; Int widens to Float.
	if l.ty != r.ty {
		switch {
		case l.ty == TyBool && r.ty == TyInt:
			l = cval{raw: bb.NewZExt(l.raw, types.I32), ty: TyInt}
		case l.ty == TyInt && r.ty == TyBool:
			r = cval{raw: bb.NewZExt(r.raw, types.I32), ty: TyInt}
		case l.ty == TyInt && r.ty == TyFloat:
			l = cval{raw: bb.NewSIToFP(l.raw, types.Double), ty: TyFloat}
		case l.ty == TyFloat && r.ty == TyInt:
			r = cval{raw: bb.NewSIToFP(r.raw, types.Double), ty: TyFloat}
		default:
			panic("internal error: mixed raw operand types")
		}
	}
	switch l.ty {
	case TyInt, TyBool:
		ity := rawTy(l.ty).(*types.IntType)
		switch op {
		case OpAdd:
			return cval{raw: bb.NewAdd(l.raw, r.raw), ty: l.ty}
		case OpSub:
			return cval{raw: bb.NewSub(l.raw, r.raw), ty: l.ty}
		case OpMul:
			return cval{raw: bb.NewMul(l.raw, r.raw), ty: l.ty}
		case OpDiv:
			return cval{raw: bb.NewSDiv(l.raw, r.raw), ty: l.ty}
		case OpExp:
			xv, yv := l.raw, r.raw
			if l.ty == TyBool {
				xv = bb.NewZExt(xv, types.I32)
				yv = bb.NewZExt(yv, types.I32)
			}
			xf := bb.NewSIToFP(xv, types.Double)
			yf := bb.NewSIToFP(yv, types.Double)
			p := bb.NewCall(cg.powf, xf, yf)
			if l.ty == TyBool {
				return cval{raw: bb.NewTrunc(bb.NewFPToSI(p, types.I32), types.I1), ty: TyBool}
			}
			return cval{raw: bb.NewFPToSI(p, ity), ty: l.ty}
		case OpAnd:
			return cval{raw: bb.NewAnd(l.raw, r.raw), ty: l.ty}
		case OpOr:
			return cval{raw: bb.NewOr(l.raw, r.raw), ty: l.ty}
		case OpEq, OpNeq, OpLt, OpLe, OpGt, OpGe:
			var pred enum.IPred
			signed := l.ty == TyInt
			switch op {
			case OpEq:
				pred = enum.IPredEQ
			case OpNeq:
				pred = enum.IPredNE
			case OpLt:
				pred = pick(signed, enum.IPredSLT, enum.IPredULT)
			case OpLe:
				pred = pick(signed, enum.IPredSLE, enum.IPredULE)
			case OpGt:
				pred = pick(signed, enum.IPredSGT, enum.IPredUGT)
			case OpGe:
				pred = pick(signed, enum.IPredSGE, enum.IPredUGE)
			}
			return cval{raw: bb.NewICmp(pred, l.raw, r.raw), ty: TyBool}
		}
	case TyFloat:
		switch op {
		case OpAdd:
			return cval{raw: bb.NewFAdd(l.raw, r.raw), ty: TyFloat}
		case OpSub:
			return cval{raw: bb.NewFSub(l.raw, r.raw), ty: TyFloat}
		case OpMul:
			return cval{raw: bb.NewFMul(l.raw, r.raw), ty: TyFloat}
		case OpDiv:
			return cval{raw: bb.NewFDiv(l.raw, r.raw), ty: TyFloat}
		case OpExp:
			return cval{raw: bb.NewCall(cg.powf, l.raw, r.raw), ty: TyFloat}
		case OpEq, OpNeq, OpLt, OpLe, OpGt, OpGe:
			var pred enum.FPred
			switch op {
			case OpEq:
				pred = enum.FPredUEQ
			case OpNeq:
				pred = enum.FPredUNE
			case OpLt:
				pred = enum.FPredULT
			case OpLe:
				pred = enum.FPredULE
			case OpGt:
				pred = enum.FPredUGT
			case OpGe:
				pred = enum.FPredUGE
			}
			return cval{raw: bb.NewFCmp(pred, l.raw, r.raw), ty: TyBool}
		}
	}
	panic("internal error: unsupported raw binop")
}

func pick(cond bool, a, b enum.IPred) enum.IPred {
	if cond {
		return a
	}
	return b
}

func (cg *codegen) unop(fx *fnctx, e *SUnop) cval {
	v := cg.expr(fx, e.E)
	bb := fx.bb
	if v.isRaw() {
		switch e.Op {
		case OpNeg:
			switch v.ty {
			case TyInt:
				return cval{raw: bb.NewSub(i32(0), v.raw), ty: TyInt}
			case TyFloat:
				return cval{raw: bb.NewFNeg(v.raw), ty: TyFloat}
			case TyBool:
				return cval{raw: bb.NewSub(constant.NewBool(false), v.raw), ty: TyBool}
			}
		case OpNot:
			switch v.ty {
			case TyInt:
				return cval{raw: bb.NewXor(v.raw, i32(-1)), ty: TyInt}
			case TyBool:
				return cval{raw: bb.NewXor(v.raw, constant.NewBool(true)), ty: TyBool}
			}
		}
		panic("internal error: unsupported raw unop")
	}
	slot := cg.loadSlot(bb, cg.objType(bb, v.box), opSlotName(e.Op))
	if cg.opt.Exceptions {
		cg.checkSlot(fx, slot, fmt.Sprintf("RuntimeError: unsupported operand type for unary %s", e.Op))
	}
	res := fx.bb.NewCall(slot, v.box)
	return cval{box: res, ty: e.Ty}
}

/* ---------- lists ---------- */

func (cg *codegen) listLit(fx *fnctx, e *SList) cval {
	n := int64(len(e.Elems))
	arr := fx.bb.NewCall(cg.newArrFn, i32(n), cg.ctypes[TyArr])
	data, _ := cg.listHdr(fx.bb, arr)
	for i, el := range e.Elems {
		v := cg.expr(fx, el)
		b := cg.asBox(fx, v)
		fx.bb.NewStore(b, fx.bb.NewGetElementPtr(cg.cobjPtr, data, i32(int64(i))))
	}
	return cval{box: arr, ty: e.Ty}
}

// indexChecks guards an indexing operation: non-int index and
// out-of-bounds index. lb is the boxed receiver, already known to be a
// list or string.
func (cg *codegen) indexChecks(fx *fnctx, lb value.Value, idx cval) value.Value {
	const accessMsg = "RuntimeError: unsupported operand type(s) for list access"
	if cg.opt.Exceptions && idx.box != nil && idx.ty == TyDyn {
		cg.checkObjType(fx, idx.box, TyInt, accessMsg)
	}
	var iraw value.Value
	if idx.isRaw() {
		iraw = idx.raw
	} else {
		iraw = cg.unbox(fx.bb, idx.box, TyInt)
	}
	if cg.opt.Exceptions {
		_, n := cg.listHdr(fx.bb, lb)
		neg := fx.bb.NewICmp(enum.IPredSLT, iraw, i32(0))
		big := fx.bb.NewICmp(enum.IPredSGE, iraw, n)
		cg.abortIf(fx, fx.bb.NewOr(neg, big), "RuntimeError: list index out of bounds")
	}
	return iraw
}

func (cg *codegen) listAccess(fx *fnctx, e *SListAccess) cval {
	lst := cg.expr(fx, e.Lst)
	lb := cg.asBox(fx, lst)
	slot := cg.loadSlot(fx.bb, cg.objType(fx.bb, lb), "idx")
	if cg.opt.Exceptions && lst.ty == TyDyn {
		cg.checkSlot(fx, slot, "RuntimeError: unsupported operand type(s) for list access")
	}
	idx := cg.expr(fx, e.Idx)
	iraw := cg.indexChecks(fx, lb, idx)
	ib := idx.box
	if ib == nil {
		ib = cg.boxRaw(fx.bb, iraw, TyInt)
	}
	res := fx.bb.NewCall(slot, lb, ib)
	return cval{box: res, ty: e.Ty}
}

/* ---------- casts ---------- */

func (cg *codegen) cast(fx *fnctx, e *SCast) cval {
	v := cg.expr(fx, e.E)
	bb := fx.bb
	to := e.To

	if v.ty == TyDyn {
		// A cast out of Dyn is a checked unbox.
		msg := fmt.Sprintf("RuntimeError: invalid cast to %s", to)
		cg.checkObjType(fx, v.box, to, msg)
		if rawable(to) {
			return cval{raw: cg.unbox(bb, v.box, to), ty: to}
		}
		return cval{box: v.box, ty: to}
	}

	raw := v.raw
	if raw == nil {
		raw = cg.unbox(bb, v.box, v.ty)
	}
	if to == TyString {
		switch v.ty {
		case TyInt:
			return cval{box: bb.NewCall(cg.intStrFn, raw), ty: TyString}
		case TyFloat:
			return cval{box: bb.NewCall(cg.floatStrFn, raw), ty: TyString}
		case TyBool:
			return cval{box: bb.NewCall(cg.intStrFn, bb.NewZExt(raw, types.I32)), ty: TyString}
		}
		panic("internal error: unsupported cast to string from " + v.ty.String())
	}
	conv := func() value.Value {
		switch {
		case v.ty == TyInt && to == TyFloat:
			return bb.NewSIToFP(raw, types.Double)
		case v.ty == TyFloat && to == TyInt:
			return bb.NewFPToSI(raw, types.I32)
		case v.ty == TyBool && to == TyInt:
			return bb.NewZExt(raw, types.I32)
		case v.ty == TyInt && to == TyBool:
			return bb.NewICmp(enum.IPredNE, raw, i32(0))
		case v.ty == TyBool && to == TyFloat:
			return bb.NewSIToFP(bb.NewZExt(raw, types.I32), types.Double)
		case v.ty == TyFloat && to == TyBool:
			return bb.NewFCmp(enum.FPredUNE, raw, constant.NewFloat(types.Double, 0))
		}
		panic(fmt.Sprintf("internal error: unsupported cast %s to %s", v.ty, to))
	}
	return cval{raw: conv(), ty: to}
}

/* ---------- calls ---------- */

func (cg *codegen) callExpr(fx *fnctx, e *SCall) cval {
	switch res := e.Res.(type) {
	case *SFuncRes:
		return cg.specializedCall(fx, e, res.Decl)
	case *SStageRes:
		return cg.genericCall(fx, e, res)
	}
	panic("internal error: unresolved call")
}

// specializedCall invokes (building if needed) the monomorphic
// definition for this site's argument types; the callee is reached
// directly, not through its box.
func (cg *codegen) specializedCall(fx *fnctx, e *SCall, decl *SFuncDecl) cval {
	f := cg.emitSpecialized(decl)
	args := make([]value.Value, len(e.Args))
	for i, ae := range e.Args {
		av := cg.expr(fx, ae)
		ft := decl.Formals[i].Ty
		switch {
		case rawable(ft) && av.isRaw():
			args[i] = av.raw
		case rawable(ft):
			// Boxed argument into a raw formal: enforce the declared type,
			// then extract.
			if cg.opt.Exceptions && av.ty == TyDyn {
				msg := fmt.Sprintf("RuntimeError: invalid type assigned to %s", decl.Formals[i].Name)
				cg.checkObjType(fx, av.box, ft, msg)
			}
			args[i] = cg.unbox(fx.bb, av.box, ft)
		default:
			b := cg.asBox(fx, av)
			if cg.opt.Exceptions && av.ty == TyDyn && ft != TyDyn {
				msg := fmt.Sprintf("RuntimeError: invalid type assigned to %s", decl.Formals[i].Name)
				cg.checkObjType(fx, b, ft, msg)
			}
			args[i] = b
		}
	}
	res := fx.bb.NewCall(f, args...)
	if rawable(decl.Ret) {
		return cval{raw: res, ty: decl.Ret}
	}
	return cval{box: res, ty: decl.Ret}
}

// genericCall runs the stage's entry transforms, packs every argument
// boxed into a stack argv, dispatches through the callee's call slot,
// and runs the exit transforms. The result is always boxed.
func (cg *codegen) genericCall(fx *fnctx, e *SCall, stage *SStageRes) cval {
	for _, s := range stage.Entry {
		cg.stmt(fx, s)
	}
	callee := cg.expr(fx, e.Callee)
	cb := cg.asBox(fx, callee)

	n := len(e.Args)
	boxes := make([]value.Value, n)
	for i, ae := range e.Args {
		boxes[i] = cg.asBox(fx, cg.expr(fx, ae))
	}
	slots := n
	if slots == 0 {
		slots = 1
	}
	arrTy := types.NewArray(uint64(slots), cg.cobjPtr)
	argv := fx.bb.NewAlloca(arrTy)
	for i, b := range boxes {
		p := fx.bb.NewGetElementPtr(arrTy, argv, i32(0), i32(int64(i)))
		p.InBounds = true
		fx.bb.NewStore(b, p)
	}
	argvPtr := fx.bb.NewGetElementPtr(arrTy, argv, i32(0), i32(0))
	argvPtr.InBounds = true

	slot := cg.loadSlot(fx.bb, cg.objType(fx.bb, cb), "call")
	if cg.opt.Exceptions {
		cg.checkSlot(fx, slot, "RuntimeError: unsupported operand type(s) for binary call")
	}
	res := fx.bb.NewCall(slot, cb, argvPtr)
	for _, s := range stage.Exit {
		cg.stmt(fx, s)
	}
	return cval{box: res, ty: TyDyn}
}
