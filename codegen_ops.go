// codegen_ops.go — the per-type operator thunks and the CType dispatch
// tables.
//
// Every primitive type gets a statically-initialized CType global whose
// 20 slots hold either an operator function defined here or a null
// pointer, meaning the operation is unsupported and the generic dispatch
// path raises a runtime error. The numeric thunks are generated from a
// declarative builder table; lists, strings, and functions get
// hand-written thunks. Thunks take boxed operands, load the payloads at
// the right LLVM primitive type, apply the builder, and wrap the result
// in a freshly allocated CObj.
//
// Integer and bool arithmetic is signed two's-complement; exponentiation
// goes through C pow and back. Float comparisons use the unordered
// (NaN-permissive) predicates. String and list concatenation copy element
// pointers shallowly. heapify copies a primitive payload from wherever it
// lives (possibly a stack slot) to a fresh heap allocation; for lists,
// strings, and functions it is a no-op.
package pyx

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

/* ---------- ctype globals ---------- */

// declareCTypes creates the zero-initialized dispatch-table globals and
// the shared null sentinel object.
func (cg *codegen) declareCTypes() {
	mk := func(name string) *ir.Global {
		return cg.m.NewGlobalDef(name, constant.NewZeroInitializer(cg.ctype))
	}
	cg.ctypes[TyInt] = mk("pyx.int")
	cg.ctypes[TyFloat] = mk("pyx.float")
	cg.ctypes[TyBool] = mk("pyx.bool")
	cg.ctypes[TyString] = mk("pyx.str")
	cg.ctypes[TyArr] = mk("pyx.list")
	cg.ctypes[TyFunc] = mk("pyx.func")
	cg.charTy = mk("pyx.char")
	cg.nullObj = cg.m.NewGlobalDef("pyx.null_obj", constant.NewZeroInitializer(cg.cobj))
}

// fillCTypes installs the thunks into the table globals; missing cells
// stay null function pointers.
func (cg *codegen) fillCTypes() {
	fill := func(g *ir.Global, prefix string) {
		fields := make([]constant.Constant, len(slotOrder))
		for i, op := range slotOrder {
			if f, ok := cg.thunks[prefix+"_"+op]; ok {
				fields[i] = f
			} else {
				fields[i] = constant.NewNull(types.NewPointer(cg.slotFnTy(op)))
			}
		}
		g.Init = constant.NewStruct(cg.ctype, fields...)
	}
	fill(cg.ctypes[TyInt], "int")
	fill(cg.ctypes[TyFloat], "float")
	fill(cg.ctypes[TyBool], "bool")
	fill(cg.charTy, "char")
	fill(cg.ctypes[TyArr], "list")
	fill(cg.ctypes[TyString], "string")
	fill(cg.ctypes[TyFunc], "func")
}

/* ---------- runtime helpers ---------- */

func (cg *codegen) defineHelpers() {
	i8ptr := types.NewPointer(types.I8)

	// pyx.box(data, ty): wrap a payload pointer in a fresh CObj.
	{
		d := ir.NewParam("data", i8ptr)
		t := ir.NewParam("ty", cg.ctypePtr)
		f := cg.m.NewFunc("pyx.box", cg.cobjPtr, d, t)
		bb := f.NewBlock("entry")
		p := bb.NewCall(cg.mallocf, i64c(16))
		o := bb.NewBitCast(p, cg.cobjPtr)
		bb.NewStore(d, gepField(bb, cg.cobj, o, 0))
		bb.NewStore(t, gepField(bb, cg.cobj, o, 1))
		bb.NewRet(o)
		cg.boxFn = f
	}

	mkBoxPrim := func(name string, prm types.Type, size int64, store func(bb *ir.Block, v value.Value, p value.Value), ty *ir.Global) *ir.Func {
		v := ir.NewParam("v", prm)
		f := cg.m.NewFunc(name, cg.cobjPtr, v)
		bb := f.NewBlock("entry")
		p := bb.NewCall(cg.mallocf, i64c(size))
		store(bb, v, p)
		bb.NewRet(bb.NewCall(cg.boxFn, p, ty))
		return f
	}
	cg.boxIntFn = mkBoxPrim("pyx.box_int", types.I32, 4, func(bb *ir.Block, v, p value.Value) {
		bb.NewStore(v, bb.NewBitCast(p, types.NewPointer(types.I32)))
	}, cg.ctypes[TyInt])
	cg.boxFloatFn = mkBoxPrim("pyx.box_float", types.Double, 8, func(bb *ir.Block, v, p value.Value) {
		bb.NewStore(v, bb.NewBitCast(p, types.NewPointer(types.Double)))
	}, cg.ctypes[TyFloat])
	cg.boxBoolFn = mkBoxPrim("pyx.box_bool", types.I1, 1, func(bb *ir.Block, v, p value.Value) {
		bb.NewStore(bb.NewZExt(v, types.I8), p)
	}, cg.ctypes[TyBool])

	// pyx.new_arr(n, ty): an uninitialized list/string of n element slots.
	{
		n := ir.NewParam("n", types.I32)
		t := ir.NewParam("ty", cg.ctypePtr)
		f := cg.m.NewFunc("pyx.new_arr", cg.cobjPtr, n, t)
		bb := f.NewBlock("entry")
		hdr := bb.NewBitCast(bb.NewCall(cg.mallocf, i64c(16)), cg.clistPtr)
		bytes := bb.NewMul(bb.NewSExt(n, types.I64), i64c(8))
		data := bb.NewBitCast(bb.NewCall(cg.mallocf, bytes), cg.cobjPtrPtr)
		bb.NewStore(data, gepField(bb, cg.clist, hdr, 0))
		bb.NewStore(n, gepField(bb, cg.clist, hdr, 1))
		bb.NewStore(n, gepField(bb, cg.clist, hdr, 2))
		bb.NewRet(bb.NewCall(cg.boxFn, bb.NewBitCast(hdr, i8ptr), t))
		cg.newArrFn = f
	}

	// pyx.new_string(s, n): build a CString of freshly boxed char objects.
	{
		s := ir.NewParam("s", i8ptr)
		n := ir.NewParam("n", types.I32)
		f := cg.m.NewFunc("pyx.new_string", cg.cobjPtr, s, n)
		pre := f.NewBlock("entry")
		arr := pre.NewCall(cg.newArrFn, n, cg.ctypes[TyString])
		data, _ := cg.listHdr(pre, arr)
		after := cg.countLoop(f, pre, n, func(bb *ir.Block, i value.Value) *ir.Block {
			cp := bb.NewGetElementPtr(types.I8, s, i)
			ch := bb.NewLoad(types.I8, cp)
			p := bb.NewCall(cg.mallocf, i64c(1))
			bb.NewStore(ch, p)
			c := bb.NewCall(cg.boxFn, p, cg.charTy)
			bb.NewStore(c, bb.NewGetElementPtr(cg.cobjPtr, data, i))
			return bb
		})
		after.NewRet(arr)
		cg.newStrFn = f
	}

	// pyx.int_to_string / pyx.float_to_string: str() casts of numerics.
	mkNumStr := func(name string, prm types.Type, fmtStr string) *ir.Func {
		v := ir.NewParam("v", prm)
		f := cg.m.NewFunc(name, cg.cobjPtr, v)
		bb := f.NewBlock("entry")
		buf := bb.NewCall(cg.mallocf, i64c(32))
		n := bb.NewCall(cg.snprintf, buf, i64c(32), cg.strConst(bb, fmtStr), v)
		bb.NewRet(bb.NewCall(cg.newStrFn, buf, n))
		return f
	}
	cg.intStrFn = mkNumStr("pyx.int_to_string", types.I32, "%d")
	cg.floatStrFn = mkNumStr("pyx.float_to_string", types.Double, "%g")
}

// listHdr loads the data pointer and length of a boxed list or string.
func (cg *codegen) listHdr(bb *ir.Block, obj value.Value) (value.Value, value.Value) {
	hdr := bb.NewBitCast(cg.objData(bb, obj), cg.clistPtr)
	data := bb.NewLoad(cg.cobjPtrPtr, gepField(bb, cg.clist, hdr, 0))
	n := bb.NewLoad(types.I32, gepField(bb, cg.clist, hdr, 1))
	return data, n
}

// countLoop emits "for i in 0..n" around body inside f; pre must be open.
// body receives the current block and counter and returns the block it
// ended in. Returns the after block.
func (cg *codegen) countLoop(f *ir.Func, pre *ir.Block, n value.Value, body func(bb *ir.Block, i value.Value) *ir.Block) *ir.Block {
	slot := pre.NewAlloca(types.I32)
	pre.NewStore(i32(0), slot)
	condBB := f.NewBlock(cg.name("loop_cond"))
	bodyBB := f.NewBlock(cg.name("loop_body"))
	afterBB := f.NewBlock(cg.name("loop_after"))
	pre.NewBr(condBB)
	iv := condBB.NewLoad(types.I32, slot)
	condBB.NewCondBr(condBB.NewICmp(enum.IPredSLT, iv, n), bodyBB, afterBB)
	iv2 := bodyBB.NewLoad(types.I32, slot)
	end := body(bodyBB, iv2)
	iv3 := end.NewLoad(types.I32, slot)
	end.NewStore(end.NewAdd(iv3, i32(1)), slot)
	end.NewBr(condBB)
	return afterBB
}

/* ---------- numeric thunks ---------- */

// opBuild builds one primitive operation from loaded operands and names
// the result kind, which selects the boxing path.
type opBuild func(bb *ir.Block, x, y value.Value) (value.Value, string)

func icmpOp(pred enum.IPred) opBuild {
	return func(bb *ir.Block, x, y value.Value) (value.Value, string) {
		return bb.NewICmp(pred, x, y), "bool"
	}
}

func fcmpOp(pred enum.FPred) opBuild {
	return func(bb *ir.Block, x, y value.Value) (value.Value, string) {
		return bb.NewFCmp(pred, x, y), "bool"
	}
}

// intOps builds the signed integer table over any integer width; kind is
// the result kind of arithmetic cells ("int" or "char").
func (cg *codegen) intOps(kind string, width types.Type) map[string]opBuild {
	toFP := func(bb *ir.Block, v value.Value) value.Value { return bb.NewSIToFP(v, types.Double) }
	return map[string]opBuild{
		"add": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewAdd(x, y), kind },
		"sub": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewSub(x, y), kind },
		"mul": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewMul(x, y), kind },
		"div": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewSDiv(x, y), kind },
		"exp": func(bb *ir.Block, x, y value.Value) (value.Value, string) {
			r := bb.NewCall(cg.powf, toFP(bb, x), toFP(bb, y))
			return bb.NewFPToSI(r, width), kind
		},
		"eq":  icmpOp(enum.IPredEQ),
		"neq": icmpOp(enum.IPredNE),
		"lt":  icmpOp(enum.IPredSLT),
		"le":  icmpOp(enum.IPredSLE),
		"gt":  icmpOp(enum.IPredSGT),
		"ge":  icmpOp(enum.IPredSGE),
		"and": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewAnd(x, y), kind },
		"or":  func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewOr(x, y), kind },
		"neg": func(bb *ir.Block, x, _ value.Value) (value.Value, string) {
			return bb.NewSub(constant.NewInt(width.(*types.IntType), 0), x), kind
		},
		"not": func(bb *ir.Block, x, _ value.Value) (value.Value, string) {
			return bb.NewXor(x, constant.NewInt(width.(*types.IntType), -1)), kind
		},
	}
}

func (cg *codegen) floatOps() map[string]opBuild {
	return map[string]opBuild{
		"add": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewFAdd(x, y), "float" },
		"sub": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewFSub(x, y), "float" },
		"mul": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewFMul(x, y), "float" },
		"div": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewFDiv(x, y), "float" },
		"exp": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewCall(cg.powf, x, y), "float" },
		// Unordered predicates: NaN-permissive on both sides.
		"eq":  fcmpOp(enum.FPredUEQ),
		"neq": fcmpOp(enum.FPredUNE),
		"lt":  fcmpOp(enum.FPredULT),
		"le":  fcmpOp(enum.FPredULE),
		"gt":  fcmpOp(enum.FPredUGT),
		"ge":  fcmpOp(enum.FPredUGE),
		"neg": func(bb *ir.Block, x, _ value.Value) (value.Value, string) { return bb.NewFNeg(x), "float" },
	}
}

func (cg *codegen) boolOps() map[string]opBuild {
	return map[string]opBuild{
		"add": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewAdd(x, y), "bool" },
		"sub": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewSub(x, y), "bool" },
		"mul": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewMul(x, y), "bool" },
		"exp": func(bb *ir.Block, x, y value.Value) (value.Value, string) {
			xf := bb.NewSIToFP(bb.NewZExt(x, types.I32), types.Double)
			yf := bb.NewSIToFP(bb.NewZExt(y, types.I32), types.Double)
			r := bb.NewFPToSI(bb.NewCall(cg.powf, xf, yf), types.I32)
			return bb.NewTrunc(r, types.I1), "bool"
		},
		"eq":  icmpOp(enum.IPredEQ),
		"neq": icmpOp(enum.IPredNE),
		"lt":  icmpOp(enum.IPredULT),
		"le":  icmpOp(enum.IPredULE),
		"gt":  icmpOp(enum.IPredUGT),
		"ge":  icmpOp(enum.IPredUGE),
		"and": func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewAnd(x, y), "bool" },
		"or":  func(bb *ir.Block, x, y value.Value) (value.Value, string) { return bb.NewOr(x, y), "bool" },
		"neg": func(bb *ir.Block, x, _ value.Value) (value.Value, string) {
			return bb.NewSub(constant.NewBool(false), x), "bool"
		},
		"not": func(bb *ir.Block, x, _ value.Value) (value.Value, string) {
			return bb.NewXor(x, constant.NewBool(true)), "bool"
		},
	}
}

// boxKind boxes a thunk result by kind.
func (cg *codegen) boxKind(bb *ir.Block, v value.Value, kind string) value.Value {
	switch kind {
	case "int":
		return bb.NewCall(cg.boxIntFn, v)
	case "float":
		return bb.NewCall(cg.boxFloatFn, v)
	case "bool":
		return bb.NewCall(cg.boxBoolFn, v)
	case "char":
		p := bb.NewCall(cg.mallocf, i64c(1))
		bb.NewStore(v, p)
		return bb.NewCall(cg.boxFn, p, cg.charTy)
	}
	panic("internal error: unknown box kind " + kind)
}

func isUnarySlot(op string) bool { return op == "neg" || op == "not" }

// defineThunks emits every operator function and records it by name.
func (cg *codegen) defineThunks() {
	prims := []struct {
		prefix string
		load   func(bb *ir.Block, obj value.Value) value.Value
		ops    map[string]opBuild
	}{
		{"int", func(bb *ir.Block, obj value.Value) value.Value {
			p := bb.NewBitCast(cg.objData(bb, obj), types.NewPointer(types.I32))
			return bb.NewLoad(types.I32, p)
		}, cg.intOps("int", types.I32)},
		{"float", func(bb *ir.Block, obj value.Value) value.Value {
			p := bb.NewBitCast(cg.objData(bb, obj), types.NewPointer(types.Double))
			return bb.NewLoad(types.Double, p)
		}, cg.floatOps()},
		{"bool", func(bb *ir.Block, obj value.Value) value.Value {
			v := bb.NewLoad(types.I8, cg.objData(bb, obj))
			return bb.NewTrunc(v, types.I1)
		}, cg.boolOps()},
		{"char", func(bb *ir.Block, obj value.Value) value.Value {
			return bb.NewLoad(types.I8, cg.objData(bb, obj))
		}, cg.intOps("char", types.I8)},
	}
	for _, pr := range prims {
		for _, op := range slotOrder {
			build, ok := pr.ops[op]
			if !ok {
				continue
			}
			name := pr.prefix + "_" + op
			if isUnarySlot(op) {
				a := ir.NewParam("a", cg.cobjPtr)
				f := cg.m.NewFunc(name, cg.cobjPtr, a)
				bb := f.NewBlock("entry")
				v, kind := build(bb, pr.load(bb, a), nil)
				bb.NewRet(cg.boxKind(bb, v, kind))
				cg.thunks[name] = f
			} else {
				a := ir.NewParam("a", cg.cobjPtr)
				b := ir.NewParam("b", cg.cobjPtr)
				f := cg.m.NewFunc(name, cg.cobjPtr, a, b)
				bb := f.NewBlock("entry")
				x := pr.load(bb, a)
				y := pr.load(bb, b)
				v, kind := build(bb, x, y)
				bb.NewRet(cg.boxKind(bb, v, kind))
				cg.thunks[name] = f
			}
		}
	}

	cg.defineHeapifyThunks()
	cg.definePrintThunks()
	cg.defineArrThunks()
	cg.defineCallThunk()
}

/* ---------- heapify ---------- */

func (cg *codegen) defineHeapifyThunks() {
	mk := func(name string, size int64, payload types.Type) {
		a := ir.NewParam("a", cg.cobjPtr)
		f := cg.m.NewFunc(name, cg.cobjPtr, a)
		bb := f.NewBlock("entry")
		old := bb.NewBitCast(cg.objData(bb, a), types.NewPointer(payload))
		v := bb.NewLoad(payload, old)
		p := bb.NewCall(cg.mallocf, i64c(size))
		bb.NewStore(v, bb.NewBitCast(p, types.NewPointer(payload)))
		bb.NewStore(p, gepField(bb, cg.cobj, a, 0))
		bb.NewRet(a)
		cg.thunks[name] = f
	}
	mk("int_heapify", 4, types.I32)
	mk("float_heapify", 8, types.Double)
	mk("bool_heapify", 1, types.I8)
	mk("char_heapify", 1, types.I8)

	// Aggregates already live on the heap; their heapify is a no-op.
	a := ir.NewParam("a", cg.cobjPtr)
	f := cg.m.NewFunc("ref_heapify", cg.cobjPtr, a)
	bb := f.NewBlock("entry")
	bb.NewRet(a)
	cg.thunks["list_heapify"] = f
	cg.thunks["string_heapify"] = f
	cg.thunks["func_heapify"] = f
}

/* ---------- print ---------- */

func (cg *codegen) definePrintThunks() {
	mkFmt := func(name, format string, arg func(bb *ir.Block, obj value.Value) value.Value) {
		a := ir.NewParam("a", cg.cobjPtr)
		f := cg.m.NewFunc(name, cg.cobjPtr, a)
		bb := f.NewBlock("entry")
		bb.NewCall(cg.printf, cg.strConst(bb, format), arg(bb, a))
		bb.NewRet(a)
		cg.thunks[name] = f
	}
	mkFmt("int_print", "%d", func(bb *ir.Block, obj value.Value) value.Value {
		p := bb.NewBitCast(cg.objData(bb, obj), types.NewPointer(types.I32))
		return bb.NewLoad(types.I32, p)
	})
	mkFmt("float_print", "%g", func(bb *ir.Block, obj value.Value) value.Value {
		p := bb.NewBitCast(cg.objData(bb, obj), types.NewPointer(types.Double))
		return bb.NewLoad(types.Double, p)
	})
	mkFmt("bool_print", "%d", func(bb *ir.Block, obj value.Value) value.Value {
		return bb.NewZExt(bb.NewLoad(types.I8, cg.objData(bb, obj)), types.I32)
	})
	mkFmt("char_print", "%c", func(bb *ir.Block, obj value.Value) value.Value {
		return bb.NewZExt(bb.NewLoad(types.I8, cg.objData(bb, obj)), types.I32)
	})

	// list_print: "[" elem ", " elem ", " ... "]", dispatching each
	// element through its own print slot. The trailing ", " before "]" is
	// part of the observable format.
	{
		a := ir.NewParam("a", cg.cobjPtr)
		f := cg.m.NewFunc("list_print", cg.cobjPtr, a)
		pre := f.NewBlock("entry")
		pre.NewCall(cg.printf, cg.strConst(pre, "["))
		data, n := cg.listHdr(pre, a)
		after := cg.countLoop(f, pre, n, func(bb *ir.Block, i value.Value) *ir.Block {
			e := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, data, i))
			et := cg.objType(bb, e)
			p := cg.loadSlot(bb, et, "print")
			bb.NewCall(p, e)
			bb.NewCall(cg.printf, cg.strConst(bb, ", "))
			return bb
		})
		after.NewCall(cg.printf, cg.strConst(after, "]"))
		after.NewRet(a)
		cg.thunks["list_print"] = f
	}

	// string_print: characters in sequence, no separators, no brackets.
	{
		a := ir.NewParam("a", cg.cobjPtr)
		f := cg.m.NewFunc("string_print", cg.cobjPtr, a)
		pre := f.NewBlock("entry")
		data, n := cg.listHdr(pre, a)
		after := cg.countLoop(f, pre, n, func(bb *ir.Block, i value.Value) *ir.Block {
			e := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, data, i))
			et := cg.objType(bb, e)
			p := cg.loadSlot(bb, et, "print")
			bb.NewCall(p, e)
			return bb
		})
		after.NewRet(a)
		cg.thunks["string_print"] = f
	}
}

/* ---------- list & string ---------- */

func (cg *codegen) defineArrThunks() {
	// Concatenation copies element pointers shallowly.
	mkAdd := func(name string, cty *ir.Global) {
		a := ir.NewParam("a", cg.cobjPtr)
		b := ir.NewParam("b", cg.cobjPtr)
		f := cg.m.NewFunc(name, cg.cobjPtr, a, b)
		pre := f.NewBlock("entry")
		ad, an := cg.listHdr(pre, a)
		bd, bn := cg.listHdr(pre, b)
		total := pre.NewAdd(an, bn)
		r := pre.NewCall(cg.newArrFn, total, cty)
		rd, _ := cg.listHdr(pre, r)
		mid := cg.countLoop(f, pre, an, func(bb *ir.Block, i value.Value) *ir.Block {
			e := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, ad, i))
			bb.NewStore(e, bb.NewGetElementPtr(cg.cobjPtr, rd, i))
			return bb
		})
		after := cg.countLoop(f, mid, bn, func(bb *ir.Block, j value.Value) *ir.Block {
			e := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, bd, j))
			bb.NewStore(e, bb.NewGetElementPtr(cg.cobjPtr, rd, bb.NewAdd(an, j)))
			return bb
		})
		after.NewRet(r)
		cg.thunks[name] = f
	}
	mkAdd("list_add", cg.ctypes[TyArr])
	mkAdd("string_add", cg.ctypes[TyString])

	// Repetition: lst * k repeats the element pointers k times.
	mkMul := func(name string, cty *ir.Global) {
		a := ir.NewParam("a", cg.cobjPtr)
		b := ir.NewParam("b", cg.cobjPtr)
		f := cg.m.NewFunc(name, cg.cobjPtr, a, b)
		pre := f.NewBlock("entry")
		ad, an := cg.listHdr(pre, a)
		kp := pre.NewBitCast(cg.objData(pre, b), types.NewPointer(types.I32))
		k := pre.NewLoad(types.I32, kp)
		total := pre.NewMul(an, k)
		r := pre.NewCall(cg.newArrFn, total, cty)
		rd, _ := cg.listHdr(pre, r)
		after := cg.countLoop(f, pre, total, func(bb *ir.Block, i value.Value) *ir.Block {
			src := bb.NewSRem(i, an)
			e := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, ad, src))
			bb.NewStore(e, bb.NewGetElementPtr(cg.cobjPtr, rd, i))
			return bb
		})
		after.NewRet(r)
		cg.thunks[name] = f
	}
	mkMul("list_mul", cg.ctypes[TyArr])
	mkMul("string_mul", cg.ctypes[TyString])

	// list_idx returns the stored CObj* directly.
	{
		a := ir.NewParam("a", cg.cobjPtr)
		b := ir.NewParam("b", cg.cobjPtr)
		f := cg.m.NewFunc("list_idx", cg.cobjPtr, a, b)
		bb := f.NewBlock("entry")
		data, _ := cg.listHdr(bb, a)
		iv := cg.unbox(bb, b, TyInt)
		e := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, data, iv))
		bb.NewRet(e)
		cg.thunks["list_idx"] = f
	}

	// string_idx returns a fresh single-character string sharing the char
	// object.
	{
		a := ir.NewParam("a", cg.cobjPtr)
		b := ir.NewParam("b", cg.cobjPtr)
		f := cg.m.NewFunc("string_idx", cg.cobjPtr, a, b)
		bb := f.NewBlock("entry")
		data, _ := cg.listHdr(bb, a)
		iv := cg.unbox(bb, b, TyInt)
		e := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, data, iv))
		r := bb.NewCall(cg.newArrFn, i32(1), cg.ctypes[TyString])
		rd, _ := cg.listHdr(bb, r)
		bb.NewStore(e, bb.NewGetElementPtr(cg.cobjPtr, rd, i32(0)))
		bb.NewRet(r)
		cg.thunks["string_idx"] = f
	}

	// idx_parent returns a pointer to the element slot itself, shared by
	// lists and strings, so indexed assignment can store through it.
	{
		a := ir.NewParam("a", cg.cobjPtr)
		b := ir.NewParam("b", cg.cobjPtr)
		f := cg.m.NewFunc("list_idx_parent", cg.cobjPtrPtr, a, b)
		bb := f.NewBlock("entry")
		data, _ := cg.listHdr(bb, a)
		iv := cg.unbox(bb, b, TyInt)
		p := bb.NewGetElementPtr(cg.cobjPtr, data, iv)
		bb.NewRet(p)
		cg.thunks["list_idx_parent"] = f
		cg.thunks["string_idx_parent"] = f
	}

	// string_eq / string_neq: length plus charwise payload comparison.
	{
		a := ir.NewParam("a", cg.cobjPtr)
		b := ir.NewParam("b", cg.cobjPtr)
		f := cg.m.NewFunc("string_eq", cg.cobjPtr, a, b)
		pre := f.NewBlock("entry")
		acc := pre.NewAlloca(types.I1)
		pre.NewStore(constant.NewBool(true), acc)
		ad, an := cg.listHdr(pre, a)
		bd, bn := cg.listHdr(pre, b)
		sameBB := f.NewBlock(cg.name("str_eq_len"))
		diffBB := f.NewBlock(cg.name("str_eq_ne"))
		pre.NewCondBr(pre.NewICmp(enum.IPredEQ, an, bn), sameBB, diffBB)
		diffBB.NewRet(diffBB.NewCall(cg.boxBoolFn, constant.NewBool(false)))
		after := cg.countLoop(f, sameBB, an, func(bb *ir.Block, i value.Value) *ir.Block {
			ea := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, ad, i))
			eb := bb.NewLoad(cg.cobjPtr, bb.NewGetElementPtr(cg.cobjPtr, bd, i))
			ca := bb.NewLoad(types.I8, cg.objData(bb, ea))
			cb := bb.NewLoad(types.I8, cg.objData(bb, eb))
			same := bb.NewICmp(enum.IPredEQ, ca, cb)
			cur := bb.NewLoad(types.I1, acc)
			bb.NewStore(bb.NewAnd(cur, same), acc)
			return bb
		})
		after.NewRet(after.NewCall(cg.boxBoolFn, after.NewLoad(types.I1, acc)))
		cg.thunks["string_eq"] = f
	}
	{
		a := ir.NewParam("a", cg.cobjPtr)
		b := ir.NewParam("b", cg.cobjPtr)
		f := cg.m.NewFunc("string_neq", cg.cobjPtr, a, b)
		bb := f.NewBlock("entry")
		eq := bb.NewCall(cg.thunks["string_eq"], a, b)
		v := cg.unbox(bb, eq, TyBool)
		bb.NewRet(bb.NewCall(cg.boxBoolFn, bb.NewXor(v, constant.NewBool(true))))
		cg.thunks["string_neq"] = f
	}
}

/* ---------- call ---------- */

// func_call unwraps the generic function pointer stored in a function
// object's data field and invokes it on the packed argument vector.
func (cg *codegen) defineCallThunk() {
	a := ir.NewParam("f", cg.cobjPtr)
	argv := ir.NewParam("argv", cg.cobjPtrPtr)
	f := cg.m.NewFunc("func_call", cg.cobjPtr, a, argv)
	bb := f.NewBlock("entry")
	fp := bb.NewBitCast(cg.objData(bb, a), types.NewPointer(cg.genericFnTy))
	bb.NewRet(bb.NewCall(fp, argv))
	cg.thunks["func_call"] = f
}
