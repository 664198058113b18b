// codegen.go — IR emission: module setup, the object model, addressing,
// and the runtime check machinery.
//
// OVERVIEW
// --------
// The emitted program represents every value uniformly as a CObj — a data
// pointer plus a pointer to a CType dispatch table — and specializes
// operations when the semantic pass proved static types. The emitter owns
// the IR module, the type definitions, the extern declarations, the
// per-type operator thunks (codegen_ops.go), and a cache of specialized
// function definitions keyed by (source function identity, formal type
// tuple).
//
// Each name owns up to two slots: a raw slot holding an unboxed primitive
// and a box slot holding a CObj*. At any program point exactly one is
// live; Transform statements move liveness between them. Box slots are
// pre-pointed at the shared all-null sentinel object so use before
// definition is detectable at runtime.
//
// Allocas go into a dedicated alloca block that jumps to the first real
// block when the function is finished, so slots created lazily mid-branch
// still dominate every use.
package pyx

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// slotOrder is the fixed layout of the 20 CType slots.
var slotOrder = []string{
	"add", "sub", "mul", "div", "exp",
	"eq", "neq", "lt", "le", "gt", "ge",
	"and", "or",
	"idx", "idx_parent",
	"neg", "not",
	"heapify", "print", "call",
}

var slotIndex = func() map[string]int {
	m := make(map[string]int, len(slotOrder))
	for i, s := range slotOrder {
		m[s] = i
	}
	return m
}()

type specKey struct {
	fn   *Func
	args string
}

type codegen struct {
	m   *ir.Module
	opt Options

	// object model
	cobj, clist, ctype *types.StructType
	cobjPtr            *types.PointerType
	cobjPtrPtr         *types.PointerType
	clistPtr           *types.PointerType
	ctypePtr           *types.PointerType
	binFnTy            *types.FuncType // CObj* (CObj*, CObj*)
	unFnTy             *types.FuncType // CObj* (CObj*)
	idxParentFnTy      *types.FuncType // CObj** (CObj*, CObj*)
	callFnTy           *types.FuncType // CObj* (CObj*, CObj**)
	genericFnTy        *types.FuncType // CObj* (CObj**)

	// externs
	printf, exitf, powf, mallocf, snprintf *ir.Func

	// runtime helpers, emitted once
	boxFn      *ir.Func // pyx.box(i8*, CType*) -> CObj*
	boxIntFn   *ir.Func
	boxFloatFn *ir.Func
	boxBoolFn  *ir.Func
	newArrFn   *ir.Func // pyx.new_arr(i32, CType*) -> CObj*
	newStrFn   *ir.Func // pyx.new_string(i8*, i32) -> CObj*
	intStrFn   *ir.Func // pyx.int_to_string(i32) -> CObj*
	floatStrFn *ir.Func // pyx.float_to_string(double) -> CObj*

	// dispatch tables
	ctypes  map[Ty]*ir.Global // int, float, bool, string, list, func
	charTy  *ir.Global
	nullObj *ir.Global
	thunks  map[string]*ir.Func

	// caches
	optimFuncs   map[specKey]*ir.Func
	genericFuncs map[*Func]*ir.Func
	strConsts    map[string]*ir.Global
	fnNames      map[string]bool

	globals map[string]*symbol
	counter int
}

// fnName reserves a module-unique function name; a redefinition of the
// same source name gets a numeric suffix.
func (cg *codegen) fnName(base string) string {
	if !cg.fnNames[base] {
		cg.fnNames[base] = true
		return base
	}
	for i := 2; ; i++ {
		c := fmt.Sprintf("%s.%d", base, i)
		if !cg.fnNames[c] {
			cg.fnNames[c] = true
			return c
		}
	}
}

// Options controls emission.
type Options struct {
	// Exceptions enables the runtime check insertion of the emitter; when
	// false every runtime check is skipped.
	Exceptions bool
}

type addrKind int

const (
	kRaw addrKind = iota
	kBox
)

// symbol is the per-name addressing state: up to one raw slot and one box
// slot, with exactly one live at a time.
type symbol struct {
	raw          value.Value // pointer to a primitive slot, nil until needed
	rawTy        Ty
	box          value.Value // pointer to a CObj* slot, nil until needed
	live         addrKind
	needsHeapify bool
	global       bool
}

// fnctx is the emission state for one IR function.
type fnctx struct {
	f        *ir.Func
	bb       *ir.Block
	allocaBB *ir.Block
	startBB  *ir.Block
	syms     map[string]*symbol
	ret      Ty // declared return type; TyDyn for generic and main
	generic  bool
	isMain   bool
	loops    []loopCtx
}

type loopCtx struct {
	cont *ir.Block
	brk  *ir.Block
}

// cval is the result of lowering an expression: a raw primitive or a
// boxed CObj*.
type cval struct {
	raw value.Value
	box value.Value
	ty  Ty
}

func (v cval) isRaw() bool { return v.box == nil }

// rawable reports whether t has a raw (unboxed) representation.
func rawable(t Ty) bool { return t == TyInt || t == TyFloat || t == TyBool }

func (cg *codegen) name(prefix string) string {
	cg.counter++
	return fmt.Sprintf("%s_%d", prefix, cg.counter)
}

// Emit lowers an analyzed program to an IR module.
func Emit(prog *Program, opt Options) *ir.Module {
	cg := newCodegen(opt)
	cg.declareGlobals(prog.Globals)

	mainFn := cg.m.NewFunc("main", types.I32)
	fx := cg.newFnctx(mainFn, TyDyn, false)
	fx.isMain = true
	for _, s := range prog.Stmts {
		cg.stmt(fx, s)
	}
	cg.finish(fx, func(bb *ir.Block) {
		bb.NewRet(constant.NewInt(types.I32, 0))
	})
	return cg.m
}

func newCodegen(opt Options) *codegen {
	cg := &codegen{
		m:            ir.NewModule(),
		opt:          opt,
		ctypes:       make(map[Ty]*ir.Global),
		thunks:       make(map[string]*ir.Func),
		optimFuncs:   make(map[specKey]*ir.Func),
		genericFuncs: make(map[*Func]*ir.Func),
		strConsts:    make(map[string]*ir.Global),
		fnNames:      make(map[string]bool),
		globals:      make(map[string]*symbol),
	}
	cg.defineObjectModel()
	cg.declareExterns()
	// The dispatch-table globals are declared zero-initialized first so
	// helpers and thunks can point at them, then filled once the thunks
	// exist.
	cg.declareCTypes()
	cg.defineHelpers()
	cg.defineThunks()
	cg.fillCTypes()
	return cg
}

// defineObjectModel creates the mutually-referential CObj/CType/CList
// definitions. The structs are built empty, named, and their fields
// assigned afterwards so the function-pointer slots can mention CObj*.
func (cg *codegen) defineObjectModel() {
	i8ptr := types.NewPointer(types.I8)

	cg.cobj = types.NewStruct()
	cg.ctype = types.NewStruct()
	cg.clist = types.NewStruct()
	cg.m.NewTypeDef("struct.CObj", cg.cobj)
	cg.m.NewTypeDef("struct.CType", cg.ctype)
	cg.m.NewTypeDef("struct.CList", cg.clist)

	cg.cobjPtr = types.NewPointer(cg.cobj)
	cg.cobjPtrPtr = types.NewPointer(cg.cobjPtr)
	cg.ctypePtr = types.NewPointer(cg.ctype)
	cg.clistPtr = types.NewPointer(cg.clist)

	cg.binFnTy = types.NewFunc(cg.cobjPtr, cg.cobjPtr, cg.cobjPtr)
	cg.unFnTy = types.NewFunc(cg.cobjPtr, cg.cobjPtr)
	cg.idxParentFnTy = types.NewFunc(cg.cobjPtrPtr, cg.cobjPtr, cg.cobjPtr)
	cg.callFnTy = types.NewFunc(cg.cobjPtr, cg.cobjPtr, cg.cobjPtrPtr)
	cg.genericFnTy = types.NewFunc(cg.cobjPtr, cg.cobjPtrPtr)

	cg.cobj.Fields = []types.Type{i8ptr, cg.ctypePtr}
	// CString shares the CList layout: a CObj* array of char objects.
	cg.clist.Fields = []types.Type{cg.cobjPtrPtr, types.I32, types.I32}

	fields := make([]types.Type, len(slotOrder))
	for i, op := range slotOrder {
		fields[i] = types.NewPointer(cg.slotFnTy(op))
	}
	cg.ctype.Fields = fields
}

func (cg *codegen) slotFnTy(op string) *types.FuncType {
	switch op {
	case "idx_parent":
		return cg.idxParentFnTy
	case "neg", "not", "heapify", "print":
		return cg.unFnTy
	case "call":
		return cg.callFnTy
	default:
		return cg.binFnTy
	}
}

func (cg *codegen) declareExterns() {
	i8ptr := types.NewPointer(types.I8)
	cg.printf = cg.m.NewFunc("printf", types.I32, ir.NewParam("", i8ptr))
	cg.printf.Sig.Variadic = true
	cg.exitf = cg.m.NewFunc("exit", types.I32, ir.NewParam("", types.I32))
	cg.powf = cg.m.NewFunc("pow", types.Double, ir.NewParam("", types.Double), ir.NewParam("", types.Double))
	cg.mallocf = cg.m.NewFunc("malloc", i8ptr, ir.NewParam("", types.I64))
	cg.snprintf = cg.m.NewFunc("snprintf", types.I32, ir.NewParam("", i8ptr), ir.NewParam("", types.I64), ir.NewParam("", i8ptr))
	cg.snprintf.Sig.Variadic = true
}

/* ---------- constants & small IR helpers ---------- */

func i32(v int64) *constant.Int  { return constant.NewInt(types.I32, v) }
func i64c(v int64) *constant.Int { return constant.NewInt(types.I64, v) }

// strConst interns a NUL-terminated string constant and returns an i8*
// to its first character.
func (cg *codegen) strConst(bb *ir.Block, s string) value.Value {
	g, ok := cg.strConsts[s]
	if !ok {
		g = cg.m.NewGlobalDef(cg.name(".str"), constant.NewCharArrayFromString(s+"\x00"))
		g.Immutable = true
		cg.strConsts[s] = g
	}
	elemTy := g.Type().(*types.PointerType).ElemType
	ptr := bb.NewGetElementPtr(elemTy, g, i32(0), i32(0))
	ptr.InBounds = true
	return ptr
}

// gepField addresses field idx of the struct behind ptr.
func gepField(bb *ir.Block, structTy types.Type, ptr value.Value, idx int) value.Value {
	p := bb.NewGetElementPtr(structTy, ptr, i32(0), i32(int64(idx)))
	p.InBounds = true
	return p
}

func (cg *codegen) objData(bb *ir.Block, obj value.Value) value.Value {
	return bb.NewLoad(types.NewPointer(types.I8), gepField(bb, cg.cobj, obj, 0))
}

func (cg *codegen) objType(bb *ir.Block, obj value.Value) value.Value {
	return bb.NewLoad(cg.ctypePtr, gepField(bb, cg.cobj, obj, 1))
}

// loadSlot loads the function pointer in the named CType slot.
func (cg *codegen) loadSlot(bb *ir.Block, ctypeVal value.Value, op string) value.Value {
	idx, ok := slotIndex[op]
	if !ok {
		panic("internal error: unknown slot " + op)
	}
	fp := gepField(bb, cg.ctype, ctypeVal, idx)
	return bb.NewLoad(types.NewPointer(cg.slotFnTy(op)), fp)
}

// payloadTy is the in-box representation of a primitive: bools and chars
// are stored as one byte.
func payloadTy(t Ty) types.Type {
	switch t {
	case TyInt:
		return types.I32
	case TyFloat:
		return types.Double
	case TyBool:
		return types.I8
	}
	panic("internal error: no payload type for " + t.String())
}

// rawTy is the unboxed register representation of a primitive.
func rawTy(t Ty) types.Type {
	switch t {
	case TyInt:
		return types.I32
	case TyFloat:
		return types.Double
	case TyBool:
		return types.I1
	}
	panic("internal error: no raw type for " + t.String())
}

// unbox extracts the primitive payload of a boxed value of known type.
func (cg *codegen) unbox(bb *ir.Block, obj value.Value, t Ty) value.Value {
	d := cg.objData(bb, obj)
	p := bb.NewBitCast(d, types.NewPointer(payloadTy(t)))
	v := bb.NewLoad(payloadTy(t), p)
	if t == TyBool {
		return bb.NewTrunc(v, types.I1)
	}
	return v
}

// boxRaw heap-boxes a raw primitive.
func (cg *codegen) boxRaw(bb *ir.Block, v value.Value, t Ty) value.Value {
	switch t {
	case TyInt:
		return bb.NewCall(cg.boxIntFn, v)
	case TyFloat:
		return bb.NewCall(cg.boxFloatFn, v)
	case TyBool:
		return bb.NewCall(cg.boxBoolFn, v)
	}
	panic("internal error: cannot box raw " + t.String())
}

// asBox returns the boxed form of a value, heap-boxing raws.
func (cg *codegen) asBox(fx *fnctx, v cval) value.Value {
	if v.box != nil {
		return v.box
	}
	return cg.boxRaw(fx.bb, v.raw, v.ty)
}

// ctypeOf maps a static type to its dispatch-table global.
func (cg *codegen) ctypeOf(t Ty) *ir.Global {
	g, ok := cg.ctypes[t]
	if !ok {
		panic("internal error: no ctype for " + t.String())
	}
	return g
}

/* ---------- runtime checks ---------- */

// abortIf splits the current block on cond; the failing side prints msg
// and exits 1. Callers gate on cg.opt.Exceptions themselves.
func (cg *codegen) abortIf(fx *fnctx, cond value.Value, msg string) {
	failBB := fx.f.NewBlock(cg.name("fail"))
	contBB := fx.f.NewBlock(cg.name("cont"))
	fx.bb.NewCondBr(cond, failBB, contBB)
	failBB.NewCall(cg.printf, cg.strConst(failBB, msg+"\n"))
	failBB.NewCall(cg.exitf, i32(1))
	failBB.NewUnreachable()
	fx.bb = contBB
}

// checkObjType aborts unless obj's type pointer equals the table for t.
func (cg *codegen) checkObjType(fx *fnctx, obj value.Value, t Ty, msg string) {
	if !cg.opt.Exceptions {
		return
	}
	got := cg.objType(fx.bb, obj)
	bad := fx.bb.NewICmp(enum.IPredNE, got, cg.ctypeOf(t))
	cg.abortIf(fx, bad, msg)
}

// checkDefined aborts when obj is the uninitialized sentinel (null data).
func (cg *codegen) checkDefined(fx *fnctx, obj value.Value, name string) {
	if !cg.opt.Exceptions {
		return
	}
	d := cg.objData(fx.bb, obj)
	isNull := fx.bb.NewICmp(enum.IPredEQ, d, constant.NewNull(types.NewPointer(types.I8)))
	cg.abortIf(fx, isNull, fmt.Sprintf("RuntimeError: name '%s' is not defined", name))
}

// checkSlot aborts when a dispatch slot holds a null function pointer.
func (cg *codegen) checkSlot(fx *fnctx, slot value.Value, msg string) {
	if !cg.opt.Exceptions {
		return
	}
	null := constant.NewNull(slot.Type().(*types.PointerType))
	bad := fx.bb.NewICmp(enum.IPredEQ, slot, null)
	cg.abortIf(fx, bad, msg)
}

/* ---------- function scaffolding ---------- */

func (cg *codegen) newFnctx(f *ir.Func, ret Ty, generic bool) *fnctx {
	allocaBB := f.NewBlock(cg.name("alloca"))
	startBB := f.NewBlock(cg.name("entry"))
	return &fnctx{
		f:        f,
		bb:       startBB,
		allocaBB: allocaBB,
		startBB:  startBB,
		syms:     make(map[string]*symbol),
		ret:      ret,
		generic:  generic,
	}
}

// finish terminates the alloca block and gives the fall-off path its
// default return.
func (cg *codegen) finish(fx *fnctx, defRet func(bb *ir.Block)) {
	fx.allocaBB.NewBr(fx.startBB)
	if fx.bb.Term == nil {
		defRet(fx.bb)
	}
}

func (cg *codegen) defaultReturn(fx *fnctx) {
	if fx.ret != TyDyn && rawable(fx.ret) {
		switch fx.ret {
		case TyInt:
			fx.bb.NewRet(i32(0))
		case TyFloat:
			fx.bb.NewRet(constant.NewFloat(types.Double, 0))
		case TyBool:
			fx.bb.NewRet(constant.NewBool(false))
		}
		return
	}
	fx.bb.NewRet(cg.nullObj)
}

// lookup finds a name's symbol, falling back to the module globals.
func (fx *fnctx) lookup(cg *codegen, name string) *symbol {
	if s, ok := fx.syms[name]; ok {
		return s
	}
	if s, ok := cg.globals[name]; ok {
		return s
	}
	return nil
}

// ensureRaw lazily creates the raw slot for a primitive type. Local
// allocas live in the alloca block so they dominate all uses. A global
// whose raw slot was fixed at a different primitive type cannot get a
// second one; the caller falls back to boxed addressing.
func (cg *codegen) ensureRaw(fx *fnctx, s *symbol, t Ty) bool {
	if s.raw != nil && s.rawTy == t {
		return true
	}
	if s.global {
		return false
	}
	s.raw = fx.allocaBB.NewAlloca(rawTy(t))
	s.rawTy = t
	return true
}

// ensureBox lazily creates the box slot, pre-pointed at the sentinel.
func (cg *codegen) ensureBox(fx *fnctx, s *symbol) {
	if s.box != nil {
		return
	}
	if s.global {
		panic("internal error: global box slot missing")
	}
	slot := fx.allocaBB.NewAlloca(cg.cobjPtr)
	fx.allocaBB.NewStore(cg.nullObj, slot)
	s.box = slot
}

// declareLocals sets up the slots of a function's locals per their first
// inferred type: primitives get a raw slot, everything else a box slot
// pointed at the sentinel.
func (cg *codegen) declareLocals(fx *fnctx, locals []Binding) {
	for _, l := range locals {
		if _, ok := fx.syms[l.Name]; ok {
			continue
		}
		s := &symbol{}
		if rawable(l.Ty) {
			s.live = kRaw
			cg.ensureRawSym(fx, s, l.Ty)
		} else {
			s.live = kBox
			cg.ensureBoxSym(fx, s)
		}
		fx.syms[l.Name] = s
	}
}

func (cg *codegen) ensureRawSym(fx *fnctx, s *symbol, t Ty) {
	s.raw = fx.allocaBB.NewAlloca(rawTy(t))
	s.rawTy = t
}

func (cg *codegen) ensureBoxSym(fx *fnctx, s *symbol) {
	slot := fx.allocaBB.NewAlloca(cg.cobjPtr)
	fx.allocaBB.NewStore(cg.nullObj, slot)
	s.box = slot
}

// declareGlobals creates the module-level slots for the detected globals:
// a zero-initialized raw global for primitives plus a box global pointed
// at the sentinel, so either addressing mode is available to transforms
// and to function bodies that reach across the call boundary.
func (cg *codegen) declareGlobals(globals []Binding) {
	for _, g := range globals {
		if _, ok := cg.globals[g.Name]; ok {
			continue
		}
		s := &symbol{global: true, live: kBox}
		if rawable(g.Ty) {
			var init constant.Constant
			switch g.Ty {
			case TyInt:
				init = i32(0)
			case TyFloat:
				init = constant.NewFloat(types.Double, 0)
			case TyBool:
				init = constant.NewBool(false)
			}
			s.raw = cg.m.NewGlobalDef("g."+g.Name+".raw", init)
			s.rawTy = g.Ty
			s.live = kRaw
		}
		s.box = cg.m.NewGlobalDef("g."+g.Name+".box", cg.nullObj)
		cg.globals[g.Name] = s
	}
}

/* ---------- copied symbol state at branches ---------- */

// cloneSyms snapshots the addressing state so branch emission can diverge
// and be discarded; the transform suffixes bring both branches to the
// same final state.
func cloneSyms(in map[string]*symbol) map[string]*symbol {
	out := make(map[string]*symbol, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

// snapshotGlobals snapshots the shared global symbols' mutable flags.
func (cg *codegen) snapshotGlobals() map[string]symbol {
	out := make(map[string]symbol, len(cg.globals))
	for k, v := range cg.globals {
		out[k] = *v
	}
	return out
}

func (cg *codegen) restoreGlobals(snap map[string]symbol) {
	for k, v := range snap {
		*cg.globals[k] = v
	}
}
