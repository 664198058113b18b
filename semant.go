// semant.go — the type-inferring semantic pass.
//
// OVERVIEW
// --------
// Walks the untyped AST and produces the annotated SAST, threading a
// flow-sensitive environment through recursive descent. Each name maps to
// (explicit type, inferred type, associated function AST). The explicit
// type is the user's annotation (Dyn when absent) and never widens on its
// own; the inferred type follows the dataflow. Branches analyze against
// independent clones of the environment and are reconciled at the join by
// transform synthesis (transform.go), which may dynify disagreeing names.
//
// Calls to statically-known functions re-analyze the callee body against
// the argument types at the call site, producing a specialized function
// record; a call-stack memo keyed by (function identity, formal type
// tuple) breaks recursion by answering Dyn and letting the generic boxed
// path take over. Calls whose callee is not statically known become a
// stage that dynifies every tracked name across the boundary and restores
// it after.
//
// The noeval flag is set while scanning a function body at declaration
// time: unknown names read as Dyn instead of failing, since globals the
// body mentions may not be bound yet. That same scan produces the generic
// (boxed-convention) record for the function.
package pyx

import (
	"fmt"
	"reflect"
	"sort"
)

// EnvBinding is the per-name triple threaded by the analyzer.
type EnvBinding struct {
	Exp Ty    // user annotation; TyDyn when none
	Inf Ty    // current flow-sensitive type
	Fn  *Func // function AST when the value is a statically-known function
}

// Env maps names to bindings. It is cloned at every branch so each arm
// may diverge before the join reconciles them.
type Env map[string]EnvBinding

func (e Env) Clone() Env {
	c := make(Env, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}

// sortedNames returns the environment's names in a fixed order, so any
// output derived from iteration is deterministic.
func (e Env) sortedNames() []string {
	names := make([]string, 0, len(e))
	for n := range e {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func envEqual(a, b Env) bool { return reflect.DeepEqual(a, b) }

// retInfo is the running return-type summary of a function body.
type retInfo struct {
	ty      Ty
	returns bool
}

// mergeRet joins the return summaries of two branches: both returning the
// same type keeps it; any disagreement, including one branch not
// returning at all, degrades to Dyn.
func mergeRet(a, b retInfo) retInfo {
	if a.returns && b.returns {
		if a.ty == b.ty {
			return a
		}
		return retInfo{ty: TyDyn, returns: true}
	}
	if a.returns || b.returns {
		return retInfo{ty: TyDyn, returns: true}
	}
	return retInfo{}
}

// scope records the bindings a function (or the top level) creates, in
// first-binding order, with the type each had when first bound.
type scope struct {
	order []string
	tys   map[string]Ty
}

func newScope() *scope { return &scope{tys: make(map[string]Ty)} }

func (s *scope) add(name string, ty Ty) {
	if _, ok := s.tys[name]; ok {
		return
	}
	s.tys[name] = ty
	s.order = append(s.order, name)
}

func (s *scope) bindings() []Binding {
	out := make([]Binding, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, Binding{Name: n, Ty: s.tys[n]})
	}
	return out
}

// state is threaded by value-ish through the walk: env is cloned at
// forks, the scope pointer is shared within one function.
type state struct {
	env           Env
	sc            *scope
	inFunction    bool
	inConditional bool
	inLoop        bool
	noeval        bool
	ret           retInfo
}

func (st *state) fork() *state {
	c := *st
	c.env = st.env.Clone()
	return &c
}

// noteReturn accumulates a return statement into the running summary:
// the first return sets the type, later disagreeing ones degrade to Dyn.
func (st *state) noteReturn(ty Ty) {
	if !st.ret.returns {
		st.ret = retInfo{ty: ty, returns: true}
		return
	}
	if st.ret.ty != ty {
		st.ret.ty = TyDyn
	}
}

type memoKey struct {
	fn   *Func
	args string
}

// Analyzer holds the cross-statement machinery: the call-stack memo that
// guards recursive specialization and the set of top-level names, which
// is what a callee keeps in scope.
type Analyzer struct {
	memo map[memoKey]bool
	top  *scope
}

func (a *Analyzer) isGlobal(name string) bool {
	_, ok := a.top.tys[name]
	return ok
}

// Analyze runs the semantic pass over a parsed program.
func Analyze(prog *Block) (*Program, error) {
	a := &Analyzer{memo: make(map[memoKey]bool), top: newScope()}
	st := &state{env: make(Env), sc: a.top}
	var out []SStmt
	for _, s := range prog.Stmts {
		ss, err := a.stmt(s, st)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return &Program{Stmts: out, Globals: st.sc.bindings(), Env: st.env}, nil
}

func tupleKey(tys []Ty) string {
	k := ""
	for _, t := range tys {
		k += "." + t.String()
	}
	return k
}

/* ---------- expressions ---------- */

// expr returns the annotated expression plus the function AST the value
// is statically known to be, when it is one.
func (a *Analyzer) expr(e Expr, st *state) (SExpr, *Func, error) {
	switch e := e.(type) {
	case *Lit:
		return &SLit{Kind: e.Kind, IntVal: e.IntVal, FloatVal: e.FloatVal, BoolVal: e.BoolVal, StrVal: e.StrVal}, nil, nil
	case *Var:
		b, ok := st.env[e.Name]
		if !ok {
			if st.noeval {
				return &SVar{Name: e.Name, Ty: TyDyn}, nil, nil
			}
			return nil, nil, diagf(DiagName, e.Pos, "name '%s' is not defined", e.Name)
		}
		return &SVar{Name: e.Name, Ty: b.Inf}, b.Fn, nil
	case *Binop:
		l, _, err := a.expr(e.L, st)
		if err != nil {
			return nil, nil, err
		}
		r, _, err := a.expr(e.R, st)
		if err != nil {
			return nil, nil, err
		}
		ty, err := binopType(e.Op, l.Type(), r.Type(), e.Pos)
		if err != nil {
			return nil, nil, err
		}
		return &SBinop{Op: e.Op, L: l, R: r, Ty: ty}, nil, nil
	case *Unop:
		se, _, err := a.expr(e.E, st)
		if err != nil {
			return nil, nil, err
		}
		ty, err := unopType(e.Op, se.Type(), e.Pos)
		if err != nil {
			return nil, nil, err
		}
		return &SUnop{Op: e.Op, E: se, Ty: ty}, nil, nil
	case *Call:
		return a.call(e, st)
	case *List:
		var elems []SExpr
		elemTy := TyDyn
		for i, el := range e.Elems {
			se, _, err := a.expr(el, st)
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				elemTy = se.Type()
			} else if se.Type() != elemTy {
				elemTy = TyDyn
			}
			elems = append(elems, se)
		}
		// Empty list literals stay Dyn and never specialize.
		ty := TyArr
		if len(elems) == 0 {
			ty = TyDyn
			elemTy = TyDyn
		}
		return &SList{Elems: elems, Elem: elemTy, Ty: ty}, nil, nil
	case *ListAccess:
		lst, idx, err := a.listTarget(e, st)
		if err != nil {
			return nil, nil, err
		}
		ty := TyDyn
		if lst.Type() == TyString {
			ty = TyString
		}
		return &SListAccess{Lst: lst, Idx: idx, Ty: ty}, nil, nil
	case *Cast:
		se, _, err := a.expr(e.E, st)
		if err != nil {
			return nil, nil, err
		}
		if err := checkCast(se.Type(), e.To, e.Pos); err != nil {
			return nil, nil, err
		}
		return &SCast{E: se, To: e.To}, nil, nil
	case *Field:
		return nil, nil, diagf(DiagNotImplemented, e.Pos, "attribute access is not implemented")
	case *Method:
		return nil, nil, diagf(DiagNotImplemented, e.Pos, "method calls are not implemented")
	}
	panic(fmt.Sprintf("internal error: unhandled expression %T", e))
}

// listTarget analyzes the list and index of an access or indexed
// assignment and enforces the static rules for both.
func (a *Analyzer) listTarget(e *ListAccess, st *state) (SExpr, SExpr, error) {
	lst, _, err := a.expr(e.Lst, st)
	if err != nil {
		return nil, nil, err
	}
	if t := lst.Type(); t != TyDyn && !IsArr(t) {
		return nil, nil, diagf(DiagType, e.Pos, "unsupported operand type(s) for list access")
	}
	idx, _, err := a.expr(e.Idx, st)
	if err != nil {
		return nil, nil, err
	}
	if t := idx.Type(); t != TyInt && t != TyDyn {
		return nil, nil, diagf(DiagType, e.Pos, "list indices must be integers")
	}
	return lst, idx, nil
}

func isCmp(op Op) bool {
	switch op {
	case OpEq, OpNeq, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

func isArith(op Op) bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpExp:
		return true
	}
	return false
}

// binopType is the operator-specific result-type table.
func binopType(op Op, l, r Ty, p Pos) (Ty, error) {
	if l == TyDyn || r == TyDyn {
		return TyDyn, nil
	}
	fail := func() (Ty, error) {
		return TyDyn, diagf(DiagType, p, "unsupported operand type(s) for binary %s", op)
	}
	switch {
	case isArith(op):
		// Int and Bool mix freely in arithmetic and produce Int; Int
		// widens to Float when the other operand is Float.
		if (l == TyInt && r == TyBool) || (l == TyBool && r == TyInt) {
			return TyInt, nil
		}
		if (l == TyFloat && r == TyInt) || (l == TyInt && r == TyFloat) {
			return TyFloat, nil
		}
		if l == r && (l == TyInt || l == TyFloat) {
			return l, nil
		}
		if l == r && l == TyBool {
			if op == OpDiv {
				return fail()
			}
			return TyBool, nil
		}
		if op == OpAdd && l == r && IsArr(l) {
			return l, nil
		}
		if op == OpMul && IsArr(l) && r == TyInt {
			return l, nil
		}
		return fail()
	case isCmp(op):
		if l != r {
			return fail()
		}
		if (op == OpLt || op == OpLe || op == OpGt || op == OpGe) && l == TyString {
			return fail()
		}
		if l == TyArr || l == TyFunc || l == TyNull || l == TyObject {
			return fail()
		}
		return TyBool, nil
	case op == OpAnd || op == OpOr:
		if l == r && (l == TyInt || l == TyBool) {
			return l, nil
		}
		return fail()
	}
	return fail()
}

func unopType(op Op, t Ty, p Pos) (Ty, error) {
	if t == TyDyn {
		return TyDyn, nil
	}
	switch op {
	case OpNeg:
		if t == TyInt || t == TyFloat || t == TyBool {
			return t, nil
		}
	case OpNot:
		if t == TyInt || t == TyBool {
			return t, nil
		}
	}
	return TyDyn, diagf(DiagType, p, "unsupported operand type for unary %s", op)
}

// checkCast enforces the cast legality rules: source and target must
// differ, the target must be a concrete castable type, and the pair must
// be Dyn-sourced, or numeric-sourced with a numeric or String target.
// Lists and functions cannot be cast to String, and a String source
// cannot be cast to a numeric type.
func checkCast(from, to Ty, p Pos) error {
	switch to {
	case TyDyn, TyArr, TyFunc, TyNull, TyObject:
		return diagf(DiagType, p, "cannot cast to %s", to)
	}
	if from == to {
		return diagf(DiagType, p, "cast from %s to %s is redundant", from, to)
	}
	if from == TyDyn {
		return nil
	}
	if IsNumeric(from) && (IsNumeric(to) || to == TyString) {
		return nil
	}
	return diagf(DiagType, p, "cannot cast %s to %s", from, to)
}

/* ---------- assignment ---------- */

// assign binds name to a value of type rhsTy under declared annotation
// decl, applying the rule matrix. It returns the runtime check type the
// generator must enforce at this assignment, when one is needed.
func (a *Analyzer) assign(st *state, name string, decl, rhsTy Ty, rhsFn *Func, p Pos) (Ty, bool, error) {
	b, present := st.env[name]
	if !present {
		if decl != TyDyn && st.inConditional {
			return TyDyn, false, diagf(DiagSyntax, p, "cannot declare a typed name inside a conditional branch")
		}
		inf := rhsTy
		check := TyDyn
		hasCheck := false
		if decl != TyDyn {
			if rhsTy != TyDyn && rhsTy != decl {
				return TyDyn, false, diagf(DiagType, p, "invalid type assigned to %s", name)
			}
			inf = decl
			if rhsTy == TyDyn {
				check, hasCheck = decl, true
			}
		}
		st.env[name] = EnvBinding{Exp: decl, Inf: inf, Fn: rhsFn}
		st.sc.add(name, inf)
		return check, hasCheck, nil
	}

	exp := b.Exp
	if decl != TyDyn {
		if exp != TyDyn && exp != decl {
			return TyDyn, false, diagf(DiagType, p, "invalid type assigned to %s", name)
		}
		exp = decl
	}
	if exp == TyDyn {
		st.env[name] = EnvBinding{Exp: exp, Inf: rhsTy, Fn: rhsFn}
		return TyDyn, false, nil
	}
	// Concrete annotation: matching types pass, Dyn right-hand sides get a
	// runtime check, anything else is a static error.
	switch rhsTy {
	case exp:
		st.env[name] = EnvBinding{Exp: exp, Inf: exp, Fn: rhsFn}
		return TyDyn, false, nil
	case TyDyn:
		st.env[name] = EnvBinding{Exp: exp, Inf: exp, Fn: rhsFn}
		return exp, true, nil
	default:
		return TyDyn, false, diagf(DiagType, p, "invalid type assigned to %s", name)
	}
}

/* ---------- calls ---------- */

func (a *Analyzer) call(e *Call, st *state) (SExpr, *Func, error) {
	callee, fn, err := a.expr(e.Fn, st)
	if err != nil {
		return nil, nil, err
	}
	if t := callee.Type(); t != TyFunc && t != TyDyn {
		return nil, nil, diagf(DiagType, e.Pos, "'%s' object is not callable", t)
	}
	var args []SExpr
	for _, arg := range e.Args {
		sa, _, err := a.expr(arg, st)
		if err != nil {
			return nil, nil, err
		}
		args = append(args, sa)
	}

	if fn != nil {
		if len(args) != len(fn.Formals) {
			return nil, nil, diagf(DiagType, e.Pos, "%s() takes %d arguments (%d given)", fn.Name, len(fn.Formals), len(args))
		}
		sc, ty, hit, err := a.specialize(fn, args, st, e.Pos)
		if err != nil {
			return nil, nil, err
		}
		if !hit {
			return &SCall{Callee: callee, Args: args, Res: &SFuncRes{Decl: sc}, Ty: ty}, nil, nil
		}
		// Recursive revisit: fall through to the generic path.
	}
	entry, exit := a.stageTransforms(st)
	return &SCall{Callee: callee, Args: args, Res: &SStageRes{Entry: entry, Exit: exit}, Ty: TyDyn}, nil, nil
}

// stageTransforms dynifies every tracked name with a concrete inferred
// type across a generic call boundary and restores it afterwards. The
// environment ends where it started; the restore is runtime-checked.
func (a *Analyzer) stageTransforms(st *state) (entry, exit []SStmt) {
	for _, n := range st.env.sortedNames() {
		b := st.env[n]
		if b.Inf == TyDyn {
			continue
		}
		entry = append(entry, &STransform{Name: n, From: b.Inf, To: TyDyn})
		exit = append(exit, &STransform{Name: n, From: TyDyn, To: b.Inf})
	}
	return entry, exit
}

// specialize re-analyzes fn's body against the argument types at this
// call site. hit reports a call-stack memo revisit, in which case no
// record is produced and the caller must use the generic path.
func (a *Analyzer) specialize(fn *Func, args []SExpr, st *state, p Pos) (*SFuncDecl, Ty, bool, error) {
	// Function scope: the callee sees only the globals, with their
	// explicit types cleared so its own annotations win. Caller locals do
	// not leak in.
	fenv := make(Env, len(st.env))
	for n, b := range st.env {
		if !a.isGlobal(n) {
			continue
		}
		fenv[n] = EnvBinding{Exp: TyDyn, Inf: b.Inf, Fn: b.Fn}
	}
	fst := &state{env: fenv, sc: newScope(), inFunction: true, noeval: st.noeval}
	checks := make([]Ty, len(fn.Formals))
	for i, f := range fn.Formals {
		if _, _, err := a.assign(fst, f.Name, f.Ty, args[i].Type(), nil, p); err != nil {
			return nil, TyDyn, false, err
		}
		checks[i] = f.Ty
	}
	formals := make([]Binding, len(fn.Formals))
	formalTys := make([]Ty, len(fn.Formals))
	for i, f := range fn.Formals {
		formals[i] = Binding{Name: f.Name, Ty: fenv[f.Name].Inf}
		formalTys[i] = fenv[f.Name].Inf
	}

	key := memoKey{fn: fn, args: tupleKey(formalTys)}
	if a.memo[key] {
		return nil, TyDyn, true, nil
	}
	a.memo[key] = true
	defer delete(a.memo, key)

	// Formals are part of the formal list, not the locals list.
	fst.sc = newScope()
	body, err := a.stmt(fn.Body, fst)
	if err != nil {
		return nil, TyDyn, false, err
	}

	ret, err := a.checkReturn(fn, fst.ret, p)
	if err != nil {
		return nil, TyDyn, false, err
	}
	decl := &SFuncDecl{
		Name:         fn.Name,
		Ret:          ret,
		Formals:      formals,
		FormalChecks: checks,
		Locals:       fst.sc.bindings(),
		Body:         body,
		Orig:         fn,
	}
	return decl, ret, false, nil
}

// checkReturn reconciles the observed return summary with the declared
// return type: concrete vs concrete must match, Dyn is permissive, and a
// concrete declaration with no return at all is an error.
func (a *Analyzer) checkReturn(fn *Func, ret retInfo, p Pos) (Ty, error) {
	if fn.Ret != TyDyn {
		if !ret.returns {
			return TyDyn, diagf(DiagType, p, "invalid return type (expected %s)", fn.Ret)
		}
		if ret.ty != TyDyn && ret.ty != fn.Ret {
			return TyDyn, diagf(DiagType, p, "invalid return type (expected %s)", fn.Ret)
		}
		return fn.Ret, nil
	}
	if !ret.returns {
		return TyDyn, nil
	}
	return ret.ty, nil
}

/* ---------- statements ---------- */

func (a *Analyzer) stmt(s Stmt, st *state) (SStmt, error) {
	switch s := s.(type) {
	case *Block:
		blk := &SBlock{}
		for _, sub := range s.Stmts {
			ss, err := a.stmt(sub, st)
			if err != nil {
				return nil, err
			}
			blk.Stmts = append(blk.Stmts, ss)
		}
		return blk, nil
	case *Asn:
		return a.asn(s, st)
	case *If:
		return a.ifStmt(s, st)
	case *While:
		return a.whileStmt(s, st)
	case *For:
		return a.forStmt(s, st)
	case *Range:
		return a.rangeStmt(s, st)
	case *Return:
		return a.returnStmt(s, st)
	case *Func:
		return a.funcStmt(s, st)
	case *ExprStmt:
		se, _, err := a.expr(s.E, st)
		if err != nil {
			return nil, err
		}
		return &SExprStmt{E: se}, nil
	case *Print:
		se, _, err := a.expr(s.E, st)
		if err != nil {
			return nil, err
		}
		return &SPrint{E: se}, nil
	case *TypeAnn:
		if _, _, err := a.assign(st, s.Name, s.Ty, TyDyn, nil, s.Pos); err != nil {
			return nil, err
		}
		// Declaration only; the slot materializes at first store.
		return &SNop{}, nil
	case *Nop:
		return &SNop{}, nil
	case *Import:
		// Import resolution happens in the driver; nothing to emit here.
		return &SNop{}, nil
	case *Class:
		return nil, diagf(DiagNotImplemented, s.Pos, "classes are not implemented")
	case *Continue:
		if !st.inLoop {
			return nil, diagf(DiagSyntax, s.Pos, "'continue' outside loop")
		}
		return &SContinue{}, nil
	case *Break:
		if !st.inLoop {
			return nil, diagf(DiagSyntax, s.Pos, "'break' outside loop")
		}
		return &SBreak{}, nil
	}
	panic(fmt.Sprintf("internal error: unhandled statement %T", s))
}

func (a *Analyzer) asn(s *Asn, st *state) (SStmt, error) {
	val, fn, err := a.expr(s.Value, st)
	if err != nil {
		return nil, err
	}
	var targets []SLval
	for _, tgt := range s.Targets {
		switch tgt := tgt.(type) {
		case *Var:
			check, hasCheck, err := a.assign(st, tgt.Name, s.Decl, val.Type(), fn, s.Pos)
			if err != nil {
				return nil, err
			}
			targets = append(targets, &LName{Name: tgt.Name, Ty: st.env[tgt.Name].Inf, Check: check, HasCheck: hasCheck})
		case *ListAccess:
			if s.Decl != TyDyn {
				return nil, diagf(DiagSyntax, s.Pos, "only a name can be annotated")
			}
			lst, idx, err := a.listTarget(tgt, st)
			if err != nil {
				return nil, err
			}
			targets = append(targets, &LIndex{Lst: lst, Idx: idx})
		default:
			return nil, diagf(DiagSyntax, s.Pos, "invalid assignment target")
		}
	}
	return &SAsn{Targets: targets, Value: val}, nil
}

func (a *Analyzer) condExpr(e Expr, st *state, where string) (SExpr, error) {
	cond, _, err := a.expr(e, st)
	if err != nil {
		return nil, err
	}
	if t := cond.Type(); t != TyBool && t != TyDyn {
		return nil, diagf(DiagType, e.At(), "invalid boolean type in %s statement", where)
	}
	return cond, nil
}

func (a *Analyzer) ifStmt(s *If, st *state) (SStmt, error) {
	cond, err := a.condExpr(s.Cond, st, "if")
	if err != nil {
		return nil, err
	}

	thenSt := st.fork()
	thenSt.inConditional = true
	sThen, err := a.stmt(s.Then, thenSt)
	if err != nil {
		return nil, err
	}

	elseSt := st.fork()
	elseSt.inConditional = true
	var sElse SStmt = &SBlock{}
	if s.Else != nil {
		sElse, err = a.stmt(s.Else, elseSt)
		if err != nil {
			return nil, err
		}
	}
	st.ret = mergeRet(thenSt.ret, elseSt.ret)

	if envEqual(thenSt.env, elseSt.env) {
		st.env = thenSt.env
		return &SIf{Cond: cond, Then: sThen, Else: sElse}, nil
	}
	merged, exitThen, exitElse, newDyn := mergeEnvs(thenSt.env, elseSt.env)
	st.env = merged
	for _, n := range newDyn {
		st.sc.add(n, TyDyn)
	}
	return &SIf{
		Cond: cond,
		Then: appendStmts(sThen, exitThen),
		Else: appendStmts(sElse, exitElse),
	}, nil
}

// appendStmts tacks the join transforms onto the end of a branch body.
func appendStmts(body SStmt, extra []SStmt) SStmt {
	if len(extra) == 0 {
		return body
	}
	if blk, ok := body.(*SBlock); ok {
		return &SBlock{Stmts: append(append([]SStmt{}, blk.Stmts...), extra...)}
	}
	return &SBlock{Stmts: append([]SStmt{body}, extra...)}
}

// stabilizeLoop runs trial passes of a loop body until the environment
// reaches a fixed point, accumulating the entry transforms that dynify
// every name whose type the body can change. bind is called before each
// body pass to introduce the loop variable (nil for while).
func (a *Analyzer) stabilizeLoop(body Stmt, st *state, bind func(*state) error) ([]SStmt, error) {
	var entry []SStmt
	for {
		trial := st.fork()
		trial.sc = newScope()
		trial.inLoop = true
		trial.inConditional = true
		if bind != nil {
			if err := bind(trial); err != nil {
				return nil, err
			}
		}
		if _, err := a.stmt(body, trial); err != nil {
			return nil, err
		}
		changed := false
		for _, n := range st.env.sortedNames() {
			pre := st.env[n]
			post := trial.env[n]
			if (post.Inf != pre.Inf || post.Fn != pre.Fn) && pre.Inf != TyDyn {
				entry = append(entry, &STransform{Name: n, From: pre.Inf, To: TyDyn})
				st.env[n] = EnvBinding{Exp: pre.Exp, Inf: TyDyn}
				changed = true
			}
		}
		for _, n := range trial.env.sortedNames() {
			if _, ok := st.env[n]; ok {
				continue
			}
			// Bound only inside the loop body: visible after the loop as an
			// uninitialized Dyn box, since the body may run zero times.
			st.env[n] = EnvBinding{Exp: trial.env[n].Exp, Inf: TyDyn}
			st.sc.add(n, TyDyn)
			changed = true
		}
		if !changed {
			return entry, nil
		}
	}
}

// backEdgeTransforms reconciles the loop body's final environment with
// the merged loop-head environment, so the back edge and the exit edge
// leave every name in the head's slot.
func (a *Analyzer) backEdgeTransforms(head Env, body Env) []SStmt {
	var out []SStmt
	for _, n := range head.sortedNames() {
		h := head[n]
		b, ok := body[n]
		if !ok {
			continue
		}
		if h.Inf == TyDyn && b.Inf != TyDyn {
			out = append(out, &STransform{Name: n, From: b.Inf, To: TyDyn})
		}
	}
	return out
}

// loopExit restores concretely-annotated names to their raw slots after a
// dynifying loop; unannotated names stay Dyn.
func (a *Analyzer) loopExit(entry []SStmt, st *state) []SStmt {
	var exit []SStmt
	for _, t := range entry {
		tr := t.(*STransform)
		b := st.env[tr.Name]
		if b.Exp != TyDyn && b.Inf == TyDyn {
			exit = append(exit, &STransform{Name: tr.Name, From: TyDyn, To: b.Exp})
			st.env[tr.Name] = EnvBinding{Exp: b.Exp, Inf: b.Exp}
		}
	}
	return exit
}

func (a *Analyzer) whileStmt(s *While, st *state) (SStmt, error) {
	entry, err := a.stabilizeLoop(s.Body, st, nil)
	if err != nil {
		return nil, err
	}
	cond, err := a.condExpr(s.Cond, st, "while")
	if err != nil {
		return nil, err
	}
	bodySt := st.fork()
	bodySt.inLoop = true
	bodySt.inConditional = true
	body, err := a.stmt(s.Body, bodySt)
	if err != nil {
		return nil, err
	}
	body = appendStmts(body, a.backEdgeTransforms(st.env, bodySt.env))
	st.ret = mergeRet(st.ret, bodySt.ret)
	exit := a.loopExit(entry, st)
	return &SStage{Entry: entry, Body: &SWhile{Cond: cond, Body: body}, Exit: exit}, nil
}

func (a *Analyzer) forStmt(s *For, st *state) (SStmt, error) {
	iter, _, err := a.expr(s.Iter, st)
	if err != nil {
		return nil, err
	}
	if t := iter.Type(); t != TyDyn && !IsArr(t) {
		return nil, diagf(DiagType, s.Pos, "unsupported operand type(s) for list access")
	}
	elemTy := TyDyn
	if iter.Type() == TyString {
		elemTy = TyString
	}
	bindVar := func(tr *state) error {
		_, _, err := a.assign(tr, s.Var, TyDyn, elemTy, nil, s.Pos)
		return err
	}
	entry, err := a.stabilizeLoop(s.Body, st, bindVar)
	if err != nil {
		return nil, err
	}
	bodySt := st.fork()
	bodySt.inLoop = true
	bodySt.inConditional = true
	if err := bindVar(bodySt); err != nil {
		return nil, err
	}
	body, err := a.stmt(s.Body, bodySt)
	if err != nil {
		return nil, err
	}
	body = appendStmts(body, a.backEdgeTransforms(st.env, bodySt.env))
	st.ret = mergeRet(st.ret, bodySt.ret)
	exit := a.loopExit(entry, st)
	return &SStage{Entry: entry, Body: &SFor{Var: s.Var, VarTy: elemTy, Iter: iter, Body: body}, Exit: exit}, nil
}

func (a *Analyzer) rangeStmt(s *Range, st *state) (SStmt, error) {
	n, _, err := a.expr(s.N, st)
	if err != nil {
		return nil, err
	}
	if t := n.Type(); t != TyInt && t != TyDyn {
		return nil, diagf(DiagType, s.Pos, "range bound must be an integer")
	}
	bindVar := func(tr *state) error {
		_, _, err := a.assign(tr, s.Var, TyDyn, TyInt, nil, s.Pos)
		return err
	}
	// The counter is an int at first binding even though it joins the
	// post-loop environment as Dyn.
	if _, ok := st.env[s.Var]; !ok {
		st.sc.add(s.Var, TyInt)
	}
	entry, err := a.stabilizeLoop(s.Body, st, bindVar)
	if err != nil {
		return nil, err
	}
	bodySt := st.fork()
	bodySt.inLoop = true
	bodySt.inConditional = true
	if err := bindVar(bodySt); err != nil {
		return nil, err
	}
	body, err := a.stmt(s.Body, bodySt)
	if err != nil {
		return nil, err
	}
	body = appendStmts(body, a.backEdgeTransforms(st.env, bodySt.env))
	st.ret = mergeRet(st.ret, bodySt.ret)
	exit := a.loopExit(entry, st)
	return &SStage{Entry: entry, Body: &SRange{Var: s.Var, N: n, Body: body}, Exit: exit}, nil
}

func (a *Analyzer) returnStmt(s *Return, st *state) (SStmt, error) {
	if !st.inFunction {
		return nil, diagf(DiagSyntax, s.Pos, "'return' outside function")
	}
	if s.Value == nil {
		st.noteReturn(TyNull)
		return &SReturn{}, nil
	}
	val, _, err := a.expr(s.Value, st)
	if err != nil {
		return nil, err
	}
	st.noteReturn(val.Type())
	return &SReturn{Value: val}, nil
}

// funcStmt scans the declared body once under noeval — catching duplicate
// formals, malformed statements, and shape errors early while leaving
// forward-referenced globals unresolved — and the result of that scan is
// the function's generic boxed-convention record.
func (a *Analyzer) funcStmt(s *Func, st *state) (SStmt, error) {
	seen := map[string]bool{}
	for _, f := range s.Formals {
		if seen[f.Name] {
			return nil, diagf(DiagSyntax, s.Pos, "duplicate formal '%s'", f.Name)
		}
		seen[f.Name] = true
	}

	fenv := make(Env, len(st.env))
	for n, b := range st.env {
		if !a.isGlobal(n) {
			continue
		}
		fenv[n] = EnvBinding{Exp: TyDyn, Inf: b.Inf, Fn: b.Fn}
	}
	fst := &state{env: fenv, sc: newScope(), inFunction: true, noeval: true}
	checks := make([]Ty, len(s.Formals))
	formals := make([]Binding, len(s.Formals))
	for i, f := range s.Formals {
		if _, _, err := a.assign(fst, f.Name, f.Ty, f.Ty, nil, s.Pos); err != nil {
			return nil, err
		}
		checks[i] = f.Ty
		formals[i] = Binding{Name: f.Name, Ty: fenv[f.Name].Inf}
	}
	fst.sc = newScope()
	body, err := a.stmt(s.Body, fst)
	if err != nil {
		return nil, err
	}
	if _, err := a.checkReturn(s, fst.ret, s.Pos); err != nil {
		return nil, err
	}

	decl := &SFuncDecl{
		Name:         s.Name,
		Ret:          TyDyn, // the generic convention always returns a box
		Formals:      formals,
		FormalChecks: checks,
		Locals:       fst.sc.bindings(),
		Body:         body,
		Orig:         s,
		Generic:      true,
	}
	if _, _, err := a.assignFunc(st, s); err != nil {
		return nil, err
	}
	return &SFunc{Decl: decl}, nil
}

// assignFunc binds a function name: inferred FuncType, no annotation, the
// AST attached for call-site specialization.
func (a *Analyzer) assignFunc(st *state, fn *Func) (Ty, bool, error) {
	if st.inConditional {
		// A def inside a branch still binds, but as an untracked value.
		st.env[fn.Name] = EnvBinding{Exp: TyDyn, Inf: TyFunc}
		st.sc.add(fn.Name, TyFunc)
		return TyDyn, false, nil
	}
	st.env[fn.Name] = EnvBinding{Exp: TyDyn, Inf: TyFunc, Fn: fn}
	st.sc.add(fn.Name, TyFunc)
	return TyDyn, false, nil
}
