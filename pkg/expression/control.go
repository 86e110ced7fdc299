package expression

import (
	"fmt"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
)

// namedArgs compiles the fields of an operator's document argument
type namedArgs struct {
	op     string
	fields map[string]*document.Value
}

func newNamedArgs(op string, arg *document.Value, allowed ...string) (*namedArgs, error) {
	d, ok := arg.Doc()
	if !ok {
		return nil, fmt.Errorf("%w: %s requires a document argument", ErrInvalidExpression, op)
	}
	na := &namedArgs{op: op, fields: make(map[string]*document.Value, d.Len())}
	for _, k := range d.Keys() {
		if !contains(allowed, k) {
			return nil, fmt.Errorf("%w: %s does not accept %q", ErrInvalidExpression, op, k)
		}
		na.fields[k], _ = d.GetValue(k)
	}
	return na, nil
}

func (na *namedArgs) expr(name string, required bool) (Expr, error) {
	v, ok := na.fields[name]
	if !ok {
		if required {
			return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidExpression, na.op, name)
		}
		return nil, nil
	}
	return compileValue(v)
}

func (na *namedArgs) str(name, def string) (string, error) {
	v, ok := na.fields[name]
	if !ok {
		return def, nil
	}
	s, ok := v.Str()
	if !ok {
		return "", fmt.Errorf("%w: %s.%s must be a string", ErrInvalidExpression, na.op, name)
	}
	return s, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

type condExpr struct {
	cond, then, otherwise Expr
}

func compileCond(arg *document.Value) (Expr, error) {
	if arr, ok := arg.Array(); ok {
		if len(arr) != 3 {
			return nil, fmt.Errorf("%w: $cond takes 3 arguments, got %d", ErrInvalidExpression, len(arr))
		}
		c := &condExpr{}
		var err error
		if c.cond, err = compileValue(arr[0]); err != nil {
			return nil, err
		}
		if c.then, err = compileValue(arr[1]); err != nil {
			return nil, err
		}
		if c.otherwise, err = compileValue(arr[2]); err != nil {
			return nil, err
		}
		return c, nil
	}

	na, err := newNamedArgs("$cond", arg, "if", "then", "else")
	if err != nil {
		return nil, err
	}
	c := &condExpr{}
	if c.cond, err = na.expr("if", true); err != nil {
		return nil, err
	}
	if c.then, err = na.expr("then", true); err != nil {
		return nil, err
	}
	if c.otherwise, err = na.expr("else", true); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *condExpr) Eval(ctx *Context) *document.Value {
	if e.cond.Eval(ctx).Truthy() {
		return e.then.Eval(ctx)
	}
	return e.otherwise.Eval(ctx)
}

type ifNullExpr struct {
	exprs []Expr
}

func compileIfNull(arg *document.Value) (Expr, error) {
	arr, ok := arg.Array()
	if !ok || len(arr) < 2 {
		return nil, fmt.Errorf("%w: $ifNull takes at least 2 arguments", ErrInvalidExpression)
	}
	e := &ifNullExpr{exprs: make([]Expr, len(arr))}
	for i, item := range arr {
		c, err := compileValue(item)
		if err != nil {
			return nil, err
		}
		e.exprs[i] = c
	}
	return e, nil
}

func (e *ifNullExpr) Eval(ctx *Context) *document.Value {
	last := len(e.exprs) - 1
	for _, c := range e.exprs[:last] {
		if v := c.Eval(ctx); !isNullish(v) {
			return v
		}
	}
	return e.exprs[last].Eval(ctx)
}

type switchBranch struct {
	cond, then Expr
}

type switchExpr struct {
	branches []switchBranch
	def      Expr
}

func compileSwitch(arg *document.Value) (Expr, error) {
	na, err := newNamedArgs("$switch", arg, "branches", "default")
	if err != nil {
		return nil, err
	}
	branches, ok := na.fields["branches"].Array()
	if !ok || len(branches) == 0 {
		return nil, fmt.Errorf("%w: $switch requires a non-empty branches array", ErrInvalidExpression)
	}
	e := &switchExpr{}
	for _, b := range branches {
		bn, err := newNamedArgs("$switch branch", b, "case", "then")
		if err != nil {
			return nil, err
		}
		var br switchBranch
		if br.cond, err = bn.expr("case", true); err != nil {
			return nil, err
		}
		if br.then, err = bn.expr("then", true); err != nil {
			return nil, err
		}
		e.branches = append(e.branches, br)
	}
	if e.def, err = na.expr("default", false); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *switchExpr) Eval(ctx *Context) *document.Value {
	for _, b := range e.branches {
		if b.cond.Eval(ctx).Truthy() {
			return b.then.Eval(ctx)
		}
	}
	if e.def != nil {
		return e.def.Eval(ctx)
	}
	return document.Null
}

type mapExpr struct {
	input Expr
	as    string
	in    Expr
}

func compileMap(arg *document.Value) (Expr, error) {
	na, err := newNamedArgs("$map", arg, "input", "as", "in")
	if err != nil {
		return nil, err
	}
	e := &mapExpr{}
	if e.input, err = na.expr("input", true); err != nil {
		return nil, err
	}
	if e.as, err = na.str("as", "this"); err != nil {
		return nil, err
	}
	if e.in, err = na.expr("in", true); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *mapExpr) Eval(ctx *Context) *document.Value {
	arr, ok := e.input.Eval(ctx).Array()
	if !ok {
		return document.Null
	}
	out := make([]*document.Value, len(arr))
	for i, item := range arr {
		out[i] = orNull(e.in.Eval(ctx.With(e.as, item)))
	}
	return document.NewValue(out)
}

type filterExpr struct {
	input Expr
	as    string
	cond  Expr
	limit Expr
}

func compileFilter(arg *document.Value) (Expr, error) {
	na, err := newNamedArgs("$filter", arg, "input", "as", "cond", "limit")
	if err != nil {
		return nil, err
	}
	e := &filterExpr{}
	if e.input, err = na.expr("input", true); err != nil {
		return nil, err
	}
	if e.as, err = na.str("as", "this"); err != nil {
		return nil, err
	}
	if e.cond, err = na.expr("cond", true); err != nil {
		return nil, err
	}
	if e.limit, err = na.expr("limit", false); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *filterExpr) Eval(ctx *Context) *document.Value {
	arr, ok := e.input.Eval(ctx).Array()
	if !ok {
		return document.Null
	}
	limit := int64(-1)
	if e.limit != nil {
		if n, ok := e.limit.Eval(ctx).Int(); ok && n > 0 {
			limit = n
		}
	}
	out := make([]*document.Value, 0)
	for _, item := range arr {
		if limit >= 0 && int64(len(out)) >= limit {
			break
		}
		if e.cond.Eval(ctx.With(e.as, item)).Truthy() {
			out = append(out, item)
		}
	}
	return document.NewValue(out)
}

type letExpr struct {
	names []string
	vals  []Expr
	in    Expr
}

func compileLet(arg *document.Value) (Expr, error) {
	na, err := newNamedArgs("$let", arg, "vars", "in")
	if err != nil {
		return nil, err
	}
	vars, ok := na.fields["vars"].Doc()
	if !ok {
		return nil, fmt.Errorf("%w: $let requires a vars document", ErrInvalidExpression)
	}
	e := &letExpr{}
	for _, name := range vars.Keys() {
		v, _ := vars.GetValue(name)
		c, err := compileValue(v)
		if err != nil {
			return nil, err
		}
		e.names = append(e.names, name)
		e.vals = append(e.vals, c)
	}
	if e.in, err = na.expr("in", true); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *letExpr) Eval(ctx *Context) *document.Value {
	inner := ctx
	for i, name := range e.names {
		inner = inner.With(name, e.vals[i].Eval(ctx))
	}
	return e.in.Eval(inner)
}

type trimExpr struct {
	input       Expr
	chars       Expr
	left, right bool
}

func compileTrim(op string, arg *document.Value) (Expr, error) {
	na, err := newNamedArgs(op, arg, "input", "chars")
	if err != nil {
		return nil, err
	}
	e := &trimExpr{left: op != "$rtrim", right: op != "$ltrim"}
	if e.input, err = na.expr("input", true); err != nil {
		return nil, err
	}
	if e.chars, err = na.expr("chars", false); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *trimExpr) Eval(ctx *Context) *document.Value {
	s, ok := e.input.Eval(ctx).Str()
	if !ok {
		return document.Null
	}
	chars := ""
	if e.chars != nil {
		if chars, ok = e.chars.Eval(ctx).Str(); !ok {
			return document.Null
		}
	}
	set := trimSet(chars)
	if e.left {
		s = strings.TrimLeftFunc(s, set)
	}
	if e.right {
		s = strings.TrimRightFunc(s, set)
	}
	return document.NewValue(s)
}
