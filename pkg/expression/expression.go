// Package expression compiles and evaluates aggregation expressions
// ($expr filters, $project/$addFields values, accumulator arguments).
//
// Evaluation never fails: missing fields evaluate to nil, and operators
// given operands of the wrong type degrade to null.
package expression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
)

// ErrInvalidExpression is returned by Compile for malformed expressions
var ErrInvalidExpression = errors.New("invalid expression")

// Expr is a compiled expression.
// Eval returns nil when the expression refers to a missing field.
type Expr interface {
	Eval(ctx *Context) *document.Value
}

// Context carries the document and variable bindings for evaluation
type Context struct {
	root *document.Value
	vars map[string]*document.Value
}

// NewContext creates a context whose $$ROOT and $$CURRENT are doc
func NewContext(doc *document.Document) *Context {
	root := document.NewValue(doc)
	return &Context{
		root: root,
		vars: map[string]*document.Value{"ROOT": root, "CURRENT": root},
	}
}

// With returns a child context with name bound to v
func (c *Context) With(name string, v *document.Value) *Context {
	vars := make(map[string]*document.Value, len(c.vars)+1)
	for k, val := range c.vars {
		vars[k] = val
	}
	vars[name] = v
	return &Context{root: c.root, vars: vars}
}

// Evaluate is a shorthand for e.Eval(NewContext(doc))
func Evaluate(e Expr, doc *document.Document) *document.Value {
	return e.Eval(NewContext(doc))
}

// Compile turns an expression specification into an Expr.
// Strings starting with "$" are field paths, "$$name" are variables,
// single-key documents with a "$" key are operators and everything
// else is a literal (documents and arrays are evaluated element-wise).
func Compile(spec interface{}) (Expr, error) {
	return compileValue(document.NewValue(spec))
}

// MustCompile is like Compile but panics on error
func MustCompile(spec interface{}) Expr {
	e, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return e
}

// FieldPath reports the path of a plain "$field" expression
func FieldPath(e Expr) (string, bool) {
	if f, ok := e.(*fieldExpr); ok && f.variable == "CURRENT" {
		return f.path, true
	}
	return "", false
}

func compileValue(v *document.Value) (Expr, error) {
	switch v.Type {
	case document.TypeString:
		s := v.Data.(string)
		if strings.HasPrefix(s, "$$") {
			return compileVariable(s[2:])
		}
		if strings.HasPrefix(s, "$") {
			if len(s) == 1 {
				return nil, fmt.Errorf("%w: empty field path", ErrInvalidExpression)
			}
			return &fieldExpr{variable: "CURRENT", path: s[1:]}, nil
		}
	case document.TypeArray:
		arr := v.Data.([]*document.Value)
		elems := make([]Expr, len(arr))
		for i, item := range arr {
			e, err := compileValue(item)
			if err != nil {
				return nil, err
			}
			elems[i] = e
		}
		return &arrayExpr{elems: elems}, nil
	case document.TypeDocument:
		return compileDocument(v.Data.(*document.Document))
	}
	return &literalExpr{value: v}, nil
}

func compileVariable(ref string) (Expr, error) {
	name, path, _ := strings.Cut(ref, ".")
	if name == "" {
		return nil, fmt.Errorf("%w: empty variable name", ErrInvalidExpression)
	}
	return &fieldExpr{variable: name, path: path}, nil
}

func compileDocument(doc *document.Document) (Expr, error) {
	keys := doc.Keys()
	if len(keys) == 1 && strings.HasPrefix(keys[0], "$") {
		arg, _ := doc.GetValue(keys[0])
		return compileOperator(keys[0], arg)
	}

	obj := &objectExpr{keys: make([]string, 0, len(keys)), values: make([]Expr, 0, len(keys))}
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("%w: operator %s must be the only key of its document", ErrInvalidExpression, k)
		}
		v, _ := doc.GetValue(k)
		e, err := compileValue(v)
		if err != nil {
			return nil, err
		}
		obj.keys = append(obj.keys, k)
		obj.values = append(obj.values, e)
	}
	return obj, nil
}

// literalExpr evaluates to a constant
type literalExpr struct {
	value *document.Value
}

// Literal wraps a constant value as an expression
func Literal(v interface{}) Expr {
	return &literalExpr{value: document.NewValue(v)}
}

func (e *literalExpr) Eval(*Context) *document.Value {
	return e.value
}

// fieldExpr resolves a path under a variable ($field is $$CURRENT.field)
type fieldExpr struct {
	variable string
	path     string
}

func (e *fieldExpr) Eval(ctx *Context) *document.Value {
	base, ok := ctx.vars[e.variable]
	if !ok {
		return nil
	}
	return resolvePath(base, e.path)
}

func resolvePath(v *document.Value, path string) *document.Value {
	if path == "" || v == nil {
		return v
	}
	switch v.Type {
	case document.TypeDocument:
		r, ok := v.Data.(*document.Document).Lookup(path)
		if !ok {
			return nil
		}
		return r
	case document.TypeArray:
		out := make([]*document.Value, 0)
		for _, elem := range v.Data.([]*document.Value) {
			if r := resolvePath(elem, path); r != nil {
				out = append(out, r)
			}
		}
		return document.NewValue(out)
	}
	return nil
}

type arrayExpr struct {
	elems []Expr
}

func (e *arrayExpr) Eval(ctx *Context) *document.Value {
	out := make([]*document.Value, len(e.elems))
	for i, el := range e.elems {
		v := el.Eval(ctx)
		if v == nil {
			v = document.Null
		}
		out[i] = v
	}
	return document.NewValue(out)
}

// objectExpr builds a document; fields evaluating to missing are omitted
type objectExpr struct {
	keys   []string
	values []Expr
}

func (e *objectExpr) Eval(ctx *Context) *document.Value {
	doc := document.NewDocument()
	for i, k := range e.keys {
		if v := e.values[i].Eval(ctx); v != nil {
			doc.SetValue(k, v)
		}
	}
	return document.NewValue(doc)
}

// isNullish reports null or missing
func isNullish(v *document.Value) bool {
	return v == nil || v.Type == document.TypeNull
}

func orNull(v *document.Value) *document.Value {
	if v == nil {
		return document.Null
	}
	return v
}
