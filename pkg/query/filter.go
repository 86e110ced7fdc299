package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/expression"
	"github.com/mnohosten/laura-core/pkg/geo"
	"github.com/mnohosten/laura-core/pkg/text"
)

// ErrInvalidFilter is returned for malformed filter documents
var ErrInvalidFilter = errors.New("invalid filter")

// Predicate is a top-level field condition, as seen by the planner
type Predicate struct {
	Field string
	Op    Operator
	Value *document.Value
}

// TextQuery is the $text part of a filter. It is answered by a text index.
type TextQuery struct {
	Search        string
	Language      string
	CaseSensitive bool
	Query         text.Query
}

// NearQuery is the $near / $nearSphere part of a filter.
// Distances are in meters; MaxDistance <= 0 means unbounded.
type NearQuery struct {
	Field       string
	Point       geo.Point
	MaxDistance float64
	MinDistance float64
	Spherical   bool
}

func (n *NearQuery) inRange(d float64) bool {
	if d < n.MinDistance {
		return false
	}
	return n.MaxDistance <= 0 || d <= n.MaxDistance
}

// Filter is a compiled query filter. It is immutable and safe for
// concurrent use.
type Filter struct {
	root  node
	preds []Predicate
	text  *TextQuery
	near  *NearQuery
	spec  *document.Document
}

// Compile parses a filter document (map, document.D or *document.Document).
// A nil or empty filter matches every document.
func Compile(spec interface{}) (*Filter, error) {
	if spec == nil {
		return &Filter{root: &andNode{}, spec: document.NewDocument()}, nil
	}
	doc, ok := document.FromAny(spec)
	if !ok {
		return nil, fmt.Errorf("%w: filter must be a document, got %T", ErrInvalidFilter, spec)
	}
	f := &Filter{spec: doc}
	root, err := f.compileDocument(doc, true)
	if err != nil {
		return nil, err
	}
	f.root = root
	return f, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(spec interface{}) *Filter {
	f, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return f
}

// Matches reports whether doc satisfies the filter. $text clauses are
// not evaluated here; they restrict the candidate set through the index.
func (f *Filter) Matches(doc *document.Document) bool {
	return f.root.matches(doc)
}

// Predicates returns the field conditions of the top-level conjunction
func (f *Filter) Predicates() []Predicate {
	return f.preds
}

// Text returns the $text clause, or nil
func (f *Filter) Text() *TextQuery {
	return f.text
}

// Near returns the $near / $nearSphere clause, or nil
func (f *Filter) Near() *NearQuery {
	return f.near
}

// IsEmpty reports whether the filter matches everything
func (f *Filter) IsEmpty() bool {
	return f.spec.Len() == 0
}

// Document returns the filter as it was given
func (f *Filter) Document() *document.Document {
	return f.spec
}

// Contains reports whether every predicate of other appears verbatim
// among the predicates of f
func (f *Filter) Contains(other *Filter) bool {
	for _, want := range other.preds {
		found := false
		for _, p := range f.preds {
			if p.Field == want.Field && p.Op == want.Op && document.Equal(p.Value, want.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *Filter) String() string {
	return f.spec.String()
}

type node interface {
	matches(doc *document.Document) bool
}

type andNode struct{ children []node }

func (n *andNode) matches(doc *document.Document) bool {
	for _, c := range n.children {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

type orNode struct{ children []node }

func (n *orNode) matches(doc *document.Document) bool {
	for _, c := range n.children {
		if c.matches(doc) {
			return true
		}
	}
	return false
}

type norNode struct{ children []node }

func (n *norNode) matches(doc *document.Document) bool {
	for _, c := range n.children {
		if c.matches(doc) {
			return false
		}
	}
	return true
}

type fieldNode struct {
	parts []string
	conds []condition
}

func (n *fieldNode) matches(doc *document.Document) bool {
	vals := reach(doc, n.parts)
	for _, c := range n.conds {
		if !c.test(vals) {
			return false
		}
	}
	return true
}

type exprNode struct{ expr expression.Expr }

func (n *exprNode) matches(doc *document.Document) bool {
	return expression.Evaluate(n.expr, doc).Truthy()
}

// compileDocument compiles an implicit conjunction. top is true while
// the clauses still belong to the top-level conjunction.
func (f *Filter) compileDocument(doc *document.Document, top bool) (*andNode, error) {
	and := &andNode{}
	for _, key := range doc.Keys() {
		val, _ := doc.GetValue(key)
		if strings.HasPrefix(key, "$") {
			n, err := f.compileTopOperator(Operator(key), val, top)
			if err != nil {
				return nil, err
			}
			if n != nil {
				and.children = append(and.children, n)
			}
			continue
		}
		n, err := f.compileField(key, val, top)
		if err != nil {
			return nil, err
		}
		and.children = append(and.children, n)
	}
	return and, nil
}

func (f *Filter) compileTopOperator(op Operator, val *document.Value, top bool) (node, error) {
	switch op {
	case OpAnd, OpOr, OpNor:
		arr, ok := val.Array()
		if !ok || len(arr) == 0 {
			return nil, fmt.Errorf("%w: %s requires a non-empty array", ErrInvalidFilter, op)
		}
		children := make([]node, 0, len(arr))
		for _, item := range arr {
			sub, ok := item.Doc()
			if !ok {
				return nil, fmt.Errorf("%w: %s entries must be documents", ErrInvalidFilter, op)
			}
			child, err := f.compileDocument(sub, top && op == OpAnd)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		switch op {
		case OpAnd:
			return &andNode{children: children}, nil
		case OpOr:
			return &orNode{children: children}, nil
		}
		return &norNode{children: children}, nil
	case OpExpr:
		e, err := expression.Compile(val)
		if err != nil {
			return nil, fmt.Errorf("%w: $expr: %v", ErrInvalidFilter, err)
		}
		return &exprNode{expr: e}, nil
	case OpText:
		if !top {
			return nil, fmt.Errorf("%w: $text is only allowed at the top level", ErrInvalidFilter)
		}
		if f.text != nil {
			return nil, fmt.Errorf("%w: only one $text clause is allowed", ErrInvalidFilter)
		}
		tq, err := parseText(val)
		if err != nil {
			return nil, err
		}
		f.text = tq
		return nil, nil
	case OpComment:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown top-level operator %s", ErrInvalidFilter, op)
}

func parseText(val *document.Value) (*TextQuery, error) {
	doc, ok := val.Doc()
	if !ok {
		return nil, fmt.Errorf("%w: $text requires a document", ErrInvalidFilter)
	}
	tq := &TextQuery{}
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		switch key {
		case "$search":
			s, ok := v.Str()
			if !ok {
				return nil, fmt.Errorf("%w: $search must be a string", ErrInvalidFilter)
			}
			tq.Search = s
		case "$language":
			s, ok := v.Str()
			if !ok {
				return nil, fmt.Errorf("%w: $language must be a string", ErrInvalidFilter)
			}
			tq.Language = s
		case "$caseSensitive":
			b, _ := v.Bool()
			tq.CaseSensitive = b
		case "$diacriticSensitive":
		default:
			return nil, fmt.Errorf("%w: unknown $text option %s", ErrInvalidFilter, key)
		}
	}
	tq.Query = text.ParseQuery(tq.Search)
	tq.Query.Language = tq.Language
	return tq, nil
}

func (f *Filter) compileField(field string, val *document.Value, top bool) (node, error) {
	n := &fieldNode{parts: splitPath(field)}

	opDoc, ok := val.Doc()
	if !ok || !isOperatorDocument(opDoc) {
		n.conds = []condition{&eqCond{value: val}}
		if top {
			f.preds = append(f.preds, Predicate{Field: field, Op: OpEqual, Value: val})
		}
		return n, nil
	}

	conds, err := f.compileOperators(field, opDoc, top)
	if err != nil {
		return nil, err
	}
	n.conds = conds
	if top {
		for _, key := range opDoc.Keys() {
			if key == string(OpOptions) {
				continue
			}
			v, _ := opDoc.GetValue(key)
			f.preds = append(f.preds, Predicate{Field: field, Op: Operator(key), Value: v})
		}
	}
	return n, nil
}

// isOperatorDocument reports whether doc is an operator document like
// {$gt: 1} rather than an embedded document to compare for equality
func isOperatorDocument(doc *document.Document) bool {
	keys := doc.Keys()
	return len(keys) > 0 && strings.HasPrefix(keys[0], "$")
}

func (f *Filter) compileOperators(field string, ops *document.Document, top bool) ([]condition, error) {
	var conds []condition
	var regexPattern *document.Value
	options, hasOptions := ops.GetValue(string(OpOptions))

	for _, key := range ops.Keys() {
		arg, _ := ops.GetValue(key)
		op := Operator(key)
		if !strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("%w: field %s mixes operators and fields", ErrInvalidFilter, field)
		}

		switch op {
		case OpOptions:
			continue
		case OpRegex:
			regexPattern = arg
			continue
		case OpNear, OpNearSphere:
			c, err := f.compileNear(field, op, arg, ops, top)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
			continue
		case "$maxDistance", "$minDistance":
			// consumed by $near / $nearSphere
			if _, ok := ops.GetValue(string(OpNear)); ok {
				continue
			}
			if _, ok := ops.GetValue(string(OpNearSphere)); ok {
				continue
			}
			return nil, fmt.Errorf("%w: %s requires $near or $nearSphere", ErrInvalidFilter, op)
		}

		c, err := compileOperator(op, arg)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		conds = append(conds, c)
	}

	if regexPattern != nil {
		opts := ""
		if hasOptions {
			s, ok := options.Str()
			if !ok {
				return nil, fmt.Errorf("%w: $options must be a string", ErrInvalidFilter)
			}
			opts = s
		}
		pattern, ok := regexPattern.Str()
		if !ok {
			return nil, fmt.Errorf("%w: $regex must be a string", ErrInvalidFilter)
		}
		re, err := compileRegex(pattern, opts)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		conds = append(conds, &regexCond{re: re})
	} else if hasOptions {
		return nil, fmt.Errorf("%w: $options requires $regex", ErrInvalidFilter)
	}
	return conds, nil
}

// compileOperator compiles one field operator into a condition
func compileOperator(op Operator, arg *document.Value) (condition, error) {
	switch op {
	case OpEqual:
		return &eqCond{value: arg}, nil
	case OpNotEqual:
		return &neCond{value: arg}, nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return &cmpCond{op: op, value: arg}, nil
	case OpIn, OpNotIn:
		arr, ok := arg.Array()
		if !ok {
			return nil, fmt.Errorf("%w: %s requires an array", ErrInvalidFilter, op)
		}
		return &inCond{values: arr, negate: op == OpNotIn}, nil
	case OpExists:
		return &existsCond{want: arg.Truthy()}, nil
	case OpType:
		return compileType(arg)
	case OpRegex:
		pattern, ok := arg.Str()
		if !ok {
			return nil, fmt.Errorf("%w: $regex must be a string", ErrInvalidFilter)
		}
		re, err := compileRegex(pattern, "")
		if err != nil {
			return nil, err
		}
		return &regexCond{re: re}, nil
	case OpSize:
		n, ok := arg.Int()
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: $size requires a non-negative integer", ErrInvalidFilter)
		}
		if fv, _ := arg.Float(); fv != float64(n) {
			return nil, fmt.Errorf("%w: $size requires a non-negative integer", ErrInvalidFilter)
		}
		return &sizeCond{n: int(n)}, nil
	case OpAll:
		return compileAll(arg)
	case OpElemMatch:
		return compileElemMatch(arg)
	case OpMod:
		arr, ok := arg.Array()
		if !ok || len(arr) != 2 || !arr[0].IsNumber() || !arr[1].IsNumber() {
			return nil, fmt.Errorf("%w: $mod requires [divisor, remainder]", ErrInvalidFilter)
		}
		d, _ := arr[0].Int()
		r, _ := arr[1].Int()
		if d == 0 {
			return nil, fmt.Errorf("%w: $mod divisor cannot be 0", ErrInvalidFilter)
		}
		return &modCond{divisor: d, remainder: r}, nil
	case OpNot:
		return compileNot(arg)
	case OpGeoWithin:
		region, err := geo.ParseRegion(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		return &geoWithinCond{region: region}, nil
	case OpGeoIntersects:
		doc, ok := arg.Doc()
		if !ok {
			return nil, fmt.Errorf("%w: $geoIntersects requires {$geometry: ...}", ErrInvalidFilter)
		}
		gv, ok := doc.GetValue("$geometry")
		if !ok {
			return nil, fmt.Errorf("%w: $geoIntersects requires {$geometry: ...}", ErrInvalidFilter)
		}
		shape, err := geo.ParseGeometry(gv)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		return &geoIntersectsCond{shape: shape}, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %s", ErrInvalidFilter, op)
}

func compileAll(arg *document.Value) (condition, error) {
	arr, ok := arg.Array()
	if !ok {
		return nil, fmt.Errorf("%w: $all requires an array", ErrInvalidFilter)
	}
	c := &allCond{}
	for _, item := range arr {
		if doc, ok := item.Doc(); ok && doc.Len() == 1 && doc.Keys()[0] == string(OpElemMatch) {
			spec, _ := doc.GetValue(string(OpElemMatch))
			em, err := compileElemMatch(spec)
			if err != nil {
				return nil, err
			}
			c.elems = append(c.elems, em)
			continue
		}
		c.values = append(c.values, item)
	}
	return c, nil
}

func compileElemMatch(arg *document.Value) (*elemMatchCond, error) {
	doc, ok := arg.Doc()
	if !ok {
		return nil, fmt.Errorf("%w: $elemMatch requires a document", ErrInvalidFilter)
	}
	if isValueOperators(doc) {
		c := &elemMatchCond{}
		for _, key := range doc.Keys() {
			if key == string(OpOptions) || key == string(OpRegex) {
				continue
			}
			v, _ := doc.GetValue(key)
			cond, err := compileOperator(Operator(key), v)
			if err != nil {
				return nil, err
			}
			c.conds = append(c.conds, cond)
		}
		if re, err := regexFromOperators(doc); err != nil {
			return nil, err
		} else if re != nil {
			c.conds = append(c.conds, re)
		}
		return c, nil
	}
	sub := &Filter{spec: doc}
	root, err := sub.compileDocument(doc, false)
	if err != nil {
		return nil, err
	}
	sub.root = root
	return &elemMatchCond{filter: sub}, nil
}

// isValueOperators reports whether an $elemMatch body applies operators
// to the element itself ({$gte: 80}) rather than to its fields
func isValueOperators(doc *document.Document) bool {
	for _, key := range doc.Keys() {
		switch Operator(key) {
		case OpAnd, OpOr, OpNor, OpExpr:
			return false
		}
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return doc.Len() > 0
}

func regexFromOperators(doc *document.Document) (condition, error) {
	pv, ok := doc.GetValue(string(OpRegex))
	if !ok {
		return nil, nil
	}
	pattern, ok := pv.Str()
	if !ok {
		return nil, fmt.Errorf("%w: $regex must be a string", ErrInvalidFilter)
	}
	opts := ""
	if ov, ok := doc.GetValue(string(OpOptions)); ok {
		opts, _ = ov.Str()
	}
	re, err := compileRegex(pattern, opts)
	if err != nil {
		return nil, err
	}
	return &regexCond{re: re}, nil
}

func compileNot(arg *document.Value) (condition, error) {
	doc, ok := arg.Doc()
	if !ok || !isOperatorDocument(doc) {
		return nil, fmt.Errorf("%w: $not requires an operator document", ErrInvalidFilter)
	}
	c := &notCond{}
	for _, key := range doc.Keys() {
		if key == string(OpOptions) || key == string(OpRegex) {
			continue
		}
		v, _ := doc.GetValue(key)
		cond, err := compileOperator(Operator(key), v)
		if err != nil {
			return nil, err
		}
		c.conds = append(c.conds, cond)
	}
	re, err := regexFromOperators(doc)
	if err != nil {
		return nil, err
	}
	if re != nil {
		c.conds = append(c.conds, re)
	}
	return c, nil
}

// compileNear accepts {$near: {$geometry: Point, $maxDistance, $minDistance}}
// with distances in meters, or a legacy [lon, lat] operand with sibling
// $maxDistance / $minDistance in radians.
func (f *Filter) compileNear(field string, op Operator, arg *document.Value, ops *document.Document, top bool) (condition, error) {
	if !top {
		return nil, fmt.Errorf("%w: %s is only allowed in the top-level conjunction", ErrInvalidFilter, op)
	}
	if f.near != nil {
		return nil, fmt.Errorf("%w: only one $near or $nearSphere clause is allowed", ErrInvalidFilter)
	}
	nq := &NearQuery{Field: field, Spherical: op == OpNearSphere}

	if doc, ok := arg.Doc(); ok {
		if gv, ok := doc.GetValue("$geometry"); ok {
			pt, err := geo.ParsePoint(gv)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
			}
			nq.Point = *pt
			if err := readDistances(nq, doc, 1); err != nil {
				return nil, err
			}
			f.near = nq
			return &nearCond{near: nq}, nil
		}
	}

	pt, err := geo.ParsePoint(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	nq.Point = *pt
	if err := readDistances(nq, ops, geo.EarthRadiusMeters); err != nil {
		return nil, err
	}
	f.near = nq
	return &nearCond{near: nq}, nil
}

func readDistances(nq *NearQuery, doc *document.Document, scale float64) error {
	for _, name := range []string{"$maxDistance", "$minDistance"} {
		v, ok := doc.GetValue(name)
		if !ok {
			continue
		}
		d, ok := v.Float()
		if !ok || d < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidFilter, name)
		}
		if name == "$maxDistance" {
			nq.MaxDistance = d * scale
		} else {
			nq.MinDistance = d * scale
		}
	}
	return nil
}
