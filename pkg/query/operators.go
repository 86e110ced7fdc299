package query

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/geo"
)

// Operator represents a query operator
type Operator string

const (
	// Comparison operators
	OpEqual              Operator = "$eq"
	OpNotEqual           Operator = "$ne"
	OpGreaterThan        Operator = "$gt"
	OpGreaterThanOrEqual Operator = "$gte"
	OpLessThan           Operator = "$lt"
	OpLessThanOrEqual    Operator = "$lte"
	OpIn                 Operator = "$in"
	OpNotIn              Operator = "$nin"

	// Logical operators
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"
	OpNor Operator = "$nor"
	OpNot Operator = "$not"

	// Element operators
	OpExists Operator = "$exists"
	OpType   Operator = "$type"

	// Evaluation operators
	OpRegex   Operator = "$regex"
	OpOptions Operator = "$options"
	OpMod     Operator = "$mod"
	OpExpr    Operator = "$expr"
	OpText    Operator = "$text"
	OpComment Operator = "$comment"

	// Array operators
	OpAll       Operator = "$all"
	OpElemMatch Operator = "$elemMatch"
	OpSize      Operator = "$size"

	// Geospatial operators
	OpGeoWithin     Operator = "$geoWithin"
	OpGeoIntersects Operator = "$geoIntersects"
	OpNear          Operator = "$near"
	OpNearSphere    Operator = "$nearSphere"
)

// IsRange reports whether op is one of the ordered comparison operators
func (op Operator) IsRange() bool {
	switch op {
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return true
	}
	return false
}

// condition tests the values a field path reached in one document
type condition interface {
	test(vals []*document.Value) bool
}

// matchesEq reports whether any reached value, or element of a reached
// array, equals want. Null also matches a missing field.
func matchesEq(vals []*document.Value, want *document.Value) bool {
	if want.IsNull() {
		if len(vals) == 0 {
			return true
		}
		for _, v := range expand(vals) {
			if v.IsNull() {
				return true
			}
		}
		return false
	}
	for _, v := range expand(vals) {
		if document.Equal(v, want) {
			return true
		}
	}
	return false
}

type eqCond struct{ value *document.Value }

func (c *eqCond) test(vals []*document.Value) bool { return matchesEq(vals, c.value) }

type neCond struct{ value *document.Value }

func (c *neCond) test(vals []*document.Value) bool { return !matchesEq(vals, c.value) }

type cmpCond struct {
	op    Operator
	value *document.Value
}

func (c *cmpCond) test(vals []*document.Value) bool {
	for _, v := range expand(vals) {
		if !document.SameClass(v, c.value) {
			continue
		}
		r := document.Compare(v, c.value)
		switch c.op {
		case OpGreaterThan:
			if r > 0 {
				return true
			}
		case OpGreaterThanOrEqual:
			if r >= 0 {
				return true
			}
		case OpLessThan:
			if r < 0 {
				return true
			}
		case OpLessThanOrEqual:
			if r <= 0 {
				return true
			}
		}
	}
	return false
}

type inCond struct {
	values []*document.Value
	negate bool
}

func (c *inCond) test(vals []*document.Value) bool {
	found := false
	for _, want := range c.values {
		if matchesEq(vals, want) {
			found = true
			break
		}
	}
	return found != c.negate
}

type existsCond struct{ want bool }

func (c *existsCond) test(vals []*document.Value) bool { return (len(vals) > 0) == c.want }

type typeCond struct {
	types   []document.Type
	numeric bool
}

func (c *typeCond) test(vals []*document.Value) bool {
	for _, v := range expand(vals) {
		if c.numeric && v.IsNumber() {
			return true
		}
		for _, t := range c.types {
			if v.Type == t {
				return true
			}
		}
	}
	return false
}

type regexCond struct{ re *regexp.Regexp }

func (c *regexCond) test(vals []*document.Value) bool {
	for _, v := range expand(vals) {
		s, ok := v.Str()
		if !ok {
			continue
		}
		if c.re.MatchString(s) {
			return true
		}
	}
	return false
}

type sizeCond struct{ n int }

func (c *sizeCond) test(vals []*document.Value) bool {
	for _, v := range vals {
		if arr, ok := v.Array(); ok && len(arr) == c.n {
			return true
		}
	}
	return false
}

// allCond requires every listed value (or $elemMatch clause) to match
type allCond struct {
	values []*document.Value
	elems  []*elemMatchCond
}

func (c *allCond) test(vals []*document.Value) bool {
	if len(c.values) == 0 && len(c.elems) == 0 {
		return false
	}
	for _, want := range c.values {
		if !matchesEq(vals, want) {
			return false
		}
	}
	for _, em := range c.elems {
		if !em.test(vals) {
			return false
		}
	}
	return true
}

// elemMatchCond requires a single array element to satisfy every clause.
// With a sub-filter the element must be a document matching it; otherwise
// the operator clauses apply to the element value itself.
type elemMatchCond struct {
	filter *Filter
	conds  []condition
}

func (c *elemMatchCond) test(vals []*document.Value) bool {
	for _, v := range vals {
		arr, ok := v.Array()
		if !ok {
			continue
		}
		for _, elem := range arr {
			if c.matchElem(elem) {
				return true
			}
		}
	}
	return false
}

func (c *elemMatchCond) matchElem(elem *document.Value) bool {
	if c.filter != nil {
		doc, ok := elem.Doc()
		return ok && c.filter.Matches(doc)
	}
	one := []*document.Value{elem}
	for _, cond := range c.conds {
		if !cond.test(one) {
			return false
		}
	}
	return true
}

type modCond struct {
	divisor, remainder int64
}

func (c *modCond) test(vals []*document.Value) bool {
	for _, v := range expand(vals) {
		if !v.IsNumber() {
			continue
		}
		f, _ := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		n, _ := v.Int()
		if n%c.divisor == c.remainder {
			return true
		}
	}
	return false
}

type notCond struct{ conds []condition }

func (c *notCond) test(vals []*document.Value) bool {
	for _, cond := range c.conds {
		if !cond.test(vals) {
			return true
		}
	}
	return false
}

type geoWithinCond struct{ region geo.Region }

func (c *geoWithinCond) test(vals []*document.Value) bool {
	for _, g := range geometries(vals) {
		if geo.Within(g, c.region) {
			return true
		}
	}
	return false
}

type geoIntersectsCond struct{ shape geo.Geometry }

func (c *geoIntersectsCond) test(vals []*document.Value) bool {
	for _, g := range geometries(vals) {
		if geo.Intersects(g, c.shape) {
			return true
		}
	}
	return false
}

type nearCond struct{ near *NearQuery }

func (c *nearCond) test(vals []*document.Value) bool {
	for _, g := range geometries(vals) {
		if c.near.inRange(geo.DistanceTo(&c.near.Point, g)) {
			return true
		}
	}
	return false
}

// geometries parses the reached values as GeoJSON or legacy pairs.
// An array of legacy pairs contributes each pair.
func geometries(vals []*document.Value) []geo.Geometry {
	var out []geo.Geometry
	for _, v := range vals {
		if g, err := geo.ParseGeometry(v); err == nil {
			out = append(out, g)
			continue
		}
		if arr, ok := v.Array(); ok {
			for _, elem := range arr {
				if g, err := geo.ParseGeometry(elem); err == nil {
					out = append(out, g)
				}
			}
		}
	}
	return out
}

// compileRegex builds a pattern honoring the i, m and s options
func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			if !strings.ContainsRune(flags, o) {
				flags += string(o)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported regex option %q", ErrInvalidFilter, o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid regular expression: %v", ErrInvalidFilter, err)
	}
	return re, nil
}

var typeCodes = map[int64]document.Type{
	1:  document.TypeFloat64,
	2:  document.TypeString,
	3:  document.TypeDocument,
	4:  document.TypeArray,
	7:  document.TypeObjectID,
	8:  document.TypeBoolean,
	9:  document.TypeDate,
	10: document.TypeNull,
	16: document.TypeInt32,
	18: document.TypeInt64,
}

var typeNames = map[string]document.Type{
	"double":   document.TypeFloat64,
	"decimal":  document.TypeFloat64,
	"string":   document.TypeString,
	"object":   document.TypeDocument,
	"array":    document.TypeArray,
	"objectId": document.TypeObjectID,
	"bool":     document.TypeBoolean,
	"date":     document.TypeDate,
	"null":     document.TypeNull,
	"int":      document.TypeInt32,
	"long":     document.TypeInt64,
}

func compileType(arg *document.Value) (*typeCond, error) {
	c := &typeCond{}
	specs := []*document.Value{arg}
	if arr, ok := arg.Array(); ok {
		specs = arr
	}
	for _, s := range specs {
		if name, ok := s.Str(); ok {
			if name == "number" {
				c.numeric = true
				continue
			}
			t, ok := typeNames[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown $type %q", ErrInvalidFilter, name)
			}
			c.types = append(c.types, t)
			continue
		}
		code, ok := s.Int()
		if !ok || !s.IsNumber() {
			return nil, fmt.Errorf("%w: $type requires a type name or code", ErrInvalidFilter)
		}
		t, ok := typeCodes[code]
		if !ok {
			return nil, fmt.Errorf("%w: unknown $type code %d", ErrInvalidFilter, code)
		}
		c.types = append(c.types, t)
	}
	return c, nil
}
