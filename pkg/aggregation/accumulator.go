package aggregation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/expression"
)

// accumulatorSpec is a compiled {field: {$op: expr}} entry of $group or
// a bucket output
type accumulatorSpec struct {
	field string
	op    string
	arg   expression.Expr
}

// accumulator folds the values of one group
type accumulator interface {
	add(v *document.Value)
	result() *document.Value
}

// compileAccumulators reads the output fields of $group, $bucket and
// $bucketAuto. skip names a key that is not an accumulator (_id for $group).
func compileAccumulators(doc *document.Document, skip string) ([]accumulatorSpec, error) {
	var specs []accumulatorSpec
	for _, field := range doc.Keys() {
		if field == skip {
			continue
		}
		if strings.Contains(field, ".") {
			return nil, fmt.Errorf("output field %q cannot contain '.'", field)
		}
		v, _ := doc.GetValue(field)
		acc, ok := v.Doc()
		if !ok || acc.Len() != 1 {
			return nil, fmt.Errorf("output field %s must be a single accumulator document", field)
		}
		op := acc.Keys()[0]
		argVal, _ := acc.GetValue(op)
		spec := accumulatorSpec{field: field, op: op}
		switch op {
		case "$sum", "$avg", "$min", "$max", "$first", "$last", "$push", "$addToSet":
			e, err := expression.Compile(argVal)
			if err != nil {
				return nil, fmt.Errorf("output field %s: %w", field, err)
			}
			spec.arg = e
		case "$count":
			if d, ok := argVal.Doc(); !ok || d.Len() != 0 {
				return nil, fmt.Errorf("output field %s: $count takes an empty document", field)
			}
		default:
			return nil, fmt.Errorf("output field %s: unknown accumulator %s", field, op)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s accumulatorSpec) newAccumulator() accumulator {
	switch s.op {
	case "$sum":
		return &sumAcc{}
	case "$avg":
		return &avgAcc{}
	case "$min":
		return &extremeAcc{sign: -1}
	case "$max":
		return &extremeAcc{sign: 1}
	case "$first":
		return &firstAcc{}
	case "$last":
		return &lastAcc{}
	case "$push":
		return &pushAcc{}
	case "$addToSet":
		return &setAcc{seen: make(map[string]bool)}
	}
	return &countAcc{}
}

// value evaluates the accumulator argument for doc; nil means missing
func (s accumulatorSpec) value(ctx *expression.Context) *document.Value {
	if s.arg == nil {
		return nil
	}
	return s.arg.Eval(ctx)
}

// group is one output row of $group or a bucket
type group struct {
	id   *document.Value
	accs []accumulator
}

func newGroup(id *document.Value, specs []accumulatorSpec) *group {
	g := &group{id: id, accs: make([]accumulator, len(specs))}
	for i, s := range specs {
		g.accs[i] = s.newAccumulator()
	}
	return g
}

func (g *group) add(ctx *expression.Context, specs []accumulatorSpec) {
	for i, s := range specs {
		g.accs[i].add(s.value(ctx))
	}
}

func (g *group) document(specs []accumulatorSpec) *document.Document {
	out := document.NewDocument()
	out.SetValue(document.IDField, g.id)
	for i, s := range specs {
		out.SetValue(s.field, g.accs[i].result())
	}
	return out
}

// sumAcc adds numbers and ignores everything else. The sum stays an
// integer while every input is one and it does not overflow.
type sumAcc struct {
	i       int64
	f       float64
	isFloat bool
}

func (a *sumAcc) add(v *document.Value) {
	if v == nil || !v.IsNumber() {
		return
	}
	if !a.isFloat && v.Type != document.TypeFloat64 {
		n, _ := v.Int()
		if s := a.i + n; (n >= 0) == (s >= a.i) {
			a.i = s
			return
		}
	}
	if !a.isFloat {
		a.f, a.isFloat = float64(a.i), true
	}
	f, _ := v.Float()
	a.f += f
}

func (a *sumAcc) result() *document.Value {
	if a.isFloat {
		return document.NewValue(a.f)
	}
	return document.NewValue(a.i)
}

type avgAcc struct {
	sum float64
	n   int
}

func (a *avgAcc) add(v *document.Value) {
	if f, ok := v.Float(); ok && v.IsNumber() {
		a.sum += f
		a.n++
	}
}

func (a *avgAcc) result() *document.Value {
	if a.n == 0 {
		return document.Null
	}
	return document.NewValue(a.sum / float64(a.n))
}

// extremeAcc keeps the smallest (sign -1) or largest (sign 1) value in
// canonical order, ignoring missing and null values
type extremeAcc struct {
	sign int
	best *document.Value
}

func (a *extremeAcc) add(v *document.Value) {
	if v.IsNull() {
		return
	}
	if a.best == nil || document.Compare(v, a.best)*a.sign > 0 {
		a.best = v
	}
}

func (a *extremeAcc) result() *document.Value {
	if a.best == nil {
		return document.Null
	}
	return a.best
}

type firstAcc struct {
	v    *document.Value
	seen bool
}

func (a *firstAcc) add(v *document.Value) {
	if !a.seen {
		a.v, a.seen = v, true
	}
}

func (a *firstAcc) result() *document.Value {
	if a.v == nil {
		return document.Null
	}
	return a.v
}

type lastAcc struct {
	v *document.Value
}

func (a *lastAcc) add(v *document.Value) {
	a.v = v
}

func (a *lastAcc) result() *document.Value {
	if a.v == nil {
		return document.Null
	}
	return a.v
}

type pushAcc struct {
	values []*document.Value
}

func (a *pushAcc) add(v *document.Value) {
	if v != nil {
		a.values = append(a.values, v)
	}
}

func (a *pushAcc) result() *document.Value {
	return document.NewValue(append([]*document.Value{}, a.values...))
}

type setAcc struct {
	seen   map[string]bool
	values []*document.Value
}

func (a *setAcc) add(v *document.Value) {
	if v == nil {
		return
	}
	k := groupKey(v)
	if !a.seen[k] {
		a.seen[k] = true
		a.values = append(a.values, v)
	}
}

func (a *setAcc) result() *document.Value {
	return document.NewValue(append([]*document.Value{}, a.values...))
}

type countAcc struct {
	n int64
}

func (a *countAcc) add(*document.Value) {
	a.n++
}

func (a *countAcc) result() *document.Value {
	return document.NewValue(a.n)
}

// groupKey renders v so that values equal under document.Equal share a
// key: numbers are normalized across int and double, documents keep
// their field order.
func groupKey(v *document.Value) string {
	var sb strings.Builder
	writeKey(&sb, v)
	return sb.String()
}

func writeKey(sb *strings.Builder, v *document.Value) {
	if v.IsNull() {
		sb.WriteString("z")
		return
	}
	switch v.Type {
	case document.TypeDocument:
		d := v.Data.(*document.Document)
		sb.WriteString("{")
		for _, k := range d.Keys() {
			child, _ := d.GetValue(k)
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(":")
			writeKey(sb, child)
			sb.WriteString(",")
		}
		sb.WriteString("}")
	case document.TypeArray:
		sb.WriteString("[")
		for _, elem := range v.Data.([]*document.Value) {
			writeKey(sb, elem)
			sb.WriteString(",")
		}
		sb.WriteString("]")
	default:
		if v.IsNumber() {
			f, _ := v.Float()
			if i, ok := v.Int(); ok && v.Type != document.TypeFloat64 {
				sb.WriteString("n" + strconv.FormatInt(i, 10))
				return
			}
			if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
				sb.WriteString("n" + strconv.FormatInt(int64(f), 10))
				return
			}
			sb.WriteString("n" + strconv.FormatFloat(f, 'g', -1, 64))
			return
		}
		sb.WriteString(v.Type.String())
		sb.WriteString(":")
		sb.WriteString(v.String())
	}
}
