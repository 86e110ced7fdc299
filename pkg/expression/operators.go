package expression

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mnohosten/laura-core/pkg/document"
)

// opFunc evaluates an operator over already evaluated arguments
type opFunc func(args []*document.Value) *document.Value

type operator struct {
	fn       opFunc
	min, max int // argument count bounds, max < 0 means unbounded
}

var operators map[string]operator

func init() {
	operators = map[string]operator{
		// arithmetic
		"$add":      {opAdd, 0, -1},
		"$subtract": {opSubtract, 2, 2},
		"$multiply": {opMultiply, 0, -1},
		"$divide":   {opDivide, 2, 2},
		"$mod":      {opMod, 2, 2},
		"$abs":      {numeric1(math.Abs), 1, 1},
		"$ceil":     {numeric1(math.Ceil), 1, 1},
		"$floor":    {numeric1(math.Floor), 1, 1},
		"$round":    {opRound, 1, 2},

		// comparison
		"$eq":  {compareOp(func(c int) bool { return c == 0 }), 2, 2},
		"$ne":  {compareOp(func(c int) bool { return c != 0 }), 2, 2},
		"$gt":  {compareOp(func(c int) bool { return c > 0 }), 2, 2},
		"$gte": {compareOp(func(c int) bool { return c >= 0 }), 2, 2},
		"$lt":  {compareOp(func(c int) bool { return c < 0 }), 2, 2},
		"$lte": {compareOp(func(c int) bool { return c <= 0 }), 2, 2},
		"$cmp": {opCmp, 2, 2},

		// boolean
		"$and": {opAnd, 0, -1},
		"$or":  {opOr, 0, -1},
		"$not": {opNot, 1, 1},

		// string
		"$concat":   {opConcat, 0, -1},
		"$toUpper":  {stringOp(strings.ToUpper), 1, 1},
		"$toLower":  {stringOp(strings.ToLower), 1, 1},
		"$substr":   {opSubstrBytes, 3, 3},
		"$substrCP": {opSubstrCP, 3, 3},
		"$strLenCP": {opStrLenCP, 1, 1},
		"$split":    {opSplit, 2, 2},

		// array
		"$size":            {opSize, 1, 1},
		"$arrayElemAt":     {opArrayElemAt, 2, 2},
		"$in":              {opIn, 2, 2},
		"$isArray":         {opIsArray, 1, 1},
		"$allElementsTrue": {opAllElementsTrue, 1, 1},
		"$anyElementTrue":  {opAnyElementTrue, 1, 1},
		"$sum":             {opSum, 0, -1},
		"$avg":             {opAvg, 0, -1},
		"$min":             {extremum(-1), 0, -1},
		"$max":             {extremum(1), 0, -1},
		"$slice":           {opSlice, 2, 3},

		// type
		"$type":     {opType, 1, 1},
		"$toDate":   {convertTo("date"), 1, 1},
		"$toDouble": {convertTo("double"), 1, 1},
		"$toInt":    {convertTo("int"), 1, 1},
		"$toLong":   {convertTo("long"), 1, 1},
		"$toString": {convertTo("string"), 1, 1},
		"$toBool":   {convertTo("bool"), 1, 1},

		// dates
		"$year":       {datePart(func(t time.Time) int { return t.Year() }), 1, 1},
		"$month":      {datePart(func(t time.Time) int { return int(t.Month()) }), 1, 1},
		"$dayOfMonth": {datePart(func(t time.Time) int { return t.Day() }), 1, 1},
		"$hour":       {datePart(func(t time.Time) int { return t.Hour() }), 1, 1},
	}
	operators["$substrBytes"] = operators["$substr"]
}

// callExpr applies an eager operator to its compiled arguments
type callExpr struct {
	name string
	fn   opFunc
	args []Expr
}

func (e *callExpr) Eval(ctx *Context) *document.Value {
	vals := make([]*document.Value, len(e.args))
	for i, a := range e.args {
		vals[i] = a.Eval(ctx)
	}
	return e.fn(vals)
}

func compileOperator(name string, arg *document.Value) (Expr, error) {
	switch name {
	case "$literal":
		return &literalExpr{value: arg}, nil
	case "$cond":
		return compileCond(arg)
	case "$ifNull":
		return compileIfNull(arg)
	case "$switch":
		return compileSwitch(arg)
	case "$map":
		return compileMap(arg)
	case "$filter":
		return compileFilter(arg)
	case "$let":
		return compileLet(arg)
	case "$convert":
		return compileConvert(arg)
	case "$trim", "$ltrim", "$rtrim":
		return compileTrim(name, arg)
	case "$dateToString":
		return compileDateToString(arg)
	}

	op, ok := operators[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator %s", ErrInvalidExpression, name)
	}

	// Date operators also accept {date: <expr>}
	if d, isDoc := arg.Doc(); isDoc && d.Has("date") && isDatePart(name) {
		arg, _ = d.GetValue("date")
	}

	var specs []*document.Value
	if arr, isArr := arg.Array(); isArr {
		specs = arr
	} else {
		specs = []*document.Value{arg}
	}
	if len(specs) < op.min || (op.max >= 0 && len(specs) > op.max) {
		return nil, fmt.Errorf("%w: %s takes %s, got %d", ErrInvalidExpression, name, arity(op), len(specs))
	}

	args := make([]Expr, len(specs))
	for i, s := range specs {
		e, err := compileValue(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		args[i] = e
	}
	return &callExpr{name: name, fn: op.fn, args: args}, nil
}

func isDatePart(name string) bool {
	switch name {
	case "$year", "$month", "$dayOfMonth", "$hour":
		return true
	}
	return false
}

func arity(op operator) string {
	switch {
	case op.max < 0:
		return fmt.Sprintf("at least %d arguments", op.min)
	case op.min == op.max:
		return fmt.Sprintf("%d arguments", op.min)
	}
	return fmt.Sprintf("%d to %d arguments", op.min, op.max)
}

// numeric accumulates a sum or product keeping integers exact
type numeric struct {
	i       int64
	f       float64
	isFloat bool
}

func (n *numeric) value() *document.Value {
	if n.isFloat {
		return document.NewValue(n.f)
	}
	return document.NewValue(n.i)
}

func isInt(v *document.Value) bool {
	return v.Type == document.TypeInt32 || v.Type == document.TypeInt64
}

func opAdd(args []*document.Value) *document.Value {
	acc := numeric{}
	var date *time.Time
	for _, a := range args {
		if isNullish(a) {
			return document.Null
		}
		if t, ok := a.Time(); ok {
			if date != nil {
				return document.Null
			}
			date = &t
			continue
		}
		if !a.IsNumber() {
			return document.Null
		}
		if isInt(a) && !acc.isFloat {
			n, _ := a.Int()
			acc.i += n
			continue
		}
		if !acc.isFloat {
			acc.isFloat = true
			acc.f = float64(acc.i)
		}
		f, _ := a.Float()
		acc.f += f
	}
	if date != nil {
		ms := float64(acc.i)
		if acc.isFloat {
			ms = acc.f
		}
		return document.NewValue(date.Add(time.Duration(ms * float64(time.Millisecond))))
	}
	return acc.value()
}

func opSubtract(args []*document.Value) *document.Value {
	a, b := args[0], args[1]
	if isNullish(a) || isNullish(b) {
		return document.Null
	}
	if ta, ok := a.Time(); ok {
		if tb, ok := b.Time(); ok {
			return document.NewValue(ta.Sub(tb).Milliseconds())
		}
		if f, ok := b.Float(); ok {
			return document.NewValue(ta.Add(-time.Duration(f * float64(time.Millisecond))))
		}
		return document.Null
	}
	if !a.IsNumber() || !b.IsNumber() {
		return document.Null
	}
	if isInt(a) && isInt(b) {
		x, _ := a.Int()
		y, _ := b.Int()
		return document.NewValue(x - y)
	}
	x, _ := a.Float()
	y, _ := b.Float()
	return document.NewValue(x - y)
}

func opMultiply(args []*document.Value) *document.Value {
	acc := numeric{i: 1}
	for _, a := range args {
		if isNullish(a) || !a.IsNumber() {
			return document.Null
		}
		if isInt(a) && !acc.isFloat {
			n, _ := a.Int()
			acc.i *= n
			continue
		}
		if !acc.isFloat {
			acc.isFloat = true
			acc.f = float64(acc.i)
		}
		f, _ := a.Float()
		acc.f *= f
	}
	return acc.value()
}

func opDivide(args []*document.Value) *document.Value {
	x, ok1 := args[0].Float()
	y, ok2 := args[1].Float()
	if !ok1 || !ok2 || y == 0 {
		return document.Null
	}
	return document.NewValue(x / y)
}

func opMod(args []*document.Value) *document.Value {
	a, b := args[0], args[1]
	if isNullish(a) || isNullish(b) || !a.IsNumber() || !b.IsNumber() {
		return document.Null
	}
	if isInt(a) && isInt(b) {
		x, _ := a.Int()
		y, _ := b.Int()
		if y == 0 {
			return document.Null
		}
		return document.NewValue(x % y)
	}
	x, _ := a.Float()
	y, _ := b.Float()
	if y == 0 {
		return document.Null
	}
	return document.NewValue(math.Mod(x, y))
}

// numeric1 applies f to a single number; integers stay integers
func numeric1(f func(float64) float64) opFunc {
	return func(args []*document.Value) *document.Value {
		a := args[0]
		if isNullish(a) || !a.IsNumber() {
			return document.Null
		}
		if isInt(a) {
			n, _ := a.Int()
			return document.NewValue(int64(f(float64(n))))
		}
		x, _ := a.Float()
		return document.NewValue(f(x))
	}
}

func opRound(args []*document.Value) *document.Value {
	a := args[0]
	if isNullish(a) || !a.IsNumber() {
		return document.Null
	}
	place := int64(0)
	if len(args) == 2 {
		p, ok := args[1].Int()
		if !ok {
			return document.Null
		}
		place = p
	}
	if isInt(a) && place >= 0 {
		return a
	}
	x, _ := a.Float()
	r := roundDecimal(x, place)
	if isInt(a) {
		return document.NewValue(int64(r))
	}
	return document.NewValue(r)
}

// roundDecimal rounds x half to even at place decimal digits (negative
// places round to tens, hundreds, ...). It works on the shortest decimal
// form of x, so 2.345 rounds to 2.34 even though its binary value is
// slightly above the midpoint.
func roundDecimal(x float64, place int64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x == 0 {
		return x
	}
	intPart, frac, _ := strings.Cut(strconv.FormatFloat(math.Abs(x), 'f', -1, 64), ".")

	var keep, rest string
	if place >= 0 {
		if int64(len(frac)) <= place {
			return x
		}
		keep, rest = intPart+frac[:place], frac[place:]
	} else {
		n := int(-place)
		if len(intPart) <= n {
			intPart = strings.Repeat("0", n+1-len(intPart)) + intPart
		}
		keep, rest = intPart[:len(intPart)-n], intPart[len(intPart)-n:]+frac
	}

	digits := []byte(keep)
	if roundsUp(digits[len(digits)-1], rest) {
		digits = incrementDigits(digits)
	}

	var out string
	switch {
	case place == 0:
		out = string(digits)
	case place > 0:
		split := len(digits) - int(place)
		out = string(digits[:split]) + "." + string(digits[split:])
	default:
		out = string(digits) + strings.Repeat("0", int(-place))
	}
	r, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return x
	}
	return math.Copysign(r, x)
}

// roundsUp decides half to even for the dropped digits rest after last
func roundsUp(last byte, rest string) bool {
	switch {
	case rest[0] > '5':
		return true
	case rest[0] < '5':
		return false
	case strings.TrimRight(rest[1:], "0") != "":
		return true
	}
	return (last-'0')%2 == 1
}

func incrementDigits(digits []byte) []byte {
	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] < '9' {
			digits[i]++
			return digits
		}
		digits[i] = '0'
	}
	return append([]byte{'1'}, digits...)
}

func compareOp(test func(int) bool) opFunc {
	return func(args []*document.Value) *document.Value {
		return document.NewValue(test(document.Compare(args[0], args[1])))
	}
}

func opCmp(args []*document.Value) *document.Value {
	return document.NewValue(int32(document.Compare(args[0], args[1])))
}

func opAnd(args []*document.Value) *document.Value {
	for _, a := range args {
		if !a.Truthy() {
			return document.NewValue(false)
		}
	}
	return document.NewValue(true)
}

func opOr(args []*document.Value) *document.Value {
	for _, a := range args {
		if a.Truthy() {
			return document.NewValue(true)
		}
	}
	return document.NewValue(false)
}

func opNot(args []*document.Value) *document.Value {
	return document.NewValue(!args[0].Truthy())
}

func opConcat(args []*document.Value) *document.Value {
	var sb strings.Builder
	for _, a := range args {
		s, ok := a.Str()
		if !ok {
			return document.Null
		}
		sb.WriteString(s)
	}
	return document.NewValue(sb.String())
}

// stringOp applies f to a string; null and missing yield ""
func stringOp(f func(string) string) opFunc {
	return func(args []*document.Value) *document.Value {
		if isNullish(args[0]) {
			return document.NewValue("")
		}
		s, ok := args[0].Str()
		if !ok {
			s = toString(args[0])
		}
		return document.NewValue(f(s))
	}
}

func opSubstrBytes(args []*document.Value) *document.Value {
	s, ok := args[0].Str()
	start, ok2 := args[1].Int()
	length, ok3 := args[2].Int()
	if !ok || !ok2 || !ok3 || start < 0 {
		return document.NewValue("")
	}
	if start >= int64(len(s)) {
		return document.NewValue("")
	}
	end := int64(len(s))
	if length >= 0 && start+length < end {
		end = start + length
	}
	return document.NewValue(s[start:end])
}

func opSubstrCP(args []*document.Value) *document.Value {
	s, ok := args[0].Str()
	start, ok2 := args[1].Int()
	length, ok3 := args[2].Int()
	if !ok || !ok2 || !ok3 || start < 0 || length < 0 {
		return document.NewValue("")
	}
	runes := []rune(s)
	if start >= int64(len(runes)) {
		return document.NewValue("")
	}
	end := start + length
	if end > int64(len(runes)) {
		end = int64(len(runes))
	}
	return document.NewValue(string(runes[start:end]))
}

func opStrLenCP(args []*document.Value) *document.Value {
	s, ok := args[0].Str()
	if !ok {
		return document.Null
	}
	return document.NewValue(int32(utf8.RuneCountInString(s)))
}

func opSplit(args []*document.Value) *document.Value {
	s, ok := args[0].Str()
	sep, ok2 := args[1].Str()
	if !ok || !ok2 || sep == "" {
		return document.Null
	}
	return document.NewValue(strings.Split(s, sep))
}

func opSize(args []*document.Value) *document.Value {
	arr, ok := args[0].Array()
	if !ok {
		return document.Null
	}
	return document.NewValue(int32(len(arr)))
}

func opArrayElemAt(args []*document.Value) *document.Value {
	arr, ok := args[0].Array()
	idx, ok2 := args[1].Int()
	if !ok || !ok2 {
		return document.Null
	}
	if idx < 0 {
		idx += int64(len(arr))
	}
	if idx < 0 || idx >= int64(len(arr)) {
		return nil
	}
	return arr[idx]
}

func opIn(args []*document.Value) *document.Value {
	arr, ok := args[1].Array()
	if !ok {
		return document.NewValue(false)
	}
	for _, item := range arr {
		if document.Equal(orNull(args[0]), item) {
			return document.NewValue(true)
		}
	}
	return document.NewValue(false)
}

func opIsArray(args []*document.Value) *document.Value {
	_, ok := args[0].Array()
	return document.NewValue(ok)
}

func opAllElementsTrue(args []*document.Value) *document.Value {
	arr, ok := args[0].Array()
	if !ok {
		return document.Null
	}
	for _, item := range arr {
		if !item.Truthy() {
			return document.NewValue(false)
		}
	}
	return document.NewValue(true)
}

func opAnyElementTrue(args []*document.Value) *document.Value {
	arr, ok := args[0].Array()
	if !ok {
		return document.Null
	}
	for _, item := range arr {
		if item.Truthy() {
			return document.NewValue(true)
		}
	}
	return document.NewValue(false)
}

// operands flattens a single array argument into its elements
func operands(args []*document.Value) []*document.Value {
	if len(args) == 1 {
		if arr, ok := args[0].Array(); ok {
			return arr
		}
	}
	return args
}

func opSum(args []*document.Value) *document.Value {
	acc := numeric{}
	for _, a := range operands(args) {
		if !a.IsNumber() {
			continue
		}
		if isInt(a) && !acc.isFloat {
			n, _ := a.Int()
			acc.i += n
			continue
		}
		if !acc.isFloat {
			acc.isFloat = true
			acc.f = float64(acc.i)
		}
		f, _ := a.Float()
		acc.f += f
	}
	return acc.value()
}

func opAvg(args []*document.Value) *document.Value {
	sum, n := 0.0, 0
	for _, a := range operands(args) {
		if f, ok := a.Float(); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return document.Null
	}
	return document.NewValue(sum / float64(n))
}

// extremum returns the smallest (dir -1) or largest (dir 1) non-null operand
func extremum(dir int) opFunc {
	return func(args []*document.Value) *document.Value {
		var best *document.Value
		for _, a := range operands(args) {
			if isNullish(a) {
				continue
			}
			if best == nil || document.Compare(a, best) == dir {
				best = a
			}
		}
		return orNull(best)
	}
}

func opSlice(args []*document.Value) *document.Value {
	arr, ok := args[0].Array()
	if !ok {
		return document.Null
	}
	n := int64(len(arr))
	if len(args) == 2 {
		count, ok := args[1].Int()
		if !ok {
			return document.Null
		}
		if count >= 0 {
			return document.NewValue(arr[:min(count, n)])
		}
		return document.NewValue(arr[max(n+count, 0):])
	}
	pos, ok := args[1].Int()
	count, ok2 := args[2].Int()
	if !ok || !ok2 || count < 0 {
		return document.Null
	}
	if pos < 0 {
		pos = max(n+pos, 0)
	}
	if pos >= n {
		return document.NewValue([]*document.Value{})
	}
	return document.NewValue(arr[pos:min(pos+count, n)])
}

func opType(args []*document.Value) *document.Value {
	if args[0] == nil {
		return document.NewValue("missing")
	}
	return document.NewValue(args[0].Type.String())
}

func datePart(part func(time.Time) int) opFunc {
	return func(args []*document.Value) *document.Value {
		t, ok := args[0].Time()
		if !ok {
			return document.Null
		}
		return document.NewValue(int32(part(t)))
	}
}

func trimSet(chars string) func(rune) bool {
	if chars == "" {
		return unicode.IsSpace
	}
	return func(r rune) bool { return strings.ContainsRune(chars, r) }
}
