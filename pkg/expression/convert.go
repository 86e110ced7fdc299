package expression

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/laura-core/pkg/document"
)

// Convert converts v to the named target type ("double", "int", "long",
// "string", "bool", "date", "objectId"). It reports false when the value
// cannot be represented in the target type.
func Convert(v *document.Value, to string) (*document.Value, bool) {
	switch to {
	case "double", "decimal":
		return toDouble(v)
	case "int":
		n, ok := toInteger(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, false
		}
		return document.NewValue(int32(n)), true
	case "long":
		n, ok := toInteger(v)
		if !ok {
			return nil, false
		}
		return document.NewValue(n), true
	case "string":
		return document.NewValue(toString(v)), true
	case "bool":
		return document.NewValue(toBool(v)), true
	case "date":
		return toDate(v)
	case "objectId":
		if v.Type == document.TypeObjectID {
			return v, true
		}
		s, ok := v.Str()
		if !ok {
			return nil, false
		}
		id, err := document.ObjectIDFromHex(s)
		if err != nil {
			return nil, false
		}
		return document.NewValue(id), true
	}
	return nil, false
}

func toDouble(v *document.Value) (*document.Value, bool) {
	switch v.Type {
	case document.TypeInt32, document.TypeInt64, document.TypeFloat64:
		f, _ := v.Float()
		return document.NewValue(f), true
	case document.TypeBoolean:
		if v.Data.(bool) {
			return document.NewValue(1.0), true
		}
		return document.NewValue(0.0), true
	case document.TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Data.(string)), 64)
		if err != nil {
			return nil, false
		}
		return document.NewValue(f), true
	case document.TypeDate:
		return document.NewValue(float64(v.Data.(time.Time).UnixMilli())), true
	}
	return nil, false
}

func toInteger(v *document.Value) (int64, bool) {
	switch v.Type {
	case document.TypeInt32, document.TypeInt64:
		return v.Int()
	case document.TypeFloat64:
		f := v.Data.(float64)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case document.TypeBoolean:
		if v.Data.(bool) {
			return 1, true
		}
		return 0, true
	case document.TypeString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Data.(string)), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case document.TypeDate:
		return v.Data.(time.Time).UnixMilli(), true
	}
	return 0, false
}

const dateLayout = "2006-01-02T15:04:05.000Z"

func toString(v *document.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type {
	case document.TypeNull:
		return ""
	case document.TypeString:
		return v.Data.(string)
	case document.TypeFloat64:
		return strconv.FormatFloat(v.Data.(float64), 'g', -1, 64)
	case document.TypeDate:
		return v.Data.(time.Time).UTC().Format(dateLayout)
	case document.TypeObjectID:
		return v.Data.(document.ObjectID).Hex()
	case document.TypeArray, document.TypeDocument:
		b, _ := v.MarshalJSON()
		return string(b)
	}
	return fmt.Sprintf("%v", v.Data)
}

func toBool(v *document.Value) bool {
	switch v.Type {
	case document.TypeBoolean:
		return v.Data.(bool)
	case document.TypeInt32, document.TypeInt64, document.TypeFloat64:
		f, _ := v.Float()
		return f != 0
	}
	return true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toDate(v *document.Value) (*document.Value, bool) {
	switch v.Type {
	case document.TypeDate:
		return v, true
	case document.TypeInt32, document.TypeInt64, document.TypeFloat64:
		ms, ok := v.Int()
		if !ok {
			return nil, false
		}
		return document.NewValue(time.UnixMilli(ms)), true
	case document.TypeObjectID:
		return document.NewValue(v.Data.(document.ObjectID).Timestamp()), true
	case document.TypeString:
		s := strings.TrimSpace(v.Data.(string))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return document.NewValue(t), true
			}
		}
	}
	return nil, false
}

// convertTo is the shorthand form ($toInt, $toDate ...): null on failure
func convertTo(to string) opFunc {
	return func(args []*document.Value) *document.Value {
		if isNullish(args[0]) {
			return document.Null
		}
		out, ok := Convert(args[0], to)
		if !ok {
			return document.Null
		}
		return out
	}
}

type convertExpr struct {
	input, to, onError, onNull Expr
}

func compileConvert(arg *document.Value) (Expr, error) {
	na, err := newNamedArgs("$convert", arg, "input", "to", "onError", "onNull")
	if err != nil {
		return nil, err
	}
	e := &convertExpr{}
	if e.input, err = na.expr("input", true); err != nil {
		return nil, err
	}
	if e.to, err = na.expr("to", true); err != nil {
		return nil, err
	}
	if e.onError, err = na.expr("onError", false); err != nil {
		return nil, err
	}
	if e.onNull, err = na.expr("onNull", false); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *convertExpr) Eval(ctx *Context) *document.Value {
	in := e.input.Eval(ctx)
	if isNullish(in) {
		if e.onNull != nil {
			return e.onNull.Eval(ctx)
		}
		return document.Null
	}

	target := e.to.Eval(ctx)
	to, ok := target.Str()
	if !ok {
		to = typeName(target)
	}
	if out, ok := Convert(in, to); ok {
		return out
	}
	if e.onError != nil {
		return e.onError.Eval(ctx)
	}
	return document.Null
}

// typeName maps numeric $convert targets to their aliases
func typeName(v *document.Value) string {
	n, ok := v.Int()
	if !ok {
		return ""
	}
	switch n {
	case 1:
		return "double"
	case 2:
		return "string"
	case 7:
		return "objectId"
	case 8:
		return "bool"
	case 9:
		return "date"
	case 16:
		return "int"
	case 18:
		return "long"
	}
	return ""
}

type dateToStringExpr struct {
	format string
	date   Expr
	tz     *time.Location
	onNull Expr
}

func compileDateToString(arg *document.Value) (Expr, error) {
	na, err := newNamedArgs("$dateToString", arg, "format", "date", "timezone", "onNull")
	if err != nil {
		return nil, err
	}
	e := &dateToStringExpr{tz: time.UTC}
	if e.format, err = na.str("format", "%Y-%m-%dT%H:%M:%S.%LZ"); err != nil {
		return nil, err
	}
	if e.date, err = na.expr("date", true); err != nil {
		return nil, err
	}
	tz, err := na.str("timezone", "")
	if err != nil {
		return nil, err
	}
	if tz != "" {
		if e.tz, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("%w: $dateToString timezone: %v", ErrInvalidExpression, err)
		}
	}
	if e.onNull, err = na.expr("onNull", false); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *dateToStringExpr) Eval(ctx *Context) *document.Value {
	v := e.date.Eval(ctx)
	if isNullish(v) {
		if e.onNull != nil {
			return e.onNull.Eval(ctx)
		}
		return document.Null
	}
	t, ok := v.Time()
	if !ok {
		return document.Null
	}
	return document.NewValue(FormatDate(t.In(e.tz), e.format))
}

// FormatDate renders t using %Y %m %d %H %M %S %L %j %u and %% specifiers
func FormatDate(t time.Time, format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&sb, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 'L':
			fmt.Fprintf(&sb, "%03d", t.Nanosecond()/int(time.Millisecond))
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'u':
			wd := int(t.Weekday())
			if wd == 0 {
				wd = 7
			}
			fmt.Fprintf(&sb, "%d", wd)
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}
