package aggregation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/expression"
	"github.com/mnohosten/laura-core/pkg/geo"
	"github.com/mnohosten/laura-core/pkg/query"
)

// Stage is one parsed pipeline stage. The set of stages is closed: every
// implementation lives in this package and is evaluated by apply.
type Stage interface {
	Name() string
	stage()
}

type matchStage struct {
	filter *query.Filter
}

type projectStage struct {
	projection *query.Projection
}

type computedField struct {
	path string
	expr expression.Expr
}

// addFieldsStage serves both $addFields and its alias $set
type addFieldsStage struct {
	name   string
	fields []computedField
}

type unsetStage struct {
	paths []string
}

type groupStage struct {
	id   expression.Expr
	accs []accumulatorSpec
}

type unwindStage struct {
	path       string
	indexField string
	preserve   bool
}

type sortStage struct {
	fields []query.SortField
}

type skipStage struct {
	n int
}

type limitStage struct {
	n int
}

type countStage struct {
	field string
}

type bucketStage struct {
	groupBy    expression.Expr
	boundaries []*document.Value
	def        *document.Value // nil drops out-of-range documents
	accs       []accumulatorSpec
}

type bucketAutoStage struct {
	groupBy expression.Expr
	buckets int
	accs    []accumulatorSpec
}

type geoNearStage struct {
	point         geo.Point
	scale         float64 // meters per distance unit of the request
	distanceField string
	maxDistance   float64 // meters, 0 means unbounded
	minDistance   float64
	filter        *query.Filter
	key           string
	multiplier    float64
	includeLocs   string
}

type outStage struct {
	collection string
}

func (*matchStage) Name() string { return "$match" }
func (*projectStage) Name() string { return "$project" }
func (s *addFieldsStage) Name() string { return s.name }
func (*unsetStage) Name() string { return "$unset" }
func (*groupStage) Name() string { return "$group" }
func (*unwindStage) Name() string { return "$unwind" }
func (*sortStage) Name() string { return "$sort" }
func (*skipStage) Name() string { return "$skip" }
func (*limitStage) Name() string { return "$limit" }
func (*countStage) Name() string { return "$count" }
func (*bucketStage) Name() string { return "$bucket" }
func (*bucketAutoStage) Name() string { return "$bucketAuto" }
func (*geoNearStage) Name() string { return "$geoNear" }
func (*outStage) Name() string { return "$out" }

func (*matchStage) stage() {}
func (*projectStage) stage() {}
func (*addFieldsStage) stage() {}
func (*unsetStage) stage() {}
func (*groupStage) stage() {}
func (*unwindStage) stage() {}
func (*sortStage) stage() {}
func (*skipStage) stage() {}
func (*limitStage) stage() {}
func (*countStage) stage() {}
func (*bucketStage) stage() {}
func (*bucketAutoStage) stage() {}
func (*geoNearStage) stage() {}
func (*outStage) stage() {}

// parseStage reads one {"$name": spec} stage at position index of a
// pipeline with total stages
func parseStage(def *document.Document, index, total int) (Stage, error) {
	if def.Len() != 1 {
		return nil, stageErrorf(index, "", "a stage must have exactly one field, got %d", def.Len())
	}
	name := def.Keys()[0]
	spec, _ := def.GetValue(name)

	var st Stage
	var err error
	switch name {
	case "$match":
		st, err = parseMatch(spec, index)
	case "$project":
		var p *query.Projection
		p, err = query.ParseProjection(spec)
		st = &projectStage{projection: p}
	case "$addFields", "$set":
		st, err = parseAddFields(name, spec)
	case "$unset":
		st, err = parseUnset(spec)
	case "$group":
		st, err = parseGroup(spec)
	case "$unwind":
		st, err = parseUnwind(spec)
	case "$sort":
		var fields []query.SortField
		fields, err = query.ParseSort(spec)
		st = &sortStage{fields: fields}
	case "$skip":
		var n int
		n, err = countArg(spec, 0)
		st = &skipStage{n: n}
	case "$limit":
		var n int
		n, err = countArg(spec, 1)
		st = &limitStage{n: n}
	case "$count":
		st, err = parseCount(spec)
	case "$bucket":
		st, err = parseBucket(spec)
	case "$bucketAuto":
		st, err = parseBucketAuto(spec)
	case "$geoNear":
		if index != 0 {
			return nil, stageErrorf(index, name, "$geoNear is only valid as the first stage")
		}
		st, err = parseGeoNear(spec)
	case "$out":
		if index != total-1 {
			return nil, stageErrorf(index, name, "$out can only be the final stage")
		}
		st, err = parseOut(spec)
	default:
		return nil, stageErrorf(index, name, "unrecognized pipeline stage name")
	}
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &StageError{Index: index, Stage: name, Err: err}
	}
	return st, nil
}

func parseMatch(spec *document.Value, index int) (Stage, error) {
	if _, ok := spec.Doc(); !ok {
		return nil, fmt.Errorf("the match filter must be a document")
	}
	f, err := query.Compile(spec)
	if err != nil {
		return nil, err
	}
	if f.Near() != nil {
		return nil, fmt.Errorf("$near is not allowed inside $match, use $geoNear")
	}
	if f.Text() != nil && index != 0 {
		return nil, fmt.Errorf("$text is only allowed in the first $match stage")
	}
	return &matchStage{filter: f}, nil
}

func parseAddFields(name string, spec *document.Value) (Stage, error) {
	doc, ok := spec.Doc()
	if !ok || doc.Len() == 0 {
		return nil, fmt.Errorf("%s requires a non-empty document", name)
	}
	st := &addFieldsStage{name: name}
	for _, path := range doc.Keys() {
		if strings.HasPrefix(path, "$") {
			return nil, fmt.Errorf("invalid field name %q", path)
		}
		v, _ := doc.GetValue(path)
		e, err := expression.Compile(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", path, err)
		}
		st.fields = append(st.fields, computedField{path: path, expr: e})
	}
	return st, nil
}

func parseUnset(spec *document.Value) (Stage, error) {
	if s, ok := spec.Str(); ok {
		spec = document.NewValue([]*document.Value{document.NewValue(s)})
	}
	arr, ok := spec.Array()
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("$unset requires a field name or a non-empty array of names")
	}
	st := &unsetStage{}
	for _, v := range arr {
		s, ok := v.Str()
		if !ok || s == "" || strings.HasPrefix(s, "$") {
			return nil, fmt.Errorf("$unset field names must be non-empty strings, got %s", v)
		}
		st.paths = append(st.paths, s)
	}
	return st, nil
}

func parseGroup(spec *document.Value) (Stage, error) {
	doc, ok := spec.Doc()
	if !ok {
		return nil, fmt.Errorf("$group requires a document")
	}
	idVal, ok := doc.GetValue(document.IDField)
	if !ok {
		return nil, fmt.Errorf("a group specification must include an _id")
	}
	id, err := expression.Compile(idVal)
	if err != nil {
		return nil, fmt.Errorf("_id: %w", err)
	}
	accs, err := compileAccumulators(doc, document.IDField)
	if err != nil {
		return nil, err
	}
	return &groupStage{id: id, accs: accs}, nil
}

func parseUnwind(spec *document.Value) (Stage, error) {
	st := &unwindStage{}
	pathVal := spec
	if doc, ok := spec.Doc(); ok {
		pathVal, _ = doc.GetValue("path")
		for _, key := range doc.Keys() {
			v, _ := doc.GetValue(key)
			switch key {
			case "path":
			case "includeArrayIndex":
				s, ok := v.Str()
				if !ok || s == "" || strings.HasPrefix(s, "$") {
					return nil, fmt.Errorf("includeArrayIndex must be a field name")
				}
				st.indexField = s
			case "preserveNullAndEmptyArrays":
				b, ok := v.Bool()
				if !ok {
					return nil, fmt.Errorf("preserveNullAndEmptyArrays must be a boolean")
				}
				st.preserve = b
			default:
				return nil, fmt.Errorf("unrecognized option %s", key)
			}
		}
	}
	path, ok := pathVal.Str()
	if !ok || len(path) < 2 || !strings.HasPrefix(path, "$") || strings.HasPrefix(path, "$$") {
		return nil, fmt.Errorf("path must be a field path starting with '$'")
	}
	st.path = path[1:]
	return st, nil
}

// countArg reads a non-negative integer of at least min
func countArg(v *document.Value, min int64) (int, error) {
	n, ok := v.Int()
	f, _ := v.Float()
	if !ok || float64(n) != f || n < min {
		return 0, fmt.Errorf("expected an integer >= %d, got %s", min, v)
	}
	return int(n), nil
}

func parseCount(spec *document.Value) (Stage, error) {
	s, ok := spec.Str()
	if !ok || s == "" || strings.HasPrefix(s, "$") || strings.Contains(s, ".") {
		return nil, fmt.Errorf("$count requires a plain field name")
	}
	return &countStage{field: s}, nil
}

func parseBucket(spec *document.Value) (Stage, error) {
	doc, ok := spec.Doc()
	if !ok {
		return nil, fmt.Errorf("$bucket requires a document")
	}
	st := &bucketStage{}
	var err error
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		switch key {
		case "groupBy":
			st.groupBy, err = groupByExpr(v)
		case "boundaries":
			st.boundaries, err = parseBoundaries(v)
		case "default":
			st.def = v
		case "output":
			st.accs, err = parseOutput(v)
		default:
			err = fmt.Errorf("unrecognized option %s", key)
		}
		if err != nil {
			return nil, err
		}
	}
	if st.groupBy == nil || st.boundaries == nil {
		return nil, fmt.Errorf("$bucket requires groupBy and boundaries")
	}
	if st.def != nil && inRange(st.def, st.boundaries) {
		return nil, fmt.Errorf("the default value must lie outside the boundaries")
	}
	if st.accs == nil {
		st.accs = defaultOutput()
	}
	return st, nil
}

func parseBucketAuto(spec *document.Value) (Stage, error) {
	doc, ok := spec.Doc()
	if !ok {
		return nil, fmt.Errorf("$bucketAuto requires a document")
	}
	st := &bucketAutoStage{}
	var err error
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		switch key {
		case "groupBy":
			st.groupBy, err = groupByExpr(v)
		case "buckets":
			st.buckets, err = countArg(v, 1)
		case "output":
			st.accs, err = parseOutput(v)
		case "granularity":
			err = fmt.Errorf("granularity is not supported")
		default:
			err = fmt.Errorf("unrecognized option %s", key)
		}
		if err != nil {
			return nil, err
		}
	}
	if st.groupBy == nil || st.buckets == 0 {
		return nil, fmt.Errorf("$bucketAuto requires groupBy and buckets")
	}
	if st.accs == nil {
		st.accs = defaultOutput()
	}
	return st, nil
}

// groupByExpr compiles the groupBy of a bucket stage, which must be a
// field path or an operator expression
func groupByExpr(v *document.Value) (expression.Expr, error) {
	s, isStr := v.Str()
	_, isDoc := v.Doc()
	if !(isStr && strings.HasPrefix(s, "$")) && !isDoc {
		return nil, fmt.Errorf("groupBy must be a field path or an expression")
	}
	return expression.Compile(v)
}

func parseBoundaries(v *document.Value) ([]*document.Value, error) {
	arr, ok := v.Array()
	if !ok || len(arr) < 2 {
		return nil, fmt.Errorf("boundaries must be an array of at least two values")
	}
	for i := 1; i < len(arr); i++ {
		if !document.SameClass(arr[0], arr[i]) {
			return nil, fmt.Errorf("boundaries must all have the same type")
		}
		if document.Compare(arr[i-1], arr[i]) >= 0 {
			return nil, fmt.Errorf("boundaries must be sorted in ascending order")
		}
	}
	return arr, nil
}

func parseOutput(v *document.Value) ([]accumulatorSpec, error) {
	doc, ok := v.Doc()
	if !ok {
		return nil, fmt.Errorf("output must be a document")
	}
	accs, err := compileAccumulators(doc, "")
	if err != nil {
		return nil, err
	}
	if accs == nil {
		accs = []accumulatorSpec{}
	}
	return accs, nil
}

func defaultOutput() []accumulatorSpec {
	return []accumulatorSpec{{field: "count", op: "$count"}}
}

func parseGeoNear(spec *document.Value) (Stage, error) {
	doc, ok := spec.Doc()
	if !ok {
		return nil, fmt.Errorf("$geoNear requires a document")
	}
	st := &geoNearStage{scale: 1, multiplier: 1}
	var maxDist, minDist float64
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		switch key {
		case "near":
			p, err := geo.ParsePoint(v)
			if err != nil {
				return nil, fmt.Errorf("near: %w", err)
			}
			st.point = *p
			if _, legacy := v.Array(); legacy {
				// legacy pairs measure distances in radians
				st.scale = geo.EarthRadiusMeters
			}
		case "distanceField":
			s, ok := v.Str()
			if !ok || s == "" {
				return nil, fmt.Errorf("distanceField must be a field name")
			}
			st.distanceField = s
		case "maxDistance", "minDistance":
			f, ok := v.Float()
			if !ok || f < 0 {
				return nil, fmt.Errorf("%s must be a non-negative number", key)
			}
			if key == "maxDistance" {
				maxDist = f
			} else {
				minDist = f
			}
		case "query":
			f, err := query.Compile(v)
			if err != nil {
				return nil, fmt.Errorf("query: %w", err)
			}
			if f.Near() != nil || f.Text() != nil {
				return nil, fmt.Errorf("query cannot contain $near or $text")
			}
			st.filter = f
		case "key":
			s, ok := v.Str()
			if !ok || s == "" {
				return nil, fmt.Errorf("key must be a field name")
			}
			st.key = s
		case "distanceMultiplier":
			f, ok := v.Float()
			if !ok || f < 0 {
				return nil, fmt.Errorf("distanceMultiplier must be a non-negative number")
			}
			st.multiplier = f
		case "includeLocs":
			s, ok := v.Str()
			if !ok || s == "" {
				return nil, fmt.Errorf("includeLocs must be a field name")
			}
			st.includeLocs = s
		case "spherical":
			// always spherical
		default:
			return nil, fmt.Errorf("unrecognized option %s", key)
		}
	}
	if !doc.Has("near") || st.distanceField == "" {
		return nil, fmt.Errorf("$geoNear requires near and distanceField")
	}
	st.maxDistance = maxDist * st.scale
	st.minDistance = minDist * st.scale
	return st, nil
}

func parseOut(spec *document.Value) (Stage, error) {
	name, ok := spec.Str()
	if doc, isDoc := spec.Doc(); isDoc {
		v, _ := doc.GetValue("coll")
		name, ok = v.Str()
	}
	if !ok || name == "" || strings.HasPrefix(name, "$") {
		return nil, fmt.Errorf("$out requires a collection name")
	}
	return &outStage{collection: name}, nil
}
