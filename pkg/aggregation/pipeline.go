// Package aggregation parses and runs aggregation pipelines.
//
// Documents are pulled through the stages lazily. Stages that only look
// at one document at a time ($match, $project, $addFields, $unset,
// $unwind, $skip, $limit) stream; $group, $sort, $bucket, $bucketAuto and
// $count read their whole input before emitting. A caller that stops
// pulling abandons the remaining work.
package aggregation

import (
	"fmt"
	"iter"
	"sort"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/expression"
	"github.com/mnohosten/laura-core/pkg/geo"
	"github.com/mnohosten/laura-core/pkg/query"
)

// Pipeline represents a parsed aggregation pipeline
type Pipeline struct {
	stages []Stage
}

// Source supplies the documents of the collection a pipeline runs on
type Source interface {
	// Find returns the documents matching filter, using an index when
	// one applies. A nil filter returns every document.
	Find(filter *query.Filter) (iter.Seq[*document.Document], error)

	// Near returns documents by ascending distance from a point
	Near(req NearRequest) (iter.Seq[NearResult], error)
}

// Sink receives the output of a pipeline ending in $out
type Sink interface {
	// ReplaceCollection atomically replaces the contents of the named
	// collection with docs
	ReplaceCollection(name string, docs []*document.Document) error
}

// NearRequest describes the proximity search of a $geoNear stage
type NearRequest struct {
	Key         string // geo field; empty picks the only 2dsphere index
	Point       geo.Point
	MaxDistance float64 // meters, 0 means unbounded
	MinDistance float64
	Filter      *query.Filter // nil matches everything
}

// NearResult is a document found by a proximity search
type NearResult struct {
	Doc      *document.Document
	Distance float64 // meters
	Field    string  // the geo field that was searched
}

// Result is the output of Run
type Result struct {
	// Out is the collection written by a final $out stage
	Out  string
	docs iter.Seq[*document.Document]
}

// Documents returns the pipeline output stream. It is empty for $out
// pipelines.
func (r *Result) Documents() iter.Seq[*document.Document] {
	if r.docs == nil {
		return func(func(*document.Document) bool) {}
	}
	return r.docs
}

// All drains the output into a slice
func (r *Result) All() []*document.Document {
	out := make([]*document.Document, 0)
	for doc := range r.Documents() {
		out = append(out, doc)
	}
	return out
}

// Parse builds a pipeline from its stage documents
func Parse(stages []map[string]interface{}) (*Pipeline, error) {
	docs := make([]*document.Document, len(stages))
	for i, s := range stages {
		docs[i] = document.NewDocumentFromMap(s)
	}
	return ParseDocuments(docs)
}

// ParseDocuments is Parse for stages that are already documents
func ParseDocuments(stages []*document.Document) (*Pipeline, error) {
	p := &Pipeline{stages: make([]Stage, 0, len(stages))}
	for i, def := range stages {
		st, err := parseStage(def, i, len(stages))
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, st)
	}
	return p, nil
}

// Stages returns the stage names in order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.Name()
	}
	return names
}

// OutCollection returns the target of a final $out stage
func (p *Pipeline) OutCollection() (string, bool) {
	if n := len(p.stages); n > 0 {
		if out, ok := p.stages[n-1].(*outStage); ok {
			return out.collection, true
		}
	}
	return "", false
}

// Run executes the pipeline over src. A leading $match is answered by
// src.Find so that the index plan applies; a leading $geoNear by
// src.Near. When the pipeline ends in $out, the output is written to
// sink before Run returns.
func (p *Pipeline) Run(src Source, sink Sink) (*Result, error) {
	stages := p.stages
	var in iter.Seq[*document.Document]
	var err error

	switch first := firstStage(stages).(type) {
	case *matchStage:
		in, err = src.Find(first.filter)
		stages = stages[1:]
	case *geoNearStage:
		in, err = geoNearDocs(first, src)
		stages = stages[1:]
	default:
		in, err = src.Find(nil)
	}
	if err != nil {
		return nil, &StageError{Index: 0, Stage: firstName(p.stages), Err: err}
	}

	var out *outStage
	for _, st := range stages {
		if o, ok := st.(*outStage); ok {
			out = o
			break
		}
		in = apply(st, in)
	}
	if out == nil {
		return &Result{docs: in}, nil
	}

	if sink == nil {
		return nil, &StageError{Index: len(p.stages) - 1, Stage: "$out", Err: fmt.Errorf("no output target")}
	}
	docs := collect(in)
	if err := sink.ReplaceCollection(out.collection, docs); err != nil {
		return nil, fmt.Errorf("$out to %s: %w", out.collection, err)
	}
	return &Result{Out: out.collection}, nil
}

func firstStage(stages []Stage) Stage {
	if len(stages) == 0 {
		return nil
	}
	return stages[0]
}

func firstName(stages []Stage) string {
	if len(stages) == 0 {
		return ""
	}
	return stages[0].Name()
}

// apply chains one stage onto its input
func apply(st Stage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	switch s := st.(type) {
	case *matchStage:
		return matchDocs(s, in)
	case *projectStage:
		return mapDocs(in, s.projection.Apply)
	case *addFieldsStage:
		return mapDocs(in, s.apply)
	case *unsetStage:
		return mapDocs(in, s.apply)
	case *groupStage:
		return groupDocs(s, in)
	case *unwindStage:
		return unwindDocs(s, in)
	case *sortStage:
		return sortDocs(s, in)
	case *skipStage:
		return skipDocs(s.n, in)
	case *limitStage:
		return limitDocs(s.n, in)
	case *countStage:
		return countDocs(s, in)
	case *bucketStage:
		return bucketDocs(s, in)
	case *bucketAutoStage:
		return bucketAutoDocs(s, in)
	case *geoNearStage, *outStage:
		// positional stages, handled by Run
		return in
	}
	panic(fmt.Sprintf("aggregation: unhandled stage %T", st))
}

func collect(in iter.Seq[*document.Document]) []*document.Document {
	all := make([]*document.Document, 0)
	for doc := range in {
		all = append(all, doc)
	}
	return all
}

func matchDocs(s *matchStage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		for doc := range in {
			if s.filter.Matches(doc) && !yield(doc) {
				return
			}
		}
	}
}

func mapDocs(in iter.Seq[*document.Document], fn func(*document.Document) *document.Document) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		for doc := range in {
			if !yield(fn(doc)) {
				return
			}
		}
	}
}

// apply evaluates every field against the input document, then sets the
// results on a copy
func (s *addFieldsStage) apply(doc *document.Document) *document.Document {
	ctx := expression.NewContext(doc)
	out := doc.Clone()
	for _, f := range s.fields {
		if v := f.expr.Eval(ctx); v != nil {
			out.SetPath(f.path, v)
		}
	}
	return out
}

func (s *unsetStage) apply(doc *document.Document) *document.Document {
	out := doc.Clone()
	for _, path := range s.paths {
		out.UnsetPath(path)
	}
	return out
}

func groupDocs(s *groupStage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		var order []*group
		byKey := make(map[string]*group)
		for doc := range in {
			ctx := expression.NewContext(doc)
			id := s.id.Eval(ctx)
			if id == nil {
				id = document.Null
			}
			k := groupKey(id)
			g, ok := byKey[k]
			if !ok {
				g = newGroup(id, s.accs)
				byKey[k] = g
				order = append(order, g)
			}
			g.add(ctx, s.accs)
		}
		for _, g := range order {
			if !yield(g.document(s.accs)) {
				return
			}
		}
	}
}

func unwindDocs(s *unwindStage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		for doc := range in {
			v, ok := doc.Lookup(s.path)
			arr, isArray := v.Array()
			switch {
			case isArray && len(arr) > 0:
				for i, elem := range arr {
					out := doc.Clone()
					out.SetPath(s.path, elem)
					if s.indexField != "" {
						out.SetPath(s.indexField, document.NewValue(int64(i)))
					}
					if !yield(out) {
						return
					}
				}
				continue
			case ok && !isArray && !v.IsNull():
				// a scalar unwinds to itself
			case !s.preserve:
				continue
			}
			out := doc
			if s.indexField != "" {
				out = doc.Clone()
				out.SetPath(s.indexField, document.Null)
			}
			if !yield(out) {
				return
			}
		}
	}
}

func sortDocs(s *sortStage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		all := collect(in)
		query.SortDocuments(all, s.fields)
		for _, doc := range all {
			if !yield(doc) {
				return
			}
		}
	}
}

func skipDocs(n int, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		skipped := 0
		for doc := range in {
			if skipped < n {
				skipped++
				continue
			}
			if !yield(doc) {
				return
			}
		}
	}
}

func limitDocs(n int, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		if n <= 0 {
			return
		}
		emitted := 0
		for doc := range in {
			emitted++
			if !yield(doc) || emitted >= n {
				return
			}
		}
	}
}

// countDocs emits {field: n}, or nothing for an empty input
func countDocs(s *countStage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		var n int64
		for range in {
			n++
		}
		if n == 0 {
			return
		}
		out := document.NewDocument()
		out.Set(s.field, n)
		yield(out)
	}
}

// inRange reports whether v falls in [boundaries[0], boundaries[last])
func inRange(v *document.Value, boundaries []*document.Value) bool {
	if v == nil || !document.SameClass(v, boundaries[0]) {
		return false
	}
	return document.Compare(v, boundaries[0]) >= 0 &&
		document.Compare(v, boundaries[len(boundaries)-1]) < 0
}

// bucketDocs assigns each document to the half-open interval
// [b_i, b_i+1) holding its groupBy value. Out-of-range values go to the
// default bucket, or are dropped without one.
func bucketDocs(s *bucketStage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		buckets := make([]*group, len(s.boundaries)-1)
		var def *group
		for doc := range in {
			ctx := expression.NewContext(doc)
			v := s.groupBy.Eval(ctx)
			if !inRange(v, s.boundaries) {
				if s.def == nil {
					continue
				}
				if def == nil {
					def = newGroup(s.def, s.accs)
				}
				def.add(ctx, s.accs)
				continue
			}
			// first boundary greater than v, minus one
			i := sort.Search(len(s.boundaries), func(i int) bool {
				return document.Compare(s.boundaries[i], v) > 0
			}) - 1
			if buckets[i] == nil {
				buckets[i] = newGroup(s.boundaries[i], s.accs)
			}
			buckets[i].add(ctx, s.accs)
		}
		if def != nil {
			buckets = append(buckets, def)
		}
		for _, g := range buckets {
			if g != nil && !yield(g.document(s.accs)) {
				return
			}
		}
	}
}

type keyed struct {
	value *document.Value
	ctx   *expression.Context
}

// bucketAutoDocs splits the sorted groupBy values into at most s.buckets
// groups of about equal size. Equal values always share a bucket; the
// max of a bucket is the min of the next one, or its own largest value
// for the last bucket.
func bucketAutoDocs(s *bucketAutoStage, in iter.Seq[*document.Document]) iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		var items []keyed
		for doc := range in {
			ctx := expression.NewContext(doc)
			v := s.groupBy.Eval(ctx)
			if v == nil {
				v = document.Null
			}
			items = append(items, keyed{value: v, ctx: ctx})
		}
		sort.SliceStable(items, func(i, j int) bool {
			return document.Compare(items[i].value, items[j].value) < 0
		})

		start := 0
		for b := 0; start < len(items); b++ {
			remaining := s.buckets - b
			if remaining < 1 {
				remaining = 1
			}
			size := (len(items) - start + remaining - 1) / remaining
			end := start + size
			for end < len(items) && document.Compare(items[end].value, items[end-1].value) == 0 {
				end++
			}
			hi := items[end-1].value
			if end < len(items) {
				hi = items[end].value
			}
			id := document.NewDocument()
			id.SetValue("min", items[start].value)
			id.SetValue("max", hi)
			g := newGroup(document.NewValue(id), s.accs)
			for _, it := range items[start:end] {
				g.add(it.ctx, s.accs)
			}
			if !yield(g.document(s.accs)) {
				return
			}
			start = end
		}
	}
}

func geoNearDocs(s *geoNearStage, src Source) (iter.Seq[*document.Document], error) {
	results, err := src.Near(NearRequest{
		Key:         s.key,
		Point:       s.point,
		MaxDistance: s.maxDistance,
		MinDistance: s.minDistance,
		Filter:      s.filter,
	})
	if err != nil {
		return nil, err
	}
	return func(yield func(*document.Document) bool) {
		for r := range results {
			out := r.Doc.Clone()
			out.SetPath(s.distanceField, document.NewValue(r.Distance/s.scale*s.multiplier))
			if s.includeLocs != "" {
				if loc, ok := r.Doc.Lookup(r.Field); ok {
					out.SetPath(s.includeLocs, loc)
				}
			}
			if !yield(out) {
				return
			}
		}
	}, nil
}
