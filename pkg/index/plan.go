package index

import (
	"fmt"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/query"
)

// PlanKind represents how a query finds its candidate documents
type PlanKind int

const (
	PlanCollectionScan PlanKind = iota // Full collection scan
	PlanIndexScan                      // Equality prefix and/or range on an ordered index
	PlanText                           // Text index search
	PlanGeoNear                        // 2dsphere proximity search
)

func (k PlanKind) String() string {
	switch k {
	case PlanCollectionScan:
		return "COLLSCAN"
	case PlanIndexScan:
		return "IXSCAN"
	case PlanText:
		return "TEXT"
	case PlanGeoNear:
		return "GEO_NEAR_2DSPHERE"
	}
	return "UNKNOWN"
}

// Plan is the outcome of ChoosePlan
type Plan struct {
	Kind      PlanKind
	IndexName string
	Fields    []string
	PrefixLen int // leading fields fixed by equality
	Bounds    Bounds

	ordered *OrderedIndex
	text    *TextIndex
	geo     *GeoIndex
	filter  *query.Filter
}

// Candidate is a document id produced by an index plan. Score is set for
// text plans and Distance (meters) for geo plans.
type Candidate struct {
	ID       string
	Score    float64
	Distance float64
}

// Ranked reports whether the candidate order is meaningful (text score
// or distance). Index scans return candidates in key order, which the
// caller is free to discard.
func (p *Plan) Ranked() bool {
	return p.Kind == PlanText || p.Kind == PlanGeoNear
}

// ChoosePlan picks the access path for filter. It is deterministic:
// $text uses the text index, $near / $nearSphere the 2dsphere index on
// that field, otherwise the eligible ordered index with the longest
// equality prefix wins, ties broken by index name. An index is eligible
// when its leading field carries an equality, range or $in predicate, and
// a partial index only when the filter repeats its whole partial filter.
func (m *Manager) ChoosePlan(f *query.Filter) (*Plan, error) {
	if f.Text() != nil && f.Near() != nil {
		return nil, fmt.Errorf("%w: $text and $near cannot be combined", query.ErrInvalidFilter)
	}
	if f.Text() != nil {
		if m.text == nil {
			return nil, ErrNoTextIndex
		}
		return &Plan{
			Kind:      PlanText,
			IndexName: m.text.desc.Name,
			Fields:    m.text.desc.Fields(),
			text:      m.text,
			filter:    f,
		}, nil
	}
	if near := f.Near(); near != nil {
		gi := m.Geo(near.Field)
		if gi == nil {
			return nil, fmt.Errorf("%w: no 2dsphere index on %s", ErrNoGeoIndex, near.Field)
		}
		return &Plan{
			Kind:      PlanGeoNear,
			IndexName: gi.desc.Name,
			Fields:    []string{gi.field},
			geo:       gi,
			filter:    f,
		}, nil
	}

	preds := groupPredicates(f.Predicates())
	best := &Plan{Kind: PlanCollectionScan, PrefixLen: -1, filter: f}
	for _, idx := range m.indexes {
		oi, ok := idx.(*OrderedIndex)
		if !ok {
			continue
		}
		if oi.partial != nil && !f.Contains(oi.partial) {
			continue
		}
		plan, ok := preds.planFor(oi)
		if !ok {
			continue
		}
		if plan.PrefixLen > best.PrefixLen ||
			(plan.PrefixLen == best.PrefixLen && plan.IndexName < best.IndexName) {
			plan.filter = f
			best = plan
		}
	}
	if best.Kind == PlanCollectionScan {
		best.PrefixLen = 0
	}
	return best, nil
}

type fieldPreds struct {
	eq    *document.Value
	in    []*document.Value
	lower *Bound
	upper *Bound
}

type predicateSet map[string]*fieldPreds

func groupPredicates(preds []query.Predicate) predicateSet {
	set := make(predicateSet)
	get := func(field string) *fieldPreds {
		fp, ok := set[field]
		if !ok {
			fp = &fieldPreds{}
			set[field] = fp
		}
		return fp
	}
	for _, p := range preds {
		switch p.Op {
		case query.OpEqual:
			if p.Value.Type == document.TypeArray {
				continue
			}
			if fp := get(p.Field); fp.eq == nil {
				fp.eq = p.Value
			}
		case query.OpIn:
			arr, _ := p.Value.Array()
			if len(arr) == 0 || containsArray(arr) {
				continue
			}
			if fp := get(p.Field); fp.in == nil {
				fp.in = arr
			}
		case query.OpGreaterThan, query.OpGreaterThanOrEqual:
			if fp := get(p.Field); fp.lower == nil {
				fp.lower = &Bound{Value: p.Value, Inclusive: p.Op == query.OpGreaterThanOrEqual}
			}
		case query.OpLessThan, query.OpLessThanOrEqual:
			if fp := get(p.Field); fp.upper == nil {
				fp.upper = &Bound{Value: p.Value, Inclusive: p.Op == query.OpLessThanOrEqual}
			}
		}
	}
	return set
}

func containsArray(vals []*document.Value) bool {
	for _, v := range vals {
		if v.Type == document.TypeArray {
			return true
		}
	}
	return false
}

// planFor matches the predicates against the key pattern of idx
func (s predicateSet) planFor(idx *OrderedIndex) (*Plan, bool) {
	plan := &Plan{
		Kind:      PlanIndexScan,
		IndexName: idx.desc.Name,
		Fields:    idx.fields,
		ordered:   idx,
	}
	for _, field := range idx.fields {
		fp, ok := s[field]
		if !ok || fp.eq == nil {
			break
		}
		plan.Bounds.Equal = append(plan.Bounds.Equal, fp.eq)
		plan.PrefixLen++
	}
	if plan.PrefixLen < len(idx.fields) {
		if fp, ok := s[idx.fields[plan.PrefixLen]]; ok {
			switch {
			case fp.in != nil:
				plan.Bounds.In = fp.in
			case fp.lower != nil || fp.upper != nil:
				plan.Bounds.Lower, plan.Bounds.Upper = fp.lower, fp.upper
			}
		}
	}
	constrained := plan.PrefixLen > 0 || plan.Bounds.In != nil ||
		plan.Bounds.Lower != nil || plan.Bounds.Upper != nil
	return plan, constrained
}

// Candidates runs the index part of the plan. A collection scan has no
// candidates; the caller scans the store instead.
func (p *Plan) Candidates() []Candidate {
	switch p.Kind {
	case PlanIndexScan:
		ids := p.ordered.Scan(p.Bounds)
		out := make([]Candidate, len(ids))
		for i, id := range ids {
			out[i] = Candidate{ID: id}
		}
		return out
	case PlanText:
		results := p.text.Search(p.filter.Text())
		out := make([]Candidate, len(results))
		for i, r := range results {
			out[i] = Candidate{ID: r.DocID, Score: r.Score}
		}
		return out
	case PlanGeoNear:
		near := p.filter.Near()
		results := p.geo.Near(near.Point, near.MaxDistance, near.MinDistance, 0)
		out := make([]Candidate, len(results))
		for i, r := range results {
			out[i] = Candidate{ID: r.DocID, Distance: r.Distance}
		}
		return out
	}
	return nil
}

// Explain describes the plan
func (p *Plan) Explain() map[string]interface{} {
	out := map[string]interface{}{
		"stage": p.Kind.String(),
	}
	if p.Kind == PlanCollectionScan {
		return out
	}
	out["indexName"] = p.IndexName
	out["keyPattern"] = p.Fields
	if p.Kind == PlanIndexScan {
		out["equalityPrefix"] = p.PrefixLen
		bounds := make(map[string]interface{})
		for i, v := range p.Bounds.Equal {
			bounds[p.Fields[i]] = v.String()
		}
		if p.PrefixLen < len(p.Fields) {
			field := p.Fields[p.PrefixLen]
			switch {
			case p.Bounds.In != nil:
				bounds[field] = document.NewValue(p.Bounds.In).String()
			case p.Bounds.Lower != nil || p.Bounds.Upper != nil:
				bounds[field] = rangeString(p.Bounds.Lower, p.Bounds.Upper)
			}
		}
		out["bounds"] = bounds
	}
	return out
}

func rangeString(lower, upper *Bound) string {
	s := "(-inf"
	if lower != nil {
		s = "(" + lower.Value.String()
		if lower.Inclusive {
			s = "[" + lower.Value.String()
		}
	}
	s += ", "
	if upper == nil {
		return s + "+inf)"
	}
	if upper.Inclusive {
		return s + upper.Value.String() + "]"
	}
	return s + upper.Value.String() + ")"
}
