package database

import (
	"fmt"
	"iter"
	"sort"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/geo"
	"github.com/mnohosten/laura-core/pkg/index"
	"github.com/mnohosten/laura-core/pkg/query"
)

// FindOption shapes the result of Find
type FindOption func(*findOptions)

type findOptions struct {
	sort       interface{}
	projection interface{}
	skip       int
	limit      int
}

// WithSort orders the results, e.g. document.D{{"age", -1}, {"name", 1}}
func WithSort(spec interface{}) FindOption {
	return func(o *findOptions) { o.sort = spec }
}

// WithProjection selects or computes the returned fields
func WithProjection(spec interface{}) FindOption {
	return func(o *findOptions) { o.projection = spec }
}

// WithSkip skips the first n results
func WithSkip(n int) FindOption {
	return func(o *findOptions) { o.skip = n }
}

// WithLimit returns at most n results; 0 means no limit
func WithLimit(n int) FindOption {
	return func(o *findOptions) { o.limit = n }
}

// compileFilter accepts a precompiled *query.Filter or a filter document,
// which goes through the database's filter cache
func (c *Collection) compileFilter(filter interface{}) (*query.Filter, error) {
	if f, ok := filter.(*query.Filter); ok {
		if f == nil {
			return query.Compile(nil)
		}
		return f, nil
	}
	return c.db.filters.Compile(filter)
}

func (c *Collection) buildQuery(filter interface{}, opts []FindOption) (*query.Query, error) {
	f, err := c.compileFilter(filter)
	if err != nil {
		return nil, err
	}
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}
	q := query.NewQuery(f).WithSkip(o.skip).WithLimit(o.limit)
	if o.sort != nil {
		fields, err := query.ParseSort(o.sort)
		if err != nil {
			return nil, err
		}
		q.WithSort(fields)
	}
	if o.projection != nil {
		p, err := query.ParseProjection(o.projection)
		if err != nil {
			return nil, err
		}
		q.WithProjection(p)
	}
	return q, nil
}

// candidates runs the index part of the plan for f. Index scans are put
// back into insertion order so that results do not depend on the plan;
// text and geo plans keep their score or distance order.
func (c *Collection) candidates(snap *snapshot, f *query.Filter) (iter.Seq[*document.Document], *index.Plan, error) {
	plan, err := snap.indexes.ChoosePlan(f)
	if err != nil {
		return nil, nil, err
	}
	c.metrics.RecordPlan(plan.Kind.String())
	if plan.Kind == index.PlanCollectionScan {
		return snap.scan(), plan, nil
	}

	cands := plan.Candidates()
	keys := make([]string, len(cands))
	for i, cand := range cands {
		keys[i] = cand.ID
	}
	recs := snap.fetch(keys)
	if !plan.Ranked() {
		sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	}
	return func(yield func(*document.Document) bool) {
		for _, r := range recs {
			if !yield(r.doc) {
				return
			}
		}
	}, plan, nil
}

// execute filters and shapes candidates. Large collection scans are
// filtered on the shared worker pool.
func (c *Collection) execute(snap *snapshot, q *query.Query) (iter.Seq[*document.Document], error) {
	docs, plan, err := c.candidates(snap, q.Filter())
	if err != nil {
		return nil, err
	}
	if plan.Kind == index.PlanCollectionScan && c.parallel != nil && snap.store.len() >= c.parallelMin {
		return c.parallel.Execute(docs, q), nil
	}
	return query.Execute(docs, q), nil
}

// Find returns a cursor over the documents matching filter (a map,
// document.D, *document.Document or compiled *query.Filter; nil matches
// everything). The query is planned and run on one snapshot.
func (c *Collection) Find(filter interface{}, opts ...FindOption) (*Cursor, error) {
	q, err := c.buildQuery(filter, opts)
	if err != nil {
		return nil, err
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	docs, err := c.execute(snap, q)
	if err != nil {
		return nil, err
	}
	return newCursor(docs, c.metrics.RecordReturned), nil
}

// FindOne returns the first matching document or ErrDocumentNotFound
func (c *Collection) FindOne(filter interface{}, opts ...FindOption) (*document.Document, error) {
	cur, err := c.Find(filter, append(opts, WithLimit(1))...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	doc, err := cur.Next()
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Count returns the number of documents matching filter
func (c *Collection) Count(filter interface{}) (int, error) {
	f, err := c.compileFilter(filter)
	if err != nil {
		return 0, err
	}
	snap, err := c.snapshot()
	if err != nil {
		return 0, err
	}
	docs, _, err := c.candidates(snap, f)
	if err != nil {
		return 0, err
	}
	return query.Count(docs, query.NewQuery(f)), nil
}

// Explain returns the plan Find would use for filter
func (c *Collection) Explain(filter interface{}) (map[string]interface{}, error) {
	f, err := c.compileFilter(filter)
	if err != nil {
		return nil, err
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	plan, err := snap.indexes.ChoosePlan(f)
	if err != nil {
		return nil, err
	}
	out := plan.Explain()
	out["namespace"] = c.name
	return out, nil
}

// TextResult is a document found by a text search
type TextResult struct {
	Document *document.Document
	Score    float64
}

// TextSearch runs a $text search and returns the matches by descending
// score. Skip, limit and projection options apply; a sort option replaces
// the score order.
func (c *Collection) TextSearch(search string, opts ...FindOption) ([]TextResult, error) {
	filter := document.D{{Key: "$text", Value: document.D{{Key: "$search", Value: search}}}}
	q, err := c.buildQuery(filter, opts)
	if err != nil {
		return nil, err
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	plan, err := snap.indexes.ChoosePlan(q.Filter())
	if err != nil {
		return nil, err
	}
	c.metrics.RecordPlan(plan.Kind.String())

	scores := make(map[string]float64)
	keys := make([]string, 0)
	for _, cand := range plan.Candidates() {
		scores[cand.ID] = cand.Score
		keys = append(keys, cand.ID)
	}
	recs := snap.fetch(keys)
	byDoc := make(map[*document.Document]float64, len(recs))
	docs := func(yield func(*document.Document) bool) {
		for _, r := range recs {
			byDoc[r.doc] = scores[r.key]
			if !yield(r.doc) {
				return
			}
		}
	}

	// projection is applied after the scores are looked up
	shaped := query.NewQuery(q.Filter()).WithSort(q.Sort()).WithSkip(q.Skip()).WithLimit(q.Limit())
	out := make([]TextResult, 0)
	for doc := range query.Execute(docs, shaped) {
		res := TextResult{Document: doc, Score: byDoc[doc]}
		if p := q.Projection(); p != nil {
			res.Document = p.Apply(doc)
		}
		out = append(out, res)
	}
	c.metrics.RecordReturned(len(out))
	return out, nil
}

// NearResult is a document found by a proximity search
type NearResult struct {
	Document *document.Document
	Distance float64 // meters
}

// Near returns documents by ascending distance from center using the
// 2dsphere index on field. maxMeters <= 0 is unbounded and limit <= 0
// returns every hit.
func (c *Collection) Near(field string, center geo.Point, maxMeters float64, limit int) ([]NearResult, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	gi := snap.indexes.Geo(field)
	if gi == nil {
		return nil, fmt.Errorf("%w: no 2dsphere index on %s", index.ErrNoGeoIndex, field)
	}
	c.metrics.RecordPlan(index.PlanGeoNear.String())

	out := make([]NearResult, 0)
	for _, r := range gi.Near(center, maxMeters, 0, 0) {
		rec, ok := snap.store.get(r.DocID)
		if !ok {
			continue
		}
		out = append(out, NearResult{Document: rec.doc, Distance: r.Distance})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	c.metrics.RecordReturned(len(out))
	return out, nil
}

// GeoWithin returns the documents whose field lies inside shape, a
// $geoWithin operand such as {"$geometry": polygon} or {"$box": [...]}.
// The 2dsphere index on field is used when there is one.
func (c *Collection) GeoWithin(field string, shape interface{}) ([]*document.Document, error) {
	region, err := geo.ParseRegion(document.NewValue(shape))
	if err != nil {
		return nil, err
	}
	f, err := query.Compile(document.D{{Key: field, Value: document.D{{Key: "$geoWithin", Value: shape}}}})
	if err != nil {
		return nil, err
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}

	var docs iter.Seq[*document.Document]
	if gi := snap.indexes.Geo(field); gi != nil {
		c.metrics.RecordPlan("GEO_WITHIN_2DSPHERE")
		recs := snap.fetch(gi.Within(region))
		sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
		docs = func(yield func(*document.Document) bool) {
			for _, r := range recs {
				if !yield(r.doc) {
					return
				}
			}
		}
	} else {
		c.metrics.RecordPlan(index.PlanCollectionScan.String())
		docs = snap.scan()
	}

	out := make([]*document.Document, 0)
	for doc := range query.Execute(docs, query.NewQuery(f)) {
		out = append(out, doc)
	}
	c.metrics.RecordReturned(len(out))
	return out, nil
}
