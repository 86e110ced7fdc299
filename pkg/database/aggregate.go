package database

import (
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/mnohosten/laura-core/pkg/aggregation"
	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/index"
	"github.com/mnohosten/laura-core/pkg/query"
)

// collectionSource feeds a pipeline from one collection snapshot
type collectionSource struct {
	c    *Collection
	snap *snapshot
}

func (s *collectionSource) Find(filter *query.Filter) (iter.Seq[*document.Document], error) {
	if filter == nil {
		return s.snap.scan(), nil
	}
	return s.c.execute(s.snap, query.NewQuery(filter))
}

func (s *collectionSource) Near(req aggregation.NearRequest) (iter.Seq[aggregation.NearResult], error) {
	gi, err := s.geoIndex(req.Key)
	if err != nil {
		return nil, err
	}
	s.c.metrics.RecordPlan(index.PlanGeoNear.String())
	hits := gi.Near(req.Point, req.MaxDistance, req.MinDistance, 0)
	return func(yield func(aggregation.NearResult) bool) {
		for _, h := range hits {
			r, ok := s.snap.store.get(h.DocID)
			if !ok {
				continue
			}
			if req.Filter != nil && !req.Filter.Matches(r.doc) {
				continue
			}
			if !yield(aggregation.NearResult{Doc: r.doc, Distance: h.Distance, Field: gi.Field()}) {
				return
			}
		}
	}, nil
}

// geoIndex picks the 2dsphere index for $geoNear: the one on key, or the
// only one when key is empty
func (s *collectionSource) geoIndex(key string) (*index.GeoIndex, error) {
	if key != "" {
		if gi := s.snap.indexes.Geo(key); gi != nil {
			return gi, nil
		}
		return nil, fmt.Errorf("%w: no 2dsphere index on %s", index.ErrNoGeoIndex, key)
	}
	all := s.snap.indexes.GeoIndexes()
	switch len(all) {
	case 0:
		return nil, index.ErrNoGeoIndex
	case 1:
		return all[0], nil
	}
	return nil, fmt.Errorf("%w: %d 2dsphere indexes, key is required", index.ErrNoGeoIndex, len(all))
}

// Aggregate parses and runs a pipeline over the collection. A pipeline
// ending in $out writes to a collection of the same database.
func (c *Collection) Aggregate(stages []map[string]interface{}) (*aggregation.Result, error) {
	p, err := aggregation.Parse(stages)
	if err != nil {
		return nil, err
	}
	return c.RunPipeline(p)
}

// RunPipeline runs an already parsed pipeline
func (c *Collection) RunPipeline(p *aggregation.Pipeline) (*aggregation.Result, error) {
	start := time.Now()
	terminal := "cursor"
	if _, ok := p.OutCollection(); ok {
		terminal = "out"
	}

	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	res, err := p.Run(&collectionSource{c: c, snap: snap}, c.db)
	c.metrics.RecordPipeline(terminal, time.Since(start), err)
	if err != nil {
		c.logger.Debug("pipeline failed", zap.Strings("stages", p.Stages()), zap.Error(err))
		return nil, err
	}
	if res.Out != "" {
		c.logger.Info("pipeline output written", zap.String("out", res.Out), zap.Duration("took", time.Since(start)))
	}
	return res, nil
}
