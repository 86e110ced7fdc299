package index

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mnohosten/laura-core/pkg/query"
)

func planOf(t *testing.T, m *Manager, spec map[string]interface{}) *Plan {
	t.Helper()
	f, err := query.Compile(spec)
	if err != nil {
		t.Fatalf("Compile(%v) failed: %v", spec, err)
	}
	p, err := m.ChoosePlan(f)
	if err != nil {
		t.Fatalf("ChoosePlan(%v) failed: %v", spec, err)
	}
	return p
}

func TestChoosePlanCompoundPrefix(t *testing.T) {
	m := NewManager(DefaultLimits())
	compound := Descriptor{Keys: []Key{{Field: "a", Direction: 1}, {Field: "b", Direction: 1}}}
	if _, err := m.Create(compound, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		filter map[string]interface{}
		kind   PlanKind
		prefix int
	}{
		{map[string]interface{}{"a": 1}, PlanIndexScan, 1},
		{map[string]interface{}{"a": 1, "b": 2}, PlanIndexScan, 2},
		{map[string]interface{}{"a": map[string]interface{}{"$gt": 1}}, PlanIndexScan, 0},
		{map[string]interface{}{"a": map[string]interface{}{"$in": []interface{}{1, 2}}}, PlanIndexScan, 0},
		{map[string]interface{}{"b": 2}, PlanCollectionScan, 0},
		{map[string]interface{}{"a": map[string]interface{}{"$ne": 1}}, PlanCollectionScan, 0},
		{map[string]interface{}{"$or": []interface{}{map[string]interface{}{"a": 1}, map[string]interface{}{"a": 2}}}, PlanCollectionScan, 0},
	}
	for _, tt := range tests {
		p := planOf(t, m, tt.filter)
		if p.Kind != tt.kind || p.PrefixLen != tt.prefix {
			t.Errorf("ChoosePlan(%v) = %v prefix %d, want %v prefix %d", tt.filter, p.Kind, p.PrefixLen, tt.kind, tt.prefix)
		}
	}
}

func TestChoosePlanLongestPrefixThenName(t *testing.T) {
	m := NewManager(DefaultLimits())
	for _, d := range []Descriptor{
		{Name: "zeta", Keys: []Key{{Field: "city", Direction: 1}}},
		{Name: "alpha", Keys: []Key{{Field: "city", Direction: 1}}},
		{Name: "city_age", Keys: []Key{{Field: "city", Direction: 1}, {Field: "age", Direction: 1}}},
	} {
		if _, err := m.Create(d, nil); err != nil {
			t.Fatal(err)
		}
	}

	p := planOf(t, m, map[string]interface{}{"city": "Lyon"})
	if p.IndexName != "alpha" {
		t.Errorf("tie should go to the smallest name, got %s", p.IndexName)
	}
	p = planOf(t, m, map[string]interface{}{"city": "Lyon", "age": 30})
	if p.IndexName != "city_age" || p.PrefixLen != 2 {
		t.Errorf("expected city_age with prefix 2, got %s prefix %d", p.IndexName, p.PrefixLen)
	}
}

func TestChoosePlanPartialEligibility(t *testing.T) {
	m := NewManager(DefaultLimits())
	d := single("city")
	d.PartialFilter = map[string]interface{}{"active": true}
	if _, err := m.Create(d, nil); err != nil {
		t.Fatal(err)
	}

	if p := planOf(t, m, map[string]interface{}{"city": "Lyon"}); p.Kind != PlanCollectionScan {
		t.Errorf("partial index used without its filter: %v", p.Kind)
	}
	if p := planOf(t, m, map[string]interface{}{"city": "Lyon", "active": true}); p.Kind != PlanIndexScan {
		t.Errorf("partial index should be eligible, got %v", p.Kind)
	}
}

func TestChoosePlanTextAndGeo(t *testing.T) {
	m := NewManager(DefaultLimits())
	textFilter := query.MustCompile(map[string]interface{}{"$text": map[string]interface{}{"$search": "coffee"}})
	if _, err := m.ChoosePlan(textFilter); !errors.Is(err, ErrNoTextIndex) {
		t.Errorf("expected ErrNoTextIndex, got %v", err)
	}
	nearFilter := query.MustCompile(map[string]interface{}{
		"loc": map[string]interface{}{"$near": map[string]interface{}{
			"$geometry": map[string]interface{}{"type": "Point", "coordinates": []interface{}{2.35, 48.85}},
		}},
	})
	if _, err := m.ChoosePlan(nearFilter); !errors.Is(err, ErrNoGeoIndex) {
		t.Errorf("expected ErrNoGeoIndex, got %v", err)
	}

	if _, err := m.Create(Descriptor{Keys: []Key{{Field: "body", Type: KeyText}}}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(Descriptor{Keys: []Key{{Field: "loc", Type: Key2DSphere}}}, nil); err != nil {
		t.Fatal(err)
	}
	p, err := m.ChoosePlan(textFilter)
	if err != nil || p.Kind != PlanText || !p.Ranked() {
		t.Errorf("expected a ranked text plan, got %+v, %v", p, err)
	}
	p, err = m.ChoosePlan(nearFilter)
	if err != nil || p.Kind != PlanGeoNear || p.IndexName != "loc_2dsphere" {
		t.Errorf("expected a geo plan on loc_2dsphere, got %+v, %v", p, err)
	}
}

func TestPlanCandidatesAndExplain(t *testing.T) {
	var f fixture
	f.put("1", map[string]interface{}{"age": 20})
	f.put("2", map[string]interface{}{"age": 30})
	f.put("3", map[string]interface{}{"age": 40})

	m := NewManager(DefaultLimits())
	if _, err := m.Create(single("age"), f.all()); err != nil {
		t.Fatal(err)
	}
	p := planOf(t, m, map[string]interface{}{"age": map[string]interface{}{"$gte": 30}})

	var ids []string
	for _, c := range p.Candidates() {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{"2", "3"}, ids); diff != "" {
		t.Errorf("unexpected candidates (-want +got):\n%s", diff)
	}

	want := map[string]interface{}{
		"stage":          "IXSCAN",
		"indexName":      "age_1",
		"keyPattern":     []string{"age"},
		"equalityPrefix": 0,
		"bounds":         map[string]interface{}{"age": "[30, +inf)"},
	}
	if diff := cmp.Diff(want, p.Explain()); diff != "" {
		t.Errorf("unexpected explain (-want +got):\n%s", diff)
	}

	scan := planOf(t, m, map[string]interface{}{"name": "x"})
	if diff := cmp.Diff(map[string]interface{}{"stage": "COLLSCAN"}, scan.Explain()); diff != "" {
		t.Errorf("unexpected explain (-want +got):\n%s", diff)
	}
}
