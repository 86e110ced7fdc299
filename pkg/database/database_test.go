package database

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mnohosten/laura-core/pkg/cache"
	"github.com/mnohosten/laura-core/pkg/metrics"
	"github.com/mnohosten/laura-core/pkg/schema"
)

func TestCreateCollection(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.CreateCollection("users"); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if _, err := db.CreateCollection("users"); !errors.Is(err, ErrCollectionExists) {
		t.Errorf("expected ErrCollectionExists, got %v", err)
	}
	for _, name := range []string{"", "a$b", "system.users", "nul\x00"} {
		if _, err := db.CreateCollection(name); !errors.Is(err, ErrInvalidCollectionName) {
			t.Errorf("CreateCollection(%q): expected ErrInvalidCollectionName, got %v", name, err)
		}
	}
	if _, err := db.CreateCollection("bad", WithSchema(map[string]interface{}{"bsonType": "nope"})); err == nil {
		t.Error("expected an error for an invalid schema")
	}
}

func TestListAndDropCollections(t *testing.T) {
	db := openTestDB(t)
	db.Collection("zebras")
	db.Collection("apes")
	if _, err := db.CreateCollection("moles"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"apes", "moles", "zebras"}, db.ListCollections()); diff != "" {
		t.Errorf("unexpected collections (-want +got):\n%s", diff)
	}

	apes, _ := db.GetCollection("apes")
	if err := db.DropCollection("apes"); err != nil {
		t.Fatalf("DropCollection failed: %v", err)
	}
	if err := db.DropCollection("apes"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
	if _, err := db.GetCollection("apes"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
	if _, err := apes.Insert(map[string]interface{}{"a": 1}); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("dropped handle must fail, got %v", err)
	}
}

func TestCollModSchema(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("people")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := coll.Insert(map[string]interface{}{"name": "NoAge"}); err != nil {
		t.Fatal(err)
	}

	if err := db.CollMod("people", WithSchema(personSchema)); err != nil {
		t.Fatalf("CollMod failed: %v", err)
	}
	if coll.Schema() == nil {
		t.Fatal("expected a schema after CollMod")
	}
	if _, err := coll.Insert(map[string]interface{}{"name": "Bob"}); !errors.Is(err, schema.ErrSchemaViolation) {
		t.Errorf("expected ErrSchemaViolation, got %v", err)
	}
	if coll.Len() != 1 {
		t.Errorf("stored documents are not revalidated, expected 1, got %d", coll.Len())
	}

	if err := db.CollMod("people", WithSchema(nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := coll.Insert(map[string]interface{}{"name": "Bob"}); err != nil {
		t.Errorf("removing the schema should accept any document, got %v", err)
	}

	if err := db.CollMod("missing", WithSchema(nil)); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
}

// collModOnce installs schema spec on the named collection the first
// time a write passes validation
func collModOnce(t *testing.T, db *Database, name string, spec interface{}) {
	t.Helper()
	var once sync.Once
	testHookValidated = func() {
		once.Do(func() {
			if err := db.CollMod(name, WithSchema(spec)); err != nil {
				t.Errorf("CollMod failed: %v", err)
			}
		})
	}
	t.Cleanup(func() { testHookValidated = nil })
}

func TestCollModDuringInsert(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("people")
	if err != nil {
		t.Fatal(err)
	}
	collModOnce(t, db, "people", personSchema)

	// valid when checked, but the schema changes before the commit
	if _, err := coll.Insert(map[string]interface{}{"name": "Bob"}); !errors.Is(err, schema.ErrSchemaViolation) {
		t.Errorf("expected the insert to be checked against the new schema, got %v", err)
	}
	if coll.Len() != 0 {
		t.Errorf("expected nothing stored, got %d documents", coll.Len())
	}
}

func TestCollModDuringUpdate(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("people")
	if err != nil {
		t.Fatal(err)
	}
	key, err := coll.Insert(map[string]interface{}{"name": "Alice", "age": 30})
	if err != nil {
		t.Fatal(err)
	}
	collModOnce(t, db, "people", personSchema)

	err = coll.Update(key, map[string]interface{}{"$unset": map[string]interface{}{"age": ""}})
	if !errors.Is(err, schema.ErrSchemaViolation) {
		t.Errorf("expected the update to be checked against the new schema, got %v", err)
	}
	doc, _ := coll.Get(key)
	if got, _ := doc.Get("age"); got != int64(30) {
		t.Errorf("rejected update changed the document: age %v", got)
	}
}

func TestCloseDatabase(t *testing.T) {
	db, err := Open(nil)
	if err != nil {
		t.Fatal(err)
	}
	coll := db.Collection("items")
	key, err := coll.Insert(map[string]interface{}{"a": 1})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if _, err := coll.Insert(map[string]interface{}{"a": 2}); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Insert: expected ErrDatabaseClosed, got %v", err)
	}
	if _, err := coll.Get(key); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Get: expected ErrDatabaseClosed, got %v", err)
	}
	if _, err := coll.Find(nil); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Find: expected ErrDatabaseClosed, got %v", err)
	}
	if _, err := db.CreateCollection("other"); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("CreateCollection: expected ErrDatabaseClosed, got %v", err)
	}
	if _, err := db.GetCollection("items"); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("GetCollection: expected ErrDatabaseClosed, got %v", err)
	}
}

func TestDatabaseMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Metrics = metrics.NewCollector(reg)
	db, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	coll := db.Collection("people")
	seedPeople(t, coll)
	if _, err := coll.Insert(map[string]interface{}{"_id": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := coll.Insert(map[string]interface{}{"_id": 1}); err == nil {
		t.Fatal("expected a duplicate key error")
	}
	cur, err := coll.Find(map[string]interface{}{"city": "Lyon"})
	if err != nil {
		t.Fatal(err)
	}
	cur.All()

	if got := testutil.ToFloat64(cfg.Metrics.DocumentsWritten.WithLabelValues("people", "insert", "ok")); got != 5 {
		t.Errorf("expected 5 successful inserts, got %v", got)
	}
	if got := testutil.ToFloat64(cfg.Metrics.DocumentsWritten.WithLabelValues("people", "insert", "error")); got != 1 {
		t.Errorf("expected 1 failed insert, got %v", got)
	}
	if got := testutil.ToFloat64(cfg.Metrics.QueryPlans.WithLabelValues("COLLSCAN")); got != 1 {
		t.Errorf("expected 1 collection scan, got %v", got)
	}
	if got := testutil.ToFloat64(cfg.Metrics.DocumentsReturned); got != 2 {
		t.Errorf("expected 2 returned documents, got %v", got)
	}
	if got := testutil.ToFloat64(cfg.Metrics.Collections); got != 1 {
		t.Errorf("expected 1 collection, got %v", got)
	}
}

func TestDatabaseStats(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("people")
	seedPeople(t, coll)

	stats := db.Stats()
	if stats["collections"] != 1 {
		t.Errorf("expected 1 collection, got %v", stats["collections"])
	}
	perColl := stats["collection_stats"].(map[string]interface{})
	people, ok := perColl["people"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing stats for people: %v", perColl)
	}
	if people["count"] != 4 {
		t.Errorf("expected 4 documents, got %v", people["count"])
	}
	details := people["index_details"].(map[string]interface{})
	if id := details["_id_"].(map[string]interface{}); id["entries"] != 4 {
		t.Errorf("unexpected _id_ stats %v", id)
	}
}

func TestFilterCache(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("people")
	seedPeople(t, coll)

	filter := map[string]interface{}{"city": "Lyon"}
	for i := 0; i < 3; i++ {
		n, err := coll.Count(filter)
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 documents, got %d", n)
		}
	}
	// an invalid filter is rejected every time
	for i := 0; i < 2; i++ {
		if _, err := coll.Count(map[string]interface{}{"$where": "x"}); err == nil {
			t.Error("expected an invalid filter error")
		}
	}

	stats := db.Stats()["filter_cache"].(cache.Stats)
	if stats.Size != 1 || stats.Hits != 2 || stats.Misses != 3 {
		t.Errorf("unexpected filter cache stats %+v", stats)
	}

	off, err := Open(&Config{FilterCacheSize: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer off.Close()
	if s := off.Stats()["filter_cache"].(cache.Stats); s != (cache.Stats{}) {
		t.Errorf("a disabled cache should report zero stats, got %+v", s)
	}
}
