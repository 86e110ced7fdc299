package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("empty config should equal the defaults (-want +got):\n%s", diff)
	}

	db := cfg.Database(nil, nil)
	if db.Name != "default" || db.IndexLimits.MaxIndexes != 64 || db.LockStripes != 256 {
		t.Errorf("unexpected database config %+v", db)
	}
	if db.ParallelScanThreshold != 1000 || db.TTLInterval != time.Minute || db.TextLanguage != "english" || db.FilterCacheSize != 256 {
		t.Errorf("unexpected database defaults %+v", db)
	}
	if !cfg.TTLEnabled() {
		t.Error("TTL sweeping should be enabled by default")
	}
}

func TestParseFull(t *testing.T) {
	t.Setenv("LAURA_TEST_LANG", "french")

	cfg, err := Parse([]byte(`
name: shop
limits:
  max_indexes: 8
  max_compound_fields: 4
  lock_stripes: 16
ttl:
  enabled: false
  interval: 5s
text:
  default_language: ${LAURA_TEST_LANG}
scan:
  parallel_threshold: ${LAURA_TEST_THRESHOLD:-0}
  workers: 2
cache:
  filters: 0
logging:
  env: prod
  level: warn
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.TTLEnabled() {
		t.Error("ttl.enabled: false should disable the sweeper")
	}
	db := cfg.Database(nil, nil)
	if db.Name != "shop" || db.IndexLimits.MaxIndexes != 8 || db.IndexLimits.MaxCompoundFields != 4 {
		t.Errorf("unexpected limits %+v", db.IndexLimits)
	}
	if db.IndexLimits.MaxNameLength != 127 {
		t.Errorf("unset limits keep their default, got %d", db.IndexLimits.MaxNameLength)
	}
	if db.LockStripes != 16 || db.TTLInterval != 5*time.Second || db.ParallelWorkers != 2 {
		t.Errorf("unexpected database config %+v", db)
	}
	if db.ParallelScanThreshold != 0 {
		t.Errorf("an explicit 0 disables parallel scans, got %d", db.ParallelScanThreshold)
	}
	if db.FilterCacheSize != 0 {
		t.Errorf("an explicit 0 disables the filter cache, got %d", db.FilterCacheSize)
	}
	if db.TextLanguage != "french" {
		t.Errorf("expected the language from the environment, got %q", db.TextLanguage)
	}
	if cfg.Logging.Env != "prod" || cfg.Logging.Level != "warn" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown section", "server:\n  port: 80\n", "does not match schema"},
		{"unknown field", "limits:\n  max_index: 3\n", "does not match schema"},
		{"wrong type", "limits:\n  max_indexes: many\n", "does not match schema"},
		{"negative threshold", "scan:\n  parallel_threshold: -1\n", "does not match schema"},
		{"negative cache", "cache:\n  filters: -5\n", "does not match schema"},
		{"bad level", "logging:\n  level: loud\n", "does not match schema"},
		{"bad interval", "ttl:\n  interval: soon\n", "ttl.interval"},
		{"zero interval", "ttl:\n  interval: 0s\n", "ttl.interval must be positive"},
		{"bad language", "text:\n  default_language: klingon\n", "text.default_language"},
		{"batch above threshold", "scan:\n  parallel_threshold: 10\n  batch_size: 20\n", "scan.batch_size"},
		{"not yaml", "limits: [\n", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laura.yaml")
	if err := os.WriteFile(path, []byte("name: fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "fromfile" {
		t.Errorf("expected name fromfile, got %q", cfg.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
