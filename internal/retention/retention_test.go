package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	path := writeRules(t, `
- match: "*,*,system\\..*"
  resolutions:
    second: 48h
    minute: 720h
- match: "org1,.*,.*"
  resolutions:
    day: 8760h
`)

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Match != `*,*,system\..*` {
		t.Errorf("match = %q", rules[0].Match)
	}
	if rules[0].Resolutions["second"] != "48h" {
		t.Errorf("second period = %q, want 48h", rules[0].Resolutions["second"])
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file did not fail")
	}
}

func TestNewEngineCompiles(t *testing.T) {
	rules := []Rule{
		{Match: "*,*,system\\..*", Resolutions: map[string]string{"second": "48h"}},
		{Match: "org1,db-.*,*", Resolutions: map[string]string{"minute": "720h", "day": "8760h"}},
	}

	engine, err := NewEngine(nil, rules, time.Minute)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if len(engine.rules) != 2 {
		t.Fatalf("compiled %d rules, want 2", len(engine.rules))
	}

	// "*" compiles to a match-anything nil matcher.
	first := engine.rules[0]
	if first.org != nil || first.resource != nil {
		t.Error("wildcard matchers should be nil")
	}
	if first.metric == nil || !first.metric.MatchString("system.load1") {
		t.Error("metric matcher does not match system.load1")
	}
	if first.metric.MatchString("subsystem.load1") {
		t.Error("metric matcher is not anchored")
	}
}

func TestNewEngineRejects(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"too few match parts", Rule{Match: "*,*", Resolutions: map[string]string{"second": "1h"}}},
		{"bad regex", Rule{Match: "*,*,[", Resolutions: map[string]string{"second": "1h"}}},
		{"unknown resolution", Rule{Match: "*,*,*", Resolutions: map[string]string{"week": "1h"}}},
		{"bad duration", Rule{Match: "*,*,*", Resolutions: map[string]string{"second": "two days"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(nil, []Rule{tt.rule}, time.Minute); err == nil {
				t.Error("NewEngine accepted an invalid rule")
			}
		})
	}
}
