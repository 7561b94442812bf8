package tools

import (
	"sort"
	"testing"

	"github.com/san-techie21/gulama-gateway/internal/config"
)

func registryWith(names ...string) *Registry {
	r := NewRegistry()
	for _, n := range names {
		r.Register(&stubTool{name: n})
	}
	return r
}

func filteredNames(t *testing.T, cfg *config.ToolsConfig, reg *Registry) []string {
	t.Helper()
	defs := NewPolicyEngine(cfg).FilterTools(reg, "anthropic")
	var names []string
	for _, d := range defs {
		names = append(names, d.Function.Name)
	}
	sort.Strings(names)
	return names
}

func TestFilterToolsFullProfileShowsEverything(t *testing.T) {
	reg := registryWith("exec", "read_file", "web_search")
	got := filteredNames(t, &config.ToolsConfig{}, reg)
	if len(got) != 3 {
		t.Fatalf("expected all tools visible, got %v", got)
	}
}

func TestFilterToolsProfileRestricts(t *testing.T) {
	reg := registryWith("exec", "read_file", "write_file", "web_search")
	got := filteredNames(t, &config.ToolsConfig{Profile: "minimal"}, reg)
	for _, n := range got {
		if n == "exec" || n == "web_search" {
			t.Fatalf("minimal profile should hide %q, got %v", n, got)
		}
	}
	if len(got) == 0 {
		t.Fatal("minimal profile should still expose the fs group")
	}
}

func TestFilterToolsDenyWithGroupExpansion(t *testing.T) {
	reg := registryWith("exec", "read_file", "write_file")
	got := filteredNames(t, &config.ToolsConfig{Deny: []string{"group:fs"}}, reg)
	if len(got) != 1 || got[0] != "exec" {
		t.Fatalf("deny group:fs should leave only exec, got %v", got)
	}
}

func TestFilterToolsAlsoAllowAddsBack(t *testing.T) {
	reg := registryWith("exec", "read_file", "web_search")
	got := filteredNames(t, &config.ToolsConfig{
		Allow:     []string{"read_file"},
		AlsoAllow: []string{"web_search"},
	}, reg)
	want := []string{"read_file", "web_search"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
