// core/scenario_loader_test.go
package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/crowdleaf-simulator/kb"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

func TestLoadFacilityScenario_JSON(t *testing.T) {
	jsonData := `
{
  "name": "corridor",
  "nodes": [
    {"id": "A", "area": 10, "type": "entrance", "pos": {"x": 0, "y": 0}},
    {"id": "B"},
    {"id": "C", "area": 10, "type": "EXIT"}
  ],
  "edges": [["A", "B"], ["B", "C"]]
}
`
	g := kb.NewKnowledgeBase()
	scenario, err := LoadFacilityScenario(g, strings.NewReader(jsonData), FormatJSON)
	if err != nil {
		t.Fatalf("LoadFacilityScenario returned error: %v", err)
	}
	if scenario.Name != "corridor" || g.Name() != "corridor" {
		t.Fatalf("name = %q / %q, want corridor", scenario.Name, g.Name())
	}
	if len(scenario.NodeIDs) != 3 || scenario.Edges != 2 {
		t.Fatalf("summary = %+v, want 3 nodes 2 edges", scenario)
	}

	a := g.Node("A")
	if a.Type != model.NodeEntrance || a.Area != 10 || a.Pos == nil {
		t.Errorf("A = %+v, want entrance area 10 with position", a)
	}
	b := g.Node("B")
	if b.Area != model.DefaultArea || b.Type != model.NodeDefault {
		t.Errorf("B = %+v, want default area and type", b)
	}
	if g.Node("C").Type != model.NodeExit {
		t.Errorf("C type = %q, want exit", g.Node("C").Type)
	}
	if !g.Adjacent("A", "B") || !g.Adjacent("B", "C") || g.Adjacent("A", "C") {
		t.Errorf("unexpected adjacency in loaded graph")
	}
}

func TestLoadFacilityScenario_YAML(t *testing.T) {
	yamlData := `
name: loop
nodes:
  - id: in
    type: entrance
    area: 50
  - id: hall
    type: hall
  - id: out
    type: exit
edges:
  - [in, hall]
  - [hall, out]
`
	g := kb.NewKnowledgeBase()
	if _, err := LoadFacilityScenario(g, strings.NewReader(yamlData), FormatYAML); err != nil {
		t.Fatalf("LoadFacilityScenario returned error: %v", err)
	}
	if got := g.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	if got := g.Node("in").Area; got != 50 {
		t.Fatalf("in area = %v, want 50", got)
	}
	if got := g.Node("hall").Type; got != model.NodeHall {
		t.Fatalf("hall type = %q, want hall", got)
	}
}

func TestLoadFacilityScenario_StructuralErrors(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want error
	}{
		"empty id":     {`{"nodes":[{"id":""}]}`, kb.ErrNodeInvalid},
		"duplicate":    {`{"nodes":[{"id":"a"},{"id":"a"}]}`, kb.ErrNodeExists},
		"unknown edge": {`{"nodes":[{"id":"a"}],"edges":[["a","b"]]}`, kb.ErrNodeNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFacilityScenario(kb.NewKnowledgeBase(), strings.NewReader(tc.doc), FormatJSON)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := LoadFacilityScenario(kb.NewKnowledgeBase(), strings.NewReader("{"), FormatJSON); err == nil {
		t.Fatalf("expected decode error for truncated JSON")
	}
	if _, err := LoadFacilityScenario(nil, strings.NewReader("{}"), FormatJSON); err == nil {
		t.Fatalf("expected error for nil topology")
	}
}

func TestLoadFacilityFileNamesFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annex.yml")
	if err := os.WriteFile(path, []byte("nodes:\n  - id: x\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	g, err := LoadFacilityFile(path)
	if err != nil {
		t.Fatalf("LoadFacilityFile: %v", err)
	}
	if g.Name() != "annex" {
		t.Fatalf("Name = %q, want annex", g.Name())
	}
	if FormatFromPath("a.json") != FormatJSON || FormatFromPath("b.YAML") != FormatYAML {
		t.Fatalf("FormatFromPath mismatch")
	}
}
