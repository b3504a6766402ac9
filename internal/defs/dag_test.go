package defs

import (
	"testing"
)

func TestResolveDAG_Linear(t *testing.T) {
	flow := map[string]FlowStep{
		"a": {Action: "noop"},
		"b": {Action: "noop", DependsOn: []string{"a"}},
		"c": {Action: "noop", DependsOn: []string{"b"}},
	}

	layers, err := ResolveDAG("t", flow)
	if err != nil {
		t.Fatalf("ResolveDAG() error = %v", err)
	}

	want := Layers{{"a"}, {"b"}, {"c"}}
	if !layersEqual(layers, want) {
		t.Errorf("ResolveDAG() = %v, want %v", layers, want)
	}
}

func TestResolveDAG_ParallelLayer(t *testing.T) {
	flow := map[string]FlowStep{
		"a": {Action: "noop"},
		"b": {Action: "noop"},
		"c": {Action: "noop", DependsOn: []string{"a", "b"}},
	}

	layers, err := ResolveDAG("t", flow)
	if err != nil {
		t.Fatalf("ResolveDAG() error = %v", err)
	}

	want := Layers{{"a", "b"}, {"c"}}
	if !layersEqual(layers, want) {
		t.Errorf("ResolveDAG() = %v, want %v", layers, want)
	}
}

func TestResolveDAG_Cycle(t *testing.T) {
	flow := map[string]FlowStep{
		"a": {Action: "noop", DependsOn: []string{"b"}},
		"b": {Action: "noop", DependsOn: []string{"a"}},
	}

	if _, err := ResolveDAG("t", flow); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestResolveDAG_MissingDependency(t *testing.T) {
	flow := map[string]FlowStep{
		"a": {Action: "noop", DependsOn: []string{"nonexistent"}},
	}

	if _, err := ResolveDAG("t", flow); err == nil {
		t.Fatal("expected missing-dependency error")
	}
}

func TestResolveDAG_UndefinedOnError(t *testing.T) {
	flow := map[string]FlowStep{
		"a": {Action: "noop", OnError: "nonexistent"},
	}

	if _, err := ResolveDAG("t", flow); err == nil {
		t.Fatal("expected undefined on_error target error")
	}
}

func TestResolveDAG_ErrorHandlerExcludedFromLayers(t *testing.T) {
	flow := map[string]FlowStep{
		"a":       {Action: "noop", OnError: "cleanup"},
		"cleanup": {Action: "noop"},
		"b":       {Action: "noop", DependsOn: []string{"a"}},
	}

	layers, err := ResolveDAG("t", flow)
	if err != nil {
		t.Fatalf("ResolveDAG() error = %v", err)
	}

	for _, layer := range layers {
		for _, name := range layer {
			if name == "cleanup" {
				t.Fatalf("on_error target %q must not appear in the ordinary DAG layers, got %v", name, layers)
			}
		}
	}

	want := Layers{{"a"}, {"b"}}
	if !layersEqual(layers, want) {
		t.Errorf("ResolveDAG() = %v, want %v", layers, want)
	}
}

func layersEqual(a, b Layers) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}
