package animation

import (
	"sort"
	"testing"
)

func TestChainFollowsLinksBothWays(t *testing.T) {
	layers := []LayerConfig{
		{ID: "a", Next: "b"},
		{ID: "b", Next: "c"},
		{ID: "c"},
		{ID: "d"},
	}
	got := Chain(layers, "c")
	sort.Strings(got)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Chain: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Chain: got %v, want %v", got, want)
		}
	}

	if got := Chain(layers, "d"); len(got) != 1 {
		t.Fatalf("unlinked layer should be alone, got %v", got)
	}
}

func TestLayerDefaults(t *testing.T) {
	l := LayerConfig{ID: "x"}
	if !l.InitiallyVisible() || l.InitialOpacity() != 1 {
		t.Fatalf("unexpected defaults visible=%v opacity=%v", l.InitiallyVisible(), l.InitialOpacity())
	}
	hidden, half := false, 0.5
	l = LayerConfig{ID: "x", Visible: &hidden, Opacity: &half, Metadata: map[string]string{"type": "Base"}}
	if l.InitiallyVisible() || l.InitialOpacity() != 0.5 || !l.IsBase() {
		t.Fatalf("explicit settings ignored: %+v", l)
	}
	if (ServiceConfig{Layers: "radar"}).LayerName() != "radar" {
		t.Fatalf("LayerName should fall back to layers")
	}
}
