package animation

// Chain returns every layer id linked to id through previous/next links,
// followed in both directions, id included. Unknown ids yield just id.
func Chain(layers []LayerConfig, id string) []string {
	adj := make(map[string][]string, len(layers))
	link := func(a, b string) {
		if a == "" || b == "" || a == b {
			return
		}
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	for _, l := range layers {
		link(l.ID, l.Previous)
		link(l.ID, l.Next)
	}

	seen := map[string]bool{id: true}
	out := []string{id}
	for i := 0; i < len(out); i++ {
		for _, n := range adj[out[i]] {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}
