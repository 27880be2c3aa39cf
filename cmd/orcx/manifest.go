package main

import "github.com/orchid-lang/corex/internal/config"

// filterManifest returns a manifest containing only the named
// extensions, preserving declaration order. An empty names selects
// every declared extension.
func filterManifest(man *config.Manifest, names []string) *config.Manifest {
	if len(names) == 0 {
		return man
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := &config.Manifest{}
	for _, e := range man.Extensions {
		if want[e.Name] {
			out.Extensions = append(out.Extensions, e)
		}
	}
	return out
}
