package adapters

import (
	"sort"
	"strings"

	"github.com/magpie-cloud/magpie/types"
)

// ResolveServices expands operator-supplied selectors against the
// catalog, left to right. "All" expands to everything, "<svc>::*" to
// every type of a known service, and exact selectors are kept only when
// the catalog knows them. Unknown selectors are silently dropped;
// duplicates are preserved for the caller to dedupe.
func ResolveServices(selectors []string, catalog map[string][]string) []string {
	var resolved []string
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		switch {
		case sel == types.SelectorAll:
			for _, service := range sortedKeys(catalog) {
				resolved = append(resolved, catalog[service]...)
			}
		case strings.HasSuffix(sel, "::*"):
			service := strings.TrimSuffix(sel, "::*")
			resolved = append(resolved, catalog[service]...)
		default:
			service, rtype := types.SplitServiceKey(sel)
			if rtype == "" {
				continue
			}
			if containsKey(catalog[service], sel) {
				resolved = append(resolved, sel)
			}
		}
	}
	return resolved
}

// ResolveRegions keeps only regions present in the catalog; the literal
// "All" expands to the entire catalog in its order.
func ResolveRegions(selectors []string, regionCatalog []string) []string {
	known := make(map[string]bool, len(regionCatalog))
	for _, r := range regionCatalog {
		known[r] = true
	}

	var resolved []string
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == types.SelectorAll {
			resolved = append(resolved, regionCatalog...)
			continue
		}
		if known[sel] {
			resolved = append(resolved, sel)
		}
	}
	return resolved
}

// Dedupe removes repeated entries, keeping first occurrence order.
func Dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func sortedKeys(catalog map[string][]string) []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	// Stable expansion order keeps "All" deterministic across runs.
	sort.Strings(keys)
	return keys
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
