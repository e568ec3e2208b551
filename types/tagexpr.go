package types

import (
	"fmt"
	"strings"
)

// TagPair is one key/value entry of a tag set.
type TagPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseTagExpression parses the wire form "k1:v1,k2:v2" into ordered
// pairs. Whitespace around keys and values is trimmed. REMOVE runs may
// omit values ("stale" instead of "stale:").
func ParseTagExpression(expr string) ([]TagPair, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty tag expression")
	}

	var pairs []TagPair
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("tag expression %q has an empty key", expr)
		}
		pairs = append(pairs, TagPair{Key: key, Value: strings.TrimSpace(value)})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("empty tag expression")
	}
	return pairs, nil
}

// FormatTagExpression is the inverse of ParseTagExpression.
func FormatTagExpression(pairs []TagPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.Key+":"+p.Value)
	}
	return strings.Join(parts, ",")
}

// TagKeys projects just the keys, in order. REMOVE only needs keys.
func TagKeys(pairs []TagPair) []string {
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	return keys
}

// TagMap projects the pairs into a map for SDKs that take one.
func TagMap(pairs []TagPair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}
