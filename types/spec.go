package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SelectorAll expands to every known service::resource_type or region.
const SelectorAll = "All"

// ScanSpec is the operator-supplied description of what to scan.
// Regions may contain the literal "All"; services may contain "All",
// "<service>::*", or "<service>::<resource_type>".
type ScanSpec struct {
	Accounts []string `json:"accounts"`
	Regions  []string `json:"regions"`
	Services []string `json:"services"`
	Filter   string   `json:"filter"`
}

// ParseScanSpec decodes a serialized scan spec.
func ParseScanSpec(raw string) (ScanSpec, error) {
	var spec ScanSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return ScanSpec{}, fmt.Errorf("failed to parse scan spec: %w", err)
	}
	return spec, nil
}

// Encode serializes the spec for storage in the scan row.
func (s ScanSpec) Encode() string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

// ServiceKey joins a service and resource type into the canonical
// "service::rtype" selector form.
func ServiceKey(service, resourceType string) string {
	return service + "::" + resourceType
}

// SplitServiceKey splits "service::rtype" into its parts.
// The second return is empty for malformed selectors.
func SplitServiceKey(key string) (service, resourceType string) {
	parts := strings.SplitN(key, "::", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
