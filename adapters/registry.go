package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/magpie-cloud/magpie/types"
)

// ErrNotFound is returned when no adapter is registered for a service.
var ErrNotFound = fmt.Errorf("adapter not found")

var (
	mu       sync.RWMutex
	registry = make(map[string]Adapter)
)

// Register records an adapter under its service name. Called from each
// adapter package's init; later registrations for the same service win,
// which lets tests swap in fakes.
func Register(a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	registry[a.Service()] = a
}

// ForService looks up the adapter for a service.
func ForService(service string) (Adapter, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := registry[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, service)
	}
	return a, nil
}

// Services returns registered service names, sorted.
func Services() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog merges every adapter's declared resource types into a flat
// service catalog: service name -> sorted "service::rtype" selectors.
func Catalog() map[string][]string {
	mu.RLock()
	defer mu.RUnlock()
	catalog := make(map[string][]string, len(registry))
	for name, a := range registry {
		var keys []string
		for rtype := range a.ServiceTypes() {
			keys = append(keys, types.ServiceKey(name, rtype))
		}
		sort.Strings(keys)
		catalog[name] = keys
	}
	return catalog
}
