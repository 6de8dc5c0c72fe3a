package drivemover

import (
	"fmt"
	"sort"
	"sync"
)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// BackendFactory creates a Backend from a flat string configuration,
// typically the checkpoint section of the CLI config file.
type BackendFactory func(config map[string]string) (Backend, error)

// Register makes a checkpoint backend available to Open under name.
// Backend packages call it from init(), so importing the package for its
// side effect is enough:
//
//	import _ "github.com/grokify/drivemover/backend/sqlite"
//
// Register panics if factory is nil or name is already taken.
func Register(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if factory == nil {
		panic("drivemover: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("drivemover: Register called twice for backend " + name)
	}
	backends[name] = factory
}

// Open opens the backend registered under name.
// It returns ErrUnknownBackend if no backend with that name is registered.
func Open(name string, config map[string]string) (Backend, error) {
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, Backends())
	}
	b, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", name, err)
	}
	return b, nil
}

// Backends returns the sorted names of all registered backends.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a registered backend. It is meant for tests.
func Unregister(name string) bool {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, ok := backends[name]; ok {
		delete(backends, name)
		return true
	}
	return false
}
