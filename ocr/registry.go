package ocr

import (
	"fmt"
	"sort"
	"sync"
)

var (
	enginesMu sync.RWMutex
	engines   = map[string]func() (Engine, error){}
)

// Register makes an engine constructor available under the given name.
// Engine packages call Register from init so the CLI can select a provider by
// flag without importing it directly.
func Register(name string, factory func() (Engine, error)) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if factory == nil {
		panic("ocr: Register with nil factory")
	}
	if _, dup := engines[name]; dup {
		panic("ocr: Register called twice for engine " + name)
	}
	engines[name] = factory
}

// New constructs the named engine. The error lists the registered names when
// the lookup fails so CLI messages stay actionable.
func New(name string) (Engine, error) {
	enginesMu.RLock()
	factory, ok := engines[name]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ocr: unknown engine %q (registered: %v)", name, Engines())
	}
	return factory()
}

// Engines returns the registered engine names in sorted order.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
