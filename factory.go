package xap

import (
	"fmt"
	"slices"
	"sync"
)

// NewFunc creates a new processor instance.
type NewFunc func() Processor

var factory = struct {
	sync.RWMutex
	m map[string]NewFunc
}{
	m: make(map[string]NewFunc),
}

// Register makes processor available for Create under provided id. If id
// is already registered, constructor is replaced.
func Register(id string, fn NewFunc) {
	factory.Lock()
	defer factory.Unlock()
	factory.m[id] = fn
}

// Create returns a new processor registered under provided id.
func Create(id string) (Processor, error) {
	factory.RLock()
	fn, ok := factory.m[id]
	factory.RUnlock()
	if !ok {
		return nil, fmt.Errorf("processor %q: %w", id, ErrUnknownProcessor)
	}
	return fn(), nil
}

// Registered returns sorted ids of registered processors.
func Registered() []string {
	factory.RLock()
	defer factory.RUnlock()
	ids := make([]string, 0, len(factory.m))
	for id := range factory.m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
