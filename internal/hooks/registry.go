// Package hooks provides a registry for self-registering function hooks.
// The trampoline example linker consults it while relocating: a JUMP_SLOT
// whose symbol matches a registered hook is pointed at a generated stub
// instead of the real function.
package hooks

import (
	"strings"
	"sync"

	glog "github.com/zboralski/fold/internal/log"
	"go.uber.org/zap"
)

// BuildFunc generates the machine code of a hook stub. stub is the address
// the code will live at (for absolute references into the stub's own data);
// target is the resolved address of the real function, which the stub
// decides whether and how to chain to.
type BuildFunc func(stub, target uintptr) []byte

// Hook defines a function hook bound to a symbol name.
type Hook struct {
	Name     string   // symbol name (e.g. "puts")
	Aliases  []string // alternative symbol names
	Patterns []string // optional wildcard patterns ("*printf*")
	Category string   // for logging: "io", "alloc", ...
	Build    BuildFunc
}

// Registry holds registered hooks.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]*Hook
	order []*Hook
}

// DefaultRegistry is the global registry used by init() functions.
var DefaultRegistry = NewRegistry()

// Debug enables verbose logging during registration; lookups are not logged.
var Debug = false

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]*Hook)}
}

// Register adds a hook definition to the registry.
// Called from init() functions in hook packages.
func (r *Registry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks[h.Name] = &h
	for _, alias := range h.Aliases {
		r.hooks[alias] = &h
	}
	r.order = append(r.order, &h)

	if Debug && glog.L != nil {
		glog.L.Debug("hook registered",
			zap.String("cat", h.Category),
			zap.String("fn", h.Name),
			zap.Strings("aliases", h.Aliases),
		)
	}
}

// RegisterFunc is a convenience method to register a simple hook.
func (r *Registry) RegisterFunc(category, name string, build BuildFunc, aliases ...string) {
	r.Register(Hook{
		Name:     name,
		Aliases:  aliases,
		Build:    build,
		Category: category,
	})
}

// Match returns the hook bound to a symbol name: exact (or alias) matches
// first, then wildcard patterns in registration order.
func (r *Registry) Match(name string) (*Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.hooks[name]; ok {
		return h, true
	}
	for _, h := range r.order {
		for _, pattern := range h.Patterns {
			if matchPattern(name, pattern) {
				return h, true
			}
		}
	}
	return nil, false
}

// matchPattern checks if a symbol name matches a pattern.
// Patterns can use * for wildcard and can be substring matches.
func matchPattern(name, pattern string) bool {
	if strings.Contains(pattern, "*") {
		switch {
		case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
			// *foo* - contains
			return strings.Contains(name, pattern[1:len(pattern)-1])
		case strings.HasPrefix(pattern, "*"):
			// *foo - suffix
			return strings.HasSuffix(name, pattern[1:])
		case strings.HasSuffix(pattern, "*"):
			// foo* - prefix
			return strings.HasPrefix(name, pattern[:len(pattern)-1])
		}
	}
	// Exact match or substring
	return name == pattern || strings.Contains(name, pattern)
}

// Count returns the number of registered hooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns the registered hook names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, h := range r.order {
		names = append(names, h.Name)
	}
	return names
}

// Convenience functions for the default registry.

// Register adds a hook to the default registry.
func Register(h Hook) {
	DefaultRegistry.Register(h)
}

// RegisterFunc adds a simple hook to the default registry.
func RegisterFunc(category, name string, build BuildFunc, aliases ...string) {
	DefaultRegistry.RegisterFunc(category, name, build, aliases...)
}

// Match looks up a hook in the default registry.
func Match(name string) (*Hook, bool) {
	return DefaultRegistry.Match(name)
}
