package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const logPrefix = "registry:registry"

// Module is one handler-definition source: a key prefix plus its named exports.
// The fully-qualified key of each export is Prefix + export name.
type Module struct {
	Prefix  string
	Exports map[string]*Definition
}

// Registry is the bidirectional key <-> definition index. It is populated during startup and
// read-only once Seal has been called.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]*Definition
	byDef  map[*Definition]string
	sealed bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]*Definition),
		byDef: make(map[*Definition]string),
	}
}

// Register indexes every export of m. Registration is all-or-nothing: on a collision or an
// invalid export nothing from m is inserted and an error is returned. Callers treat the error as
// fatal at startup.
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%s - cannot register %q: %w", logPrefix, m.Prefix, ErrSealed)
	}

	names := make([]string, 0, len(m.Exports))
	for name := range m.Exports {
		names = append(names, name)
	}
	sort.Strings(names)

	staged := make(map[string]*Definition, len(names))
	stagedDefs := make(map[*Definition]string, len(names))
	for _, name := range names {
		def := m.Exports[name]
		key := m.Prefix + name
		if err := def.check(); err != nil {
			return fmt.Errorf("%s - export %q: %w", logPrefix, key, err)
		}
		if _, exists := r.byKey[key]; exists {
			return fmt.Errorf("%s - %q: %w", logPrefix, key, ErrDuplicateKey)
		}
		if _, exists := staged[key]; exists {
			return fmt.Errorf("%s - %q: %w", logPrefix, key, ErrDuplicateKey)
		}
		if prev, exists := r.byDef[def]; exists {
			return fmt.Errorf("%s - %q already registered as %q: %w", logPrefix, key, prev, ErrDuplicateDefinition)
		}
		if prev, exists := stagedDefs[def]; exists {
			return fmt.Errorf("%s - %q already registered as %q: %w", logPrefix, key, prev, ErrDuplicateDefinition)
		}
		staged[key] = def
		stagedDefs[def] = key
	}

	for key, def := range staged {
		r.byKey[key] = def
		r.byDef[def] = key
		slog.Debug(fmt.Sprintf("%s - registered %s %s", logPrefix, def.Kind(), key))
	}
	slog.Info(fmt.Sprintf("%s - Registered %d handlers with prefix %q", logPrefix, len(staged), m.Prefix))
	return nil
}

// MustRegister registers each module and panics on the first error.
func (r *Registry) MustRegister(modules ...Module) {
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Seal makes the registry read-only. Further Register calls fail with ErrSealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// ResolveByKey returns the definition registered under key.
func (r *Registry) ResolveByKey(key string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byKey[key]
	return def, ok
}

// ResolveKeyByReference returns the key a definition was registered under.
func (r *Registry) ResolveKeyByReference(def *Definition) (string, bool) {
	if def == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byDef[def]
	return key, ok
}

// Keys returns every registered key in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
