// Package registry holds the static service catalog (spec §4.A): the fixed
// set of application services and backing stores, their ports, and their
// runtime dependencies.
package registry

import "fmt"

// Kind distinguishes application services from stateful backing stores.
type Kind string

const (
	KindApplication Kind = "application"
	KindBackingStore Kind = "backing_store"
)

// Service is an immutable catalog entry.
type Service struct {
	Name         string
	Port         int
	Kind         Kind
	Dependencies []string
}

// Registry is the static, read-only service catalog.
type Registry struct {
	services map[string]Service
	order    []string // insertion order, for deterministic iteration
}

// Default returns the bit-exact registry from spec.md §6: six application
// services and three backing stores.
func Default() *Registry {
	r := &Registry{services: make(map[string]Service)}

	r.add(Service{Name: "relational-db", Port: 5432, Kind: KindBackingStore})
	r.add(Service{Name: "cache", Port: 6379, Kind: KindBackingStore})
	r.add(Service{Name: "vector-db", Port: 6333, Kind: KindBackingStore})

	r.add(Service{Name: "gateway", Port: 3000, Kind: KindApplication,
		Dependencies: []string{"personas", "workflows", "projects", "context", "tokens"}})
	r.add(Service{Name: "personas", Port: 3001, Kind: KindApplication,
		Dependencies: []string{"relational-db", "cache"}})
	r.add(Service{Name: "workflows", Port: 3002, Kind: KindApplication,
		Dependencies: []string{"relational-db", "cache", "personas"}})
	r.add(Service{Name: "projects", Port: 3003, Kind: KindApplication,
		Dependencies: []string{"relational-db", "cache"}})
	r.add(Service{Name: "context", Port: 3004, Kind: KindApplication,
		Dependencies: []string{"relational-db", "vector-db"}})
	r.add(Service{Name: "tokens", Port: 3005, Kind: KindApplication,
		Dependencies: []string{"relational-db", "cache"}})

	return r
}

func (r *Registry) add(s Service) {
	r.services[s.Name] = s
	r.order = append(r.order, s.Name)
}

// Services returns every catalog entry in registration order.
func (r *Registry) Services() []Service {
	out := make([]Service, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.services[name])
	}
	return out
}

// ApplicationServices returns only the six application services, in
// registration order.
func (r *Registry) ApplicationServices() []Service {
	out := make([]Service, 0, 6)
	for _, name := range r.order {
		if s := r.services[name]; s.Kind == KindApplication {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the catalog entry for name.
func (r *Registry) Get(name string) (Service, bool) {
	s, ok := r.services[name]
	return s, ok
}

// Exists reports whether name is a known service.
func (r *Registry) Exists(name string) bool {
	_, ok := r.services[name]
	return ok
}

// Dependencies returns the direct runtime dependencies of s.
func (r *Registry) Dependencies(name string) ([]string, error) {
	s, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown service %q", name)
	}
	return s.Dependencies, nil
}

// Port returns the configured listening port for name.
func (r *Registry) Port(name string) (int, error) {
	s, ok := r.services[name]
	if !ok {
		return 0, fmt.Errorf("registry: unknown service %q", name)
	}
	return s.Port, nil
}

// Resolve returns the dependency closure of the requested services: the
// smallest set containing every requested name plus every (transitive)
// dependency, ordered so every dependency appears before its dependents.
func (r *Registry) Resolve(names ...string) ([]string, error) {
	var order []string
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("registry: cycle detected at %q", name)
		}
		if !r.Exists(name) {
			return fmt.Errorf("registry: unknown service %q", name)
		}
		visiting[name] = true
		deps, _ := r.Dependencies(name)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
