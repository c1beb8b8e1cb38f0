package connector

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/logger"
)

// Factory builds a Connector instance from its declared options.
type Factory func(name string, options map[string]interface{}) (Connector, error)

// Registry maps connector type names to the Factory that builds them,
// collapsed from the teacher's separate source/destination factory maps
// since a document-enrichment connector only ever originates documents.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register adds a Factory under type name typeName. Registering the same
// name twice is a configuration error.
func (r *Registry) Register(typeName string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("connector: type %q already registered", typeName)
	}
	r.factories[typeName] = factory
	r.logger.Info("connector type registered", zap.String("type", typeName))
	return nil
}

// Create instantiates a connector of typeName with the given instance name
// and options.
func (r *Registry) Create(typeName, name string, options map[string]interface{}) (Connector, error) {
	r.mu.RLock()
	factory, exists := r.factories[typeName]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("connector: type %q not registered", typeName)
	}
	c, err := factory(name, options)
	if err != nil {
		return nil, fmt.Errorf("connector: failed to create %q instance %q: %w", typeName, name, err)
	}
	return c, nil
}

// List returns every registered connector type name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// Has reports whether typeName is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}

var global = NewRegistry()

// Register adds a Factory to the global registry. Reference connector
// packages call this from an init() func so importing them for side
// effects is enough to make them available to the Runner.
func Register(typeName string, factory Factory) error {
	return global.Register(typeName, factory)
}

// Create instantiates a connector from the global registry.
func Create(typeName, name string, options map[string]interface{}) (Connector, error) {
	return global.Create(typeName, name, options)
}

// List returns every connector type registered in the global registry.
func List() []string {
	return global.List()
}
