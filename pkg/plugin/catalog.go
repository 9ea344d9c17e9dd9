package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// ConfigurationError reports a configured plugin that could not be set up.
// The offending entry is skipped; the rest of the configuration still loads.
type ConfigurationError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: not configured", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Factory builds a fresh, unconfigured T.
type Factory[T any] func() T

// Catalog maps implementation names to factories. Registration happens at
// process start; later registrations under the same name replace earlier
// ones.
type Catalog[T any] struct {
	kind string

	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewCatalog builds an empty catalog. kind names the plugin type in errors,
// e.g. "command" or "topic".
func NewCatalog[T any](kind string) *Catalog[T] {
	return &Catalog[T]{kind: kind, factories: make(map[string]Factory[T])}
}

func (c *Catalog[T]) Register(name string, factory Factory[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// New builds the implementation registered under name.
func (c *Catalog[T]) New(name string) (T, error) {
	c.mu.RLock()
	factory, ok := c.factories[name]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, &ConfigurationError{Kind: c.kind, Name: name, Err: fmt.Errorf("unknown %s implementation", c.kind)}
	}
	return factory(), nil
}

// Names lists the registered names in sorted order.
func (c *Catalog[T]) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode copies an opaque configuration block into target, matching keys
// against `config` struct tags. Unknown keys are rejected.
func Decode(raw map[string]any, target any) error {
	if len(raw) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           target,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
