// Package scenario names ready-made jump linear systems together with the
// learning parameters they are usually run with.
package scenario

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"mjlstd/internal/model"
)

var (
	ErrScenarioExists  = errors.New("scenario already registered")
	ErrUnknownScenario = errors.New("unknown scenario")
)

type Spec struct {
	Name        string
	Description string
	// Config returns a fresh system configuration on every call.
	Config     func() model.SystemConfig
	Parameters model.Parameters
}

// Build constructs the system with the control weights D_i scaled by
// factor. A zero factor means 1.
func (s Spec) Build(factor float64) (*model.System, error) {
	if s.Config == nil {
		return nil, fmt.Errorf("scenario %s: config is required", s.Name)
	}
	if factor == 0 {
		factor = 1
	}
	if factor < 0 {
		return nil, fmt.Errorf("scenario %s: control cost factor must be > 0", s.Name)
	}
	sys, err := model.NewSystem(s.Config())
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	if factor == 1 {
		return sys, nil
	}
	return sys.WithControlCost(factor), nil
}

var registry = struct {
	mu sync.RWMutex
	m  map[string]Spec
}{
	m: make(map[string]Spec),
}

func init() {
	initializeBuiltInScenarios()
}

func Register(spec Spec) error {
	if spec.Name == "" {
		return errors.New("scenario name is required")
	}
	if spec.Config == nil {
		return errors.New("scenario config is required")
	}
	if err := spec.Parameters.Validate(); err != nil {
		return fmt.Errorf("scenario %s: %w", spec.Name, err)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrScenarioExists, spec.Name)
	}
	registry.m[spec.Name] = spec
	return nil
}

func MustRegister(spec Spec) {
	if err := Register(spec); err != nil {
		panic(err)
	}
}

func Get(name string) (Spec, error) {
	registry.mu.RLock()
	spec, ok := registry.m[name]
	registry.mu.RUnlock()
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	return spec, nil
}

func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	registry.mu.Lock()
	registry.m = make(map[string]Spec)
	registry.mu.Unlock()
	initializeBuiltInScenarios()
}
