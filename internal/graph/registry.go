package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xiaot623/gogo/runplane/internal/config"
	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// Factory builds a graph for one assistant entry.
type Factory func(a config.AssistantConfig) (Graph, error)

// Assistant is a graph bound to an assistant id with its static config.
type Assistant struct {
	ID     string
	Graph  Graph
	Config json.RawMessage
}

// Registry stores graph factories by name and assistants by id.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	assistants map[string]Assistant
}

// NewRegistry creates a registry that knows the built-in graphs but has no assistants.
func NewRegistry() *Registry {
	r := &Registry{
		factories:  make(map[string]Factory),
		assistants: make(map[string]Assistant),
	}
	r.MustRegisterFactory("echo", func(config.AssistantConfig) (Graph, error) { return Echo(), nil })
	r.MustRegisterFactory("approval", func(config.AssistantConfig) (Graph, error) { return Approval(), nil })
	r.MustRegisterFactory("counter", func(config.AssistantConfig) (Graph, error) { return Counter(), nil })
	r.MustRegisterFactory("remote", func(a config.AssistantConfig) (Graph, error) {
		if a.Endpoint == "" {
			return nil, fmt.Errorf("assistant %s: remote graph requires an endpoint", a.AssistantID)
		}
		return NewRemote(a.Endpoint), nil
	})
	return r
}

// DefaultCatalog exposes each built-in local graph under its own name.
func DefaultCatalog() *config.GraphCatalog {
	return &config.GraphCatalog{Assistants: []config.AssistantConfig{
		{AssistantID: "echo", Graph: "echo"},
		{AssistantID: "approval", Graph: "approval"},
		{AssistantID: "counter", Graph: "counter"},
	}}
}

// RegisterFactory adds a graph implementation under name.
func (r *Registry) RegisterFactory(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("graph name is required")
	}
	if f == nil {
		return fmt.Errorf("factory is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("graph already registered for %s", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegisterFactory is RegisterFactory that panics on error.
func (r *Registry) MustRegisterFactory(name string, f Factory) {
	if err := r.RegisterFactory(name, f); err != nil {
		panic(err)
	}
}

// Register binds a graph directly to an assistant id.
func (r *Registry) Register(assistantID string, g Graph, cfg json.RawMessage) error {
	if assistantID == "" {
		return fmt.Errorf("assistant id is required")
	}
	if g == nil {
		return fmt.Errorf("graph is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assistants[assistantID]; exists {
		return fmt.Errorf("assistant already registered: %s", assistantID)
	}
	r.assistants[assistantID] = Assistant{ID: assistantID, Graph: g, Config: cfg}
	return nil
}

// Load builds and registers every assistant in the catalog.
func (r *Registry) Load(cat *config.GraphCatalog) error {
	for _, a := range cat.Assistants {
		r.mu.RLock()
		f := r.factories[a.Graph]
		r.mu.RUnlock()
		if f == nil {
			return fmt.Errorf("assistant %s: %w %q", a.AssistantID, ErrUnknownGraph, a.Graph)
		}
		g, err := f(a)
		if err != nil {
			return err
		}
		cfg, err := a.ConfigJSON()
		if err != nil {
			return fmt.Errorf("assistant %s: encode config: %w", a.AssistantID, err)
		}
		if err := r.Register(a.AssistantID, g, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the assistant registered under id.
func (r *Registry) Get(assistantID string) (Assistant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assistants[assistantID]
	if !ok {
		return Assistant{}, fmt.Errorf("assistant %s: %w", assistantID, domain.ErrNotFound)
	}
	return a, nil
}

// Has reports whether an assistant is registered under id.
func (r *Registry) Has(assistantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assistants[assistantID]
	return ok
}

// Build makes a graph for a stored assistant without registering it. The
// stored config object feeds the factory; a string "endpoint" key serves
// remote graphs.
func (r *Registry) Build(stored *domain.Assistant) (Assistant, error) {
	r.mu.RLock()
	f := r.factories[stored.GraphID]
	r.mu.RUnlock()
	if f == nil {
		return Assistant{}, fmt.Errorf("assistant %s: %w %q: %w", stored.AssistantID, ErrUnknownGraph, stored.GraphID, domain.ErrInvalidArgument)
	}
	ac := config.AssistantConfig{AssistantID: stored.AssistantID, Graph: stored.GraphID}
	if len(stored.Config) > 0 && string(stored.Config) != "null" {
		if err := json.Unmarshal(stored.Config, &ac.Config); err != nil {
			return Assistant{}, fmt.Errorf("assistant %s: config must be an object: %w", stored.AssistantID, domain.ErrInvalidArgument)
		}
		ac.Endpoint, _ = ac.Config["endpoint"].(string)
	}
	g, err := f(ac)
	if err != nil {
		return Assistant{}, fmt.Errorf("%w: %w", err, domain.ErrInvalidArgument)
	}
	return Assistant{ID: stored.AssistantID, Graph: g, Config: stored.Config}, nil
}

// Assistants lists registered assistant ids in order.
func (r *Registry) Assistants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.assistants))
	for id := range r.assistants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
