package models

import (
	"fmt"
	"sync"
)

// Registry manages the known model descriptors and tracks the currently
// selected one. It doubles as the engine's model descriptor provider.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]Model
	selected string
}

// NewRegistry creates a registry seeded with the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]Model)}
	for _, m := range catalog {
		r.models[m.ID] = m
	}
	return r
}

// Get retrieves a descriptor by model id.
func (r *Registry) Get(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Add registers a descriptor, replacing any existing entry with the same id.
func (r *Registry) Add(m Model) error {
	if m.ID == "" {
		return fmt.Errorf("model id cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
	return nil
}

// List returns all known descriptors.
func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// Select marks the given model as the currently selected one.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return fmt.Errorf("unknown model: %s", id)
	}
	r.selected = id
	return nil
}

// Selected returns the currently selected descriptor, if any. The second
// return is false when no model is selected or the descriptor is incomplete.
func (r *Registry) Selected() (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[r.selected]
	if !ok || !m.IsComplete() {
		return Model{}, false
	}
	return m, true
}

// catalog is the built-in set of frontier model descriptors. Discovery and
// provider-reported catalogs can extend it at runtime via Add.
var catalog = []Model{
	{
		ID:            "claude-sonnet-4-20250514",
		Provider:      ProviderAnthropic,
		Name:          "Claude Sonnet 4",
		ContextWindow: 200000,
		MaxTokens:     64000,
		Modalities:    []Modality{ModalityText, ModalityImage, ModalityPDF},
	},
	{
		ID:            "claude-3-5-haiku-20241022",
		Provider:      ProviderAnthropic,
		Name:          "Claude 3.5 Haiku",
		ContextWindow: 200000,
		MaxTokens:     8192,
		Modalities:    []Modality{ModalityText, ModalityImage},
	},
	{
		ID:            "gpt-4o",
		Provider:      ProviderOpenAI,
		Name:          "GPT-4o",
		ContextWindow: 128000,
		MaxTokens:     16384,
		Modalities:    []Modality{ModalityText, ModalityImage},
	},
	{
		ID:            "gpt-4o-mini",
		Provider:      ProviderOpenAI,
		Name:          "GPT-4o mini",
		ContextWindow: 128000,
		MaxTokens:     16384,
		Modalities:    []Modality{ModalityText, ModalityImage},
	},
	{
		ID:            "gemini-2.0-flash",
		Provider:      ProviderGemini,
		Name:          "Gemini 2.0 Flash",
		ContextWindow: 1048576,
		MaxTokens:     8192,
		Modalities:    []Modality{ModalityText, ModalityImage, ModalityPDF},
	},
	{
		ID:            "anthropic/claude-sonnet-4",
		Provider:      ProviderOpenRouter,
		Name:          "Claude Sonnet 4 (OpenRouter)",
		ContextWindow: 200000,
		MaxTokens:     64000,
		Modalities:    []Modality{ModalityText, ModalityImage},
	},
}
