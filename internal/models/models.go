// Package models holds the capability descriptors for the models the engine
// can talk to. A fully described model (id, provider, context length,
// supported modalities) is what makes an ephemeral conversation usable.
package models

// ProviderID identifies an upstream model provider.
type ProviderID string

const (
	ProviderAnthropic  ProviderID = "anthropic"
	ProviderOpenAI     ProviderID = "openai"
	ProviderOpenRouter ProviderID = "openrouter"
	ProviderGemini     ProviderID = "gemini"
)

// Modality is an input kind a model accepts.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityPDF   Modality = "pdf"
)

// Model describes the currently selected model well enough for the engine to
// route sends and validate attachments.
type Model struct {
	ID            string     `json:"id"`
	Provider      ProviderID `json:"provider"`
	Name          string     `json:"name"`
	ContextWindow int        `json:"contextWindow"`
	MaxTokens     int        `json:"maxTokens"`
	Modalities    []Modality `json:"modalities"`
}

// SupportsModality reports whether the model accepts the given input kind.
func (m Model) SupportsModality(mod Modality) bool {
	for _, have := range m.Modalities {
		if have == mod {
			return true
		}
	}
	return false
}

// SupportsImages is a convenience for the attachment pipeline.
func (m Model) SupportsImages() bool { return m.SupportsModality(ModalityImage) }

// SupportsPDF is a convenience for the attachment pipeline.
func (m Model) SupportsPDF() bool { return m.SupportsModality(ModalityPDF) }

// IsComplete reports whether the descriptor is filled in enough to drive an
// ephemeral conversation: id, provider, and a context window.
func (m Model) IsComplete() bool {
	return m.ID != "" && m.Provider != "" && m.ContextWindow > 0
}
