package ai

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed models.toml
var defaultModels []byte

// Model describes what a model id can do.
type Model struct {
	ID                     string `toml:"id" json:"id"`
	Name                   string `toml:"name" json:"name"`
	Description            string `toml:"description" json:"description"`
	SupportsImageInput     bool   `toml:"supports_image_input" json:"supportsImageInput"`
	SupportsStreaming      bool   `toml:"supports_streaming" json:"supportsStreaming"`
	SupportsDeepThinking   bool   `toml:"supports_deep_thinking" json:"supportsDeepThinking"`
	SupportsThinkingEffort bool   `toml:"supports_thinking_effort" json:"supportsThinkingEffort"`
}

type modelFile struct {
	Models []Model `toml:"model"`
}

// Registry is the list of known models, in display order.
type Registry struct {
	mu     sync.RWMutex
	models []Model
	index  map[string]int
}

func NewRegistry(models ...Model) *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// LoadRegistry reads models from a TOML file, or the built-in list when path
// is empty.
func LoadRegistry(path string) (*Registry, error) {
	data := defaultModels
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ai: read models file: %w", err)
		}
		data = b
	}
	return parseRegistry(data)
}

func parseRegistry(data []byte) (*Registry, error) {
	var f modelFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("ai: decode models: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("ai: no models defined")
	}
	r := NewRegistry()
	for _, m := range f.Models {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("ai: model without id")
		}
		r.Register(m)
	}
	return r, nil
}

// Register adds m, replacing a model with the same id in place.
func (r *Registry) Register(m Model) {
	m.ID = strings.TrimSpace(m.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[m.ID]; ok {
		r.models[i] = m
		return
	}
	r.index[m.ID] = len(r.models)
	r.models = append(r.models, m)
}

func (r *Registry) Get(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return Model{}, false
	}
	return r.models[i], true
}

func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Model(nil), r.models...)
}

// SupportsThinkingEffort reports whether requests for id may carry
// reasoning_effort. Unknown ids do not.
func (r *Registry) SupportsThinkingEffort(id string) bool {
	m, ok := r.Get(id)
	return ok && m.SupportsThinkingEffort
}
