package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sparkling-owl/spin/internal/engine"
)

type templateKey struct {
	id      string
	version int
}

// TemplateStore keeps versioned extraction templates in memory.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[templateKey]engine.Template
	latest    map[string]int
}

// NewTemplateStore constructs a TemplateStore.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		templates: make(map[templateKey]engine.Template),
		latest:    make(map[string]int),
	}
}

// PutTemplate stores a template version. Existing versions are immutable.
func (s *TemplateStore) PutTemplate(_ context.Context, template engine.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := templateKey{id: template.ID, version: template.Version}
	if _, exists := s.templates[key]; exists {
		return fmt.Errorf("template %s v%d: %w", template.ID, template.Version, engine.ErrAlreadyExists)
	}
	s.templates[key] = template
	if template.Version > s.latest[template.ID] {
		s.latest[template.ID] = template.Version
	}
	return nil
}

// GetTemplate resolves a template by ID and version. Version 0 resolves the
// latest stored version.
func (s *TemplateStore) GetTemplate(_ context.Context, id string, version int) (engine.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if version <= 0 {
		version = s.latest[id]
	}
	tmpl, ok := s.templates[templateKey{id: id, version: version}]
	if !ok {
		return engine.Template{}, fmt.Errorf("template %s v%d: %w", id, version, engine.ErrNotFound)
	}
	return tmpl, nil
}
