package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр коннекторов по имени. Потокобезопасен.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// DefaultRegistry создаёт реестр со стандартными коннекторами.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewHTTPConnector())
	r.Register(NewDelayConnector())
	r.Register(NewTransformConnector())
	r.Register(NewNoopConnector())
	return r
}

// Register регистрирует коннектор; одноимённый перезаписывается.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Name()] = c
}

// Get возвращает коннектор по имени или ErrUnknownConnector.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, name)
	}
	return c, nil
}

// Has проверяет, зарегистрирован ли коннектор.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connectors[name]
	return ok
}

// Names возвращает имена коннекторов по алфавиту.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
