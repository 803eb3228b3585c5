package identify

import (
	"sort"
	"sync"

	"github.com/joeblew999/kickbox/internal/mapwidget"
)

// Instance is an identify interaction the registry can switch on and off.
type Instance interface {
	Attach(m mapwidget.Map)
	Detach()
}

var _ Instance = (*Mode)(nil)

type entry struct {
	mode    Instance
	control mapwidget.Control
}

// Registry tracks the identify mode and draw control per layer id and keeps
// at most one of them enabled. Disabled layers keep their key with an empty
// entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Enable disables every registered mode, then adds control to m and attaches
// mode under layerID.
func (r *Registry) Enable(m mapwidget.Map, layerID string, mode Instance, control mapwidget.Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.entries {
		r.disableLocked(m, id)
	}
	r.entries[layerID] = &entry{mode: mode, control: control}
	if control != nil {
		m.AddControl(control, mapwidget.TopLeft)
	}
	if mode != nil {
		mode.Attach(m)
	}
}

// Disable tears down layerID's mode and removes its control from m.
func (r *Registry) Disable(m mapwidget.Map, layerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disableLocked(m, layerID)
}

// DisableAll disables every enabled layer.
func (r *Registry) DisableAll(m mapwidget.Map) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.entries {
		r.disableLocked(m, id)
	}
}

func (r *Registry) disableLocked(m mapwidget.Map, layerID string) {
	e, ok := r.entries[layerID]
	if !ok {
		return
	}
	if e.mode != nil {
		e.mode.Detach()
		e.mode = nil
	}
	if e.control != nil {
		m.RemoveControl(e.control)
		e.control = nil
	}
}

// Active returns the enabled layer id, if any.
func (r *Registry) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.mode != nil {
			return id, true
		}
	}
	return "", false
}

// Mode returns the mode enabled for layerID.
func (r *Registry) Mode(layerID string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[layerID]
	if !ok || e.mode == nil {
		return nil, false
	}
	return e.mode, true
}

// Keys lists every layer id ever enabled, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for id := range r.entries {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
