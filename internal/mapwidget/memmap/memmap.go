// Package memmap is an in-memory map widget. The server keeps one per
// session to track what a browser map should display, and tests drive it
// with Click, Move and Pan.
package memmap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/mapwidget"
)

var nextID atomic.Uint64

type listener struct {
	event   string
	layerID string
	fn      mapwidget.Handler
}

// Map implements mapwidget.Map in memory.
type Map struct {
	mu        sync.RWMutex
	sources   map[string]mapwidget.Source
	layers    []mapwidget.Layer
	controls  map[string]string // control id -> position
	listeners map[uint64]listener
	order     []uint64
	popups    []*Popup
	bounds    orb.Bound
	zoom      float64
	width     int
	height    int
}

var _ mapwidget.Map = (*Map)(nil)

// New returns a map showing bounds at zoom with a width x height viewport.
func New(bounds orb.Bound, zoom float64, width, height int) *Map {
	return &Map{
		sources:   make(map[string]mapwidget.Source),
		controls:  make(map[string]string),
		listeners: make(map[uint64]listener),
		bounds:    bounds,
		zoom:      zoom,
		width:     width,
		height:    height,
	}
}

func (m *Map) AddSource(id string, src mapwidget.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	m.sources[id] = src
	return nil
}

func (m *Map) GetSource(id string) (mapwidget.Source, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	return src, ok
}

func (m *Map) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return kberr.NotFound("remove source", "%q", id)
	}
	for _, l := range m.layers {
		if l.Source == id {
			return fmt.Errorf("source %q is in use by layer %q", id, l.ID)
		}
	}
	delete(m.sources, id)
	return nil
}

func (m *Map) SetSourceData(id string, data *geojson.FeatureCollection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return kberr.NotFound("set source data", "%q", id)
	}
	src.Data = data
	m.sources[id] = src
	return nil
}

func (m *Map) AddLayer(layer mapwidget.Layer, beforeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.layerIndex(layer.ID) >= 0 {
		return fmt.Errorf("layer %q already exists", layer.ID)
	}
	if _, ok := m.sources[layer.Source]; !ok && layer.Source != "" {
		return kberr.NotFound("add layer", "source %q", layer.Source)
	}
	if layer.Paint == nil {
		layer.Paint = map[string]any{}
	}
	if i := m.layerIndex(beforeID); beforeID != "" && i >= 0 {
		m.layers = append(m.layers[:i], append([]mapwidget.Layer{layer}, m.layers[i:]...)...)
		return nil
	}
	m.layers = append(m.layers, layer)
	return nil
}

func (m *Map) GetLayer(id string) (mapwidget.Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.layerIndex(id); i >= 0 {
		return m.layers[i], true
	}
	return mapwidget.Layer{}, false
}

func (m *Map) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.layerIndex(id)
	if i < 0 {
		return kberr.NotFound("remove layer", "%q", id)
	}
	m.layers = append(m.layers[:i], m.layers[i+1:]...)
	return nil
}

func (m *Map) SetPaintProperty(layerID, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.layerIndex(layerID)
	if i < 0 {
		return kberr.NotFound("set paint property", "layer %q", layerID)
	}
	paint := make(map[string]any, len(m.layers[i].Paint)+1)
	for k, v := range m.layers[i].Paint {
		paint[k] = v
	}
	paint[name] = value
	m.layers[i].Paint = paint
	return nil
}

func (m *Map) GetPaintProperty(layerID, name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.layerIndex(layerID)
	if i < 0 {
		return nil, false
	}
	v, ok := m.layers[i].Paint[name]
	return v, ok
}

// LayerIDs returns the layer ids in render order.
func (m *Map) LayerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.layers))
	for i, l := range m.layers {
		ids[i] = l.ID
	}
	return ids
}

func (m *Map) layerIndex(id string) int {
	for i, l := range m.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (m *Map) AddControl(c mapwidget.Control, position string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls[c.ControlID()] = position
}

func (m *Map) RemoveControl(c mapwidget.Control) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controls, c.ControlID())
}

// HasControl reports whether a control with id is on the map.
func (m *Map) HasControl(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.controls[id]
	return ok
}

func (m *Map) Bounds() orb.Bound {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bounds
}

func (m *Map) Zoom() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

func (m *Map) Size() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.width, m.height
}

// FitBounds moves the viewport to b and fires moveend. The padding is
// recorded by callers only; an in-memory map has no pixels to pad.
func (m *Map) FitBounds(b orb.Bound, padding int) {
	m.mu.Lock()
	m.bounds = b
	m.mu.Unlock()
	m.Fire(mapwidget.Event{Type: mapwidget.EventMoveEnd})
}

func (m *Map) On(event string, h mapwidget.Handler) mapwidget.Subscription {
	return m.OnLayer(event, "", h)
}

func (m *Map) OnLayer(event, layerID string, h mapwidget.Handler) mapwidget.Subscription {
	id := nextID.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[id] = listener{event: event, layerID: layerID, fn: h}
	m.order = append(m.order, id)
	return mapwidget.Subscription{ID: id, Event: event}
}

func (m *Map) Off(sub mapwidget.Subscription) {
	if !sub.Valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, sub.ID)
	for i, id := range m.order {
		if id == sub.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// ListenerCount returns the number of handlers subscribed to event.
func (m *Map) ListenerCount(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, l := range m.listeners {
		if l.event == event {
			n++
		}
	}
	return n
}

// Fire dispatches e to matching handlers in subscription order. Handlers run
// without the map lock held so they may call back into the map.
func (m *Map) Fire(e mapwidget.Event) {
	m.mu.RLock()
	var fns []mapwidget.Handler
	for _, id := range m.order {
		l := m.listeners[id]
		if l.event != e.Type {
			continue
		}
		if l.layerID != "" && l.layerID != e.LayerID {
			continue
		}
		fns = append(fns, l.fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Click fires a click at p.
func (m *Map) Click(p orb.Point) {
	m.Fire(mapwidget.Event{Type: mapwidget.EventClick, LngLat: p})
}

// ClickLayer fires a click at p targeting layerID with the given features.
func (m *Map) ClickLayer(layerID string, p orb.Point, features ...*geojson.Feature) {
	m.Fire(mapwidget.Event{Type: mapwidget.EventClick, LngLat: p, LayerID: layerID, Features: features})
}

// Move fires a mouse move to p.
func (m *Map) Move(p orb.Point) {
	m.Fire(mapwidget.Event{Type: mapwidget.EventMouseMove, LngLat: p})
}

// Pan sets the viewport and fires moveend then zoomend.
func (m *Map) Pan(bounds orb.Bound, zoom float64) {
	m.mu.Lock()
	m.bounds = bounds
	m.zoom = zoom
	m.mu.Unlock()
	m.Fire(mapwidget.Event{Type: mapwidget.EventMoveEnd})
	m.Fire(mapwidget.Event{Type: mapwidget.EventZoomEnd})
}

// Resize changes the viewport size and fires resize.
func (m *Map) Resize(width, height int) {
	m.mu.Lock()
	m.width, m.height = width, height
	m.mu.Unlock()
	m.Fire(mapwidget.Event{Type: mapwidget.EventResize})
}

func (m *Map) NewPopup() mapwidget.Popup {
	p := &Popup{}
	m.mu.Lock()
	m.popups = append(m.popups, p)
	m.mu.Unlock()
	return p
}

// OpenPopups returns the popups currently added to the map.
func (m *Map) OpenPopups() []*Popup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []*Popup
	for _, p := range m.popups {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	return open
}
