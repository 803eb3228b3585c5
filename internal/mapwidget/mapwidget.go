// Package mapwidget describes the interactive map kickbox drives: sources,
// layers, paint properties, controls, viewport events and popups.
//
// Implementations wrap a real widget (a browser map bridged over SSE, a
// headless renderer) or, in tests and the server, the in-memory widget in
// package memmap.
package mapwidget

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Viewport and pointer event names.
const (
	EventClick     = "click"
	EventMouseMove = "mousemove"
	EventMoveEnd   = "moveend"
	EventZoomEnd   = "zoomend"
	EventResize    = "resize"
)

// Control positions.
const (
	TopLeft     = "top-left"
	TopRight    = "top-right"
	BottomLeft  = "bottom-left"
	BottomRight = "bottom-right"
)

// Source is a map data source.
type Source struct {
	Type        string                     `json:"type"` // image or geojson
	URL         string                     `json:"url,omitempty"`
	Coordinates []orb.Point                `json:"coordinates,omitempty"`
	Data        *geojson.FeatureCollection `json:"data,omitempty"`
}

// Layer is a rendered map layer bound to a source.
type Layer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"` // raster, circle, symbol
	Source string         `json:"source"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
	Filter []any          `json:"filter,omitempty"`
}

// Event is a viewport or pointer event.
type Event struct {
	Type     string
	LngLat   orb.Point
	LayerID  string
	Features []*geojson.Feature
}

// Handler receives map events.
type Handler func(Event)

// Subscription identifies one registered handler. The zero value is not a
// valid subscription and Off ignores it.
type Subscription struct {
	ID    uint64
	Event string
}

// Valid reports whether s was returned by On or OnLayer.
func (s Subscription) Valid() bool {
	return s.ID != 0
}

// Control is anything placed on the map chrome.
type Control interface {
	ControlID() string
}

// Map is the map widget contract.
type Map interface {
	AddSource(id string, src Source) error
	GetSource(id string) (Source, bool)
	RemoveSource(id string) error
	SetSourceData(id string, data *geojson.FeatureCollection) error

	AddLayer(layer Layer, beforeID string) error
	GetLayer(id string) (Layer, bool)
	RemoveLayer(id string) error
	SetPaintProperty(layerID, name string, value any) error
	GetPaintProperty(layerID, name string) (any, bool)

	AddControl(c Control, position string)
	RemoveControl(c Control)

	Bounds() orb.Bound
	Zoom() float64
	Size() (width, height int)
	FitBounds(b orb.Bound, padding int)

	// On subscribes to every event of a type; OnLayer only to events whose
	// target is layerID.
	On(event string, h Handler) Subscription
	OnLayer(event, layerID string, h Handler) Subscription
	Off(sub Subscription)

	NewPopup() Popup
}

// Popup is an anchored HTML popup.
type Popup interface {
	SetLngLat(p orb.Point) Popup
	SetHTML(html string) Popup
	AddTo(m Map) Popup
	Remove()
}

// FeatureStore holds editable features drawn on the map.
type FeatureStore interface {
	Add(f *geojson.Feature) string
	Get(id string) (*geojson.Feature, bool)
	// Update replaces the geometry of feature id and redraws it. It reports
	// false when id is unknown.
	Update(id string, g orb.Geometry) bool
	Delete(ids ...string)
}

// DrawControl is a map control owning a set of editable features.
type DrawControl interface {
	Control
	FeatureStore
}

// PopupView is the interactive content of a popup: rendered markup whose
// elements are addressed by class selectors.
type PopupView interface {
	Render(html string)
	Bind(selector, event string, fn func())
	UnbindAll()
	Show(selector string)
	Hide(selector string)
	Toggle(selector string)
	Value(selector string) string
	SetValue(selector, value string)
	SetActiveRecord(index int)
}

// AddSource replaces any existing source with the same id.
func AddSource(m Map, id string, src Source) error {
	if _, ok := m.GetSource(id); ok {
		if err := m.RemoveSource(id); err != nil {
			return err
		}
	}
	return m.AddSource(id, src)
}

// AddLayer replaces any existing layer with the same id.
func AddLayer(m Map, layer Layer, beforeID string) error {
	if _, ok := m.GetLayer(layer.ID); ok {
		if err := m.RemoveLayer(layer.ID); err != nil {
			return err
		}
	}
	return m.AddLayer(layer, beforeID)
}

// RemoveSource removes id if present.
func RemoveSource(m Map, id string) {
	if _, ok := m.GetSource(id); ok {
		_ = m.RemoveSource(id)
	}
}

// RemoveLayer removes id if present.
func RemoveLayer(m Map, id string) {
	if _, ok := m.GetLayer(id); ok {
		_ = m.RemoveLayer(id)
	}
}
