package memmap

import (
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/kickbox/internal/mapwidget"
)

// Popup records what a popup would show.
type Popup struct {
	mu     sync.Mutex
	lngLat orb.Point
	html   string
	open   bool
}

func (p *Popup) SetLngLat(pt orb.Point) mapwidget.Popup {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lngLat = pt
	return p
}

func (p *Popup) SetHTML(html string) mapwidget.Popup {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
	return p
}

func (p *Popup) AddTo(mapwidget.Map) mapwidget.Popup {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	return p
}

func (p *Popup) Remove() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
}

// LngLat returns the anchor.
func (p *Popup) LngLat() orb.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lngLat
}

// HTML returns the content.
func (p *Popup) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html
}

// IsOpen reports whether the popup is on the map.
func (p *Popup) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Draw is an in-memory draw control.
type Draw struct {
	id       string
	mu       sync.Mutex
	seq      int
	features map[string]*geojson.Feature
}

var _ mapwidget.DrawControl = (*Draw)(nil)

// NewDraw returns an empty draw control named id.
func NewDraw(id string) *Draw {
	return &Draw{id: id, features: make(map[string]*geojson.Feature)}
}

func (d *Draw) ControlID() string { return d.id }

// Add stores f, keeping its string ID when it has one.
func (d *Draw) Add(f *geojson.Feature) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, _ := f.ID.(string)
	if id == "" {
		d.seq++
		id = d.id + "-" + strconv.Itoa(d.seq)
		f.ID = id
	}
	d.features[id] = f
	return id
}

func (d *Draw) Get(id string) (*geojson.Feature, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.features[id]
	return f, ok
}

func (d *Draw) Update(id string, g orb.Geometry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.features[id]
	if !ok {
		return false
	}
	f.Geometry = g
	return true
}

func (d *Draw) Delete(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.features, id)
	}
}

// Len returns the number of stored features.
func (d *Draw) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.features)
}
