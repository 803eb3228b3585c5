package memmap

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/mapwidget"
)

func newMap() *Map {
	return New(orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}, 5.5, 800, 600)
}

func TestSourcesAndLayers(t *testing.T) {
	m := newMap()
	require.NoError(t, m.AddSource("a-source", mapwidget.Source{Type: "geojson"}))
	assert.Error(t, m.AddSource("a-source", mapwidget.Source{}))

	require.NoError(t, m.AddLayer(mapwidget.Layer{ID: "a-layer", Type: "circle", Source: "a-source"}, ""))
	require.NoError(t, m.AddLayer(mapwidget.Layer{ID: "b-layer", Type: "raster", Source: "a-source"}, "a-layer"))
	assert.Equal(t, []string{"b-layer", "a-layer"}, m.LayerIDs())

	require.NoError(t, m.SetPaintProperty("a-layer", "circle-radius", 4))
	v, ok := m.GetPaintProperty("a-layer", "circle-radius")
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	assert.Error(t, m.RemoveSource("a-source"), "source in use")
	require.NoError(t, m.RemoveLayer("a-layer"))
	require.NoError(t, m.RemoveLayer("b-layer"))
	require.NoError(t, m.RemoveSource("a-source"))

	err := m.RemoveLayer("a-layer")
	assert.True(t, errors.Is(err, kberr.ErrNotFound))
}

func TestReplaceHelpers(t *testing.T) {
	m := newMap()
	require.NoError(t, mapwidget.AddSource(m, "s", mapwidget.Source{Type: "image", URL: "one"}))
	require.NoError(t, mapwidget.AddSource(m, "s", mapwidget.Source{Type: "image", URL: "two"}))
	src, _ := m.GetSource("s")
	assert.Equal(t, "two", src.URL)

	mapwidget.RemoveLayer(m, "missing")
	mapwidget.RemoveSource(m, "missing")
	mapwidget.RemoveSource(m, "s")
	_, ok := m.GetSource("s")
	assert.False(t, ok)
}

func TestEventsAndSubscriptions(t *testing.T) {
	m := newMap()
	var all, scoped int
	sub := m.On(mapwidget.EventClick, func(mapwidget.Event) { all++ })
	m.OnLayer(mapwidget.EventClick, "c-layer", func(mapwidget.Event) { scoped++ })

	m.Click(orb.Point{1, 1})
	m.ClickLayer("c-layer", orb.Point{1, 1})
	assert.Equal(t, 2, all)
	assert.Equal(t, 1, scoped)

	m.Off(sub)
	m.Off(mapwidget.Subscription{})
	m.Click(orb.Point{1, 1})
	assert.Equal(t, 2, all)
	assert.Equal(t, 1, m.ListenerCount(mapwidget.EventClick))
}

func TestPanFiresViewportEvents(t *testing.T) {
	m := newMap()
	var events []string
	m.On(mapwidget.EventMoveEnd, func(e mapwidget.Event) { events = append(events, e.Type) })
	m.On(mapwidget.EventZoomEnd, func(e mapwidget.Event) { events = append(events, e.Type) })

	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	m.Pan(b, 9)
	assert.Equal(t, []string{"moveend", "zoomend"}, events)
	assert.Equal(t, b, m.Bounds())
	assert.Equal(t, 9.0, m.Zoom())
}

func TestDraw(t *testing.T) {
	d := NewDraw("identify")
	id := d.Add(geojson.NewFeature(orb.Point{1, 2}))
	assert.Equal(t, "identify-1", id)
	named := geojson.NewFeature(orb.LineString{{0, 0}, {0, 0}})
	named.ID = "identify-buffer-radius"
	assert.Equal(t, "identify-buffer-radius", d.Add(named))
	assert.Equal(t, 2, d.Len())

	assert.True(t, d.Update("identify-buffer-radius", orb.LineString{{0, 0}, {1, 1}}))
	f, ok := d.Get("identify-buffer-radius")
	require.True(t, ok)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, f.Geometry)
	assert.False(t, d.Update("missing", orb.Point{0, 0}))

	d.Delete(id, "identify-buffer-radius")
	assert.Equal(t, 0, d.Len())
}

func TestView(t *testing.T) {
	v := NewView()
	var clicks int
	v.Bind(".btn-next", "click", func() { clicks++ })
	v.Trigger(".btn-next", "click")
	v.Trigger(".btn-prev", "click")
	assert.Equal(t, 1, clicks)

	assert.True(t, v.Visible(".blocker"))
	v.Hide(".blocker")
	assert.False(t, v.Visible(".blocker"))
	v.Toggle(".blocker")
	assert.True(t, v.Visible(".blocker"))

	v.UnbindAll()
	v.Trigger(".btn-next", "click")
	assert.Equal(t, 1, clicks)
}

func TestDebouncedBinding(t *testing.T) {
	m := newMap()
	var calls atomic.Int32
	b := mapwidget.BindDebounced(m, 20*time.Millisecond, func() { calls.Add(1) },
		mapwidget.EventMoveEnd, mapwidget.EventZoomEnd)

	for i := 0; i < 5; i++ {
		m.Pan(m.Bounds(), 5)
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	b.Unbind(m)
	assert.Equal(t, 0, m.ListenerCount(mapwidget.EventMoveEnd))
	assert.Equal(t, 0, m.ListenerCount(mapwidget.EventZoomEnd))
}
