package layers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/kickbox/internal/events"
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/mapwidget"
	"github.com/joeblew999/kickbox/internal/mapwidget/memmap"
	"github.com/joeblew999/kickbox/internal/query"
)

var startBounds = orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}

const wmsURL = "http://wms.example/wms"

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) attach(bus *events.Bus) {
	for _, n := range []string{
		events.BeforeWmsLayerAdded, events.AfterWmsLayerAdded,
		events.BeforeWmsLayerUpdated, events.AfterWmsLayerUpdated,
		events.BeforeUpdateWmsLayerType, events.AfterUpdateWmsLayerType,
		events.BeforeZoomToBounds, events.AfterZoomToBounds,
		events.BeforeWmsLayerRemoved, events.AfterWmsLayerRemoved,
		events.BeforeWmsSourceRemoved, events.AfterWmsSourceRemoved,
	} {
		bus.On(n, func(e events.Event) {
			r.mu.Lock()
			r.names = append(r.names, e.Name)
			r.mu.Unlock()
		})
	}
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.names
	r.names = nil
	return out
}

type fakeBounder struct {
	bound orb.Bound
	err   error
}

func (f fakeBounder) TableBoundary(context.Context, string, query.Coordinates) (orb.Bound, error) {
	return f.bound, f.err
}

type fixture struct {
	m   *memmap.Map
	mg  *Manager
	rec *recorder
}

func newFixture(opts ...Option) *fixture {
	m := memmap.New(startBounds, 4, 800, 600)
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)
	opts = append([]Option{
		WithBus(bus),
		WithDebounce(5 * time.Millisecond),
		WithResizeDebounce(5 * time.Millisecond),
	}, opts...)
	return &fixture{m: m, mg: NewManager(m, opts...), rec: rec}
}

func (f *fixture) params(t *testing.T, id string) (string, *Options) {
	t.Helper()
	src, ok := f.m.GetSource(SourceID(id))
	require.True(t, ok)
	assert.Equal(t, "image", src.Type)
	return SplitURL(src.URL)
}

// live returns the current source parameters, or an empty set while a
// redraw has the source removed.
func (f *fixture) live(id string) *Options {
	src, ok := f.m.GetSource(SourceID(id))
	if !ok {
		return &Options{}
	}
	_, p := SplitURL(src.URL)
	return p
}

func heatmap() Config {
	return Config{
		LayerID:     "taxi",
		WMSURL:      wmsURL,
		TableName:   "nyctaxi",
		Style:       StyleHeatmap,
		Coordinates: query.Coordinates{XAttr: "x", YAttr: "y"},
	}
}

func TestAddWmsLayer(t *testing.T) {
	f := newFixture()
	res, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)
	assert.True(t, res.Validation.IsValid)
	assert.Equal(t, "taxi-source", res.SourceID)
	assert.Equal(t, "heatmap", res.Params.String("STYLES"))
	_, hasBBox := res.Params.Get("bbox")
	assert.False(t, hasBBox)

	layer, ok := f.m.GetLayer("taxi-layer")
	require.True(t, ok)
	assert.Equal(t, "raster", layer.Type)
	assert.Equal(t, "taxi-source", layer.Source)
	opacity, _ := f.m.GetPaintProperty("taxi-layer", "raster-opacity")
	assert.Equal(t, 1.0, opacity)

	base, p := f.params(t, "taxi")
	assert.Equal(t, wmsURL, base)
	assert.Equal(t, query.BBox(startBounds), p.String("bbox"))
	assert.Equal(t, "800", p.String("width"))
	assert.Equal(t, "600", p.String("height"))
	assert.Equal(t, "nyctaxi", p.String("layers"))
	assert.Equal(t, "x", p.String("X_ATTR"))

	src, _ := f.m.GetSource("taxi-source")
	assert.Equal(t, query.BoundsCoordinates(startBounds), src.Coordinates)

	assert.Equal(t, []string{events.BeforeWmsLayerAdded, events.AfterWmsLayerAdded}, f.rec.take())
	assert.Equal(t, []string{"taxi"}, f.mg.Layers())
}

func TestAddWmsLayerValidates(t *testing.T) {
	f := newFixture()
	_, err := f.mg.AddWmsLayer(Config{TableName: "t", Style: StyleRaster})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))

	cfg := heatmap()
	cfg.Coordinates = query.Coordinates{}
	_, err = f.mg.AddWmsLayer(cfg)
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
	assert.Empty(t, f.m.LayerIDs())
	assert.Empty(t, f.rec.take())
}

func TestInvalidClassBreaksStillDraw(t *testing.T) {
	f := newFixture()
	cfg := heatmap()
	cfg.Style = StyleCbRaster
	res, err := f.mg.AddWmsLayer(cfg)
	require.NoError(t, err)
	assert.False(t, res.Validation.IsValid)
	assert.NotEmpty(t, res.Validation.Errs)

	_, ok := f.m.GetLayer("taxi-layer")
	assert.True(t, ok)
}

func TestRedrawFollowsViewport(t *testing.T) {
	f := newFixture()
	_, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)
	require.NoError(t, f.mg.SetLayerOpacity("taxi", 0.5))

	moved := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{5, 5}}
	f.m.Pan(moved, 6)
	assert.Eventually(t, func() bool {
		return f.live("taxi").String("bbox") == query.BBox(moved)
	}, time.Second, 5*time.Millisecond)

	opacity, _ := f.m.GetPaintProperty("taxi-layer", "raster-opacity")
	assert.Equal(t, 0.5, opacity)

	f.m.Resize(1024, 768)
	assert.Eventually(t, func() bool {
		p := f.live("taxi")
		return p.String("width") == "1024" && p.String("height") == "768"
	}, time.Second, 5*time.Millisecond)
}

func TestReAddUpdatesAndRebinds(t *testing.T) {
	f := newFixture()
	_, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)
	f.rec.take()

	cfg := heatmap()
	cfg.RenderingOptions = map[string]any{"colormap": "viridis"}
	res, err := f.mg.AddWmsLayer(cfg)
	require.NoError(t, err)
	assert.Equal(t, "viridis", res.Params.String("COLORMAP"))

	assert.Equal(t, []string{
		events.BeforeWmsLayerAdded,
		events.BeforeWmsLayerUpdated, events.AfterWmsLayerUpdated,
		events.AfterWmsLayerAdded,
	}, f.rec.take())

	// The previous redraw subscription is gone, not stacked.
	assert.Equal(t, 1, f.m.ListenerCount(mapwidget.EventMoveEnd))
	assert.Equal(t, 1, f.m.ListenerCount(mapwidget.EventZoomEnd))
	assert.Equal(t, 1, f.m.ListenerCount(mapwidget.EventResize))
}

func TestUpdateWmsLayer(t *testing.T) {
	f := newFixture()
	_, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)

	res, err := f.mg.UpdateWmsLayer(Update{
		LayerID:          "taxi",
		TableName:        "yellowcab",
		Coordinates:      query.Coordinates{GeoAttr: "geom"},
		RenderingOptions: map[string]any{"Blur_Radius": 9},
	})
	require.NoError(t, err)
	assert.Equal(t, wmsURL, res.WMSURL)

	_, p := f.params(t, "taxi")
	assert.Equal(t, "yellowcab", p.String("layers"))
	assert.Equal(t, "geom", p.String("GEO_ATTR"))
	_, hasX := p.Get("X_ATTR")
	assert.False(t, hasX)
	assert.Equal(t, "9", p.String("BLUR_RADIUS"))
	assert.Equal(t, "heatmap", p.String("STYLES"))

	_, err = f.mg.UpdateWmsLayer(Update{LayerID: "missing"})
	assert.True(t, errors.Is(err, kberr.ErrNotFound))
}

func TestUpdateWmsLayerType(t *testing.T) {
	f := newFixture()
	cfg := heatmap()
	cfg.RenderingOptions = map[string]any{"BLUR_RADIUS": 12}
	_, err := f.mg.AddWmsLayer(cfg)
	require.NoError(t, err)
	f.rec.take()

	res, err := f.mg.UpdateWmsLayerType("taxi", StyleLabels, 0)
	require.NoError(t, err)
	p := res.Params
	assert.Equal(t, "labels", p.String("STYLES"))
	assert.Equal(t, "nyctaxi", p.String("LABEL_LAYER"))
	assert.Equal(t, "nyctaxi", p.String("layers"))
	assert.Equal(t, "x", p.String("LABEL_X_ATTR"))
	assert.Equal(t, "y", p.String("LABEL_Y_ATTR"))
	_, hasBlur := p.Get("BLUR_RADIUS")
	assert.False(t, hasBlur)
	assert.Equal(t, []string{events.BeforeUpdateWmsLayerType, events.AfterUpdateWmsLayerType}, f.rec.take())

	res, err = f.mg.UpdateWmsLayerType("taxi", StyleRaster, 0)
	require.NoError(t, err)
	p = res.Params
	assert.Equal(t, "raster", p.String("STYLES"))
	assert.Equal(t, "nyctaxi", p.String("layers"))
	assert.Equal(t, "x", p.String("X_ATTR"))
	assert.Equal(t, "y", p.String("Y_ATTR"))

	_, live := f.params(t, "taxi")
	assert.Equal(t, "raster", live.String("STYLES"))

	_, err = f.mg.UpdateWmsLayerType("missing", StyleRaster, 0)
	assert.True(t, errors.Is(err, kberr.ErrNotFound))
	_, err = f.mg.UpdateWmsLayerType("taxi", "hexbin", 0)
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}

func TestLayerOrdering(t *testing.T) {
	f := newFixture()
	_, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)

	below := heatmap()
	below.LayerID = "zones"
	below.Before = "taxi"
	_, err = f.mg.AddWmsLayer(below)
	require.NoError(t, err)
	assert.Equal(t, []string{"zones-layer", "taxi-layer"}, f.m.LayerIDs())

	require.NoError(t, f.m.AddLayer(mapwidget.Layer{ID: DrawLayerID, Type: "fill"}, ""))
	third := heatmap()
	third.LayerID = "pickups"
	_, err = f.mg.AddWmsLayer(third)
	require.NoError(t, err)
	assert.Equal(t, []string{"zones-layer", "taxi-layer", "pickups-layer", DrawLayerID}, f.m.LayerIDs())
}

func TestRemoveWmsLayer(t *testing.T) {
	f := newFixture()
	_, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)

	f.mg.RemoveWmsLayer("taxi")
	assert.Empty(t, f.m.LayerIDs())
	_, ok := f.m.GetSource("taxi-source")
	assert.False(t, ok)
	assert.Zero(t, f.m.ListenerCount(mapwidget.EventMoveEnd))
	assert.Zero(t, f.m.ListenerCount(mapwidget.EventZoomEnd))
	assert.Zero(t, f.m.ListenerCount(mapwidget.EventResize))
	assert.Empty(t, f.mg.Layers())

	assert.NotPanics(t, func() { f.mg.RemoveWmsLayer("taxi") })
}

func TestRemoveLayerAndSource(t *testing.T) {
	f := newFixture()
	_, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)
	f.rec.take()

	f.mg.RemoveLayer("taxi")
	_, ok := f.m.GetLayer("taxi-layer")
	assert.False(t, ok)
	_, ok = f.m.GetSource("taxi-source")
	assert.True(t, ok)

	f.mg.RemoveSource("taxi")
	f.mg.RemoveSource("taxi")
	_, ok = f.m.GetSource("taxi-source")
	assert.False(t, ok)

	assert.Equal(t, []string{
		events.BeforeWmsLayerRemoved, events.AfterWmsLayerRemoved,
		events.BeforeWmsSourceRemoved, events.AfterWmsSourceRemoved,
		events.BeforeWmsSourceRemoved, events.AfterWmsSourceRemoved,
	}, f.rec.take())
	f.mg.Close()
}

func TestSetLayerOpacity(t *testing.T) {
	f := newFixture()
	assert.True(t, errors.Is(f.mg.SetLayerOpacity("taxi", 0.5), kberr.ErrNotFound))

	_, err := f.mg.AddWmsLayer(heatmap())
	require.NoError(t, err)
	assert.True(t, errors.Is(f.mg.SetLayerOpacity("taxi", 1.5), kberr.ErrInvalidConfiguration))
	require.NoError(t, f.mg.SetLayerOpacity("taxi", 0))
	v, _ := f.m.GetPaintProperty("taxi-layer", "raster-opacity")
	assert.Equal(t, 0.0, v)
}

func TestZoomToBounds(t *testing.T) {
	want := orb.Bound{Min: orb.Point{-74.3, 40.5}, Max: orb.Point{-73.7, 40.9}}
	f := newFixture(WithBounder(fakeBounder{bound: want}))

	got, err := f.mg.ZoomToBounds(context.Background(), "nyctaxi", query.Coordinates{XAttr: "x", YAttr: "y"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, f.m.Bounds())
	assert.Equal(t, []string{events.BeforeZoomToBounds, events.AfterZoomToBounds}, f.rec.take())

	_, err = f.mg.ZoomToBounds(context.Background(), "nyctaxi", query.Coordinates{})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}

func TestZoomToBoundsFailureKeepsViewport(t *testing.T) {
	f := newFixture(WithBounder(fakeBounder{err: kberr.Backend("/aggregate/minmax", "no such table")}))

	_, err := f.mg.ZoomToBounds(context.Background(), "nyctaxi", query.Coordinates{GeoAttr: "geom"})
	assert.True(t, errors.Is(err, kberr.ErrBackend))
	assert.Equal(t, startBounds, f.m.Bounds())
	assert.Equal(t, []string{events.BeforeZoomToBounds}, f.rec.take())

	bare := newFixture()
	_, err = bare.mg.ZoomToBounds(context.Background(), "nyctaxi", query.Coordinates{GeoAttr: "geom"})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}

func TestCbLegend(t *testing.T) {
	f := newFixture()
	l, err := f.mg.AddCbLegend("Fare", "", []string{"0:10", "10:20"}, []string{"FF0000", "#00FF00"})
	require.NoError(t, err)
	assert.True(t, f.m.HasControl(l.ControlID()))
	assert.Equal(t, mapwidget.TopRight, l.Position)
	assert.Contains(t, l.HTML(), `<h3 class="kickbox-legend-title">Fare</h3>`)
	assert.Contains(t, l.HTML(), `<span class="kickbox-legend-item-text">10:20</span>`)
	assert.Equal(t, "00FF00", l.Items[1].Color)

	f.mg.RemoveCbLegend(l)
	assert.False(t, f.m.HasControl(l.ControlID()))

	_, err = f.mg.AddCbLegend("Fare", mapwidget.BottomLeft, []string{"0:10"}, nil)
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}
