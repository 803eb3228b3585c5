package identify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/kinetica"
	"github.com/joeblew999/kickbox/internal/mapwidget"
	"github.com/joeblew999/kickbox/internal/mapwidget/memmap"
	"github.com/joeblew999/kickbox/internal/query"
)

type recordCall struct {
	view   string
	offset int
}

type filterCall struct {
	table string
	f     query.Filter
}

// fakeData serves total records for radius views and filteredTotal for
// expression views.
type fakeData struct {
	mu            sync.Mutex
	total         int
	filteredTotal int
	radiusCalls   []query.Filter
	filterCalls   []filterCall
	recordCalls   []recordCall
	radiusErr     error
	filterErr     error
	recordsErr    error
	onRecords     func(view string, offset int)
}

func (d *fakeData) FilterByRadius(_ context.Context, table string, f query.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.radiusCalls = append(d.radiusCalls, f)
	return d.radiusErr
}

func (d *fakeData) Filter(_ context.Context, table string, f query.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filterCalls = append(d.filterCalls, filterCall{table: table, f: f})
	return d.filterErr
}

func (d *fakeData) GetRecords(_ context.Context, view string, offset int, _ []kinetica.Transformation) (kinetica.Page, error) {
	d.mu.Lock()
	d.recordCalls = append(d.recordCalls, recordCall{view: view, offset: offset})
	hook, err := d.onRecords, d.recordsErr
	total := d.total
	for _, c := range d.filterCalls {
		if c.f.FilteredViewName == view {
			total = d.filteredTotal
		}
	}
	d.mu.Unlock()

	if hook != nil {
		hook(view, offset)
	}
	if err != nil {
		return kinetica.Page{}, err
	}
	page := kinetica.Page{
		Schema:      kinetica.Schema{{Name: "id", Type: "int"}, {Name: "vendor", Type: "string"}},
		RecordCount: total,
	}
	for i := offset; i < total && i < offset+query.PageSize; i++ {
		page.Records = append(page.Records, kinetica.Record{"id": i, "vendor": "cab"})
	}
	return page, nil
}

func (d *fakeData) calls() ([]query.Filter, []filterCall, []recordCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]query.Filter(nil), d.radiusCalls...),
		append([]filterCall(nil), d.filterCalls...),
		append([]recordCall(nil), d.recordCalls...)
}

type harness struct {
	m    *memmap.Map
	data *fakeData
	draw *memmap.Draw
	view *memmap.View
	mode *Mode
}

var coordsXY = query.Coordinates{XAttr: "x", YAttr: "y"}

func newHarness(t *testing.T, total int, cfg Config) *harness {
	t.Helper()
	h := &harness{
		m:    memmap.New(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{20, 20}}, 12, 800, 600),
		data: &fakeData{total: total},
		draw: memmap.NewDraw("identify"),
		view: memmap.NewView(),
	}
	if cfg.TableName == "" {
		cfg.TableName = "taxi"
	}
	if cfg.LayerID == "" {
		cfg.LayerID = "taxi"
	}
	if cfg.Coordinates == (query.Coordinates{}) {
		cfg.Coordinates = query.Coordinates{XAttr: "x", YAttr: "y"}
	}
	mode, err := New(cfg, h.data, h.draw, h.view)
	require.NoError(t, err)
	h.mode = mode
	mode.Attach(h.m)
	return h
}

// open draws a buffer around (10,10) out to (10,10.001) and queries it.
func (h *harness) open() {
	h.m.Click(orb.Point{10, 10})
	h.m.Move(orb.Point{10, 10.001})
	h.m.Click(orb.Point{10, 10.001})
}

func (h *harness) click(selector string) {
	h.view.Trigger(selector, "click")
}

func TestRadiusRoundTrip(t *testing.T) {
	h := newHarness(t, 23, Config{})

	h.m.Click(orb.Point{10, 10})
	assert.Equal(t, 2, h.draw.Len())

	h.m.Move(orb.Point{10, 10.001})
	count, radius, _ := h.mode.State()
	assert.Equal(t, 1, count)
	assert.InDelta(t, 111.19, radius, 0.5)

	h.m.Click(orb.Point{10, 10.001})

	radiusCalls, _, recordCalls := h.data.calls()
	require.Len(t, radiusCalls, 1)
	assert.Equal(t, orb.Point{10, 10}, radiusCalls[0].Geometry.Center)
	assert.InDelta(t, 111.19, radiusCalls[0].Geometry.Radius, 0.5)
	assert.True(t, strings.HasPrefix(radiusCalls[0].ViewName, "taxi-"))

	require.Len(t, recordCalls, 1)
	assert.Equal(t, recordCall{view: radiusCalls[0].ViewName, offset: 0}, recordCalls[0])

	assert.Equal(t, "1", h.view.Value(".record-index"))
	assert.Equal(t, 0, h.view.Active())
	assert.Contains(t, h.view.HTML(), `id="popup-taxi"`)
	assert.Contains(t, h.view.HTML(), "of 23")
	assert.True(t, h.view.Visible(".result-count"))
	assert.False(t, h.view.Visible(".no-results"))
	assert.False(t, h.view.Visible(".blocker"))
	assert.False(t, h.view.Visible(".filters-applied"))
	assert.Equal(t, 5, h.view.Bindings())

	popups := h.m.OpenPopups()
	require.Len(t, popups, 1)
	assert.Equal(t, orb.Point{10, 10}, popups[0].LngLat())
	assert.Equal(t, h.view.HTML(), popups[0].HTML())

	h.m.Click(orb.Point{0, 0})
	count, _, _ = h.mode.State()
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, h.draw.Len())
	assert.Equal(t, 0, h.view.Bindings())
	assert.Empty(t, h.m.OpenPopups())

	// A new cycle starts from scratch.
	h.m.Click(orb.Point{1, 1})
	assert.Equal(t, 2, h.draw.Len())
}

func TestPaginationBoundaries(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.open()

	for i := 0; i < 9; i++ {
		h.click(".btn-next")
	}
	assert.Equal(t, 9, h.view.Active())
	assert.Equal(t, "10", h.view.Value(".record-index"))
	_, _, recordCalls := h.data.calls()
	assert.Len(t, recordCalls, 1)

	h.click(".btn-next")
	_, _, recordCalls = h.data.calls()
	require.Len(t, recordCalls, 2)
	assert.Equal(t, 10, recordCalls[1].offset)
	assert.Equal(t, 0, h.view.Active())
	assert.Equal(t, "11", h.view.Value(".record-index"))
	assert.Equal(t, 10, h.mode.Filter().Offset)

	for i := 0; i < 10; i++ {
		h.click(".btn-next")
	}
	for i := 0; i < 2; i++ {
		h.click(".btn-next")
	}
	assert.Equal(t, "23", h.view.Value(".record-index"))
	_, _, recordCalls = h.data.calls()
	require.Len(t, recordCalls, 3)

	// Last record: no-op.
	h.click(".btn-next")
	_, _, recordCalls = h.data.calls()
	assert.Len(t, recordCalls, 3)
	assert.Equal(t, 2, h.view.Active())

	h.click(".btn-prev")
	h.click(".btn-prev")
	assert.Equal(t, "21", h.view.Value(".record-index"))
	h.click(".btn-prev")
	_, _, recordCalls = h.data.calls()
	require.Len(t, recordCalls, 4)
	assert.Equal(t, 10, recordCalls[3].offset)
	assert.Equal(t, 9, h.view.Active())
	assert.Equal(t, "20", h.view.Value(".record-index"))
}

func TestPrevOnFirstRecordIsNoop(t *testing.T) {
	h := newHarness(t, 5, Config{})
	h.open()

	h.click(".btn-prev")
	_, _, recordCalls := h.data.calls()
	assert.Len(t, recordCalls, 1)
	assert.Equal(t, 0, h.view.Active())
	assert.Equal(t, "1", h.view.Value(".record-index"))
}

func TestApplyAndClearFilter(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.data.filteredTotal = 4
	h.open()
	base := h.mode.Filter().ViewName

	h.view.SetValue(".filter-expression", "x>5")
	h.click(".btn-apply-filter")

	_, filterCalls, recordCalls := h.data.calls()
	require.Len(t, filterCalls, 1)
	assert.Equal(t, base, filterCalls[0].table)
	assert.Equal(t, "x>5", filterCalls[0].f.Expression)
	assert.True(t, strings.HasPrefix(filterCalls[0].f.FilteredViewName, base+"-"))

	f := h.mode.Filter()
	assert.Equal(t, filterCalls[0].f.FilteredViewName, f.FilteredViewName)
	assert.Equal(t, recordCall{view: f.FilteredViewName, offset: 0}, recordCalls[len(recordCalls)-1])
	assert.True(t, h.view.Visible(".filters-applied"))
	assert.Contains(t, h.view.HTML(), "of 4")
	_, _, total := h.mode.State()
	assert.Equal(t, 4, total)

	h.click(".btn-clear-filter")
	f = h.mode.Filter()
	assert.Empty(t, f.FilteredViewName)
	assert.Empty(t, f.Expression)
	_, _, recordCalls = h.data.calls()
	assert.Equal(t, recordCall{view: base, offset: 0}, recordCalls[len(recordCalls)-1])
	assert.Empty(t, h.view.Value(".filter-expression"))
	assert.False(t, h.view.Visible(".filters-applied"))
	_, _, total = h.mode.State()
	assert.Equal(t, 23, total)
}

func TestApplyEmptyExpressionShowsRadiusView(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.open()
	base := h.mode.Filter().ViewName

	h.view.SetValue(".filter-expression", "   ")
	h.click(".btn-apply-filter")

	_, filterCalls, recordCalls := h.data.calls()
	assert.Empty(t, filterCalls)
	assert.Equal(t, recordCall{view: base, offset: 0}, recordCalls[len(recordCalls)-1])
	assert.Empty(t, h.mode.Filter().FilteredViewName)
}

func TestFailedUnfilterKeepsFilteredView(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.data.filteredTotal = 4
	h.open()
	h.view.SetValue(".filter-expression", "x>5")
	h.click(".btn-apply-filter")
	filtered := h.mode.Filter()
	require.NotEmpty(t, filtered.FilteredViewName)

	h.data.mu.Lock()
	h.data.recordsErr = errors.New("connection reset")
	h.data.mu.Unlock()

	h.view.SetValue(".filter-expression", "")
	h.click(".btn-apply-filter")
	assert.Equal(t, filtered, h.mode.Filter())
	assert.True(t, h.view.Visible(".filters-applied"))

	h.click(".btn-clear-filter")
	assert.Equal(t, filtered, h.mode.Filter())
	assert.True(t, h.view.Visible(".filters-applied"))
	assert.False(t, h.view.Visible(".blocker"))
	_, _, total := h.mode.State()
	assert.Equal(t, 4, total)
}

func TestFilterViewToggleKeepsButton(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.open()
	shown := h.view.Visible(".filter-view")

	h.click(".btn-filter-view")
	assert.Equal(t, !shown, h.view.Visible(".filter-view"))
	assert.True(t, h.view.Visible(".btn-filter-view"))

	h.click(".btn-filter-view")
	assert.Equal(t, shown, h.view.Visible(".filter-view"))
	assert.True(t, h.view.Visible(".btn-filter-view"))
}

// snapshotDraw hands out copies of its features, as a widget in another
// process would.
type snapshotDraw struct {
	*memmap.Draw
}

func (d snapshotDraw) Get(id string) (*geojson.Feature, bool) {
	f, ok := d.Draw.Get(id)
	if !ok {
		return nil, false
	}
	c := *f
	return &c, true
}

func TestMouseMoveRedrawsThroughStore(t *testing.T) {
	m := memmap.New(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{20, 20}}, 12, 800, 600)
	draw := snapshotDraw{memmap.NewDraw("identify")}
	mode, err := New(Config{LayerID: "taxi", TableName: "taxi", Coordinates: coordsXY}, &fakeData{total: 3}, draw, memmap.NewView())
	require.NoError(t, err)
	mode.Attach(m)

	center := orb.Point{10, 10}
	m.Click(center)
	m.Move(orb.Point{10, 10.001})

	_, radius, _ := mode.State()
	assert.InDelta(t, 111.3, radius, 0.5)

	// The circle is added first, then the radius line.
	circle, ok := draw.Draw.Get("identify-1")
	require.True(t, ok)
	assert.Equal(t, query.Circle(center, radius, query.CircleSteps), circle.Geometry)
	line, ok := draw.Draw.Get("identify-2")
	require.True(t, ok)
	assert.Equal(t, orb.LineString{center, {10, 10.001}}, line.Geometry)
}

func TestEmptyResultSet(t *testing.T) {
	h := newHarness(t, 0, Config{})
	h.open()

	assert.True(t, h.view.Visible(".no-results"))
	assert.False(t, h.view.Visible(".result-count"))

	h.click(".btn-next")
	_, _, recordCalls := h.data.calls()
	assert.Len(t, recordCalls, 1)
}

func TestInitialFailureRemovesBuffer(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.data.radiusErr = kberr.Backend("/filter/byradius", "boom")
	h.open()

	count, _, _ := h.mode.State()
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, h.draw.Len())
	assert.Empty(t, h.m.OpenPopups())
	assert.Equal(t, 0, h.view.Bindings())
	_, _, recordCalls := h.data.calls()
	assert.Empty(t, recordCalls)
}

func TestPageFailureKeepsPage(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.open()
	for i := 0; i < 9; i++ {
		h.click(".btn-next")
	}
	renders := h.view.Renders()

	h.data.mu.Lock()
	h.data.recordsErr = errors.New("connection reset")
	h.data.mu.Unlock()
	h.click(".btn-next")

	assert.Equal(t, renders, h.view.Renders())
	assert.Equal(t, 9, h.view.Active())
	assert.Equal(t, 0, h.mode.Filter().Offset)
	assert.False(t, h.view.Visible(".blocker"))
	assert.Equal(t, 5, h.view.Bindings())
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.open()
	for i := 0; i < 9; i++ {
		h.click(".btn-next")
	}
	renders := h.view.Renders()

	// The popup is closed while the next page is in flight.
	h.data.onRecords = func(view string, offset int) {
		if offset == 10 {
			h.m.Click(orb.Point{0, 0})
		}
	}
	h.click(".btn-next")

	assert.Equal(t, renders, h.view.Renders())
	assert.Equal(t, 0, h.mode.Filter().Offset)
	assert.Equal(t, 0, h.view.Bindings())
}

func TestIdentifyByPoint(t *testing.T) {
	h := newHarness(t, 3, Config{Radius: 50, Coordinates: query.Coordinates{GeoAttr: "geom"}})

	h.m.Click(orb.Point{5, 5})
	radiusCalls, _, recordCalls := h.data.calls()
	require.Len(t, radiusCalls, 1)
	assert.Equal(t, 50.0, radiusCalls[0].Geometry.Radius)
	assert.Equal(t, "geom", radiusCalls[0].GeoAttr)
	assert.Len(t, recordCalls, 1)
	assert.Len(t, h.m.OpenPopups(), 1)

	// Pointer moves never resize a fixed buffer.
	h.m.Move(orb.Point{6, 6})
	_, radius, _ := h.mode.State()
	assert.Equal(t, 50.0, radius)

	h.m.Click(orb.Point{5, 5})
	assert.Empty(t, h.m.OpenPopups())
	assert.Equal(t, 0, h.draw.Len())
}

func TestDetachStopsRouting(t *testing.T) {
	h := newHarness(t, 23, Config{})
	h.open()

	h.mode.Detach()
	assert.Equal(t, 0, h.m.ListenerCount("click"))
	assert.Equal(t, 0, h.m.ListenerCount("mousemove"))
	assert.Empty(t, h.m.OpenPopups())
	assert.Equal(t, 0, h.view.Bindings())

	h.mode.Click(mapwidget.Event{Type: mapwidget.EventClick, LngLat: orb.Point{1, 1}})
	count, _, _ := h.mode.State()
	assert.Equal(t, 0, count)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{TableName: "taxi"}, &fakeData{}, memmap.NewDraw("d"), memmap.NewView())
	assert.ErrorIs(t, err, kberr.ErrInvalidConfiguration)

	_, err = New(Config{Coordinates: query.Coordinates{GeoAttr: "g"}}, &fakeData{}, memmap.NewDraw("d"), memmap.NewView())
	assert.ErrorIs(t, err, kberr.ErrInvalidConfiguration)

	md, err := New(Config{TableName: "taxi", Coordinates: query.Coordinates{XAttr: "x", YAttr: "y", GeoAttr: "g"}},
		&fakeData{}, memmap.NewDraw("d"), memmap.NewView())
	require.NoError(t, err)
	assert.Equal(t, query.Coordinates{XAttr: "x", YAttr: "y"}, md.cfg.Coordinates)
}

func TestFieldsFollowSchemaOrder(t *testing.T) {
	rows := Fields(kinetica.Page{
		Schema:  kinetica.Schema{{Name: "b"}, {Name: "a"}},
		Records: []kinetica.Record{{"a": 1, "b": 2, "z": 3, "c": 4}},
	})
	require.Len(t, rows, 1)
	var names []string
	for _, f := range rows[0] {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"b", "a", "c", "z"}, names)
}
