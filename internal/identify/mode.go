// Package identify implements the draw-then-query identify modes and the
// registry that keeps at most one of them active per map.
package identify

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/kinetica"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/mapwidget"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/query"
	"github.com/joeblew999/kickbox/internal/templates"
)

// DataSource is the subset of the analytics backend an identify mode queries.
type DataSource interface {
	FilterByRadius(ctx context.Context, tableName string, f query.Filter) error
	Filter(ctx context.Context, tableName string, f query.Filter) error
	GetRecords(ctx context.Context, view string, offset int, transformations []kinetica.Transformation) (kinetica.Page, error)
}

var _ DataSource = (*kinetica.Client)(nil)

// Config describes what an identify mode queries.
type Config struct {
	LayerID         string
	TableName       string
	Coordinates     query.Coordinates
	Collection      string
	Transformations []kinetica.Transformation

	// Radius, in meters, switches the mode to identify-by-point: the first
	// click queries a buffer of this size, the second clears it.
	Radius float64
}

// Option configures a Mode.
type Option func(*Mode)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mode) { m.logger = l }
}

// WithMetrics records identify queries.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mode) { m.metrics = mt }
}

// WithRenderer overrides the popup template renderer.
func WithRenderer(r *templates.Renderer) Option {
	return func(m *Mode) { m.renderer = r }
}

// Mode is one identify interaction bound to a layer. Clicks cycle it through
// idle, drawing and populated; see Click.
//
// Backend I/O happens outside mu. Every query captures the generation at
// start and its result is dropped if the generation moved on meanwhile.
type Mode struct {
	cfg      Config
	data     DataSource
	draw     mapwidget.FeatureStore
	view     mapwidget.PopupView
	ui       ui
	renderer *templates.Renderer
	logger   *zap.Logger
	metrics  *metrics.Metrics
	popupID  string

	mu          sync.Mutex
	m           mapwidget.Map
	popup       mapwidget.Popup
	subs        []mapwidget.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	count       int
	lineID      string
	circleID    string
	center      orb.Point
	radius      float64
	filter      query.Filter
	recordTotal int
	active      int
	gen         uint64
}

// New builds a fresh mode. draw holds the buffer drawing and view is the
// popup content; neither may be shared with another mode.
func New(cfg Config, data DataSource, draw mapwidget.FeatureStore, view mapwidget.PopupView, opts ...Option) (*Mode, error) {
	if cfg.TableName == "" {
		return nil, kberr.InvalidConfiguration("identify", "tableName is required")
	}
	coords, err := cfg.Coordinates.Normalize()
	if err != nil {
		return nil, err
	}
	cfg.Coordinates = coords
	if cfg.Radius < 0 {
		return nil, kberr.InvalidConfiguration("identify", "radius must not be negative")
	}

	md := &Mode{
		cfg:     cfg,
		data:    data,
		draw:    draw,
		view:    view,
		ui:      ui{v: view},
		popupID: "popup-" + cfg.LayerID,
		active:  -1,
	}
	for _, opt := range opts {
		opt(md)
	}
	if md.renderer == nil {
		md.renderer = templates.Default()
	}
	md.logger = logging.OrNop(md.logger).With(zap.String("layer", cfg.LayerID))
	return md, nil
}

// PopupID is the id of the rendered popup element.
func (md *Mode) PopupID() string { return md.popupID }

// Attach starts routing m's click and mouse-move events to the mode.
func (md *Mode) Attach(m mapwidget.Map) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.m != nil {
		return
	}
	md.m = m
	md.popup = m.NewPopup()
	md.ctx, md.cancel = context.WithCancel(context.Background())
	md.subs = []mapwidget.Subscription{
		m.On(mapwidget.EventClick, md.Click),
		m.On(mapwidget.EventMouseMove, md.MouseMove),
	}
}

// Detach stops event routing, removes the drawing and popup, unbinds every
// popup handler and cancels in-flight queries.
func (md *Mode) Detach() {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.m == nil {
		return
	}
	for _, s := range md.subs {
		md.m.Off(s)
	}
	md.subs = nil
	md.removeBufferLocked()
	md.cancel()
	md.m = nil
}

// Click advances the interaction. By radius: the first click anchors the
// buffer, the second queries it, the third clears it. By point: the first
// click queries a fixed buffer, the second clears it.
func (md *Mode) Click(e mapwidget.Event) {
	md.mu.Lock()
	if md.m == nil {
		md.mu.Unlock()
		return
	}
	md.count++
	count := md.count

	if md.byPoint() {
		switch count {
		case 1:
			md.startDrawingLocked(e.LngLat, md.cfg.Radius)
			md.mu.Unlock()
			md.showPopup()
		default:
			md.removeBufferLocked()
			md.mu.Unlock()
		}
		return
	}

	switch count {
	case 1:
		md.startDrawingLocked(e.LngLat, 0)
		md.mu.Unlock()
	case 2:
		md.mu.Unlock()
		md.showPopup()
	default:
		md.removeBufferLocked()
		md.mu.Unlock()
	}
}

// MouseMove stretches the buffer to the pointer while drawing.
func (md *Mode) MouseMove(e mapwidget.Event) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.count != 1 || md.byPoint() {
		return
	}
	if md.lineID == "" {
		return
	}
	md.radius = query.RadiusMeters(md.center, e.LngLat)
	md.draw.Update(md.lineID, orb.LineString{md.center, e.LngLat})
	md.draw.Update(md.circleID, query.Circle(md.center, md.radius, query.CircleSteps))
}

// Filter returns the last successful query.
func (md *Mode) Filter() query.Filter {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.filter
}

// State returns the click count, frozen radius and record total.
func (md *Mode) State() (count int, radius float64, recordTotal int) {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.count, md.radius, md.recordTotal
}

func (md *Mode) byPoint() bool { return md.cfg.Radius > 0 }

func (md *Mode) startDrawingLocked(center orb.Point, radius float64) {
	md.center = center
	md.radius = radius

	circle := geojson.NewFeature(query.Circle(center, radius, query.CircleSteps))
	circle.Properties["id"] = "identify-buffer-diameter"
	md.circleID = md.draw.Add(circle)

	line := geojson.NewFeature(orb.LineString{center, center})
	line.Properties["id"] = "identify-buffer-radius"
	md.lineID = md.draw.Add(line)
}

func (md *Mode) removeBufferLocked() {
	md.count = 0
	md.gen++
	if md.lineID != "" || md.circleID != "" {
		md.draw.Delete(md.lineID, md.circleID)
		md.lineID, md.circleID = "", ""
	}
	md.view.UnbindAll()
	if md.popup != nil {
		md.popup.Remove()
	}
	md.active = -1
}

// beginLocked starts a query: it bumps the generation and shows the loading
// blocker. The caller holds mu.
func (md *Mode) beginLocked() (uint64, context.Context) {
	md.gen++
	md.ui.showLoading()
	return md.gen, md.ctx
}

// currentLocked reports whether gen is still the latest query. The caller holds mu.
func (md *Mode) currentLocked(gen uint64) bool {
	return gen == md.gen && md.m != nil
}

func (md *Mode) showPopup() {
	md.mu.Lock()
	if md.m == nil || md.lineID == "" {
		md.mu.Unlock()
		return
	}
	f := query.Filter{
		TableName:   md.cfg.TableName,
		ViewName:    md.cfg.TableName + "-" + uuid.NewString(),
		Geometry:    &query.Geometry{Center: md.center, Radius: md.radius},
		Collection:  md.cfg.Collection,
		Coordinates: md.cfg.Coordinates,
	}
	md.popup.SetLngLat(md.center).AddTo(md.m)
	gen, ctx := md.beginLocked()
	md.mu.Unlock()

	err := md.data.FilterByRadius(ctx, f.TableName, f)
	var page kinetica.Page
	if err == nil {
		page, err = md.data.GetRecords(ctx, f.ViewName, f.Offset, md.cfg.Transformations)
	}
	md.metrics.ObserveIdentify("radius", err)

	md.mu.Lock()
	defer md.mu.Unlock()
	if !md.currentLocked(gen) {
		md.logger.Debug("discarding stale identify response", zap.String("view", f.ViewName))
		return
	}
	if err != nil {
		md.logger.Error("identify query failed", zap.String("table", f.TableName), zap.Error(err))
		md.removeBufferLocked()
		return
	}
	md.filter = f
	md.recordTotal = page.RecordCount
	md.showPageLocked(f, page, 0, f.Offset)
}

// showPageLocked renders page, highlights slot, and rebinds handlers for the
// fresh markup.
func (md *Mode) showPageLocked(f query.Filter, page kinetica.Page, slot, recordIndex int) {
	html, err := md.renderer.Render(templates.IdentifyPopup, templates.IdentifyData{
		PopupID:     md.popupID,
		Expression:  f.Expression,
		RecordIndex: f.Offset + 1,
		Records:     Fields(page),
		RecordTotal: md.recordTotal,
		Radius:      f.Geometry.Radius,
		Latitude:    f.Geometry.Center.Lat(),
		Longitude:   f.Geometry.Center.Lon(),
	})
	if err != nil {
		md.logger.Error("render identify popup", zap.Error(err))
		md.ui.hideLoading()
		return
	}
	md.popup.SetHTML(html)
	md.view.Render(html)
	md.ui.hideLoading()

	if len(page.Records) == 0 {
		md.ui.noResultsFound()
	} else {
		md.ui.showResultCount()
	}
	if f.FilteredViewName != "" {
		md.ui.appliedFilter()
	} else {
		md.ui.removedFilter()
	}

	md.active = slot
	md.ui.setActiveRecord(slot, recordIndex)
	md.bindLocked()
}

func (md *Mode) bindLocked() {
	md.view.UnbindAll()
	md.view.Bind(selBtnNext, clickEvent, md.Next)
	md.view.Bind(selBtnPrev, clickEvent, md.Prev)
	md.view.Bind(selBtnFilterView, clickEvent, md.ui.toggleFilterView)
	md.view.Bind(selBtnApplyFilter, clickEvent, md.ApplyFilter)
	md.view.Bind(selBtnClearFilter, clickEvent, md.ClearFilter)
}

// Next shows the following record, fetching the next page after the last
// slot. It does nothing on the last record.
func (md *Mode) Next() {
	md.mu.Lock()
	if md.active < 0 {
		md.mu.Unlock()
		md.logger.Warn("no record was active")
		return
	}
	f := md.filter
	recordIndex := f.Offset + md.active
	if recordIndex+1 >= md.recordTotal {
		md.mu.Unlock()
		return
	}
	if md.active < query.PageSize-1 {
		md.active++
		md.ui.setActiveRecord(md.active, recordIndex+1)
		md.mu.Unlock()
		return
	}
	md.mu.Unlock()
	md.turnPage(f.WithOffset(f.Offset+query.PageSize), 0, recordIndex+1)
}

// Prev shows the preceding record, fetching the previous page before the
// first slot. It does nothing on the first record.
func (md *Mode) Prev() {
	md.mu.Lock()
	if md.active < 0 {
		md.mu.Unlock()
		md.logger.Warn("no record was active")
		return
	}
	f := md.filter
	recordIndex := f.Offset + md.active
	if recordIndex == 0 {
		md.mu.Unlock()
		return
	}
	if md.active > 0 {
		md.active--
		md.ui.setActiveRecord(md.active, recordIndex-1)
		md.mu.Unlock()
		return
	}
	md.mu.Unlock()
	md.turnPage(f.WithOffset(f.Offset-query.PageSize), query.PageSize-1, recordIndex-1)
}

func (md *Mode) turnPage(f query.Filter, slot, recordIndex int) {
	md.mu.Lock()
	gen, ctx := md.beginLocked()
	md.mu.Unlock()

	page, err := md.data.GetRecords(ctx, f.CurrentView(), f.Offset, md.cfg.Transformations)
	md.metrics.ObserveIdentify("page", err)

	md.mu.Lock()
	defer md.mu.Unlock()
	if !md.currentLocked(gen) {
		return
	}
	if err != nil {
		md.logger.Error("identify page failed", zap.Int("offset", f.Offset), zap.Error(err))
		md.ui.hideLoading()
		return
	}
	md.filter = f
	md.showPageLocked(f, page, slot, recordIndex)
}

// ApplyFilter narrows the radius view with the expression typed in the
// popup. An empty expression drops any filter and shows the radius view.
func (md *Mode) ApplyFilter() {
	md.mu.Lock()
	expr := strings.TrimSpace(md.ui.expression())
	md.ui.toggleFilterView()
	f := md.filter
	if expr == "" {
		f.Expression = ""
		f.FilteredViewName = ""
		md.mu.Unlock()
		md.reload(f, "unfilter")
		return
	}
	f.Expression = expr
	f.FilteredViewName = f.ViewName + "-" + uuid.NewString()
	f.Offset = 0
	gen, ctx := md.beginLocked()
	md.mu.Unlock()

	err := md.data.Filter(ctx, f.ViewName, f)
	var page kinetica.Page
	if err == nil {
		page, err = md.data.GetRecords(ctx, f.FilteredViewName, f.Offset, md.cfg.Transformations)
	}
	md.metrics.ObserveIdentify("filter", err)

	md.mu.Lock()
	defer md.mu.Unlock()
	if !md.currentLocked(gen) {
		return
	}
	if err != nil {
		md.logger.Error("identify filter failed", zap.String("expression", expr), zap.Error(err))
		md.ui.hideLoading()
		return
	}
	md.filter = f
	md.recordTotal = page.RecordCount
	md.showPageLocked(f, page, 0, f.Offset)
}

// ClearFilter drops the expression and shows the radius view at the last
// offset.
func (md *Mode) ClearFilter() {
	md.mu.Lock()
	f := md.filter
	f.Expression = ""
	f.FilteredViewName = ""
	md.ui.clearExpression()
	md.ui.toggleFilterView()
	md.mu.Unlock()
	md.reload(f, "clear")
}

// reload re-queries f's current view and renders it from the first slot.
// f becomes the mode's filter only once its records arrive.
func (md *Mode) reload(f query.Filter, kind string) {
	md.mu.Lock()
	gen, ctx := md.beginLocked()
	md.mu.Unlock()

	page, err := md.data.GetRecords(ctx, f.CurrentView(), f.Offset, md.cfg.Transformations)
	md.metrics.ObserveIdentify(kind, err)

	md.mu.Lock()
	defer md.mu.Unlock()
	if !md.currentLocked(gen) {
		return
	}
	if err != nil {
		md.logger.Error("identify reload failed", zap.String("view", f.CurrentView()), zap.Error(err))
		md.ui.hideLoading()
		return
	}
	md.filter = f
	md.recordTotal = page.RecordCount
	md.showPageLocked(f, page, 0, f.Offset)
}

// Fields lays records out in schema order. Columns missing from the schema
// follow in name order.
func Fields(page kinetica.Page) [][]templates.Field {
	out := make([][]templates.Field, 0, len(page.Records))
	for _, rec := range page.Records {
		row := make([]templates.Field, 0, len(rec))
		seen := make(map[string]bool, len(page.Schema))
		for _, col := range page.Schema {
			if v, ok := rec[col.Name]; ok {
				row = append(row, templates.Field{Name: col.Name, Value: v})
				seen[col.Name] = true
			}
		}
		var rest []string
		for k := range rec {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		for _, k := range rest {
			row = append(row, templates.Field{Name: k, Value: rec[k]})
		}
		out = append(out, row)
	}
	return out
}
