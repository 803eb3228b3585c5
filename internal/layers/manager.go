package layers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/events"
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/kinetica"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/mapwidget"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/query"
	"github.com/joeblew999/kickbox/internal/templates"
)

const (
	// DefaultDebounce coalesces pan and zoom redraws.
	DefaultDebounce = 200 * time.Millisecond
	// ResizeDebounce delays re-adding layers after the map is resized.
	ResizeDebounce = 500 * time.Millisecond

	opacityProperty = "raster-opacity"
	fitPadding      = 20
)

// DrawLayerID is the draw control's inactive polygon fill. WMS layers are
// inserted below it so drawn shapes stay on top.
const DrawLayerID = "gl-draw-polygon-fill-inactive.cold"

// SourceID and LayerID name the map resources of a WMS layer.
func SourceID(layerID string) string { return layerID + "-source" }
func LayerID(layerID string) string  { return layerID + "-layer" }

// Bounder returns the extent of a table.
type Bounder interface {
	TableBoundary(ctx context.Context, tableName string, coords query.Coordinates) (orb.Bound, error)
}

var _ Bounder = (*kinetica.Client)(nil)

// Config describes a WMS layer.
type Config struct {
	LayerID   string `json:"layerId" doc:"Unique layer id" example:"taxi"`
	WMSURL    string `json:"wmsUrl" doc:"WMS endpoint"`
	TableName string `json:"tableName" doc:"Source table" example:"nyctaxi"`
	Style     string `json:"layerType" enum:"raster,heatmap,contour,cb_raster,labels" doc:"WMS style type"`
	query.Coordinates
	LabelXAttr       string         `json:"labelXAttr,omitempty"`
	LabelYAttr       string         `json:"labelYAttr,omitempty"`
	Before           string         `json:"before,omitempty" doc:"Insert below this kickbox layer id"`
	RenderingOptions map[string]any `json:"renderingOptions,omitempty" doc:"WMS parameters; keys are case-insensitive"`
	Debounce         time.Duration  `json:"-"`
}

func (c Config) spec() Spec {
	return Spec{
		TableName:        c.TableName,
		Style:            c.Style,
		Coordinates:      c.Coordinates,
		LabelXAttr:       c.LabelXAttr,
		LabelYAttr:       c.LabelYAttr,
		RenderingOptions: c.RenderingOptions,
	}
}

// Update re-points or restyles an existing WMS layer. Empty fields keep the
// current value.
type Update struct {
	LayerID   string `json:"layerId"`
	WMSURL    string `json:"wmsUrl,omitempty"`
	TableName string `json:"tableName,omitempty"`
	query.Coordinates
	RenderingOptions map[string]any `json:"renderingOptions,omitempty"`
	Debounce         time.Duration  `json:"-"`
}

// Result reports the parameters a layer was drawn with.
type Result struct {
	LayerID    string           `json:"layerId"`
	SourceID   string           `json:"sourceId"`
	WMSURL     string           `json:"wmsUrl"`
	Params     *Options         `json:"-"`
	Validation kberr.Validation `json:"validation"`
}

type wmsLayer struct {
	baseURL string
	params  *Options
	before  string
	redraw  *mapwidget.Binding
	resize  *mapwidget.Binding
}

// Manager owns the WMS layers on one map and the subscriptions that redraw
// them.
type Manager struct {
	m        mapwidget.Map
	bus      *events.Bus
	bounder  Bounder
	renderer *templates.Renderer
	logger   *zap.Logger
	metrics  *metrics.Metrics
	debounce time.Duration
	resize   time.Duration

	mu     sync.Mutex
	layers map[string]*wmsLayer
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus sets the bus lifecycle hooks are triggered on.
func WithBus(b *events.Bus) Option { return func(mg *Manager) { mg.bus = b } }

// WithBounder sets the table extent lookup used by ZoomToBounds.
func WithBounder(b Bounder) Option { return func(mg *Manager) { mg.bounder = b } }

// WithRenderer sets the template renderer for legends.
func WithRenderer(r *templates.Renderer) Option { return func(mg *Manager) { mg.renderer = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(mg *Manager) { mg.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(mg *Manager) { mg.metrics = m } }

// WithDebounce sets the default redraw debounce.
func WithDebounce(d time.Duration) Option { return func(mg *Manager) { mg.debounce = d } }

// WithResizeDebounce sets how long after a resize layers are re-added.
func WithResizeDebounce(d time.Duration) Option { return func(mg *Manager) { mg.resize = d } }

// NewManager returns a manager for m.
func NewManager(m mapwidget.Map, opts ...Option) *Manager {
	mg := &Manager{
		m:        m,
		debounce: DefaultDebounce,
		resize:   ResizeDebounce,
		layers:   make(map[string]*wmsLayer),
	}
	for _, o := range opts {
		o(mg)
	}
	mg.logger = logging.OrNop(mg.logger)
	if mg.renderer == nil {
		mg.renderer = templates.Default()
	}
	if mg.debounce <= 0 {
		mg.debounce = DefaultDebounce
	}
	if mg.resize <= 0 {
		mg.resize = ResizeDebounce
	}
	return mg
}

func (mg *Manager) trigger(name, action, id string) {
	if mg.bus == nil {
		return
	}
	mg.bus.Trigger(events.Event{Name: name, Resource: "layers", Action: action, ID: id})
}

func (mg *Manager) wait(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return mg.debounce
}

// AddWmsLayer builds the GetMap parameters for cfg, draws the layer for the
// current viewport and redraws it on pan, zoom and resize. Adding a layer id
// that is already on the map updates it instead. Problems with class-break
// parameters are reported in the result's validation and logged; the layer
// is still drawn.
func (mg *Manager) AddWmsLayer(cfg Config) (Result, error) {
	v := kberr.NewValidation()
	if cfg.LayerID == "" {
		v.Add("layerId is required")
	}
	if cfg.WMSURL == "" {
		v.Add("wmsUrl is required")
	}
	if err := v.Err("add wms layer"); err != nil {
		return Result{}, err
	}

	params, valid, err := BuildParams(cfg.spec())
	if err != nil {
		return Result{}, err
	}
	for _, e := range valid.Errs {
		mg.logger.Error("class-break raster", zap.String("layer", cfg.LayerID), zap.String("problem", e))
	}

	_, hasLayer := mg.m.GetLayer(LayerID(cfg.LayerID))
	_, hasSource := mg.m.GetSource(SourceID(cfg.LayerID))

	mg.trigger(events.BeforeWmsLayerAdded, "created", cfg.LayerID)
	if hasLayer || hasSource {
		res, err := mg.UpdateWmsLayer(Update{
			LayerID:          cfg.LayerID,
			WMSURL:           cfg.WMSURL,
			TableName:        cfg.TableName,
			Coordinates:      cfg.Coordinates,
			RenderingOptions: cfg.RenderingOptions,
			Debounce:         cfg.Debounce,
		})
		if err != nil {
			return Result{}, err
		}
		res.Validation = valid
		mg.trigger(events.AfterWmsLayerAdded, "created", cfg.LayerID)
		return res, nil
	}

	mg.mu.Lock()
	l := &wmsLayer{baseURL: cfg.WMSURL, params: params, before: cfg.Before}
	mg.layers[cfg.LayerID] = l
	mg.mu.Unlock()

	mg.rebind(cfg.LayerID, cfg.WMSURL, params, mg.wait(cfg.Debounce))

	mg.mu.Lock()
	id := cfg.LayerID
	l.resize.Unbind(mg.m)
	l.resize = mapwidget.BindDebounced(mg.m, mg.resize, func() { mg.draw(id) }, mapwidget.EventResize)
	mg.mu.Unlock()
	mg.trigger(events.AfterWmsLayerAdded, "created", cfg.LayerID)

	return Result{
		LayerID:    cfg.LayerID,
		SourceID:   SourceID(cfg.LayerID),
		WMSURL:     cfg.WMSURL,
		Params:     params.Clone(),
		Validation: valid,
	}, nil
}

// UpdateWmsLayer merges u into the parameters of the layer's current source
// URL and redraws. The layer's previous redraw subscription is removed before
// the new one is bound.
func (mg *Manager) UpdateWmsLayer(u Update) (Result, error) {
	mg.trigger(events.BeforeWmsLayerUpdated, "updated", u.LayerID)

	src, ok := mg.m.GetSource(SourceID(u.LayerID))
	if !ok {
		mg.logger.Warn("no source to update", zap.String("source", SourceID(u.LayerID)))
		return Result{}, kberr.NotFound("update wms layer", "no source found with name: %s", SourceID(u.LayerID))
	}
	base, params := SplitURL(src.URL)
	if u.WMSURL != "" {
		base = u.WMSURL
	}

	opts := NewOptions(u.RenderingOptions)
	setCoordinates(params, query.Coordinates{
		XAttr:   firstNonEmpty(opts.String("X_ATTR"), u.XAttr),
		YAttr:   firstNonEmpty(opts.String("Y_ATTR"), u.YAttr),
		GeoAttr: firstNonEmpty(opts.String("GEO_ATTR"), u.GeoAttr),
	})
	if table := firstNonEmpty(u.TableName, opts.String("layers")); table != "" {
		params.Set("layers", table)
	}
	params.Merge(opts)

	mg.rebind(u.LayerID, base, params, mg.wait(u.Debounce))
	mg.trigger(events.AfterWmsLayerUpdated, "updated", u.LayerID)

	return Result{
		LayerID:    u.LayerID,
		SourceID:   SourceID(u.LayerID),
		WMSURL:     base,
		Params:     params.Clone(),
		Validation: kberr.NewValidation(),
	}, nil
}

// UpdateWmsLayerType switches a layer to another style, keeping its table and
// coordinate columns and resetting every other parameter to the new style's
// defaults.
func (mg *Manager) UpdateWmsLayerType(layerID, style string, debounce time.Duration) (Result, error) {
	mg.trigger(events.BeforeUpdateWmsLayerType, "updated", layerID)

	src, ok := mg.m.GetSource(SourceID(layerID))
	if !ok {
		err := kberr.NotFound("update wms layer type", "no source found with name: %s", SourceID(layerID))
		mg.logger.Error("update layer type", zap.Error(err))
		return Result{}, err
	}
	defaults, err := Defaults(style)
	if err != nil {
		return Result{}, err
	}

	base, current := SplitURL(src.URL)
	coords := CoordinateParams(current)
	table := firstNonEmpty(current.String("layers"), current.String("LABEL_LAYER"))
	if coords.XAttr == "" && coords.GeoAttr == "" {
		coords = query.Coordinates{XAttr: current.String("LABEL_X_ATTR"), YAttr: current.String("LABEL_Y_ATTR")}
	}

	p := BaseParams()
	if current.String("STYLES") != StyleLabels && style == StyleLabels {
		p.Set("layers", table)
		defaults.Set("LABEL_LAYER", table)
		defaults.Set("LABEL_X_ATTR", coords.XAttr)
		defaults.Set("LABEL_Y_ATTR", coords.YAttr)
	} else {
		defaults.Set("layers", table)
	}
	p.Merge(defaults)
	if style != StyleLabels {
		setCoordinates(p, coords)
	}

	mg.rebind(layerID, base, p, mg.wait(debounce))
	mg.trigger(events.AfterUpdateWmsLayerType, "updated", layerID)

	return Result{
		LayerID:    layerID,
		SourceID:   SourceID(layerID),
		WMSURL:     base,
		Params:     p.Clone(),
		Validation: kberr.NewValidation(),
	}, nil
}

// rebind stores the layer's parameters, swaps its redraw subscription for a
// fresh one and draws once.
func (mg *Manager) rebind(id, base string, params *Options, wait time.Duration) {
	mg.mu.Lock()
	l, ok := mg.layers[id]
	if !ok {
		l = &wmsLayer{}
		mg.layers[id] = l
	}
	l.redraw.Unbind(mg.m)
	l.baseURL = base
	l.params = params
	l.redraw = mapwidget.BindDebounced(mg.m, wait, func() { mg.draw(id) },
		mapwidget.EventMoveEnd, mapwidget.EventZoomEnd)
	mg.mu.Unlock()

	mg.draw(id)
}

// draw replaces the layer's image source with one for the current viewport,
// keeping the layer's opacity and stacking position.
func (mg *Manager) draw(id string) {
	mg.mu.Lock()
	l, ok := mg.layers[id]
	if !ok {
		mg.mu.Unlock()
		return
	}
	base, params, before := l.baseURL, l.params.Clone(), l.before
	mg.mu.Unlock()

	m := mg.m
	layerID, sourceID := LayerID(id), SourceID(id)

	var opacity any = 1.0
	if _, ok := m.GetLayer(layerID); ok {
		if v, ok := m.GetPaintProperty(layerID, opacityProperty); ok {
			opacity = v
		}
	}
	mapwidget.RemoveLayer(m, layerID)
	mapwidget.RemoveSource(m, sourceID)

	bounds := m.Bounds()
	width, height := m.Size()
	params.Set("bbox", query.BBox(bounds))
	params.Set("srs", "EPSG:3857")
	params.Set("height", height)
	params.Set("width", width)

	src := mapwidget.Source{
		Type:        "image",
		URL:         BuildURL(base, params),
		Coordinates: query.BoundsCoordinates(bounds),
	}
	if err := mapwidget.AddSource(m, sourceID, src); err != nil {
		mg.logger.Error("add wms source", zap.String("source", sourceID), zap.Error(err))
		return
	}
	layer := mapwidget.Layer{ID: layerID, Type: "raster", Source: sourceID}
	if err := mapwidget.AddLayer(m, layer, mg.beforeID(before)); err != nil {
		mg.logger.Error("add wms layer", zap.String("layer", layerID), zap.Error(err))
		return
	}
	if err := m.SetPaintProperty(layerID, opacityProperty, opacity); err != nil {
		mg.logger.Warn("restore opacity", zap.String("layer", layerID), zap.Error(err))
	}
	mg.metrics.IncWMSRedraw(params.String("STYLES"))
	mg.logger.Debug("wms layer drawn", zap.String("layer", layerID), zap.String("style", params.String("STYLES")))
}

func (mg *Manager) beforeID(before string) string {
	if before != "" {
		if l, ok := mg.m.GetLayer(LayerID(before)); ok {
			return l.ID
		}
		return ""
	}
	if l, ok := mg.m.GetLayer(DrawLayerID); ok {
		return l.ID
	}
	return ""
}

// RemoveWmsLayer removes the layer, its source and its subscriptions. It is
// a no-op for unknown ids.
func (mg *Manager) RemoveWmsLayer(layerID string) {
	mg.mu.Lock()
	l, ok := mg.layers[layerID]
	delete(mg.layers, layerID)
	mg.mu.Unlock()

	if ok {
		l.redraw.Unbind(mg.m)
		l.resize.Unbind(mg.m)
	}
	mapwidget.RemoveLayer(mg.m, LayerID(layerID))
	mapwidget.RemoveSource(mg.m, SourceID(layerID))
}

// RemoveLayer removes only the rendered layer.
func (mg *Manager) RemoveLayer(layerID string) {
	mg.trigger(events.BeforeWmsLayerRemoved, "deleted", layerID)
	mapwidget.RemoveLayer(mg.m, LayerID(layerID))
	mg.trigger(events.AfterWmsLayerRemoved, "deleted", layerID)
}

// RemoveSource removes only the image source.
func (mg *Manager) RemoveSource(layerID string) {
	mg.trigger(events.BeforeWmsSourceRemoved, "deleted", layerID)
	mapwidget.RemoveSource(mg.m, SourceID(layerID))
	mg.trigger(events.AfterWmsSourceRemoved, "deleted", layerID)
}

// SetLayerOpacity sets the raster opacity of a WMS layer.
func (mg *Manager) SetLayerOpacity(layerID string, opacity float64) error {
	if opacity < 0 || opacity > 1 {
		return kberr.InvalidConfiguration("set layer opacity", "opacity %v out of [0,1]", opacity)
	}
	return mg.m.SetPaintProperty(LayerID(layerID), opacityProperty, opacity)
}

// ZoomToBounds fits the map to the extent of a table.
func (mg *Manager) ZoomToBounds(ctx context.Context, tableName string, coords query.Coordinates) (orb.Bound, error) {
	if mg.bounder == nil {
		return orb.Bound{}, kberr.InvalidConfiguration("zoom to bounds", "no table boundary source configured")
	}
	coords, err := coords.Normalize()
	if err != nil {
		return orb.Bound{}, err
	}
	mg.trigger(events.BeforeZoomToBounds, "", tableName)
	b, err := mg.bounder.TableBoundary(ctx, tableName, coords)
	if err != nil {
		mg.logger.Error("table boundary", zap.String("table", tableName), zap.Error(err))
		return orb.Bound{}, err
	}
	mg.trigger(events.AfterZoomToBounds, "", tableName)
	mg.m.FitBounds(b, fitPadding)
	return b, nil
}

// Layers returns the managed layer ids, sorted.
func (mg *Manager) Layers() []string {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	ids := make([]string, 0, len(mg.layers))
	for id := range mg.layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Params returns a copy of a layer's current parameters without the viewport
// ones.
func (mg *Manager) Params(layerID string) (*Options, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	l, ok := mg.layers[layerID]
	if !ok {
		return nil, false
	}
	return l.params.Clone(), true
}

// Close removes every managed layer.
func (mg *Manager) Close() {
	for _, id := range mg.Layers() {
		mg.RemoveWmsLayer(id)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
