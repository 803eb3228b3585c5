package cluster

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/joeblew999/kickbox/internal/events"
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/kinetica"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/mapwidget"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/query"
	"github.com/joeblew999/kickbox/internal/templates"
)

// Layer styling defaults.
const (
	DefaultMinSize        = 1
	DefaultMaxSize        = 20
	DefaultMinColor       = "#FF0000"
	DefaultMaxColor       = "#00FF00"
	DefaultLabelColor     = "#000000"
	DefaultLabelHaloColor = "#FFFFFF"
)

var worldBounds = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// Loader runs the grouped aggregate a cluster layer is built from.
type Loader interface {
	AggregateGroupBy(ctx context.Context, req query.GroupByRequest, lonCol, latCol string) ([]*geojson.Feature, error)
}

var _ Loader = (*kinetica.Client)(nil)

// Options describe a cluster layer. Zero values take the package defaults.
type Options struct {
	LayerID      string   `json:"layerId" doc:"Unique layer id"`
	TableName    string   `json:"tableName"`
	XAttr        string   `json:"xAttr"`
	YAttr        string   `json:"yAttr"`
	GeohashAttr  string   `json:"geohashAttr"`
	Precision    int      `json:"precision" doc:"Geohash prefix length grouped on"`
	UseBBox      bool     `json:"useBbox,omitempty" doc:"Only aggregate rows in the current viewport"`
	DBAggregates []string `json:"dbAggregates,omitempty" doc:"Extra aggregate columns for the groupby"`

	Radius         float64 `json:"clusterRadius,omitempty"`
	MaxZoom        int     `json:"clusterMaxZoom,omitempty"`
	MinSize        float64 `json:"minSize,omitempty"`
	MaxSize        float64 `json:"maxSize,omitempty"`
	MinColor       string  `json:"minColor,omitempty"`
	MaxColor       string  `json:"maxColor,omitempty"`
	LabelColor     string  `json:"labelColor,omitempty"`
	LabelHaloColor string  `json:"labelHaloColor,omitempty"`

	// Aggregations run after the built-in ones.
	Aggregations []Aggregation `json:"-"`
	// Debounce coalesces viewport events; zero recomputes on every event.
	Debounce time.Duration `json:"-"`
	Locale   language.Tag  `json:"-"`
}

func (o Options) withDefaults() Options {
	if o.Radius <= 0 {
		o.Radius = DefaultRadius
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = DefaultMaxZoom
	}
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.MinColor == "" {
		o.MinColor = DefaultMinColor
	}
	if o.MaxColor == "" {
		o.MaxColor = DefaultMaxColor
	}
	if o.LabelColor == "" {
		o.LabelColor = DefaultLabelColor
	}
	if o.LabelHaloColor == "" {
		o.LabelHaloColor = DefaultLabelHaloColor
	}
	if o.Locale == language.Und {
		o.Locale = language.English
	}
	return o
}

// Validate checks the fields the groupby needs.
func (o Options) Validate() error {
	v := kberr.NewValidation()
	if o.LayerID == "" {
		v.Add("layerId is required")
	}
	if o.TableName == "" {
		v.Add("tableName is required")
	}
	if o.XAttr == "" || o.YAttr == "" {
		v.Add("xAttr and yAttr are required")
	}
	if o.GeohashAttr == "" {
		v.Add("geohashAttr is required")
	}
	if o.Precision <= 0 {
		v.Add("precision must be positive")
	}
	return v.Err("cluster")
}

// SourceID, CircleLayerID and LabelsLayerID name the map resources of a
// cluster layer.
func SourceID(layerID string) string      { return layerID + "-source" }
func CircleLayerID(layerID string) string { return layerID + "-layer" }
func LabelsLayerID(layerID string) string { return layerID + "-labels-layer" }

// Deps are the collaborators a cluster layer uses. Only Map and Loader are
// required.
type Deps struct {
	Map      mapwidget.Map
	Loader   Loader
	Bus      *events.Bus
	Renderer *templates.Renderer
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Layer is a live cluster layer: its index, the map resources it owns and
// the viewport subscriptions that keep it current.
type Layer struct {
	opts     Options
	deps     Deps
	features []*geojson.Feature
	logger   *zap.Logger

	mu       sync.Mutex
	index    *Index
	viewport *mapwidget.Binding
	clicks   []mapwidget.Subscription
	popup    mapwidget.Popup
}

// LoadFeatures runs the grouped aggregate for opts and adds the localized
// total to every feature.
func LoadFeatures(ctx context.Context, m mapwidget.Map, l Loader, opts Options) ([]*geojson.Feature, error) {
	opts = opts.withDefaults()
	var bbox string
	if opts.UseBBox {
		bbox = query.BoundsWKT(m.Bounds())
	}
	coords := query.Coordinates{XAttr: opts.XAttr, YAttr: opts.YAttr}
	req := query.ClusterGroupBy(opts.TableName, coords, opts.GeohashAttr, opts.Precision, opts.DBAggregates, bbox)
	features, err := l.AggregateGroupBy(ctx, req, opts.XAttr, opts.YAttr)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		v, _ := kinetica.ToFloat(f.Properties[KeyTotalSum])
		f.Properties[KeyTotalSumLocalized] = Localize(opts.Locale, v)
	}
	return features, nil
}

// Add loads the features, builds the index, adds the source, circle layer
// and label layer to the map, and subscribes to viewport and click events.
// Lifecycle hooks fire around the map changes.
func Add(ctx context.Context, deps Deps, opts Options) (*Layer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if deps.Renderer == nil {
		deps.Renderer = templates.Default()
	}
	l := &Layer{
		opts:   opts,
		deps:   deps,
		logger: logging.OrNop(deps.Logger).With(zap.String("layer", opts.LayerID)),
	}

	features, err := LoadFeatures(ctx, deps.Map, deps.Loader, opts)
	if err != nil {
		l.logger.Error("load cluster features", zap.Error(err))
		return nil, err
	}
	l.features = features
	l.index = l.build(opts.Radius)

	m := deps.Map
	l.trigger(events.BeforeClusterLayerAdded, "created")
	fc := geojson.NewFeatureCollection()
	fc.Features = l.index.Query(worldBounds, int(math.Floor(m.Zoom())))
	if err := mapwidget.AddSource(m, SourceID(opts.LayerID), mapwidget.Source{Type: "geojson", Data: fc}); err != nil {
		return nil, err
	}
	if err := mapwidget.AddLayer(m, circleLayer(opts), ""); err != nil {
		return nil, err
	}
	if err := mapwidget.AddLayer(m, labelsLayer(opts), ""); err != nil {
		return nil, err
	}
	l.trigger(events.AfterClusterLayerAdded, "created")

	l.mu.Lock()
	l.viewport = mapwidget.Bind(m, opts.Debounce, func() { l.Update() },
		mapwidget.EventZoomEnd, mapwidget.EventMoveEnd)
	l.clicks = []mapwidget.Subscription{
		m.OnLayer(mapwidget.EventClick, CircleLayerID(opts.LayerID), l.showPopup),
		m.OnLayer(mapwidget.EventClick, LabelsLayerID(opts.LayerID), l.showPopup),
	}
	l.mu.Unlock()

	l.Update()
	return l, nil
}

func (l *Layer) build(radius float64) *Index {
	aggs := append(BuiltinAggregations(l.opts.Locale), l.opts.Aggregations...)
	idx := BuildIndex(l.features, radius, l.opts.MaxZoom, aggs)
	l.deps.Metrics.IncClusterBuild()
	return idx
}

func (l *Layer) trigger(name, action string) {
	if l.deps.Bus == nil {
		return
	}
	l.deps.Bus.Trigger(events.Event{Name: name, Resource: "clusters", Action: action, ID: l.opts.LayerID})
}

// Options returns the resolved options.
func (l *Layer) Options() Options { return l.opts }

// Features returns the loaded features.
func (l *Layer) Features() []*geojson.Feature { return l.features }

// Index returns the current cluster index.
func (l *Layer) Index() *Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index
}

// SetRadius rebuilds the index with a new radius and redraws.
func (l *Layer) SetRadius(radius float64) {
	if radius <= 0 {
		return
	}
	idx := l.build(radius)
	l.mu.Lock()
	l.index = idx
	l.mu.Unlock()
	l.Update()
}

// Update is the result of one recompute.
type Update struct {
	Clusters []*geojson.Feature `json:"clusters"`
	MinMax   MinMax             `json:"minMax"`
	Radius   Ramp               `json:"radius"`
	Color    Ramp               `json:"color"`
}

// Compute queries the index for bounds and zoom and derives the ramps.
func (l *Layer) Compute(bounds orb.Bound, zoom float64) Update {
	clusters := l.Index().Query(bounds, int(math.Floor(zoom)))
	l.deps.Metrics.IncClusterQuery()
	mm := MinMaxOf(clusters, KeyTotalSum)
	return Update{
		Clusters: clusters,
		MinMax:   mm,
		Radius:   RadiusRamp(mm, l.opts.MinSize, l.opts.MaxSize),
		Color:    ColorRamp(mm, l.opts.MinColor, l.opts.MaxColor),
	}
}

// Update recomputes the clusters for the map's viewport and pushes the data
// and paint ramps to the map. It does nothing once the circle layer is gone.
func (l *Layer) Update() Update {
	m := l.deps.Map
	u := l.Compute(m.Bounds(), m.Zoom())

	layerID := CircleLayerID(l.opts.LayerID)
	if _, ok := m.GetLayer(layerID); !ok {
		return u
	}
	if err := m.SetPaintProperty(layerID, "circle-radius", u.Radius); err != nil {
		l.logger.Warn("set circle-radius", zap.Error(err))
	}
	if err := m.SetPaintProperty(layerID, "circle-color", u.Color); err != nil {
		l.logger.Warn("set circle-color", zap.Error(err))
	}
	fc := geojson.NewFeatureCollection()
	fc.Features = u.Clusters
	if err := m.SetSourceData(SourceID(l.opts.LayerID), fc); err != nil {
		l.logger.Warn("set cluster source data", zap.Error(err))
	}
	return u
}

func (l *Layer) showPopup(e mapwidget.Event) {
	if len(e.Features) == 0 {
		return
	}
	f := e.Features[0]
	html, err := PropertiesToList(l.deps.Renderer, f.Properties)
	if err != nil {
		l.logger.Error("render cluster popup", zap.Error(err))
		return
	}
	at := nearestCopy(f.Point(), e.LngLat)

	popup := l.deps.Map.NewPopup().SetLngLat(at).SetHTML(html).AddTo(l.deps.Map)
	l.mu.Lock()
	l.popup = popup
	l.mu.Unlock()
}

// nearestCopy shifts p by whole turns of longitude so it is the copy of the
// world closest to the click.
func nearestCopy(p, click orb.Point) orb.Point {
	for math.Abs(click.Lon()-p.Lon()) > 180 {
		if click.Lon() > p.Lon() {
			p[0] += 360
		} else {
			p[0] -= 360
		}
	}
	return p
}

// Remove unsubscribes the layer and removes its map resources. It is safe to
// call more than once.
func (l *Layer) Remove() {
	m := l.deps.Map
	l.mu.Lock()
	l.viewport.Unbind(m)
	l.viewport = nil
	for _, s := range l.clicks {
		m.Off(s)
	}
	l.clicks = nil
	if l.popup != nil {
		l.popup.Remove()
		l.popup = nil
	}
	l.mu.Unlock()

	l.trigger(events.BeforeClusterLayerRemoved, "deleted")
	RemoveFromMap(m, l.opts.LayerID)
	l.trigger(events.AfterClusterLayerRemoved, "deleted")
}

// RemoveFromMap removes a cluster layer's layers and source, ignoring any
// that are already gone.
func RemoveFromMap(m mapwidget.Map, layerID string) {
	mapwidget.RemoveLayer(m, CircleLayerID(layerID))
	mapwidget.RemoveLayer(m, LabelsLayerID(layerID))
	mapwidget.RemoveSource(m, SourceID(layerID))
}

func circleLayer(o Options) mapwidget.Layer {
	return mapwidget.Layer{
		ID:     CircleLayerID(o.LayerID),
		Type:   "circle",
		Source: SourceID(o.LayerID),
	}
}

func labelsLayer(o Options) mapwidget.Layer {
	return mapwidget.Layer{
		ID:     LabelsLayerID(o.LayerID),
		Type:   "symbol",
		Source: SourceID(o.LayerID),
		Layout: map[string]any{
			"text-field":  "{" + KeyTotalSumLocalized + "}",
			"text-font":   []string{"Open Sans Semibold", "Arial Unicode MS Bold"},
			"text-offset": []float64{0.6, 0.0},
			"text-anchor": "left",
			"text-size":   15,
		},
		Paint: map[string]any{
			"text-color":      o.LabelColor,
			"text-halo-color": o.LabelHaloColor,
			"text-halo-width": 14,
		},
	}
}
