// Package kickbox layers analytics visualizations on an interactive map:
// WMS styles, class-break legends, cluster layers and identify popups backed
// by the Kinetica REST API.
//
// A Kickbox is bound to one map. Every mutating call fires before/after
// lifecycle hooks on its event bus.
//
//	k := kickbox.New(m, kinetica.New(url))
//	k.On(kickbox.AfterWmsLayerAdded, func(e kickbox.Event) { ... })
//	res, err := k.AddWmsLayer(kickbox.WmsLayerConfig{LayerID: "taxi", ...})
package kickbox

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/cluster"
	"github.com/joeblew999/kickbox/internal/events"
	"github.com/joeblew999/kickbox/internal/identify"
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/kinetica"
	"github.com/joeblew999/kickbox/internal/layers"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/mapwidget"
	"github.com/joeblew999/kickbox/internal/mapwidget/memmap"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/query"
	"github.com/joeblew999/kickbox/internal/templates"
)

// Re-exported types so callers need not import internal packages.
type (
	Event           = events.Event
	Callback        = events.Callback
	WmsLayerConfig  = layers.Config
	WmsLayerUpdate  = layers.Update
	WmsResult       = layers.Result
	Legend          = layers.Legend
	ClusterOptions  = cluster.Options
	ClusterUpdate   = cluster.Update
	Coordinates     = query.Coordinates
	Transformation  = kinetica.Transformation
	Validation      = kberr.Validation
	IdentifyMode    = identify.Mode
	ClusterLayer    = cluster.Layer
	Map             = mapwidget.Map
	DrawControl     = mapwidget.DrawControl
	PopupView       = mapwidget.PopupView
	KineticaClient  = kinetica.Client
	KineticaOptions = kinetica.Option
)

// Lifecycle hooks.
const (
	BeforeClusterLayerAdded   = events.BeforeClusterLayerAdded
	AfterClusterLayerAdded    = events.AfterClusterLayerAdded
	BeforeClusterLayerRemoved = events.BeforeClusterLayerRemoved
	AfterClusterLayerRemoved  = events.AfterClusterLayerRemoved
	BeforeWmsLayerAdded       = events.BeforeWmsLayerAdded
	AfterWmsLayerAdded        = events.AfterWmsLayerAdded
	BeforeWmsLayerUpdated     = events.BeforeWmsLayerUpdated
	AfterWmsLayerUpdated      = events.AfterWmsLayerUpdated
	BeforeUpdateWmsLayerType  = events.BeforeUpdateWmsLayerType
	AfterUpdateWmsLayerType   = events.AfterUpdateWmsLayerType
	BeforeZoomToBounds        = events.BeforeZoomToBounds
	AfterZoomToBounds         = events.AfterZoomToBounds
	BeforeWmsLayerRemoved     = events.BeforeWmsLayerRemoved
	AfterWmsLayerRemoved      = events.AfterWmsLayerRemoved
	BeforeWmsSourceRemoved    = events.BeforeWmsSourceRemoved
	AfterWmsSourceRemoved     = events.AfterWmsSourceRemoved
)

// Widgets creates the draw control and popup view each identify mode owns.
type Widgets interface {
	NewDrawControl(id string) mapwidget.DrawControl
	NewPopupView() mapwidget.PopupView
}

type headless struct{}

func (headless) NewDrawControl(id string) mapwidget.DrawControl { return memmap.NewDraw(id) }
func (headless) NewPopupView() mapwidget.PopupView              { return memmap.NewView() }

// Option configures a Kickbox.
type Option func(*Kickbox)

// WithBus shares an event bus, e.g. with the HTTP event stream.
func WithBus(b *events.Bus) Option { return func(k *Kickbox) { k.bus = b } }

// WithLogger sets the logger handed to every component.
func WithLogger(l *zap.Logger) Option { return func(k *Kickbox) { k.logger = l } }

// WithMetrics records backend, identify, cluster and redraw metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(k *Kickbox) { k.metrics = m } }

// WithRenderer overrides the popup and legend templates.
func WithRenderer(r *templates.Renderer) Option { return func(k *Kickbox) { k.renderer = r } }

// WithWidgets sets the draw control and popup view factory. The default is
// the headless in-memory widgets.
func WithWidgets(w Widgets) Option { return func(k *Kickbox) { k.widgets = w } }

// WithDebounce sets the viewport debounce window for WMS and cluster layers.
func WithDebounce(d time.Duration) Option { return func(k *Kickbox) { k.debounce = d } }

// Kickbox drives the visualizations on one map.
type Kickbox struct {
	m        mapwidget.Map
	client   *kinetica.Client
	bus      *events.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	renderer *templates.Renderer
	widgets  Widgets
	debounce time.Duration

	wms      *layers.Manager
	identify *identify.Registry

	mu       sync.Mutex
	clusters map[string]*cluster.Layer
}

// New binds a Kickbox to m, querying client.
func New(m mapwidget.Map, client *kinetica.Client, opts ...Option) *Kickbox {
	k := &Kickbox{
		m:        m,
		client:   client,
		widgets:  headless{},
		debounce: layers.DefaultDebounce,
		identify: identify.NewRegistry(),
		clusters: make(map[string]*cluster.Layer),
	}
	for _, o := range opts {
		o(k)
	}
	if k.bus == nil {
		k.bus = events.NewBus()
	}
	k.logger = logging.OrNop(k.logger)
	if k.renderer == nil {
		k.renderer = templates.Default()
	}
	k.wms = layers.NewManager(m,
		layers.WithBus(k.bus),
		layers.WithBounder(client),
		layers.WithRenderer(k.renderer),
		layers.WithLogger(k.logger),
		layers.WithMetrics(k.metrics),
		layers.WithDebounce(k.debounce),
	)
	return k
}

// Map returns the bound map.
func (k *Kickbox) Map() mapwidget.Map { return k.m }

// Bus returns the event bus hooks fire on.
func (k *Kickbox) Bus() *events.Bus { return k.bus }

// On registers fn for a lifecycle hook and returns its callback ID.
func (k *Kickbox) On(name string, fn Callback) string { return k.bus.On(name, fn) }

// Off unregisters the callback with id from name.
func (k *Kickbox) Off(name, id string) { k.bus.Off(name, id) }

// OffByID unregisters id from every hook it is registered under.
func (k *Kickbox) OffByID(id string) {
	for _, name := range hooks {
		k.bus.Off(name, id)
	}
}

// Trigger runs the callbacks for e.Name.
func (k *Kickbox) Trigger(e Event) { k.bus.Trigger(e) }

var hooks = []string{
	BeforeClusterLayerAdded, AfterClusterLayerAdded,
	BeforeClusterLayerRemoved, AfterClusterLayerRemoved,
	BeforeWmsLayerAdded, AfterWmsLayerAdded,
	BeforeWmsLayerUpdated, AfterWmsLayerUpdated,
	BeforeUpdateWmsLayerType, AfterUpdateWmsLayerType,
	BeforeZoomToBounds, AfterZoomToBounds,
	BeforeWmsLayerRemoved, AfterWmsLayerRemoved,
	BeforeWmsSourceRemoved, AfterWmsSourceRemoved,
}

// Close disables identify, removes every cluster and WMS layer.
func (k *Kickbox) Close() {
	k.DisableIdentifyMode()
	k.mu.Lock()
	ids := make([]string, 0, len(k.clusters))
	for id := range k.clusters {
		ids = append(ids, id)
	}
	k.mu.Unlock()
	for _, id := range ids {
		k.RemoveClusterLayer(id)
	}
	k.wms.Close()
}

// ZoomToBounds fits the map to a table's extent.
func (k *Kickbox) ZoomToBounds(ctx context.Context, tableName string, coords Coordinates) (orb.Bound, error) {
	return k.wms.ZoomToBounds(ctx, tableName, coords)
}
