package api

import (
	"context"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/joeblew999/kickbox/internal/cluster"
	"github.com/joeblew999/kickbox/internal/humastar"
	"github.com/joeblew999/kickbox/internal/kinetica"
	"github.com/joeblew999/kickbox/internal/mapwidget/memmap"
	"github.com/joeblew999/kickbox/internal/query"
)

// Backend is the analytics API the query routes read from.
type Backend interface {
	FilterByRadius(ctx context.Context, tableName string, f query.Filter) error
	Filter(ctx context.Context, tableName string, f query.Filter) error
	GetRecords(ctx context.Context, view string, offset int, transformations []kinetica.Transformation) (kinetica.Page, error)
	cluster.Loader
}

var _ Backend = (*kinetica.Client)(nil)

// RadiusQuery selects the rows within Radius meters of a point.
type RadiusQuery struct {
	TableName string `json:"tableName" minLength:"1" doc:"Backend table" example:"nyctaxi"`
	query.Coordinates
	Longitude  float64 `json:"longitude" minimum:"-180" maximum:"180" doc:"Center longitude"`
	Latitude   float64 `json:"latitude" minimum:"-90" maximum:"90" doc:"Center latitude"`
	Radius     float64 `json:"radius" exclusiveMinimum:"0" doc:"Radius in meters" example:"250"`
	Expression string  `json:"expression,omitempty" doc:"Optional filter applied to the radius view" example:"fare > 10"`
	Collection string  `json:"collection,omitempty" doc:"Collection the views are created in"`
}

// RadiusResult is the first page of a radius query. Later pages are read
// from /api/v1/records with the returned view.
type RadiusResult struct {
	ViewName         string            `json:"viewName" doc:"Materialized radius view"`
	FilteredViewName string            `json:"filteredViewName,omitempty" doc:"Materialized expression view"`
	RecordCount      int               `json:"recordCount" doc:"Rows in the current view"`
	Records          []kinetica.Record `json:"records" doc:"First page of rows"`
}

// View is the most specific view the result points at.
func (r RadiusResult) View() string {
	if r.FilteredViewName != "" {
		return r.FilteredViewName
	}
	return r.ViewName
}

// Actions implements humastar.Actor.
func (r RadiusResult) Actions() []humastar.Action {
	return []humastar.Action{{
		Rel:    "records",
		Href:   "/api/v1/records?" + url.Values{"view": {r.View()}, "offset": {"0"}}.Encode(),
		Method: "GET",
		Title:  "Page through the results",
	}}
}

type RecordsInput struct {
	View   string `query:"view" required:"true" minLength:"1" doc:"View or table to read"`
	Offset int    `query:"offset" minimum:"0" multipleOf:"10" doc:"Row offset, a multiple of the page size"`
}

// ClusterRequest asks for the clusters of a table in a viewport.
type ClusterRequest struct {
	cluster.Options
	Bounds [4]float64 `json:"bounds" doc:"Viewport as west, south, east, north" example:"[-74.3,40.5,-73.7,40.9]"`
	Zoom   float64    `json:"zoom" minimum:"0" maximum:"24" doc:"Map zoom" example:"10"`
	Width  int        `json:"width,omitempty" minimum:"0" doc:"Viewport width in pixels"`
	Height int        `json:"height,omitempty" minimum:"0" doc:"Viewport height in pixels"`
}

func (r ClusterRequest) bound() orb.Bound {
	return orb.Bound{Min: orb.Point{r.Bounds[0], r.Bounds[1]}, Max: orb.Point{r.Bounds[2], r.Bounds[3]}}
}

// ClusterBody is one recompute: the visible clusters and their paint ramps.
type ClusterBody struct {
	LayerID  string `json:"layerId"`
	Features int    `json:"features" doc:"Grouped rows the index was built from"`
	cluster.Update
}

// RegisterIdentify registers the radius query route.
func (h *APIHandler) RegisterIdentify(api huma.API) {
	huma.Post(api, "/api/v1/identify/radius", h.IdentifyRadius, huma.OperationTags("identify"))
}

// RegisterRecords registers the paginated records route.
func (h *APIHandler) RegisterRecords(api huma.API) {
	huma.Get(api, "/api/v1/records", h.GetRecords, huma.OperationTags("identify"))
}

// RegisterClusters registers the cluster route.
func (h *APIHandler) RegisterClusters(api huma.API) {
	huma.Post(api, "/api/v1/clusters", h.Clusters, huma.OperationTags("clusters"))
}

func (h *APIHandler) IdentifyRadius(ctx context.Context, input *struct{ Body RadiusQuery }) (*struct{ Body RadiusResult }, error) {
	if h.svc.Backend == nil {
		return nil, huma.Error503ServiceUnavailable("backend not configured")
	}
	f, page, err := radiusQuery(ctx, h.svc.Backend, input.Body)
	h.svc.Metrics.ObserveIdentify("radius", err)
	if err != nil {
		return nil, h.httpError("identify radius", err)
	}
	records := page.Records
	if records == nil {
		records = []kinetica.Record{}
	}
	return &struct{ Body RadiusResult }{Body: RadiusResult{
		ViewName:         f.ViewName,
		FilteredViewName: f.FilteredViewName,
		RecordCount:      page.RecordCount,
		Records:          records,
	}}, nil
}

func (h *APIHandler) GetRecords(ctx context.Context, input *RecordsInput) (*struct {
	Body humastar.PageBody[kinetica.Record]
}, error) {
	if h.svc.Backend == nil {
		return nil, huma.Error503ServiceUnavailable("backend not configured")
	}
	page, err := h.svc.Backend.GetRecords(ctx, input.View, input.Offset, nil)
	if err != nil {
		return nil, h.httpError("get records", err)
	}
	data := page.Records
	if data == nil {
		data = []kinetica.Record{}
	}
	return &struct {
		Body humastar.PageBody[kinetica.Record]
	}{Body: humastar.PageBody[kinetica.Record]{
		Total:  page.RecordCount,
		Offset: input.Offset,
		Limit:  query.PageSize,
		Data:   data,
	}}, nil
}

// Clusters loads the grouped aggregate, builds the cluster index on a
// headless map sized to the request and returns one recompute for the
// requested viewport.
func (h *APIHandler) Clusters(ctx context.Context, input *struct{ Body ClusterRequest }) (*struct{ Body ClusterBody }, error) {
	if h.svc.Backend == nil {
		return nil, huma.Error503ServiceUnavailable("backend not configured")
	}
	req := input.Body
	width, height := req.Width, req.Height
	if width == 0 {
		width = 1024
	}
	if height == 0 {
		height = 768
	}
	m := memmap.New(req.bound(), req.Zoom, width, height)
	l, err := cluster.Add(ctx, cluster.Deps{
		Map:     m,
		Loader:  h.svc.Backend,
		Logger:  h.logger,
		Metrics: h.svc.Metrics,
	}, req.Options)
	if err != nil {
		return nil, h.httpError("clusters", err)
	}
	defer l.Remove()

	return &struct{ Body ClusterBody }{Body: ClusterBody{
		LayerID:  req.LayerID,
		Features: len(l.Features()),
		Update:   l.Compute(req.bound(), req.Zoom),
	}}, nil
}

// radiusQuery materializes the radius view of q, then the expression view
// when q has one, and reads the first page of the most specific view.
func radiusQuery(ctx context.Context, b Backend, q RadiusQuery) (query.Filter, kinetica.Page, error) {
	coords, err := q.Coordinates.Normalize()
	if err != nil {
		return query.Filter{}, kinetica.Page{}, err
	}
	f := query.Filter{
		TableName:   q.TableName,
		ViewName:    q.TableName + "-" + uuid.NewString(),
		Geometry:    &query.Geometry{Center: orb.Point{q.Longitude, q.Latitude}, Radius: q.Radius},
		Collection:  q.Collection,
		Coordinates: coords,
	}
	if err := b.FilterByRadius(ctx, f.TableName, f); err != nil {
		return query.Filter{}, kinetica.Page{}, err
	}
	if expr := strings.TrimSpace(q.Expression); expr != "" {
		f.Expression = expr
		f.FilteredViewName = f.ViewName + "-" + uuid.NewString()
		if err := b.Filter(ctx, f.ViewName, f); err != nil {
			return query.Filter{}, kinetica.Page{}, err
		}
	}
	page, err := b.GetRecords(ctx, f.CurrentView(), 0, nil)
	if err != nil {
		return query.Filter{}, kinetica.Page{}, err
	}
	return f, page, nil
}
