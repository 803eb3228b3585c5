// Package backend is a development stand-in for the analytics database REST
// API. It answers the endpoints kickbox calls from a DuckDB database, using
// the same request payloads and response envelope.
package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/query"
)

// Response is the envelope every endpoint answers with. DataStr holds the
// JSON-encoded endpoint data.
type Response struct {
	Status   string `json:"status" enum:"OK,ERROR"`
	Message  string `json:"message"`
	DataType string `json:"data_type"`
	DataStr  string `json:"data_str"`
}

// Output carries the envelope and its HTTP status.
type Output struct {
	Status int
	Body   Response
}

// Server routes backend requests to a Store.
type Server struct {
	mux     *http.ServeMux
	api     huma.API
	store   *Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithMetrics exposes /metrics next to the backend endpoints.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New registers the backend endpoints for store.
func New(store *Store, opts ...Option) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := huma.DefaultConfig("kickbox dev backend", "1.0.0")
	cfg.Info.Description = "DuckDB emulation of the analytics database REST endpoints used by kickbox."
	cfg.CreateHooks = []func(huma.Config) huma.Config{}
	s.api = humago.New(s.mux, cfg)

	tags := huma.OperationTags("backend")
	huma.Post(s.api, query.EndpointGetRecords, s.getRecords, tags)
	huma.Post(s.api, query.EndpointFilterByRadius, s.filterByRadius(query.EndpointFilterByRadius), tags)
	huma.Post(s.api, query.EndpointFilterByRadiusGeom, s.filterByRadius(query.EndpointFilterByRadiusGeom), tags)
	huma.Post(s.api, query.EndpointFilter, s.filter, tags)
	huma.Post(s.api, query.EndpointAggregateGroupBy, s.groupBy, tags)
	huma.Post(s.api, query.EndpointAggregateMinMax, s.minMax, tags)
	huma.Post(s.api, query.EndpointAggregateMinMaxGeom, s.minMaxGeometry, tags)

	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the backend's OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.api.OpenAPI()
}

// reply wraps data, or err, in the envelope. Failures are answered in the
// envelope too, never as huma problem documents, so clients parse one shape.
func (s *Server) reply(endpoint, dataType string, data any, err error) (*Output, error) {
	if err != nil {
		s.logger.Warn("backend request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return &Output{Status: status(err), Body: Response{Status: "ERROR", Message: err.Error(), DataType: "none"}}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return &Output{Status: http.StatusInternalServerError, Body: Response{Status: "ERROR", Message: err.Error(), DataType: "none"}}, nil
	}
	return &Output{Status: http.StatusOK, Body: Response{Status: "OK", DataType: dataType, DataStr: string(raw)}}, nil
}

func (s *Server) getRecords(ctx context.Context, in *struct{ Body query.RecordsRequest }) (*Output, error) {
	data, err := s.store.GetRecords(ctx, in.Body)
	return s.reply(query.EndpointGetRecords, "get_records_response", data, err)
}

func (s *Server) filterByRadius(endpoint string) func(context.Context, *struct{ Body query.RadiusRequest }) (*Output, error) {
	dataType := "filter_by_radius_response"
	if endpoint == query.EndpointFilterByRadiusGeom {
		dataType = "filter_by_radius_geometry_response"
	}
	return func(ctx context.Context, in *struct{ Body query.RadiusRequest }) (*Output, error) {
		data, err := s.store.FilterByRadius(ctx, endpoint, in.Body)
		return s.reply(endpoint, dataType, data, err)
	}
}

func (s *Server) filter(ctx context.Context, in *struct{ Body query.FilterRequest }) (*Output, error) {
	data, err := s.store.Filter(ctx, in.Body)
	return s.reply(query.EndpointFilter, "filter_response", data, err)
}

func (s *Server) groupBy(ctx context.Context, in *struct{ Body query.GroupByRequest }) (*Output, error) {
	data, err := s.store.GroupBy(ctx, in.Body)
	return s.reply(query.EndpointAggregateGroupBy, "aggregate_group_by_response", data, err)
}

func (s *Server) minMax(ctx context.Context, in *struct{ Body query.MinMaxRequest }) (*Output, error) {
	data, err := s.store.MinMax(ctx, in.Body)
	return s.reply(query.EndpointAggregateMinMax, "aggregate_min_max_response", data, err)
}

func (s *Server) minMaxGeometry(ctx context.Context, in *struct{ Body query.MinMaxRequest }) (*Output, error) {
	data, err := s.store.MinMaxGeometry(ctx, in.Body)
	return s.reply(query.EndpointAggregateMinMaxGeom, "aggregate_min_max_geometry_response", data, err)
}
