// Package server assembles the kickbox HTTP surface: the Huma REST API, the
// Datastar event and popup streams, prometheus metrics and, when enabled,
// the embedded DuckDB development backend.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/api"
	"github.com/joeblew999/kickbox/internal/backend"
	"github.com/joeblew999/kickbox/internal/config"
	"github.com/joeblew999/kickbox/internal/db"
	"github.com/joeblew999/kickbox/internal/events"
	"github.com/joeblew999/kickbox/internal/humastar"
	"github.com/joeblew999/kickbox/internal/kinetica"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/service"
	"github.com/joeblew999/kickbox/internal/templates"
)

// BackendPrefix is where the development backend is mounted.
const BackendPrefix = "/backend"

// Server is the kickbox HTTP server.
type Server struct {
	cfg      *config.Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	bus      *events.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	services *api.Services
	renderer *templates.Renderer
	links    *humastar.Links
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithBackend replaces the analytics client built from the configuration.
func WithBackend(b api.Backend) Option {
	return func(s *Server) { s.services.Backend = b }
}

// WithDB serves the development backend from conn instead of opening the
// configured database.
func WithDB(conn *sql.DB) Option {
	return func(s *Server) { s.db = conn }
}

// New creates a kickbox server for cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("kickbox API", api.Version)
	humaConfig.Info.Description = "Map layers, radius identify and clustering over an analytics database."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%d", displayHost(cfg.Server.Host), cfg.Server.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	links := humastar.NewLinks()
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())

	s := &Server{
		cfg:      cfg,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		bus:      events.NewBus(),
		logger:   zap.NewNop(),
		metrics:  metrics.New(),
		services: &api.Services{WMSURL: cfg.Kinetica.WMSURL},
		renderer: templates.Default(),
		links:    links,
	}
	for _, opt := range opts {
		opt(s)
	}
	if dir := cfg.Server.TemplatesDir; dir != "" {
		r, err := templates.NewFromDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load templates from %s: %w", dir, err)
		}
		s.renderer = r
		s.logger.Info("templates loaded", zap.String("dir", dir))
	}
	s.services.Logger = s.logger
	s.services.Metrics = s.metrics
	s.services.Layer = service.NewLayerService(cfg.Server.DataDir, s.bus, s.logger)
	s.services.Source = service.NewSourceService(cfg.Server.DataDir, s.logger)

	if cfg.Backend.Enabled {
		if err := s.openBackend(ctx); err != nil {
			return nil, err
		}
	}
	if s.services.Backend == nil {
		s.services.Backend = kinetica.New(s.kineticaURL(),
			kinetica.WithHTTPClient(&http.Client{Timeout: cfg.Kinetica.Timeout}),
			kinetica.WithInterceptor(kinetica.BasicAuth(cfg.Kinetica.Username, cfg.Kinetica.Password)),
			kinetica.WithLogger(s.logger),
			kinetica.WithMetrics(s.metrics),
		)
	}

	s.routes()
	return s, nil
}

// openBackend opens DuckDB, loads every source file into it and mounts the
// emulated REST endpoints under BackendPrefix.
func (s *Server) openBackend(ctx context.Context) error {
	if s.db == nil {
		conn, err := db.Open(ctx, db.Config{DataDir: s.cfg.Server.DataDir, DBName: s.cfg.Backend.DBName}, s.logger)
		if err != nil {
			return err
		}
		s.db = conn
	}
	if _, err := s.services.Source.LoadAll(ctx, s.db); err != nil {
		s.logger.Warn("load sources", zap.Error(err))
	}
	srv := backend.New(backend.NewStore(s.db, s.logger), backend.WithLogger(s.logger))
	s.mux.Handle(BackendPrefix+"/", http.StripPrefix(BackendPrefix, srv))
	s.logger.Info("development backend mounted", zap.String("prefix", BackendPrefix))
	return nil
}

// kineticaURL is the embedded backend when it runs, the configured URL
// otherwise.
func (s *Server) kineticaURL() string {
	if s.db != nil && s.cfg.Backend.Enabled {
		return fmt.Sprintf("http://%s:%d%s", displayHost(s.cfg.Server.Host), s.cfg.Server.Port, BackendPrefix)
	}
	return s.cfg.Kinetica.URL
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the API document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Bus returns the bus layer changes are published on.
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Server) routes() {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services))

	api.NewEventHandler(s.bus).RegisterRoutes(s.humaAPI)
	api.NewPopupHandler(s.services.Backend, s.renderer, s.metrics).RegisterRoutes(s.humaAPI)
	api.NewInfoHandler(s.kineticaURL(), s.cfg.Server.DataDir, s.db != nil).RegisterRoutes(s.humaAPI)
	if s.db != nil {
		api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)
	}

	s.links.Build(s.humaAPI)

	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.Root() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "kickbox",
		"status":  "running",
		"version": api.Version,
	})
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}
