package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/kickbox/internal/backend"
	"github.com/joeblew999/kickbox/internal/config"
	"github.com/joeblew999/kickbox/internal/db"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/server"
	"github.com/joeblew999/kickbox/internal/service"
)

// Options defines the CLI flags and env vars. Non-zero flags override the
// config file.
// Flags: --config, --host, --port, --data-dir, --templates, --backend
// Env vars: SERVICE_CONFIG, SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_TEMPLATES, SERVICE_BACKEND
type Options struct {
	Config    string `doc:"Path to a YAML config file"`
	Host      string `doc:"Host to bind to"`
	Port      int    `doc:"Port to listen on" short:"p"`
	DataDir   string `doc:"Directory for layers and source files"`
	Templates string `doc:"Directory of HTML fragments overriding the built-in ones"`
	Backend   bool   `doc:"Run the embedded DuckDB development backend"`
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.DataDir != "" {
		cfg.Server.DataDir = opts.DataDir
	}
	if opts.Templates != "" {
		cfg.Server.TemplatesDir = opts.Templates
	}
	if opts.Backend {
		cfg.Backend.Enabled = true
	}
	return cfg, cfg.Validate()
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func setup(opts *Options) (*config.Config, *zap.Logger) {
	cfg, err := loadConfig(opts)
	if err != nil {
		fatal("Error loading config", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fatal("Error building logger", err)
	}
	return cfg, logger
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var httpSrv *http.Server
		var srv *server.Server
		var logger *zap.Logger

		hooks.OnStart(func() {
			var cfg *config.Config
			cfg, logger = setup(opts)
			defer logger.Sync()

			var err error
			srv, err = server.New(context.Background(), cfg, server.WithLogger(logger))
			if err != nil {
				logger.Fatal("server init", zap.Error(err))
			}

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			logger.Info("kickbox API server starting",
				zap.String("addr", addr),
				zap.String("data", cfg.Server.DataDir),
				zap.String("kinetica", cfg.Kinetica.URL),
				zap.Bool("backend", cfg.Backend.Enabled),
			)

			httpSrv = &http.Server{Addr: addr, Handler: srv}
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			if httpSrv == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				logger.Warn("shutdown", zap.Error(err))
			}
			if err := srv.Close(); err != nil {
				logger.Warn("close", zap.Error(err))
			}
		})
	})

	cli.Root().Use = "kickbox"
	cli.Root().Short = "Map layers, identify and clustering over an analytics database"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg, logger := setup(opts)
			cfg.Backend.Enabled = false
			srv, err := server.New(context.Background(), cfg, server.WithLogger(logger))
			if err != nil {
				fatal("Error building server", err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// backend subcommand: serve only the DuckDB emulation of the analytics API
	backendCmd := &cobra.Command{
		Use:   "backend",
		Short: "Serve the DuckDB development backend on its own",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg, logger := setup(opts)
			defer logger.Sync()
			ctx := context.Background()

			conn, err := db.Open(ctx, db.Config{DataDir: cfg.Server.DataDir, DBName: cfg.Backend.DBName}, logger)
			if err != nil {
				logger.Fatal("open duckdb", zap.Error(err))
			}
			defer conn.Close()

			sources := service.NewSourceService(cfg.Server.DataDir, logger)
			loaded, err := sources.LoadAll(ctx, conn)
			if err != nil {
				logger.Warn("load sources", zap.Error(err))
			}

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			logger.Info("development backend starting", zap.String("addr", addr), zap.Int("tables", len(loaded)))
			h := backend.New(backend.NewStore(conn, logger), backend.WithLogger(logger), backend.WithMetrics(metrics.New()))
			if err := http.ListenAndServe(addr, h); err != nil {
				logger.Fatal("backend error", zap.Error(err))
			}
		}),
	}
	cli.Root().AddCommand(backendCmd)

	cli.Run()
}
