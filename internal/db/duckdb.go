// Package db opens and seeds the DuckDB database behind the development
// backend.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/logging"
)

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir string
	DBName  string
}

// Path returns the database file, or "" for an in-memory database.
func (c Config) Path() string {
	if c.DataDir == "" {
		return ""
	}
	name := c.DBName
	if name == "" {
		name = "kickbox"
	}
	return filepath.Join(c.DataDir, "duckdb", name+".duckdb")
}

// Extensions are installed and loaded on every database.
var Extensions = []string{"spatial", "parquet"}

// Macros emulate the analytics database functions that appear in filter
// expressions sent by clients.
var Macros = []string{
	"CREATE OR REPLACE MACRO STXY_INTERSECTS(x, y, g) AS ST_Intersects(ST_Point(x, y), g)",
	"CREATE OR REPLACE MACRO STXY_CONTAINS(g, x, y) AS ST_Contains(g, ST_Point(x, y))",
	"CREATE OR REPLACE MACRO STXY_DISTANCE(x, y, g) AS ST_Distance(ST_Point(x, y), g)",
}

// Open opens the database described by cfg and runs Setup on it.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*sql.DB, error) {
	path := cfg.Path()
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := Setup(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Setup loads the extensions and defines the macros. Extensions that fail to
// install are logged and skipped, since they might already be present.
func Setup(ctx context.Context, conn *sql.DB, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	for _, ext := range Extensions {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			logger.Warn("duckdb extension unavailable", zap.String("extension", ext), zap.Error(err))
		}
	}
	for _, m := range Macros {
		if _, err := conn.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("define macro: %w", err)
		}
	}
	return nil
}

// Ident quotes name as a single SQL identifier. Dots are part of the name,
// so "ki_home.taxi" is one table.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Literal quotes s as a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// LoadSQL returns the statement that (re)creates table from the file at path,
// choosing the reader from the file extension. Spatial files keep their
// geometry as WKT text in a "geom" column.
func LoadSQL(table, path string) (string, error) {
	src := Literal(path)
	var from string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".geoparquet":
		from = "read_parquet(" + src + ")"
	case ".csv", ".tsv":
		from = "read_csv_auto(" + src + ")"
	case ".json", ".ndjson", ".jsonl":
		from = "read_json_auto(" + src + ")"
	case ".geojson", ".shp", ".gpkg", ".fgb":
		return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * REPLACE (ST_AsText(geom) AS geom) FROM ST_Read(%s)", Ident(table), src), nil
	default:
		return "", kberr.InvalidConfiguration("load table", "unsupported file type %q", filepath.Ext(path))
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", Ident(table), from), nil
}

// Load creates table from the file at path.
func Load(ctx context.Context, conn *sql.DB, table, path string) error {
	stmt, err := LoadSQL(table, path)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("load %s from %s: %w", table, path, err)
	}
	return nil
}

// Tables lists the tables and views of the main schema.
func Tables(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
