package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/db"
	"github.com/joeblew999/kickbox/internal/logging"
)

// sourceTypes maps loadable extensions to their display type.
var sourceTypes = map[string]string{
	".geojson":    "GeoJSON",
	".json":       "JSON",
	".ndjson":     "JSON",
	".csv":        "CSV",
	".gpkg":       "GeoPackage",
	".shp":        "Shapefile",
	".parquet":    "GeoParquet",
	".geoparquet": "GeoParquet",
}

// SourceService lists the data files under dataDir/sources and loads them
// into the development backend.
type SourceService struct {
	sourcesDir string
	logger     *zap.Logger
}

// NewSourceService creates a new source service.
func NewSourceService(dataDir string, logger *zap.Logger) *SourceService {
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
		logger:     logging.OrNop(logger),
	}
}

// List returns all loadable source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		fileType, ok := sourceTypes[ext]
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SourceFile{
			Name:      entry.Name(),
			TableName: TableName(entry.Name()),
			Size:      formatSize(info.Size()),
			FileType:  fileType,
		})
	}
	return files, nil
}

// LoadAll creates one table per source file and returns the loaded files.
// A file that fails to load is logged and skipped.
func (s *SourceService) LoadAll(ctx context.Context, conn *sql.DB) ([]SourceFile, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	loaded := make([]SourceFile, 0, len(files))
	for _, f := range files {
		if err := db.Load(ctx, conn, f.TableName, filepath.Join(s.sourcesDir, f.Name)); err != nil {
			s.logger.Warn("source not loaded", zap.String("file", f.Name), zap.Error(err))
			continue
		}
		s.logger.Info("source loaded", zap.String("file", f.Name), zap.String("table", f.TableName))
		loaded = append(loaded, f)
	}
	return loaded, nil
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

// TableName derives a table name from a file name: the stem, lower-cased,
// with anything outside [a-z0-9_] dropped.
func TableName(file string) string {
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	return generateID(strings.ReplaceAll(stem, "-", "_"))
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
