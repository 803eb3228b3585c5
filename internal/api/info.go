package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// InfoHandler reports what this instance is wired to.
type InfoHandler struct {
	kineticaURL string
	dataDir     string
	dbOK        bool
}

func NewInfoHandler(kineticaURL, dataDir string, dbOK bool) *InfoHandler {
	return &InfoHandler{kineticaURL: kineticaURL, dataDir: dataDir, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	Kinetica string   `json:"kinetica" doc:"Analytics API base URL"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether the development backend is running"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"wms", "identify", "clusters", "events"}
	if h.dbOK {
		features = append(features, "duckdb-backend")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "kickbox",
		Version:  Version,
		Kinetica: h.kineticaURL,
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Features: features,
	}}, nil
}
