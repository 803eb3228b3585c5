// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/humastar"
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/layers"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/service"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Layer   *service.LayerService
	Source  *service.SourceService
	Backend Backend
	// WMSURL is the GetMap endpoint stored layers are drawn from.
	WMSURL  string
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"taxi_heatmap"`
}

// LayerBody is a stored descriptor plus its state-dependent actions.
type LayerBody struct {
	service.LayerDescriptor
}

var layerActions = []humastar.ActionDef{
	{Rel: "wms", Pattern: "/api/v1/layers/{id}/wms", Method: "GET", Title: "Build WMS request"},
	{Rel: "edit", Pattern: "/api/v1/layers/{id}", Method: "PUT", Title: "Update layer"},
	{Rel: "delete", Pattern: "/api/v1/layers/{id}", Method: "DELETE", Title: "Delete layer"},
}

// Actions implements humastar.Actor.
func (b LayerBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, layerActions)
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body []service.LayerDescriptor
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// WMSBody is the GetMap request of a stored layer, without the viewport
// parameters.
type WMSBody struct {
	LayerID    string         `json:"layerId" doc:"Layer ID"`
	URL        string         `json:"url" doc:"GetMap URL without bbox, width and height"`
	Params     map[string]any `json:"params" doc:"GetMap parameters"`
	Validation []string       `json:"validation,omitempty" doc:"Class-break problems"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc    *Services
	logger *zap.Logger
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc, logger: logging.OrNop(svc.Logger)}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer CRUD routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers", h.CreateLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}", h.PutLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/wms", h.GetLayerWMS, huma.OperationTags("layers"))
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	if h.svc.Layer == nil {
		return &LayersOutput{Body: []service.LayerDescriptor{}}, nil
	}
	return &LayersOutput{Body: h.svc.Layer.List()}, nil
}

func (h *APIHandler) CreateLayer(ctx context.Context, input *struct{ Body service.LayerDescriptor }) (*struct {
	Status int
	Body   LayerBody
}, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer store not available")
	}
	created, err := h.svc.Layer.Create(input.Body)
	if err != nil {
		return nil, h.httpError("create layer", err)
	}
	return &struct {
		Status int
		Body   LayerBody
	}{Status: 201, Body: LayerBody{created}}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	layer, err := h.layer(input.ID)
	if err != nil {
		return nil, err
	}
	return &LayerOutput{Body: LayerBody{layer}}, nil
}

func (h *APIHandler) PutLayer(ctx context.Context, input *struct {
	IDInput
	Body service.LayerDescriptor
}) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer store not available")
	}
	updated, err := h.svc.Layer.Update(input.ID, input.Body)
	if err != nil {
		return nil, h.httpError("update layer", err)
	}
	return &LayerOutput{Body: LayerBody{updated}}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer store not available")
	}
	if err := h.svc.Layer.Delete(input.ID); err != nil {
		return nil, h.httpError("delete layer", err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Layer deleted"}}, nil
}

// GetLayerWMS builds the GetMap request a map would issue for a stored
// layer. Class-break problems answer 422 with every problem listed.
func (h *APIHandler) GetLayerWMS(ctx context.Context, input *IDInput) (*struct{ Body WMSBody }, error) {
	layer, err := h.layer(input.ID)
	if err != nil {
		return nil, err
	}
	params, valid, err := layers.BuildParams(layer.Spec())
	if err != nil {
		return nil, h.httpError("build wms params", err)
	}
	if !valid.IsValid {
		details := make([]error, 0, len(valid.Errs))
		for _, e := range valid.Errs {
			details = append(details, &huma.ErrorDetail{Message: e, Location: "body.renderingOptions"})
		}
		return nil, huma.Error422UnprocessableEntity("invalid class-break raster", details...)
	}
	return &struct{ Body WMSBody }{Body: WMSBody{
		LayerID: layer.ID,
		URL:     layers.BuildURL(h.svc.WMSURL, params),
		Params:  params.Map(),
	}}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc.Source == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Source.List()
	if err != nil {
		h.logger.Warn("list sources", zap.Error(err))
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

func (h *APIHandler) layer(id string) (service.LayerDescriptor, error) {
	if h.svc.Layer == nil {
		return service.LayerDescriptor{}, huma.Error503ServiceUnavailable("layer store not available")
	}
	layer, ok := h.svc.Layer.Get(id)
	if !ok {
		return service.LayerDescriptor{}, huma.Error404NotFound("layer not found")
	}
	return layer, nil
}

// httpError maps kickbox errors to Huma status errors.
func (h *APIHandler) httpError(op string, err error) error {
	switch {
	case errors.Is(err, service.ErrExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, kberr.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, kberr.ErrInvalidConfiguration):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, kberr.ErrNetwork), errors.Is(err, kberr.ErrBackend):
		h.logger.Error(op, zap.Error(err))
		return huma.Error502BadGateway(err.Error())
	default:
		h.logger.Error(op, zap.Error(err))
		return huma.Error500InternalServerError(op+" failed", err)
	}
}
