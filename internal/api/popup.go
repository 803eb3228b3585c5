package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/kickbox/internal/humastar"
	"github.com/joeblew999/kickbox/internal/identify"
	"github.com/joeblew999/kickbox/internal/metrics"
	"github.com/joeblew999/kickbox/internal/query"
	"github.com/joeblew999/kickbox/internal/templates"
)

// PopupSelector is the element the identify popup is patched into.
const PopupSelector = "#identify-popup"

// PopupHandler answers Datastar clicks with a rendered identify popup.
type PopupHandler struct {
	humastar.Handler
	backend Backend
	metrics *metrics.Metrics
}

// NewPopupHandler creates a popup handler. A nil renderer uses the embedded
// fragments.
func NewPopupHandler(backend Backend, renderer *templates.Renderer, m *metrics.Metrics) *PopupHandler {
	return &PopupHandler{
		Handler: humastar.Handler{Renderer: renderer},
		backend: backend,
		metrics: m,
	}
}

func (h *PopupHandler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/editor/identify", h.Identify,
		huma.OperationTags("editor"),
	)
}

// radiusFromSignals reads the popup query from Datastar signals.
func radiusFromSignals(s humastar.Signals) RadiusQuery {
	return RadiusQuery{
		TableName: s.String("tableName"),
		Coordinates: query.Coordinates{
			XAttr:   s.String("xAttr"),
			YAttr:   s.String("yAttr"),
			GeoAttr: s.String("geoAttr"),
		},
		Longitude:  s.Float("longitude"),
		Latitude:   s.Float("latitude"),
		Radius:     s.Float("radius"),
		Expression: s.String("expression"),
		Collection: s.String("collection"),
	}
}

// Identify runs a radius query for the clicked point and patches the first
// page into the popup. Failures are reported through the error signal.
func (h *PopupHandler) Identify(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	q := radiusFromSignals(signals)

	return h.Stream(func(sse humastar.SSE) {
		if h.backend == nil {
			sse.Error("backend not configured")
			return
		}
		if q.TableName == "" || q.Radius <= 0 {
			sse.Error("tableName and a positive radius are required")
			return
		}
		f, page, err := radiusQuery(ctx, h.backend, q)
		h.metrics.ObserveIdentify("popup", err)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		html := h.Render(templates.IdentifyPopup, templates.IdentifyData{
			PopupID:     "identify-popup",
			Expression:  f.Expression,
			RecordIndex: 1,
			Records:     identify.Fields(page),
			RecordTotal: page.RecordCount,
			Radius:      q.Radius,
			Latitude:    q.Latitude,
			Longitude:   q.Longitude,
		})
		sse.Replace(html, PopupSelector)
		sse.Signals(map[string]any{
			"view":        f.CurrentView(),
			"recordCount": page.RecordCount,
			"offset":      0,
			"error":       "",
		})
	}), nil
}
