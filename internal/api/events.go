package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/kickbox/internal/events"
	"github.com/joeblew999/kickbox/internal/humastar"
)

// EventName is the Datastar custom event every bus event is dispatched as.
const EventName = "kickbox-event"

// EventHandler streams lifecycle hooks and resource changes to Datastar
// clients via SSE.
type EventHandler struct {
	humastar.Handler
	bus *events.Bus
}

// NewEventHandler creates a new event handler.
func NewEventHandler(bus *events.Bus) *EventHandler {
	return &EventHandler{bus: bus}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events,
		huma.OperationTags("events"),
	)
}

func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	if h.bus == nil {
		return nil, huma.Error503ServiceUnavailable("event bus not available")
	}
	return h.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				sse.DispatchCustomEvent(EventName, ev)
			}
		}
	}), nil
}
