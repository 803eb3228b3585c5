// Package humastar joins Huma operations with Datastar streams and RFC 8288
// hypermedia.
//
// Handlers embed [Handler] to answer with a Datastar SSE stream, read the
// client's signals through [SignalsInput], and attach Link headers derived
// from the OpenAPI document with a [Links] registry.
package humastar

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/kickbox/internal/templates"
)

// Handler is an embeddable base for Huma handlers that produce Datastar SSE
// responses.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			fn(NewSSE(ctx))
		},
	}
}

// Render renders a named fragment, or "" when it fails.
func (h *Handler) Render(name string, data any) string {
	r := h.Renderer
	if r == nil {
		r = templates.Default()
	}
	html, err := r.Render(name, data)
	if err != nil {
		return ""
	}
	return html
}

// SSE is a Datastar generator bound to one Huma stream.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE unwraps the stdlib request and writer behind ctx.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the inner HTML of selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
		datastar.WithViewTransitions(),
	)
}

// Replace replaces the element at selector.
func (s SSE) Replace(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeOuter(),
		datastar.WithViewTransitions(),
	)
}

// Error sets the error signal.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Signals patches arbitrary signals.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Signals is the flat JSON object Datastar posts with every action.
type Signals map[string]any

// ParseSignals decodes a Datastar request body.
func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

func signal[T any](s Signals, key string) T {
	v, _ := s[key].(T)
	return v
}

// String returns the string signal key, or "".
func (s Signals) String(key string) string { return signal[string](s, key) }

// Float returns the numeric signal key, or 0.
func (s Signals) Float(key string) float64 { return signal[float64](s, key) }

// EmptyInput is the input of parameterless stream handlers.
type EmptyInput struct{}

// SignalsInput carries the raw Datastar request body.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses the signals or returns a 400.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
