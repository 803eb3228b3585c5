package humastar

import (
	"strconv"
	"strings"
)

// Action is a state-dependent Link header: a rel plus the method and title
// a client needs to follow it.
//
//	</api/v1/layers/taxi>; rel="delete"; method="DELETE"; title="Delete layer"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies that advertise actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats a as an RFC 8288 Link header value.
func (a Action) LinkHeader() string {
	var b strings.Builder
	b.WriteString("<" + a.Href + ">; rel=" + strconv.Quote(a.Rel))
	if a.Method != "" {
		b.WriteString("; method=" + strconv.Quote(a.Method))
	}
	if a.Title != "" {
		b.WriteString("; title=" + strconv.Quote(a.Title))
	}
	return b.String()
}

// ActionDef is an Action whose Pattern holds an {id} placeholder.
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// ActionsFor expands defs for the resource id.
func ActionsFor(id string, defs []ActionDef) []Action {
	actions := make([]Action, len(defs))
	for i, d := range defs {
		actions[i] = Action{
			Rel:    d.Rel,
			Href:   strings.ReplaceAll(d.Pattern, "{id}", id),
			Method: d.Method,
			Title:  d.Title,
		}
	}
	return actions
}
