package layers

import (
	"strings"

	"github.com/google/uuid"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/mapwidget"
	"github.com/joeblew999/kickbox/internal/templates"
)

// Legend is a map control listing the class breaks of a class-break raster
// next to their colors.
type Legend struct {
	id       string
	Title    string
	Position string
	Items    []templates.LegendItem
	html     string
}

var _ mapwidget.Control = (*Legend)(nil)

// NewLegend renders a legend. breaks and colors pair up by index; colors are
// hex with or without a leading '#'.
func NewLegend(r *templates.Renderer, title string, breaks, colors []string) (*Legend, error) {
	if len(breaks) != len(colors) {
		return nil, kberr.InvalidConfiguration("cb legend", "%d breaks but %d colors", len(breaks), len(colors))
	}
	items := make([]templates.LegendItem, len(breaks))
	for i := range breaks {
		items[i] = templates.LegendItem{Break: breaks[i], Color: strings.TrimPrefix(colors[i], "#")}
	}
	html, err := r.Render(templates.CbLegend, templates.LegendData{Title: title, Items: items})
	if err != nil {
		return nil, err
	}
	return &Legend{
		id:    "kickbox-legend-" + uuid.NewString(),
		Title: title,
		Items: items,
		html:  html,
	}, nil
}

func (l *Legend) ControlID() string { return l.id }

// HTML is the rendered control markup.
func (l *Legend) HTML() string { return l.html }

// AddCbLegend adds a class-break legend at position (top-right when empty)
// and returns it for later removal.
func (mg *Manager) AddCbLegend(title, position string, breaks, colors []string) (*Legend, error) {
	l, err := NewLegend(mg.renderer, title, breaks, colors)
	if err != nil {
		return nil, err
	}
	if position == "" {
		position = mapwidget.TopRight
	}
	l.Position = position
	mg.m.AddControl(l, position)
	return l, nil
}

// RemoveCbLegend takes a legend off the map.
func (mg *Manager) RemoveCbLegend(l *Legend) {
	if l == nil {
		return
	}
	mg.m.RemoveControl(l)
}
