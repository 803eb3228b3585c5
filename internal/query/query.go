// Package query turns viewport bounds, coordinate specs and identify filters
// into analytics backend payloads.
package query

import (
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/paulmach/orb"
)

// PageSize is the fixed number of records fetched per page.
const PageSize = 10

// Backend endpoints.
const (
	EndpointGetRecords          = "/get/records"
	EndpointFilter              = "/filter"
	EndpointFilterByRadius      = "/filter/byradius"
	EndpointFilterByRadiusGeom  = "/filter/byradius/geometry"
	EndpointAggregateGroupBy    = "/aggregate/groupby"
	EndpointAggregateMinMax     = "/aggregate/minmax"
	EndpointAggregateMinMaxGeom = "/aggregate/minmax/geometry"
)

// Coordinates names the columns holding a table's geometry: either an x/y
// column pair or a single geometry (WKT) column.
type Coordinates struct {
	XAttr   string `json:"xAttr,omitempty" doc:"Longitude column" example:"x"`
	YAttr   string `json:"yAttr,omitempty" doc:"Latitude column" example:"y"`
	GeoAttr string `json:"geoAttr,omitempty" doc:"WKT geometry column" example:"geom"`
}

// NewCoordinates normalizes a coordinate spec. An x/y pair wins over a
// geometry column; supplying neither is an error.
func NewCoordinates(xAttr, yAttr, geoAttr string) (Coordinates, error) {
	c := Coordinates{XAttr: xAttr, YAttr: yAttr, GeoAttr: geoAttr}
	return c.Normalize()
}

// Normalize returns c with the geometry column dropped when an x/y pair is
// present.
func (c Coordinates) Normalize() (Coordinates, error) {
	switch {
	case c.XAttr != "" && c.YAttr != "":
		return Coordinates{XAttr: c.XAttr, YAttr: c.YAttr}, nil
	case c.GeoAttr != "":
		return Coordinates{GeoAttr: c.GeoAttr}, nil
	case c.XAttr != "" || c.YAttr != "":
		return Coordinates{}, kberr.InvalidConfiguration("coordinates", "both xAttr and yAttr are required")
	default:
		return Coordinates{}, kberr.InvalidConfiguration("coordinates", "xAttr/yAttr or geoAttr is required")
	}
}

// Validate fails unless exactly one coordinate form is present.
func (c Coordinates) Validate() error {
	hasXY := c.XAttr != "" && c.YAttr != ""
	hasGeo := c.GeoAttr != ""
	if hasXY && hasGeo {
		return kberr.InvalidConfiguration("coordinates", "both x/y columns and a geometry column were supplied")
	}
	if !hasXY && !hasGeo {
		return kberr.InvalidConfiguration("coordinates", "no coordinate columns supplied")
	}
	return nil
}

// UsesGeometry reports whether the geometry column form is in use.
func (c Coordinates) UsesGeometry() bool {
	return c.GeoAttr != "" && (c.XAttr == "" || c.YAttr == "")
}

// Geometry is a radius query around a center point.
type Geometry struct {
	Center orb.Point `json:"center"`
	Radius float64   `json:"radius"` // meters
}

// Filter is the query intent of one identify mode. It is a value type: every
// successful query produces a new Filter rather than editing the old one.
type Filter struct {
	TableName        string
	ViewName         string
	FilteredViewName string
	Geometry         *Geometry
	Expression       string
	Offset           int
	Collection       string
	Coordinates
}

// CurrentView is the most specific view the filter points at.
func (f Filter) CurrentView() string {
	switch {
	case f.FilteredViewName != "":
		return f.FilteredViewName
	case f.ViewName != "":
		return f.ViewName
	default:
		return f.TableName
	}
}

// WithOffset returns a copy of f at offset.
func (f Filter) WithOffset(offset int) Filter {
	f.Offset = offset
	return f
}
