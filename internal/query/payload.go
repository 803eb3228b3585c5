package query

import (
	"fmt"

	"github.com/joeblew999/kickbox/internal/kberr"
)

// RecordsRequest is the /get/records payload.
type RecordsRequest struct {
	TableName string            `json:"table_name"`
	Offset    int               `json:"offset"`
	Limit     int               `json:"limit"`
	Encoding  string            `json:"encoding"`
	Options   map[string]string `json:"options"`
}

// RadiusRequest is the /filter/byradius[/geometry] payload. Exactly one of
// ColumnName or the XColumnName/YColumnName pair is set.
type RadiusRequest struct {
	TableName   string            `json:"table_name"`
	ViewName    string            `json:"view_name"`
	XCenter     float64           `json:"x_center"`
	YCenter     float64           `json:"y_center"`
	Radius      float64           `json:"radius"`
	XColumnName string            `json:"x_column_name,omitempty"`
	YColumnName string            `json:"y_column_name,omitempty"`
	ColumnName  string            `json:"column_name,omitempty"`
	Options     map[string]string `json:"options"`
}

// FilterRequest is the /filter payload.
type FilterRequest struct {
	TableName  string            `json:"table_name"`
	ViewName   string            `json:"view_name"`
	Expression string            `json:"expression"`
	Options    map[string]string `json:"options"`
}

// GroupByRequest is the /aggregate/groupby payload.
type GroupByRequest struct {
	TableName   string            `json:"table_name"`
	ColumnNames []string          `json:"column_names"`
	Offset      int               `json:"offset"`
	Limit       int               `json:"limit"`
	Encoding    string            `json:"encoding"`
	Options     map[string]string `json:"options"`
}

// MinMaxRequest is the /aggregate/minmax[/geometry] payload.
type MinMaxRequest struct {
	TableName  string            `json:"table_name"`
	ColumnName string            `json:"column_name"`
	Options    map[string]string `json:"options"`
}

// Records builds a page request for view at offset.
func Records(view string, offset int) RecordsRequest {
	return RecordsRequest{
		TableName: view,
		Offset:    offset,
		Limit:     PageSize,
		Encoding:  "json",
		Options:   map[string]string{},
	}
}

// RadiusFilter builds the radius payload for f and picks the endpoint variant
// from its coordinate columns.
func RadiusFilter(tableName string, f Filter) (string, RadiusRequest, error) {
	if f.Geometry == nil {
		return "", RadiusRequest{}, kberr.InvalidConfiguration("radius filter", "filter has no geometry")
	}
	if err := f.Coordinates.Validate(); err != nil {
		return "", RadiusRequest{}, err
	}

	view := f.FilteredViewName
	if view == "" {
		view = f.ViewName
	}
	req := RadiusRequest{
		TableName: tableName,
		ViewName:  view,
		XCenter:   f.Geometry.Center.Lon(),
		YCenter:   f.Geometry.Center.Lat(),
		Radius:    f.Geometry.Radius,
		Options:   map[string]string{},
	}
	if f.Collection != "" {
		req.Options["collection_name"] = f.Collection
	}

	if f.GeoAttr != "" {
		req.ColumnName = f.GeoAttr
		return EndpointFilterByRadiusGeom, req, nil
	}
	req.XColumnName = f.XAttr
	req.YColumnName = f.YAttr
	return EndpointFilterByRadius, req, nil
}

// ExpressionFilter builds the /filter payload materializing the filtered view
// (or the view, when no filtered view is named) from tableName.
func ExpressionFilter(tableName string, f Filter) (FilterRequest, error) {
	if f.Expression == "" {
		return FilterRequest{}, kberr.InvalidConfiguration("expression filter", "empty expression")
	}
	view := f.FilteredViewName
	if view == "" {
		view = f.ViewName
	}
	req := FilterRequest{
		TableName:  tableName,
		ViewName:   view,
		Expression: f.Expression,
		Options:    map[string]string{},
	}
	if f.Collection != "" {
		req.Options["collection_name"] = f.Collection
	}
	return req, nil
}

// ClusterGroupBy builds the geohash pre-aggregation used by cluster layers.
// When bboxWKT is not empty the query is limited to the viewport.
func ClusterGroupBy(tableName string, coords Coordinates, geohashAttr string, precision int, aggregates []string, bboxWKT string) GroupByRequest {
	columns := []string{
		fmt.Sprintf("SUBSTRING(%s, 1, %d) as geohash_prefix", geohashAttr, precision),
		"COUNT(*) as clusterTotalSum",
		fmt.Sprintf("AVG(%s) as %s", coords.XAttr, coords.XAttr),
		fmt.Sprintf("AVG(%s) as %s", coords.YAttr, coords.YAttr),
	}
	columns = append(columns, aggregates...)

	opts := map[string]string{
		"sort_order": "descending",
		"sort_by":    "value",
	}
	if bboxWKT != "" {
		opts["expression"] = fmt.Sprintf("STXY_INTERSECTS(%s, %s, %s)", coords.XAttr, coords.YAttr, bboxWKT)
	}
	return GroupByRequest{
		TableName:   tableName,
		ColumnNames: columns,
		Offset:      0,
		Limit:       -9999,
		Encoding:    "json",
		Options:     opts,
	}
}

// TableBoundary returns the min/max requests describing a table's extent:
// one geometry request, or an x and a y request.
func TableBoundary(tableName string, coords Coordinates) (string, []MinMaxRequest) {
	if coords.UsesGeometry() {
		return EndpointAggregateMinMaxGeom, []MinMaxRequest{
			{TableName: tableName, ColumnName: coords.GeoAttr, Options: map[string]string{}},
		}
	}
	return EndpointAggregateMinMax, []MinMaxRequest{
		{TableName: tableName, ColumnName: coords.XAttr, Options: map[string]string{}},
		{TableName: tableName, ColumnName: coords.YAttr, Options: map[string]string{}},
	}
}
