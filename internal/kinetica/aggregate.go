package kinetica

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/query"
)

type groupByData struct {
	JSONEncodedResponse string `json:"json_encoded_response"`
}

// AggregateGroupBy runs a grouped aggregate and turns each result row into a
// point feature located at the lonCol/latCol values. Every column becomes a
// feature property.
func (c *Client) AggregateGroupBy(ctx context.Context, req query.GroupByRequest, lonCol, latCol string) ([]*geojson.Feature, error) {
	var data groupByData
	if err := c.post(ctx, query.EndpointAggregateGroupBy, req, &data); err != nil {
		return nil, err
	}
	features, err := ColumnarToFeatures(data.JSONEncodedResponse, lonCol, latCol)
	if err != nil {
		return nil, kberr.Backend(query.EndpointAggregateGroupBy, "%v", err)
	}
	return features, nil
}

// ColumnarToFeatures decodes a column-oriented response
// ({"column_1": [...], ..., "column_headers": [...]}) into point features.
func ColumnarToFeatures(encoded, lonCol, latCol string) ([]*geojson.Feature, error) {
	dec := json.NewDecoder(strings.NewReader(encoded))
	dec.UseNumber()
	var data map[string]json.RawMessage
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("json_encoded_response: %w", err)
	}

	var headers []string
	if err := json.Unmarshal(data["column_headers"], &headers); err != nil {
		return nil, fmt.Errorf("column_headers: %w", err)
	}

	columns := make([][]any, len(headers))
	rows := -1
	for i := range headers {
		raw, ok := data[fmt.Sprintf("column_%d", i+1)]
		if !ok {
			return nil, fmt.Errorf("missing column_%d", i+1)
		}
		d := json.NewDecoder(strings.NewReader(string(raw)))
		d.UseNumber()
		if err := d.Decode(&columns[i]); err != nil {
			return nil, fmt.Errorf("column_%d: %w", i+1, err)
		}
		if rows == -1 || len(columns[i]) < rows {
			rows = len(columns[i])
		}
	}
	if rows < 0 {
		rows = 0
	}

	features := make([]*geojson.Feature, 0, rows)
	for r := 0; r < rows; r++ {
		props := geojson.Properties{}
		for i, h := range headers {
			props[h] = normalize(columns[i][r])
		}
		lon, _ := ToFloat(props[lonCol])
		lat, _ := ToFloat(props[latCol])
		f := geojson.NewFeature(orb.Point{lon, lat})
		f.Properties = props
		features = append(features, f)
	}
	return features, nil
}

type minMaxData struct {
	Min json.Number `json:"min"`
	Max json.Number `json:"max"`
}

type minMaxGeomData struct {
	MinX json.Number `json:"min_x"`
	MinY json.Number `json:"min_y"`
	MaxX json.Number `json:"max_x"`
	MaxY json.Number `json:"max_y"`
}

// TableBoundary returns the extent of a table, clamped to valid lon/lat.
// Concurrent calls for the same table and columns share one round trip.
func (c *Client) TableBoundary(ctx context.Context, tableName string, coords query.Coordinates) (orb.Bound, error) {
	key := strings.Join([]string{tableName, coords.XAttr, coords.YAttr, coords.GeoAttr}, "|")
	v, err, _ := c.boundaries.Do(key, func() (any, error) {
		return c.tableBoundary(ctx, tableName, coords)
	})
	if err != nil {
		return orb.Bound{}, err
	}
	return v.(orb.Bound), nil
}

func (c *Client) tableBoundary(ctx context.Context, tableName string, coords query.Coordinates) (orb.Bound, error) {
	endpoint, reqs := query.TableBoundary(tableName, coords)

	if endpoint == query.EndpointAggregateMinMaxGeom {
		var d minMaxGeomData
		if err := c.post(ctx, endpoint, reqs[0], &d); err != nil {
			return orb.Bound{}, err
		}
		vals, err := floats(d.MinX, d.MinY, d.MaxX, d.MaxY)
		if err != nil {
			return orb.Bound{}, kberr.Backend(endpoint, "%v", err)
		}
		return clampBound(vals[0], vals[1], vals[2], vals[3]), nil
	}

	var xs, ys minMaxData
	if err := c.post(ctx, endpoint, reqs[0], &xs); err != nil {
		return orb.Bound{}, err
	}
	if err := c.post(ctx, endpoint, reqs[1], &ys); err != nil {
		return orb.Bound{}, err
	}
	vals, err := floats(xs.Min, ys.Min, xs.Max, ys.Max)
	if err != nil {
		return orb.Bound{}, kberr.Backend(endpoint, "%v", err)
	}
	return clampBound(vals[0], vals[1], vals[2], vals[3]), nil
}

func floats(ns ...json.Number) ([]float64, error) {
	out := make([]float64, len(ns))
	for i, n := range ns {
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func clampBound(minX, minY, maxX, maxY float64) orb.Bound {
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return orb.Bound{
		Min: orb.Point{clamp(minX, -180, 180), clamp(minY, -90, 90)},
		Max: orb.Point{clamp(maxX, -180, 180), clamp(maxY, -90, 90)},
	}
}
