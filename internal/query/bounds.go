package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// mercatorExtent is half the circumference of the EPSG:3857 world in meters.
const mercatorExtent = 20037508.34

// BoundsCoordinates returns the viewport corners in NW, NE, SE, SW order, the
// order image sources expect.
func BoundsCoordinates(b orb.Bound) []orb.Point {
	return []orb.Point{
		{b.Min[0], b.Max[1]},
		{b.Max[0], b.Max[1]},
		{b.Max[0], b.Min[1]},
		{b.Min[0], b.Min[1]},
	}
}

// BoundsRing closes the corner list into a polygon ring.
func BoundsRing(b orb.Bound) orb.Ring {
	corners := BoundsCoordinates(b)
	return append(orb.Ring(corners), corners[0])
}

// BoundsWKT wraps the viewport polygon in an St_GeomFromText call suitable for
// backend expressions.
func BoundsWKT(b orb.Bound) string {
	return "St_GeomFromText('" + wkt.MarshalString(orb.Polygon{BoundsRing(b)}) + "')"
}

// BoundsFeature returns the viewport as a polygon feature.
func BoundsFeature(b orb.Bound) *geojson.Feature {
	return geojson.NewFeature(orb.Polygon{BoundsRing(b)})
}

// ToPseudoMercator projects lon/lat degrees to EPSG:3857 meters.
func ToPseudoMercator(lon, lat float64) (x, y float64) {
	x = lon * mercatorExtent / 180
	y = math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180)
	y = y * mercatorExtent / 180
	return x, y
}

// BBox formats the projected viewport as "minx,miny,maxx,maxy".
func BBox(b orb.Bound) string {
	minX, minY := ToPseudoMercator(b.Min[0], b.Min[1])
	maxX, maxY := ToPseudoMercator(b.Max[0], b.Max[1])
	parts := make([]string, 0, 4)
	for _, v := range []float64{minX, minY, maxX, maxY} {
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// RadiusMeters is the great-circle distance used both while drawing the
// buffer and for the radius query.
func RadiusMeters(center, edge orb.Point) float64 {
	return geo.DistanceHaversine(center, edge)
}

// CircleSteps is the number of vertices of a drawn buffer circle.
const CircleSteps = 60

// Circle approximates a circle of radius meters around center.
func Circle(center orb.Point, radius float64, steps int) orb.Polygon {
	if steps < 3 {
		steps = CircleSteps
	}
	ring := make(orb.Ring, 0, steps+1)
	for i := 0; i < steps; i++ {
		bearing := float64(i) * -360 / float64(steps)
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, radius))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
