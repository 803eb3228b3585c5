package cluster

import (
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/quadtree"
)

// Index defaults.
const (
	DefaultRadius  = 40
	DefaultMaxZoom = 14
	DefaultExtent  = 512
)

// unclustered marks a point not yet claimed at any zoom.
const unclustered = math.MaxInt32

var unitBound = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}

// point is a leaf or cluster in projected [0,1] web mercator space.
type point struct {
	x, y      float64
	zoom      int
	id        int
	leaf      int // feature index, or -1 for clusters
	numPoints int
	props     Properties // mapped leaf properties or accumulated cluster properties
}

func (p *point) Point() orb.Point { return orb.Point{p.x, p.y} }

// Index is a hierarchical point cluster index. One level per zoom from 0 to
// MaxZoom+1 holds the clusters visible at that zoom; the last holds the
// leaves. Queries never modify it.
type Index struct {
	radius   float64
	maxZoom  int
	extent   float64
	aggs     []Aggregation
	features []*geojson.Feature
	trees    []*quadtree.Quadtree
}

// BuildIndex clusters the point features. radius is in pixels at extent
// 512. Non-point features are skipped.
func BuildIndex(features []*geojson.Feature, radius float64, maxZoom int, aggs []Aggregation) *Index {
	if radius <= 0 {
		radius = DefaultRadius
	}
	if maxZoom < 0 {
		maxZoom = DefaultMaxZoom
	}
	idx := &Index{
		radius:   radius,
		maxZoom:  maxZoom,
		extent:   DefaultExtent,
		aggs:     aggs,
		features: features,
		trees:    make([]*quadtree.Quadtree, maxZoom+2),
	}

	points := make([]*point, 0, len(features))
	for i, f := range features {
		if f == nil {
			continue
		}
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		p := &point{
			x:         lngX(pt.Lon()),
			y:         latY(pt.Lat()),
			zoom:      unclustered,
			id:        i,
			leaf:      i,
			numPoints: 1,
		}
		if len(aggs) > 0 {
			p.props = mapLeaf(aggs, f.Properties)
		}
		points = append(points, p)
	}

	nextID := len(features)
	for z := maxZoom; z >= 0; z-- {
		idx.trees[z+1] = newTree(points)
		points = idx.cluster(points, z, &nextID)
	}
	idx.trees[0] = newTree(points)
	return idx
}

// Radius returns the clustering radius in pixels.
func (idx *Index) Radius() float64 { return idx.radius }

// MaxZoom returns the highest zoom that clusters.
func (idx *Index) MaxZoom() int { return idx.maxZoom }

// Features returns the indexed input features.
func (idx *Index) Features() []*geojson.Feature { return idx.features }

func newTree(points []*point) *quadtree.Quadtree {
	t := quadtree.New(unitBound)
	for _, p := range points {
		// Projection clamps to the unit square so Add cannot fail.
		_ = t.Add(p)
	}
	return t
}

func (idx *Index) cluster(points []*point, zoom int, nextID *int) []*point {
	r := idx.radius / (idx.extent * math.Pow(2, float64(zoom)))
	tree := idx.trees[zoom+1]
	out := make([]*point, 0, len(points))

	var buf []orb.Pointer
	for _, p := range points {
		if p.zoom <= zoom {
			continue
		}
		p.zoom = zoom

		buf = tree.InBound(buf[:0], orb.Bound{
			Min: orb.Point{p.x - r, p.y - r},
			Max: orb.Point{p.x + r, p.y + r},
		})

		n := p.numPoints
		wx, wy := p.x*float64(n), p.y*float64(n)
		var acc Properties
		if len(idx.aggs) > 0 {
			acc = initial(idx.aggs)
			reduce(idx.aggs, acc, p.props)
		}

		merged := false
		for _, ptr := range buf {
			b := ptr.(*point)
			if b.zoom <= zoom {
				continue
			}
			dx, dy := b.x-p.x, b.y-p.y
			if dx*dx+dy*dy > r*r {
				continue
			}
			b.zoom = zoom
			wx += b.x * float64(b.numPoints)
			wy += b.y * float64(b.numPoints)
			n += b.numPoints
			if acc != nil {
				reduce(idx.aggs, acc, b.props)
			}
			merged = true
		}

		if !merged {
			out = append(out, p)
			continue
		}
		out = append(out, &point{
			x:         wx / float64(n),
			y:         wy / float64(n),
			zoom:      unclustered,
			id:        *nextID,
			leaf:      -1,
			numPoints: n,
			props:     acc,
		})
		*nextID++
	}
	return out
}

// Query returns the clusters and unclustered leaves inside b at zoom. Bounds
// crossing the antimeridian are split in two.
func (idx *Index) Query(b orb.Bound, zoom int) []*geojson.Feature {
	minLng := wrapLng(b.Min.Lon())
	maxLng := b.Max.Lon()
	if maxLng != 180 {
		maxLng = wrapLng(maxLng)
	}
	minLat := clamp(b.Min.Lat(), -90, 90)
	maxLat := clamp(b.Max.Lat(), -90, 90)

	if b.Max.Lon()-b.Min.Lon() >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		east := idx.Query(orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{180, maxLat}}, zoom)
		west := idx.Query(orb.Bound{Min: orb.Point{-180, minLat}, Max: orb.Point{maxLng, maxLat}}, zoom)
		return append(east, west...)
	}

	tree := idx.trees[idx.limitZoom(zoom)]
	found := tree.InBound(nil, orb.Bound{
		Min: orb.Point{lngX(minLng), latY(maxLat)},
		Max: orb.Point{lngX(maxLng), latY(minLat)},
	})
	out := make([]*geojson.Feature, 0, len(found))
	for _, ptr := range found {
		out = append(out, idx.feature(ptr.(*point)))
	}
	return out
}

func (idx *Index) limitZoom(z int) int {
	if z < 0 {
		return 0
	}
	if z > idx.maxZoom+1 {
		return idx.maxZoom + 1
	}
	return z
}

// feature returns the input feature for a leaf, or a new point feature
// carrying the aggregates for a cluster.
func (idx *Index) feature(p *point) *geojson.Feature {
	if p.leaf >= 0 {
		return idx.features[p.leaf]
	}
	f := geojson.NewFeature(orb.Point{xLng(p.x), yLat(p.y)})
	f.ID = p.id
	for k, v := range p.props {
		f.Properties[k] = v
	}
	f.Properties["cluster"] = true
	f.Properties["cluster_id"] = p.id
	f.Properties["point_count"] = p.numPoints
	f.Properties["point_count_abbreviated"] = abbreviate(p.numPoints)
	return f
}

func abbreviate(n int) string {
	switch {
	case n >= 10000:
		return strconv.Itoa(int(math.Round(float64(n)/1000))) + "k"
	case n >= 1000:
		return strconv.FormatFloat(math.Round(float64(n)/100)/10, 'f', -1, 64) + "k"
	default:
		return strconv.Itoa(n)
	}
}

func lngX(lng float64) float64 {
	return clamp(lng/360+0.5, 0, 1)
}

func latY(lat float64) float64 {
	s := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+s)/(1-s))/math.Pi
	return clamp(y, 0, 1)
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}

func wrapLng(lng float64) float64 {
	return math.Mod(math.Mod(lng+180, 360)+360, 360) - 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
