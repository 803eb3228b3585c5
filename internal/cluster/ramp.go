package cluster

import (
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/kickbox/internal/kinetica"
)

// MinMax is the range of an aggregate over the visible clusters.
type MinMax struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultMinMax is used when no cluster is visible.
var DefaultMinMax = MinMax{Min: 0, Max: 100}

// MinMaxOf returns the range of key over features, or DefaultMinMax when no
// feature carries a numeric key.
func MinMaxOf(features []*geojson.Feature, key string) MinMax {
	var mm MinMax
	found := false
	for _, f := range features {
		v, ok := kinetica.ToFloat(f.Properties[key])
		if !ok {
			continue
		}
		if !found {
			mm = MinMax{Min: v, Max: v}
			found = true
			continue
		}
		if v < mm.Min {
			mm.Min = v
		}
		if v > mm.Max {
			mm.Max = v
		}
	}
	if !found {
		return DefaultMinMax
	}
	return mm
}

// Ramp is a data-driven paint property interpolated over clusterTotalSum.
type Ramp struct {
	Type     string   `json:"type"`
	Property string   `json:"property"`
	Stops    [][2]any `json:"stops"`
}

// RadiusRamp maps mm onto [minSize, maxSize]. A degenerate range yields a
// single stop at maxSize.
func RadiusRamp(mm MinMax, minSize, maxSize float64) Ramp {
	return ramp(mm, minSize, maxSize)
}

// ColorRamp maps mm onto [minColor, maxColor]. A degenerate range yields a
// single stop at maxColor.
func ColorRamp(mm MinMax, minColor, maxColor string) Ramp {
	return ramp(mm, minColor, maxColor)
}

func ramp(mm MinMax, lo, hi any) Ramp {
	r := Ramp{Type: "exponential", Property: KeyTotalSum}
	if mm.Min == mm.Max {
		r.Stops = [][2]any{{mm.Max, hi}}
		return r
	}
	r.Stops = [][2]any{{mm.Min, lo}, {mm.Max, hi}}
	return r
}
