// Package cluster builds supercluster-style point cluster indexes with
// per-cluster aggregates and keeps cluster layers on a map current.
package cluster

import (
	"math"

	"github.com/paulmach/orb/geojson"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/joeblew999/kickbox/internal/kinetica"
)

// Built-in aggregate keys.
const (
	KeyTotalSum          = "clusterTotalSum"
	KeyTotalSumLocalized = "clusterTotalSumLocalized"
	KeySmallest          = "smallestClusterSize"
	KeyLargest           = "largestClusterSize"
)

// Properties are feature or cluster properties.
type Properties = geojson.Properties

// Aggregation folds one property across the members of a cluster. Map, when
// set, projects a leaf's properties before folding; Reduce returns the new
// value of Key given the accumulator so far and one member's properties.
// Reduce runs for every aggregation in order, so later aggregations see the
// values earlier ones just stored.
type Aggregation struct {
	Key     string
	Initial any
	Map     func(key string, props Properties) any
	Reduce  func(acc, props Properties) any
}

// BuiltinAggregations returns the aggregations every cluster index carries,
// localizing sums for tag.
func BuiltinAggregations(tag language.Tag) []Aggregation {
	total := func(_ string, props Properties) any {
		v, _ := kinetica.ToFloat(props[KeyTotalSum])
		return v
	}
	return []Aggregation{
		{
			Key:     KeyTotalSum,
			Initial: 0.0,
			Map:     total,
			Reduce: func(acc, props Properties) any {
				a, _ := kinetica.ToFloat(acc[KeyTotalSum])
				v, _ := kinetica.ToFloat(props[KeyTotalSum])
				return addRounded(a, v)
			},
		},
		{
			Key:     KeyTotalSumLocalized,
			Initial: "0",
			Reduce: func(acc, _ Properties) any {
				v, _ := kinetica.ToFloat(acc[KeyTotalSum])
				return Localize(tag, v)
			},
		},
		{
			Key:    KeySmallest,
			Map:    total,
			Reduce: extreme(KeySmallest, math.Min),
		},
		{
			Key:    KeyLargest,
			Map:    total,
			Reduce: extreme(KeyLargest, math.Max),
		},
	}
}

// extreme keeps the min or max of key, falling back to a member's total when
// it carries no value for key yet.
func extreme(key string, pick func(a, b float64) float64) func(acc, props Properties) any {
	return func(acc, props Properties) any {
		v, ok := kinetica.ToFloat(props[key])
		if !ok {
			v, _ = kinetica.ToFloat(props[KeyTotalSum])
		}
		a, ok := kinetica.ToFloat(acc[key])
		if !ok {
			return v
		}
		return pick(a, v)
	}
}

// RoundTo rounds v half away from zero to places decimals.
func RoundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// addRounded adds v, rounded to cents, to acc in decimal so that the total
// does not depend on the order members are folded in.
func addRounded(acc, v float64) float64 {
	sum := decimal.NewFromFloat(acc).Add(decimal.NewFromFloat(v).Round(2))
	f, _ := sum.Float64()
	return f
}

// Localize formats v with tag's grouping and decimal separators and at most
// three fraction digits.
func Localize(tag language.Tag, v float64) string {
	return message.NewPrinter(tag).Sprintf("%v", number.Decimal(v, number.MaxFractionDigits(3)))
}

// Fold reduces leaves into a fresh accumulator the way a cluster index does.
func Fold(aggs []Aggregation, leaves []Properties) Properties {
	acc := initial(aggs)
	for _, p := range leaves {
		reduce(aggs, acc, mapLeaf(aggs, p))
	}
	return acc
}

func initial(aggs []Aggregation) Properties {
	acc := make(Properties, len(aggs))
	for _, a := range aggs {
		if a.Initial != nil {
			acc[a.Key] = a.Initial
		}
	}
	return acc
}

func mapLeaf(aggs []Aggregation, props Properties) Properties {
	out := props.Clone()
	if out == nil {
		out = Properties{}
	}
	for _, a := range aggs {
		if a.Map != nil {
			out[a.Key] = a.Map(a.Key, props)
		}
	}
	return out
}

func reduce(aggs []Aggregation, acc, props Properties) {
	for _, a := range aggs {
		acc[a.Key] = a.Reduce(acc, props)
	}
}
